package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/infra/analyzer"
	"github.com/band-engine/band/internal/infra/backend"
	"github.com/band-engine/band/internal/infra/estimator"
	"github.com/band-engine/band/internal/infra/observability"
	"github.com/band-engine/band/internal/infra/planner"
	"github.com/band-engine/band/internal/infra/scheduler"
	"github.com/band-engine/band/internal/infra/sqlite"
	"github.com/band-engine/band/internal/infra/tensorring"
	"github.com/band-engine/band/internal/infra/worker"
)

// workerEntry binds a running worker.Worker to the static configuration it
// was constructed from; Engine consults Device/Affinity when building
// ModelExecutors for it at RegisterModel time.
type workerEntry struct {
	w         *worker.Worker
	deque     *worker.Deque
	device    domain.DeviceFlag
	affinity  domain.CPUMaskFlag
	numThread int
	queueType domain.WorkerQueueType
}

// modelEntry is everything Engine knows about one registered model: its
// parsed graph, the static spec the analyzer produced, one ModelExecutor
// per worker that owns a piece of it, and its private tensor ring.
type modelEntry struct {
	model    domain.Model
	spec     *domain.ModelSpec
	executors map[domain.WorkerID]domain.ModelExecutor
	ring      *tensorring.Ring

	inputTensors  []int
	outputTensors []int
}

// Engine is the facade of spec.md §4.6: it owns every registered model,
// the worker pool, the planner, and the latency estimator, and is the only
// type client code constructs directly.
type Engine struct {
	cfg       RuntimeConfig
	registry  *backend.Registry
	analyzer  *analyzer.Analyzer
	estimator *estimator.Estimator
	planner   *planner.Planner
	heft      *scheduler.HeterogeneousEarliestFinishTime // nil unless installed

	workers     []*workerEntry
	globalDeque *worker.Deque // shared pool, non-nil only if any worker uses GlobalQueue

	modelsMu    sync.RWMutex
	models      map[domain.ModelID]*modelEntry
	nextModelID domain.ModelID

	assignMu    sync.Mutex
	modelWorker map[domain.ModelID]domain.WorkerID

	cacheMu sync.Mutex
	cache   map[shortestCacheKey]candidateSet

	tracer  *observability.Tracer
	spansMu sync.Mutex
	spans   map[domain.JobID]*observability.Span

	// Persistence (SPEC_FULL.md §4.7), nil unless cfg.PersistencePath is set.
	db            *sqlite.DB
	profileStore  *sqlite.ProfileStore
	jobArchive    *sqlite.FinishedJobArchive
	snapshotStore *sqlite.SchedulerSnapshot

	totalEnqueued    atomic.Int64
	totalCompleted   atomic.Int64
	totalSLOViolated atomic.Int64

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

var _ domain.SchedulingEnvironment = (*Engine)(nil)
var _ domain.Dispatcher = (*Engine)(nil)
var _ planner.Dispatcher = (*Engine)(nil)
var _ worker.Callbacks = (*Engine)(nil)

// New builds an Engine from a validated RuntimeConfig, wires every worker,
// installs the configured schedulers, and starts the planner's background
// loop. Callers must call Close when done.
func New(cfg RuntimeConfig) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		registry:    backend.NewRegistry(),
		analyzer:    analyzer.New(analyzer.Config{MinimumSubgraphSize: cfg.Subgraph.MinimumSubgraphSize, Preparation: cfg.Subgraph.SubgraphPreparationType}),
		estimator:   estimator.New(cfg.Profile.toEstimatorConfig()),
		models:      make(map[domain.ModelID]*modelEntry),
		modelWorker: make(map[domain.ModelID]domain.WorkerID),
		cache:       make(map[shortestCacheKey]candidateSet),
		tracer:      observability.NewTracer(observability.DefaultTracerConfig()),
		spans:       make(map[domain.JobID]*observability.Span),
	}
	if err := e.registry.Register(backend.NewFactory()); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if cfg.PersistencePath != "" {
		db, err := sqlite.Open(cfg.PersistencePath)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.db = db
		e.profileStore = sqlite.NewProfileStore(db)
		e.jobArchive = sqlite.NewFinishedJobArchive(db)
		e.snapshotStore = sqlite.NewSchedulerSnapshot(db)

		seed, err := e.profileStore.All()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.estimator.SeedFromStrings(seed)
		e.estimator.SetUpdateHook(func(key domain.SubgraphKey, movingAvgUs int64, sampleCount int) {
			_ = e.profileStore.Upsert(key, movingAvgUs, sampleCount)
		})
	}

	schedulers, heft, err := buildSchedulers(cfg.Planner)
	if err != nil {
		return nil, err
	}
	e.heft = heft
	// All installed schedulers must agree on a worker queue type (planner.go
	// doc comment); every worker in this Engine is built against the first
	// scheduler's answer.
	queueType := schedulers[0].GetWorkerType()
	if queueType == domain.GlobalQueue {
		e.globalDeque = worker.NewDeque()
	}

	for i, dev := range cfg.Worker.Devices {
		var deque *worker.Deque
		if queueType == domain.GlobalQueue {
			deque = e.globalDeque
		} else {
			deque = worker.NewDeque()
		}

		wcfg := worker.Config{
			ID:             domain.WorkerID(i),
			Device:         dev,
			Affinity:       cfg.Worker.CPUMasks[i],
			NumThreads:     cfg.Worker.NumThreads[i],
			QueueType:      queueType,
			AllowWorksteal: cfg.Worker.AllowWorksteal,
		}
		w := worker.New(wcfg, deque, e)
		e.workers = append(e.workers, &workerEntry{w: w, deque: deque, device: dev, affinity: wcfg.Affinity, numThread: wcfg.NumThreads, queueType: queueType})
	}
	siblings := make([]*worker.Worker, len(e.workers))
	for i, we := range e.workers {
		siblings[i] = we.w
	}
	for _, we := range e.workers {
		we.w.SetSiblings(siblings)
	}

	e.planner = planner.New(planner.Config{ScheduleWindowSize: cfg.Planner.ScheduleWindowSize}, schedulers, e)

	e.runCtx, e.runCancel = context.WithCancel(context.Background())
	for _, we := range e.workers {
		e.wg.Add(1)
		go func(w *worker.Worker) {
			defer e.wg.Done()
			w.Run(e.runCtx)
		}(we.w)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.planner.Run(e.runCtx)
	}()

	if e.snapshotStore != nil {
		interval := time.Duration(cfg.SnapshotIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = 5 * time.Second
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runSnapshotLoop(interval)
		}()
	}

	return e, nil
}

// runSnapshotLoop periodically records planner/queue counters to the
// scheduler_snapshots table until the engine is closed (SPEC_FULL.md §4.7).
// Work-stealing moves are invisible above internal/infra/worker by design
// (spec.md §4.3 keeps stealing a worker-local decision), so totalStolen is
// always recorded as 0 here.
func (e *Engine) runSnapshotLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			depth := 0
			for _, waiting := range e.WorkerWaiting() {
				if waiting > 0 {
					depth++
				}
			}
			_ = e.snapshotStore.Record(depth,
				e.totalEnqueued.Load(), e.totalCompleted.Load(), 0, e.totalSLOViolated.Load())
		}
	}
}

// buildSchedulers instantiates the policies named in cfg.Schedulers, in
// order, returning the installed HEFT instance (if any) so the engine can
// call Forget on job termination (spec.md §4.5 reservation table).
func buildSchedulers(cfg PlannerConfig) ([]domain.Scheduler, *scheduler.HeterogeneousEarliestFinishTime, error) {
	var out []domain.Scheduler
	var heft *scheduler.HeterogeneousEarliestFinishTime
	for _, t := range cfg.Schedulers {
		switch t {
		case domain.SchedulerFixedWorker:
			out = append(out, scheduler.FixedWorker{})
		case domain.SchedulerFixedWorkerGlobalQueue:
			out = append(out, scheduler.FixedWorkerGlobalQueue{})
		case domain.SchedulerRoundRobin:
			out = append(out, scheduler.RoundRobin{})
		case domain.SchedulerShortestExpectedLatency:
			out = append(out, scheduler.ShortestExpectedLatency{WindowSize: cfg.ScheduleWindowSize})
		case domain.SchedulerHeterogeneousEarliestFinishTime:
			heft = scheduler.NewHEFT(cfg.ScheduleWindowSize, true)
			out = append(out, heft)
		case domain.SchedulerLeastSlackTimeFirst:
			out = append(out, scheduler.LeastSlackTimeFirst{WindowSize: cfg.ScheduleWindowSize})
		default:
			return nil, nil, fmt.Errorf("engine: %w: unknown scheduler type %d", domain.ErrConfiguration, t)
		}
	}
	if len(out) == 0 {
		return nil, nil, fmt.Errorf("engine: %w: no scheduler configured", domain.ErrConfiguration)
	}
	return out, heft, nil
}

// Close stops the planner and every worker and releases backend factories.
// A closed Engine must not be used again.
func (e *Engine) Close() {
	e.runCancel()
	e.planner.Stop()
	for _, we := range e.workers {
		we.w.End()
	}
	e.wg.Wait()
	e.registry.Teardown()
	if e.db != nil {
		e.db.Close()
	}
}

func (e *Engine) workerEntry(id domain.WorkerID) (*workerEntry, bool) {
	if int(id) < 0 || int(id) >= len(e.workers) {
		return nil, false
	}
	return e.workers[id], true
}

// ─── domain.SchedulingEnvironment ──────────────────────────────────────────

func (e *Engine) ModelWorker(model domain.ModelID) (domain.WorkerID, bool) {
	e.assignMu.Lock()
	defer e.assignMu.Unlock()
	w, ok := e.modelWorker[model]
	return w, ok
}

func (e *Engine) SetModelWorker(model domain.ModelID, w domain.WorkerID) {
	e.assignMu.Lock()
	defer e.assignMu.Unlock()
	e.modelWorker[model] = w
}

func (e *Engine) IdleWorkers() []domain.WorkerID {
	var out []domain.WorkerID
	for _, we := range e.workers {
		if we.deque.Len() == 0 {
			out = append(out, we.w.ID())
		}
	}
	return out
}

var engineClock = func() int64 { return time.Now().UnixMicro() }

func (e *Engine) Now() int64 { return engineClock() }

// ─── domain.Dispatcher / planner.Dispatcher ────────────────────────────────

func (e *Engine) EnqueueToWorker(w domain.WorkerID, job *domain.Job) error {
	we, ok := e.workerEntry(w)
	if !ok {
		job.Status = domain.JobEnqueueFailure
		job.EndTime = e.Now()
		e.planner.EnqueueFinishedJob(job, false)
		return fmt.Errorf("engine: %w: worker %d", domain.ErrNoSuchWorker, w)
	}
	we.w.Enqueue(job)
	return nil
}

func (e *Engine) MarkSLOViolation(job *domain.Job) {
	job.Status = domain.JobSLOViolation
	job.EndTime = e.Now()
	e.planner.EnqueueFinishedJob(job, false)
}

func (e *Engine) WorkerWaiting() domain.WorkerWaitingTime {
	out := make(domain.WorkerWaitingTime, len(e.workers))
	for _, we := range e.workers {
		waiting := we.deque.WaitingMicros()
		out[we.w.ID()] = waiting
		observability.WorkerQueueDepth.WithLabelValues(fmt.Sprint(we.w.ID())).Set(float64(waiting))
	}
	return out
}

func (e *Engine) lookupModel(id domain.ModelID) (*modelEntry, bool) {
	e.modelsMu.RLock()
	defer e.modelsMu.RUnlock()
	me, ok := e.models[id]
	return me, ok
}

// startJobSpan opens a job-lifecycle span (observability §4.8) for jobID
// and stashes it for the matching endJobSpan call once the job terminates.
func (e *Engine) startJobSpan(jobID domain.JobID, model domain.ModelID) {
	span := e.tracer.StartSpan(e.runCtx, "job", map[string]string{
		"job_id":   fmt.Sprint(jobID),
		"model_id": fmt.Sprint(model),
	})
	e.spansMu.Lock()
	e.spans[jobID] = span
	e.spansMu.Unlock()
}

// endJobSpan closes the span opened by startJobSpan, if any, and folds the
// terminal status into its attributes.
func (e *Engine) endJobSpan(job *domain.Job) {
	e.spansMu.Lock()
	span, ok := e.spans[job.JobID]
	delete(e.spans, job.JobID)
	e.spansMu.Unlock()
	if !ok {
		return
	}
	if span.Attrs == nil {
		span.Attrs = make(map[string]string)
	}
	span.Attrs["worker_id"] = fmt.Sprint(job.SubgraphKey.WorkerID)
	span.Attrs["status"] = fmt.Sprint(job.Status)
	var err error
	if job.Status != domain.JobSuccess {
		err = fmt.Errorf("job terminated with status %v", job.Status)
	}
	e.tracer.EndSpan(span, err)
}
