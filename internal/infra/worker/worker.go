// Package worker implements the per-worker execution loop of spec.md
// §4.3: a device-bound thread that pulls jobs (from its own deque or a
// planner-held global pool), moves tensors across the engine boundary,
// invokes the backend, and reports back through EnqueueFinishedJob.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/band-engine/band/internal/domain"
)

// Callbacks is the slice of Engine behavior a Worker needs: tensor
// handoff, subgraph execution, completion delivery, and work-steal
// subgraph re-resolution. Defined here (not imported from internal/engine)
// so internal/engine can depend on internal/infra/worker without a cycle.
type Callbacks interface {
	TryCopyInputTensors(job *domain.Job) error
	ExecuteSubgraph(ctx context.Context, job *domain.Job) error
	TryCopyOutputTensors(job *domain.Job) error
	EnqueueFinishedJob(job *domain.Job)

	// ResolveForWorker re-targets job's SubgraphKey onto a new worker
	// after a successful steal (spec.md §4.3 "a stolen job's subgraph_key
	// is re-resolved for the thief worker").
	ResolveForWorker(job *domain.Job, worker domain.WorkerID) (domain.SubgraphKey, bool)
}

// Config describes one worker's static binding.
type Config struct {
	ID             domain.WorkerID
	Device         domain.DeviceFlag
	Affinity       domain.CPUMaskFlag
	NumThreads     int
	QueueType      domain.WorkerQueueType
	AllowWorksteal bool
}

// Worker is one device-bound execution thread.
type Worker struct {
	cfg      Config
	callback Callbacks
	deque    *Deque // own deque (device queue) or the shared pool (global queue)
	siblings []*Worker

	paused    atomic.Bool
	killed    atomic.Bool
	throttled atomic.Bool

	needAffinityUpdate atomic.Bool

	pauseMu   sync.Mutex
	pauseCond *sync.Cond

	wg sync.WaitGroup
}

// clockMicros is the monotonic microsecond clock Job timestamps use;
// overridable in tests.
var clockMicros = func() int64 { return time.Now().UnixMicro() }

// New returns a Worker bound to cfg, pulling from deque (its own, for a
// device-queue worker, or the shared pool, for a global-queue worker).
func New(cfg Config, deque *Deque, callback Callbacks) *Worker {
	w := &Worker{cfg: cfg, deque: deque, callback: callback}
	w.pauseCond = sync.NewCond(&w.pauseMu)
	return w
}

// SetSiblings installs the peer set Steal scans — every other worker of a
// compatible device kind (spec.md §4.3 work-stealing).
func (w *Worker) SetSiblings(siblings []*Worker) { w.siblings = siblings }

func (w *Worker) ID() domain.WorkerID            { return w.cfg.ID }
func (w *Worker) Device() domain.DeviceFlag       { return w.cfg.Device }
func (w *Worker) QueueType() domain.WorkerQueueType { return w.cfg.QueueType }

// GetWaitingTime returns the sum of queued jobs' ExpectedLatency.
func (w *Worker) GetWaitingTime() int64 { return w.deque.WaitingMicros() }

// Enqueue pushes job onto this worker's own deque — only valid for a
// device-queue worker; global-queue workers receive jobs by pushing onto
// the shared pool directly.
func (w *Worker) Enqueue(job *domain.Job) { w.deque.Push(job) }

// Pause prevents the worker from dequeuing until Resume is called.
func (w *Worker) Pause() { w.paused.Store(true) }

// Resume clears a pause set by Pause or by automatic throttling.
func (w *Worker) Resume() {
	w.paused.Store(false)
	w.pauseMu.Lock()
	w.pauseCond.Broadcast()
	w.pauseMu.Unlock()
}

// SetThrottled marks the worker thermally throttled; behaves like Pause.
// The engine itself never calls it, so the flag is set only by a caller.
func (w *Worker) SetThrottled(t bool) { w.throttled.Store(t) }

// RequestAffinityUpdate marks that the worker must re-apply its CPU
// affinity mask before its next iteration (spec.md §4.3: "whenever a
// config change sets need_cpu_set_update").
func (w *Worker) RequestAffinityUpdate() { w.needAffinityUpdate.Store(true) }

// End requests the worker's Run loop exit; it does not block — callers
// that need to wait for exit should have passed a context they also
// cancel, or hold the WaitGroup from Run's caller.
func (w *Worker) End() {
	w.killed.Store(true)
	w.deque.Close()
	w.Resume()
}

// Run is the worker's thread body: idle → checking → executing → idle
// (spec.md §4.3), until ctx is cancelled or End is called.
func (w *Worker) Run(ctx context.Context) {
	applyAffinity(w.cfg.Affinity, w.cfg.NumThreads)
	w.needAffinityUpdate.Store(false)

	for {
		if w.killed.Load() || ctx.Err() != nil {
			return
		}
		if w.needAffinityUpdate.CompareAndSwap(true, false) {
			applyAffinity(w.cfg.Affinity, w.cfg.NumThreads)
		}
		if w.paused.Load() || w.throttled.Load() {
			w.waitForResume()
			continue
		}

		job, ok := w.deque.TryPop()
		if !ok && w.cfg.AllowWorksteal {
			job, ok = w.steal()
		}
		if !ok {
			job, ok = w.deque.Pop()
			if !ok {
				return // deque closed
			}
		}
		w.executeOne(ctx, job)
	}
}

func (w *Worker) waitForResume() {
	w.pauseMu.Lock()
	for (w.paused.Load() || w.throttled.Load()) && !w.killed.Load() {
		w.pauseCond.Wait()
	}
	w.pauseMu.Unlock()
}

// steal scans sibling workers of this device for a job whose target
// worker is unset, per spec.md §4.3's conservative work-stealing rule.
func (w *Worker) steal() (*domain.Job, bool) {
	for _, sib := range w.siblings {
		if sib == w || sib.cfg.Device != w.cfg.Device {
			continue
		}
		job, ok := sib.deque.StealUnset()
		if !ok {
			continue
		}
		if key, resolved := w.callback.ResolveForWorker(job, w.cfg.ID); resolved {
			job.SubgraphKey = key
		}
		return job, true
	}
	return nil, false
}

func (w *Worker) executeOne(ctx context.Context, job *domain.Job) {
	job.InvokeTime = clockMicros()
	job.Status = domain.JobRunning

	if err := w.callback.TryCopyInputTensors(job); err != nil {
		job.Status = domain.JobInputCopyFailure
		job.EndTime = clockMicros()
		w.callback.EnqueueFinishedJob(job)
		return
	}
	if err := w.callback.ExecuteSubgraph(ctx, job); err != nil {
		job.Status = domain.JobInvokeFailure
		job.EndTime = clockMicros()
		w.callback.EnqueueFinishedJob(job)
		return
	}
	if err := w.callback.TryCopyOutputTensors(job); err != nil {
		job.Status = domain.JobOutputCopyFailure
		job.EndTime = clockMicros()
		w.callback.EnqueueFinishedJob(job)
		return
	}

	job.EndTime = clockMicros()
	job.Status = domain.JobSuccess
	w.callback.EnqueueFinishedJob(job)
}
