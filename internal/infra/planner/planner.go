// Package planner implements the scheduler loop of spec.md §4.4: a
// background thread that drains the request queue into per-priority
// local queues, runs each installed Scheduler policy until none makes
// progress, and records finished jobs into a fixed-size ring.
package planner

import (
	"context"
	"sync"
	"time"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/infra/scheduler"
)

// Dispatcher is the Engine-side surface the Planner needs beyond
// domain.Dispatcher: enqueuing onto a worker by id, and the environment
// every Scheduler.Schedule call needs.
type Dispatcher interface {
	domain.Dispatcher
	domain.SchedulingEnvironment
	// WorkerWaiting returns a fresh snapshot of every worker's queued
	// latency sum, refreshed once per scheduling iteration (spec.md §3).
	WorkerWaiting() domain.WorkerWaitingTime
}

// Config controls the planner loop.
type Config struct {
	ScheduleWindowSize int
	FinishedRingSize   int // default 1000, spec.md §4.4
}

// EndRequestCallback is invoked outside the planner's locks when a job
// reaches a terminal state and RequireCallback is set (spec.md §4.4).
type EndRequestCallback func(jobID domain.JobID, status domain.JobStatus)

// Planner is the background scheduler loop.
type Planner struct {
	cfg        Config
	schedulers []domain.Scheduler
	dispatch   Dispatcher

	reqMu    sync.Mutex
	requests []*domain.Job
	nextID   atomicJobID

	gateMu sync.Mutex
	gate   *sync.Cond
	killed bool

	ringMu          sync.Mutex
	ring            []*ringSlot
	numFinished     int64
	numSubmitted    int64
	finishedVersion int64
	finishedCond    *sync.Cond

	callbackMu sync.RWMutex
	callbacks  map[domain.CallbackID]EndRequestCallback
	nextCBID   domain.CallbackID
}

type ringSlot struct {
	job    *domain.Job
	filled bool
}

// atomicJobID is a simple counter; guarded by reqMu, not truly atomic, but
// every access already holds that lock.
type atomicJobID struct{ v domain.JobID }

// New constructs a Planner. schedulers run in priority order (index 0
// first); all installed schedulers must report the same GetWorkerType
// (spec.md §4.5 "the planner requires that all installed policies use the
// same worker type") — callers are expected to enforce this at
// construction; New does not re-validate it.
func New(cfg Config, schedulers []domain.Scheduler, dispatch Dispatcher) *Planner {
	if cfg.FinishedRingSize <= 0 {
		cfg.FinishedRingSize = 1000
	}
	p := &Planner{
		cfg:        cfg,
		schedulers: schedulers,
		dispatch:   dispatch,
		ring:       make([]*ringSlot, cfg.FinishedRingSize),
		callbacks:  make(map[domain.CallbackID]EndRequestCallback),
	}
	p.gate = sync.NewCond(&p.gateMu)
	p.finishedCond = sync.NewCond(&p.ringMu)
	return p
}

// EnqueueRequest assigns job a JobId, stamps EnqueueTime, and appends it
// to the request queue, signalling the planner loop.
func (p *Planner) EnqueueRequest(job *domain.Job, pushFront bool) domain.JobID {
	p.reqMu.Lock()
	p.nextID.v++
	job.JobID = p.nextID.v
	job.EnqueueTime = nowMicros()
	if pushFront {
		p.requests = append([]*domain.Job{job}, p.requests...)
	} else {
		p.requests = append(p.requests, job)
	}
	p.reqMu.Unlock()

	p.ringMu.Lock()
	p.numSubmitted++
	p.ringMu.Unlock()

	p.signalGate()
	return job.JobID
}

// EnqueueBatch enqueues every job in jobs, returning their assigned ids in
// order. Ids within one batch are ascending; each job takes the request
// lock separately, so they are contiguous only when no other enqueue runs
// concurrently.
func (p *Planner) EnqueueBatch(jobs []*domain.Job, pushFront bool) []domain.JobID {
	ids := make([]domain.JobID, len(jobs))
	for i, j := range jobs {
		ids[i] = p.EnqueueRequest(j, pushFront)
	}
	return ids
}

func (p *Planner) signalGate() {
	p.gateMu.Lock()
	p.gate.Signal()
	p.gateMu.Unlock()
}

// Run is the planner's background thread body; it returns when ctx is
// cancelled or Stop is called.
func (p *Planner) Run(ctx context.Context) {
	stopWatcher := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-stopWatcher:
		}
	}()
	defer close(stopWatcher)

	for {
		p.gateMu.Lock()
		for p.requestLen() == 0 && !p.killed {
			p.gate.Wait()
		}
		killed := p.killed
		p.gateMu.Unlock()
		if killed {
			return
		}

		p.runIteration()
	}
}

// Stop ends the planner loop; a blocked Run wakes and returns.
func (p *Planner) Stop() {
	p.gateMu.Lock()
	p.killed = true
	p.gate.Broadcast()
	p.gateMu.Unlock()
}

func (p *Planner) requestLen() int {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	return len(p.requests)
}

// runIteration performs one pass of spec.md §4.4's scheduling loop: move
// up to ScheduleWindowSize jobs into a local queue, then run every
// scheduler until none makes progress.
func (p *Planner) runIteration() {
	local := p.drainWindow()
	if local.Len() == 0 {
		return
	}
	waiting := p.dispatch.WorkerWaiting()

	for {
		progressed := false
		for _, s := range p.schedulers {
			if s.Schedule(local, waiting, p.dispatch, p.dispatch) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	// Anything a scheduler left behind goes back to the front of the
	// global queue so it is reconsidered next iteration.
	if remaining := local.Front(local.Len()); len(remaining) > 0 {
		p.reqMu.Lock()
		p.requests = append(remaining, p.requests...)
		p.reqMu.Unlock()
	}
}

func (p *Planner) drainWindow() *scheduler.FIFOQueue {
	n := p.cfg.ScheduleWindowSize
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	if n <= 0 || n > len(p.requests) {
		n = len(p.requests)
	}
	taken := p.requests[:n]
	p.requests = p.requests[n:]
	return scheduler.NewFIFOQueue(taken...)
}

// EnqueueFinishedJob implements the branch of spec.md §4.4 the worker's
// completion path drives: re-enqueue a job with more unit subgraphs owed,
// or record it as finished and fire callbacks. moreUnitsRemain is the
// engine's answer to "does job.ResolvedUnitSubgraphs, once ORed with this
// step's key, still omit some unit subgraph the model needs?" — the
// engine holds the ModelSpec the planner does not.
func (p *Planner) EnqueueFinishedJob(job *domain.Job, moreUnitsRemain bool) {
	if job.Status == domain.JobSuccess && moreUnitsRemain {
		job.PreviousSubgraphKeys = append(job.PreviousSubgraphKeys, job.SubgraphKey)
		job.ResolvedUnitSubgraphs = job.ResolvedUnitSubgraphs.Union(job.SubgraphKey.UnitIndices)
		job.SubgraphKey = domain.SubgraphKey{}
		job.Status = domain.JobQueued

		p.reqMu.Lock()
		p.requests = append([]*domain.Job{job}, p.requests...)
		p.reqMu.Unlock()
		p.signalGate()
		return
	}

	p.recordFinished(job)
}

func (p *Planner) recordFinished(job *domain.Job) {
	p.ringMu.Lock()
	idx := int(job.JobID) % len(p.ring)
	p.ring[idx] = &ringSlot{job: job, filled: true}
	p.numFinished++
	p.finishedVersion++
	p.finishedCond.Broadcast()
	p.ringMu.Unlock()

	if job.RequireCallback {
		p.callbackMu.RLock()
		cbs := make([]EndRequestCallback, 0, len(p.callbacks))
		for _, cb := range p.callbacks {
			cbs = append(cbs, cb)
		}
		p.callbackMu.RUnlock()
		for _, cb := range cbs {
			safeInvoke(cb, job.JobID, job.Status)
		}
	}
}

// safeInvoke ensures a panicking user callback never unwinds through the
// planner (spec.md §9: "the planner must never unwind through a user
// callback").
func safeInvoke(cb EndRequestCallback, jobID domain.JobID, status domain.JobStatus) {
	defer func() { _ = recover() }()
	cb(jobID, status)
}

// SetOnEndRequest registers a completion callback and returns its id.
func (p *Planner) SetOnEndRequest(cb EndRequestCallback) domain.CallbackID {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	p.nextCBID++
	p.callbacks[p.nextCBID] = cb
	return p.nextCBID
}

// UnsetOnEndRequest removes a previously registered callback.
func (p *Planner) UnsetOnEndRequest(id domain.CallbackID) {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	delete(p.callbacks, id)
}

// Wait blocks until every id in jobIDs has a terminal status recorded in
// the finished ring, or ctx is cancelled.
func (p *Planner) Wait(ctx context.Context, jobIDs []domain.JobID) error {
	done := make(chan struct{})
	go func() {
		p.ringMu.Lock()
		for !p.allFinishedLocked(jobIDs) {
			p.finishedCond.Wait()
		}
		p.ringMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The waiting goroutine is not woken; it stays blocked until every
		// id in jobIDs is recorded, an accepted cost of condvar-based
		// waiting without a timed variant.
		return ctx.Err()
	}
}

func (p *Planner) allFinishedLocked(jobIDs []domain.JobID) bool {
	for _, id := range jobIDs {
		slot := p.ring[int(id)%len(p.ring)]
		if slot == nil || !slot.filled || slot.job.JobID != id || !slot.job.Status.Terminal() {
			return false
		}
	}
	return true
}

// WaitAll blocks until every submitted job has finished.
func (p *Planner) WaitAll(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.ringMu.Lock()
		for p.numFinished < p.numSubmitted {
			p.finishedCond.Wait()
		}
		p.ringMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinishedJob returns a copy of the job last recorded in job_id's ring
// slot. Per spec.md §8, a slot overwritten since id finished — the 1001st
// finished job over a 1000-slot ring — yields ok=false; this is
// documented as undefined-but-safe, never a crash.
func (p *Planner) FinishedJob(jobID domain.JobID) (*domain.Job, bool) {
	p.ringMu.Lock()
	defer p.ringMu.Unlock()
	slot := p.ring[int(jobID)%len(p.ring)]
	if slot == nil || !slot.filled || slot.job.JobID != jobID {
		return nil, false
	}
	return slot.job.Clone(), true
}

var nowMicros = func() int64 { return time.Now().UnixMicro() }
