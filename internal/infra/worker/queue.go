package worker

import (
	"sync"

	"github.com/band-engine/band/internal/domain"
)

// Deque is a mutex/condvar-guarded job queue. It backs both the
// device-queue variant (one Deque per Worker) and the global-queue
// variant (one Deque shared by every worker of that queue type), per
// spec.md §4.3.
type Deque struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []*domain.Job
	closed bool
}

// NewDeque returns an empty Deque.
func NewDeque() *Deque {
	d := &Deque{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Push appends job to the tail and wakes one waiter.
func (d *Deque) Push(job *domain.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.jobs = append(d.jobs, job)
	d.cond.Signal()
}

// Pop blocks until a job is available or the Deque is closed, in which
// case it returns (nil, false).
func (d *Deque) Pop() (*domain.Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.jobs) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.jobs) == 0 {
		return nil, false
	}
	job := d.jobs[0]
	d.jobs = d.jobs[1:]
	return job, true
}

// TryPop returns immediately: (nil, false) if the queue is empty.
func (d *Deque) TryPop() (*domain.Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.jobs) == 0 {
		return nil, false
	}
	job := d.jobs[0]
	d.jobs = d.jobs[1:]
	return job, true
}

// StealUnset removes and returns the first queued job whose
// TargetWorkerID is unset — the only kind of job work-stealing is allowed
// to move (spec.md §9 "refuse to steal a job whose target_worker_id is
// set").
func (d *Deque) StealUnset() (*domain.Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, j := range d.jobs {
		if j.TargetWorkerID == domain.AnyWorker {
			d.jobs = append(d.jobs[:i], d.jobs[i+1:]...)
			return j, true
		}
	}
	return nil, false
}

// WaitingMicros sums ExpectedLatency over every currently queued job
// (spec.md §4.3 GetWaitingTime).
func (d *Deque) WaitingMicros() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total int64
	for _, j := range d.jobs {
		total += j.ExpectedLatency
	}
	return total
}

// Len reports the number of queued jobs.
func (d *Deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// Close marks the Deque closed and wakes every waiter; subsequent Push
// calls are no-ops.
func (d *Deque) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
}
