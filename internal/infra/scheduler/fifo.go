package scheduler

import "github.com/band-engine/band/internal/domain"

// FIFOQueue is a minimal domain.JobQueue backed by a slice, ascending
// enqueue order; used as the planner's local queue for each scheduling
// iteration (spec.md §4.4) and by these tests.
type FIFOQueue struct {
	jobs []*domain.Job
}

var _ domain.JobQueue = (*FIFOQueue)(nil)

func NewFIFOQueue(jobs ...*domain.Job) *FIFOQueue {
	return &FIFOQueue{jobs: jobs}
}

func (q *FIFOQueue) Len() int { return len(q.jobs) }

func (q *FIFOQueue) Front(n int) []*domain.Job {
	if n > len(q.jobs) {
		n = len(q.jobs)
	}
	out := make([]*domain.Job, n)
	copy(out, q.jobs[:n])
	return out
}

func (q *FIFOQueue) Remove(jobID domain.JobID) (*domain.Job, bool) {
	for i, j := range q.jobs {
		if j.JobID == jobID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return j, true
		}
	}
	return nil, false
}

// PushFront inserts job at the head. The planner does not use it; its
// "more unit subgraphs remain" re-enqueue prepends to its own request
// slice.
func (q *FIFOQueue) PushFront(job *domain.Job) {
	q.jobs = append([]*domain.Job{job}, q.jobs...)
}

// PushBack appends job at the tail.
func (q *FIFOQueue) PushBack(job *domain.Job) {
	q.jobs = append(q.jobs, job)
}
