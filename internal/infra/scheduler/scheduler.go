// Package scheduler implements the six Scheduler policies of spec.md
// §4.5. Each type is a thin decision rule over a shared JobQueue /
// SchedulingEnvironment / Dispatcher contract (internal/domain); none of
// them own worker or job storage themselves.
package scheduler

import (
	"github.com/band-engine/band/internal/domain"
)

// takeFront pops every job the scheduler is willing to consider this pass:
// up to n jobs, oldest first.
func takeFront(q domain.JobQueue, n int) []*domain.Job {
	if n <= 0 || n > q.Len() {
		n = q.Len()
	}
	return q.Front(n)
}

// checkSLO reports whether job can still meet its deadline at time now; if
// not, it is dispatched as a violation and removed from q.
func checkSLO(job *domain.Job, now int64, q domain.JobQueue, dispatch domain.Dispatcher) bool {
	if job.MeetsDeadline(now) {
		return true
	}
	q.Remove(job.JobID)
	dispatch.MarkSLOViolation(job)
	return false
}

// dispatchLargest assigns job the largest available SubgraphKey on
// worker and hands it to the dispatcher, removing it from q.
func dispatchLargest(job *domain.Job, worker domain.WorkerID, env domain.SchedulingEnvironment, q domain.JobQueue, dispatch domain.Dispatcher) bool {
	key, ok := env.LargestSubgraphKey(job, worker)
	if !ok {
		return false
	}
	job.SubgraphKey = key
	if _, removed := q.Remove(job.JobID); !removed {
		return false
	}
	// EnqueueToWorker owns the job from here; on failure it is responsible
	// for recording job.Status and delivering it to the finished path, the
	// scheduler only needs to know it relinquished the job.
	_ = dispatch.EnqueueToWorker(worker, job)
	return true
}
