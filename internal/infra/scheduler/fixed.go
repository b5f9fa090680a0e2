package scheduler

import "github.com/band-engine/band/internal/domain"

// FixedWorker routes each job to its target_worker_id if set, else the
// cached model→worker assignment, and dispatches the largest available
// SubgraphKey on that worker (spec.md §4.5 fixedWorker). Workers pull
// from their own device queue.
type FixedWorker struct{}

var _ domain.Scheduler = FixedWorker{}

func (FixedWorker) Schedule(q domain.JobQueue, waiting domain.WorkerWaitingTime, env domain.SchedulingEnvironment, dispatch domain.Dispatcher) bool {
	progressed := false
	now := env.Now()
	for _, job := range takeFront(q, q.Len()) {
		if !checkSLO(job, now, q, dispatch) {
			progressed = true
			continue
		}
		worker, ok := resolveTargetWorker(job, env)
		if !ok {
			continue
		}
		if dispatchLargest(job, worker, env, q, dispatch) {
			waiting[worker] += job.ExpectedLatency
			progressed = true
		}
	}
	return progressed
}

func (FixedWorker) NeedFallbackSubgraphs() bool       { return true }
func (FixedWorker) GetWorkerType() domain.WorkerQueueType { return domain.DeviceQueue }

// FixedWorkerGlobalQueue is FixedWorker for workers that pull from a
// shared pool rather than a per-worker deque (spec.md §4.5
// fixedWorkerGlobalQueue): the routing decision is identical, only the
// worker-side consumption model differs.
type FixedWorkerGlobalQueue struct{ FixedWorker }

var _ domain.Scheduler = FixedWorkerGlobalQueue{}

func (FixedWorkerGlobalQueue) GetWorkerType() domain.WorkerQueueType { return domain.GlobalQueue }

func resolveTargetWorker(job *domain.Job, env domain.SchedulingEnvironment) (domain.WorkerID, bool) {
	if job.TargetWorkerID != domain.AnyWorker {
		return job.TargetWorkerID, true
	}
	return env.ModelWorker(job.ModelID)
}
