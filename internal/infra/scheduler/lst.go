package scheduler

import (
	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/infra/dsa"
)

// LeastSlackTimeFirst sorts the window ascending by slack = (enqueue_time
// + slo_us) − (now + expected_latency) and dispatches each head to its
// predicted fastest worker if idle; a job whose SLO is already blown is
// short-circuited to sloViolation instead (spec.md §4.5
// leastSlackTimeFirst).
type LeastSlackTimeFirst struct {
	WindowSize int
}

var _ domain.Scheduler = LeastSlackTimeFirst{}

func (l LeastSlackTimeFirst) Schedule(q domain.JobQueue, waiting domain.WorkerWaitingTime, env domain.SchedulingEnvironment, dispatch domain.Dispatcher) bool {
	window := takeFront(q, l.WindowSize)
	if len(window) == 0 {
		return false
	}
	now := env.Now()

	pq := dsa.NewJobPriorityQueue()
	byJob := make(map[domain.JobID]*domain.Job, len(window))
	for _, job := range window {
		byJob[job.JobID] = job
		pq.Push(dsa.JobHeapItem{Key: job.Slack(now), Value: job.JobID})
	}

	idleSet := make(map[domain.WorkerID]bool)
	for _, w := range env.IdleWorkers() {
		idleSet[w] = true
	}

	progressed := false
	for {
		item, ok := pq.Pop()
		if !ok {
			break
		}
		job := byJob[item.Value.(domain.JobID)]
		if !checkSLO(job, now, q, dispatch) {
			progressed = true
			continue
		}
		keys, _, ok := env.ShortestLatency(job, waiting)
		if !ok || len(keys) == 0 {
			continue
		}
		worker := keys[0].WorkerID
		if !idleSet[worker] {
			continue
		}
		job.SubgraphKey = keys[0]
		if _, removed := q.Remove(job.JobID); !removed {
			continue
		}
		_ = dispatch.EnqueueToWorker(worker, job)
		waiting[worker] += job.ExpectedLatency
		delete(idleSet, worker)
		progressed = true
	}
	return progressed
}

func (LeastSlackTimeFirst) NeedFallbackSubgraphs() bool       { return false }
func (LeastSlackTimeFirst) GetWorkerType() domain.WorkerQueueType { return domain.DeviceQueue }
