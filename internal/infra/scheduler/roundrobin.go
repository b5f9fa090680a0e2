package scheduler

import "github.com/band-engine/band/internal/domain"

// RoundRobin assigns each job to the next idle worker for which a largest
// SubgraphKey exists and records the decision in the model→worker map,
// which FixedWorker's routing reads (spec.md §4.5 roundRobin). RoundRobin
// itself does not consult that map, so a later unit step of the same
// model may go to another idle worker.
type RoundRobin struct{}

var _ domain.Scheduler = RoundRobin{}

func (RoundRobin) Schedule(q domain.JobQueue, waiting domain.WorkerWaitingTime, env domain.SchedulingEnvironment, dispatch domain.Dispatcher) bool {
	progressed := false
	now := env.Now()
	idle := env.IdleWorkers()
	idx := 0

	for _, job := range takeFront(q, q.Len()) {
		if len(idle) == 0 {
			break
		}
		if !checkSLO(job, now, q, dispatch) {
			progressed = true
			continue
		}

		dispatched := false
		for tried := 0; tried < len(idle); tried++ {
			worker := idle[idx%len(idle)]
			idx++
			if _, ok := env.LargestSubgraphKey(job, worker); !ok {
				continue
			}
			if dispatchLargest(job, worker, env, q, dispatch) {
				env.SetModelWorker(job.ModelID, worker)
				waiting[worker] += job.ExpectedLatency
				progressed = true
				dispatched = true
			}
			break
		}
		if !dispatched {
			continue
		}
	}
	return progressed
}

func (RoundRobin) NeedFallbackSubgraphs() bool           { return true }
func (RoundRobin) GetWorkerType() domain.WorkerQueueType { return domain.DeviceQueue }
