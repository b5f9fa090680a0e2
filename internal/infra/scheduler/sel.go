package scheduler

import (
	"github.com/band-engine/band/internal/domain"
)

// ShortestExpectedLatency repeatedly picks, from a window of the front
// jobs, the one whose shortest projected finish time across all workers
// is the LARGEST — i.e. the most urgent job gets scheduled first — and
// dispatches it to that worker (spec.md §4.5 shortestExpectedLatency).
//
// Every remaining job's shortest-latency candidate is recomputed against
// the live waiting view and the whole remaining window is rescanned after
// each single dispatch, so a worker picked for one job immediately stops
// looking cheap to the next (spec.md §4.5: a tentative assignment must be
// folded into the local waiting view before considering later jobs in the
// same pass).
type ShortestExpectedLatency struct {
	WindowSize int
}

var _ domain.Scheduler = ShortestExpectedLatency{}

func (s ShortestExpectedLatency) Schedule(q domain.JobQueue, waiting domain.WorkerWaitingTime, env domain.SchedulingEnvironment, dispatch domain.Dispatcher) bool {
	window := takeFront(q, s.WindowSize)
	if len(window) == 0 {
		return false
	}
	now := env.Now()
	local := waiting.Clone()

	remaining := make([]*domain.Job, 0, len(window))
	for _, job := range window {
		if checkSLO(job, now, q, dispatch) {
			remaining = append(remaining, job)
		}
	}

	progressed := false
	for len(remaining) > 0 {
		bestIdx := -1
		var bestKey domain.SubgraphKey
		var bestWorker domain.WorkerID
		var bestEnd int64

		for i, job := range remaining {
			keys, end, ok := env.ShortestLatency(job, local)
			if !ok || len(keys) == 0 {
				continue
			}
			if bestIdx == -1 || end > bestEnd {
				bestIdx, bestKey, bestWorker, bestEnd = i, keys[0], keys[0].WorkerID, end
			}
		}
		if bestIdx == -1 {
			break
		}

		job := remaining[bestIdx]
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)

		job.SubgraphKey = bestKey
		if _, removed := q.Remove(job.JobID); !removed {
			continue
		}
		_ = dispatch.EnqueueToWorker(bestWorker, job)
		waiting[bestWorker] += job.ExpectedLatency
		local[bestWorker] += job.ExpectedLatency
		progressed = true
	}
	return progressed
}

func (ShortestExpectedLatency) NeedFallbackSubgraphs() bool       { return false }
func (ShortestExpectedLatency) GetWorkerType() domain.WorkerQueueType { return domain.DeviceQueue }
