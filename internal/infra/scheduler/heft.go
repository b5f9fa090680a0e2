package scheduler

import (
	"sync"

	"github.com/band-engine/band/internal/domain"
)

// HeterogeneousEarliestFinishTime is ShortestExpectedLatency plus an
// optional reservation table: once a job's first unit step is assigned to
// a worker, later steps of the same job stay on that worker rather than
// being re-evaluated from scratch (spec.md §4.5
// heterogeneousEarliestFinishTime).
type HeterogeneousEarliestFinishTime struct {
	WindowSize int
	Reserve    bool

	mu           sync.Mutex
	reservations map[domain.JobID]domain.WorkerID
}

var _ domain.Scheduler = (*HeterogeneousEarliestFinishTime)(nil)

// NewHEFT returns a HEFT scheduler over window front jobs.
func NewHEFT(windowSize int, reserve bool) *HeterogeneousEarliestFinishTime {
	return &HeterogeneousEarliestFinishTime{
		WindowSize:   windowSize,
		Reserve:      reserve,
		reservations: make(map[domain.JobID]domain.WorkerID),
	}
}

func (h *HeterogeneousEarliestFinishTime) reservedWorker(jobID domain.JobID) (domain.WorkerID, bool) {
	if !h.Reserve {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.reservations[jobID]
	return w, ok
}

func (h *HeterogeneousEarliestFinishTime) reserve(jobID domain.JobID, w domain.WorkerID) {
	if !h.Reserve {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reservations[jobID] = w
}

// forget drops a job's reservation once its last unit step has been
// dispatched, so the map does not grow without bound; reached through
// Forget when a job reaches a terminal status.
func (h *HeterogeneousEarliestFinishTime) forget(jobID domain.JobID) {
	if !h.Reserve {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.reservations, jobID)
}

// Forget is the exported form of forget, called by the engine's
// EnqueueFinishedJob when a job finishes for good.
func (h *HeterogeneousEarliestFinishTime) Forget(jobID domain.JobID) { h.forget(jobID) }

// Schedule recomputes every remaining job's candidate worker against the
// live waiting view and rescans the whole remaining window after each
// single dispatch (spec.md §4.5: a tentative assignment must be folded
// into the local waiting view before later jobs in the same pass are
// considered) — ShortestExpectedLatency's behavior, plus a reserved job
// projects a fixed now+ExpectedLatency finish time on its reserved worker
// instead of recomputing against local.
func (h *HeterogeneousEarliestFinishTime) Schedule(q domain.JobQueue, waiting domain.WorkerWaitingTime, env domain.SchedulingEnvironment, dispatch domain.Dispatcher) bool {
	window := takeFront(q, h.WindowSize)
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
		var bestWorker domain.WorkerID
		var bestKey domain.SubgraphKey
		var bestEnd int64

		for i, job := range remaining {
			var worker domain.WorkerID
			var key domain.SubgraphKey
			var end int64
			if w, ok := h.reservedWorker(job.JobID); ok {
				k, ok := env.LargestSubgraphKey(job, w)
				if !ok {
					continue
				}
				worker, key, end = w, k, now+job.ExpectedLatency
			} else {
				keys, e, ok := env.ShortestLatency(job, local)
				if !ok || len(keys) == 0 {
					continue
				}
				worker, key, end = keys[0].WorkerID, keys[0], e
			}
			if bestIdx == -1 || end > bestEnd {
				bestIdx, bestWorker, bestKey, bestEnd = i, worker, key, end
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
		h.reserve(job.JobID, bestWorker)
		waiting[bestWorker] += job.ExpectedLatency
		local[bestWorker] += job.ExpectedLatency
		progressed = true
	}
	return progressed
}

func (*HeterogeneousEarliestFinishTime) NeedFallbackSubgraphs() bool       { return false }
func (*HeterogeneousEarliestFinishTime) GetWorkerType() domain.WorkerQueueType { return domain.DeviceQueue }
