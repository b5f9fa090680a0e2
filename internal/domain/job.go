package domain

// Job is the runtime unit the Planner schedules, in transit through the
// request queue → worker → finished-jobs pipeline (spec.md §3).
type Job struct {
	ModelID ModelID
	JobID   JobID
	SchedID int64 // scheduler-local sequence number, for tie-breaking

	EnqueueTime int64 // microseconds, monotonic
	InvokeTime  int64
	EndTime     int64

	ExpectedLatency        int64 // microseconds
	ProfiledExecutionTime  int64
	SLOUs                  int64

	TargetWorkerID  WorkerID // AnyWorker if unset
	RequireCallback bool

	InputHandle  int // index into TensorRingBuffer, InvalidHandle if none
	OutputHandle int

	SubgraphKey           SubgraphKey
	PreviousSubgraphKeys  []SubgraphKey
	ResolvedUnitSubgraphs BitMask

	Status JobStatus
}

// Clone returns a deep-enough copy safe to hand to a different owner
// (the request queue, a worker queue, the finished ring) without aliasing
// slices — Jobs are moved, not shared, per the ownership rules in
// spec.md §3.
func (j *Job) Clone() *Job {
	cp := *j
	if j.PreviousSubgraphKeys != nil {
		cp.PreviousSubgraphKeys = append([]SubgraphKey(nil), j.PreviousSubgraphKeys...)
	}
	return &cp
}

// MeetsDeadline reports whether, given the current time and the job's
// expected latency, the job can still finish within its SLO. Used by the
// Planner and the leastSlackTimeFirst scheduler (spec.md §4.4/§4.5).
func (j *Job) MeetsDeadline(now int64) bool {
	if j.SLOUs <= 0 {
		return true // no SLO configured
	}
	return j.EnqueueTime+j.SLOUs >= now+j.ExpectedLatency
}

// Slack returns (enqueue_time + slo_us) − (now + expected_latency), the
// ordering key for leastSlackTimeFirst (spec.md §4.5).
func (j *Job) Slack(now int64) int64 {
	return j.EnqueueTime + j.SLOUs - now - j.ExpectedLatency
}

// WorkerWaitingTime maps WorkerID to the sum, in microseconds, of the
// expected latency of every job currently queued at that worker
// (spec.md §3). Refreshed by the engine before each scheduling iteration.
type WorkerWaitingTime map[WorkerID]int64

// Clone returns an independent copy, used by schedulers that must
// tentatively add latency to their local view without mutating the
// shared snapshot (spec.md §4.5 "fair use of workerWaiting").
func (w WorkerWaitingTime) Clone() WorkerWaitingTime {
	cp := make(WorkerWaitingTime, len(w))
	for k, v := range w {
		cp[k] = v
	}
	return cp
}
