package scheduler

import (
	"testing"

	"github.com/band-engine/band/internal/domain"
)

type fakeEnv struct {
	now          int64
	modelWorker  map[domain.ModelID]domain.WorkerID
	largest      map[domain.WorkerID]domain.SubgraphKey
	idle         []domain.WorkerID
	shortest     func(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool)
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{modelWorker: make(map[domain.ModelID]domain.WorkerID), largest: make(map[domain.WorkerID]domain.SubgraphKey)}
}

func (e *fakeEnv) LargestSubgraphKey(job *domain.Job, w domain.WorkerID) (domain.SubgraphKey, bool) {
	k, ok := e.largest[w]
	return k, ok
}
func (e *fakeEnv) ModelWorker(model domain.ModelID) (domain.WorkerID, bool) {
	w, ok := e.modelWorker[model]
	return w, ok
}
func (e *fakeEnv) SetModelWorker(model domain.ModelID, w domain.WorkerID) { e.modelWorker[model] = w }
func (e *fakeEnv) ShortestLatency(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
	return e.shortest(job, waiting)
}
func (e *fakeEnv) IdleWorkers() []domain.WorkerID { return e.idle }
func (e *fakeEnv) Now() int64                     { return e.now }

type fakeDispatch struct {
	dispatched []domain.JobID
	workerOf   map[domain.JobID]domain.WorkerID
	violated   []domain.JobID
}

func (d *fakeDispatch) EnqueueToWorker(worker domain.WorkerID, job *domain.Job) error {
	d.dispatched = append(d.dispatched, job.JobID)
	if d.workerOf == nil {
		d.workerOf = make(map[domain.JobID]domain.WorkerID)
	}
	d.workerOf[job.JobID] = worker
	return nil
}
func (d *fakeDispatch) MarkSLOViolation(job *domain.Job) {
	job.Status = domain.JobSLOViolation
	d.violated = append(d.violated, job.JobID)
}

func TestFixedWorker_RoutesToTarget(t *testing.T) {
	env := newFakeEnv()
	key := domain.SubgraphKey{ModelID: 1, WorkerID: 0}
	env.largest[0] = key
	q := NewFIFOQueue(&domain.Job{JobID: 1, ModelID: 1, TargetWorkerID: 0})
	d := &fakeDispatch{}
	waiting := domain.WorkerWaitingTime{}

	if !(FixedWorker{}).Schedule(q, waiting, env, d) {
		t.Fatal("Schedule() = false, want true")
	}
	if len(d.dispatched) != 1 || d.dispatched[0] != 1 {
		t.Fatalf("dispatched = %v", d.dispatched)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be drained, len = %d", q.Len())
	}
}

func TestFixedWorker_SkipsJobWithNoKnownWorker(t *testing.T) {
	env := newFakeEnv()
	q := NewFIFOQueue(&domain.Job{JobID: 1, ModelID: 1, TargetWorkerID: domain.AnyWorker})
	d := &fakeDispatch{}

	if (FixedWorker{}).Schedule(q, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("Schedule() = true for an unroutable job")
	}
	if q.Len() != 1 {
		t.Fatalf("job should remain queued, len = %d", q.Len())
	}
}

func TestFixedWorker_SLOViolationShortCircuits(t *testing.T) {
	env := newFakeEnv()
	env.now = 1000
	q := NewFIFOQueue(&domain.Job{JobID: 1, EnqueueTime: 0, SLOUs: 10, ExpectedLatency: 500, TargetWorkerID: 0})
	d := &fakeDispatch{}

	if !(FixedWorker{}).Schedule(q, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("Schedule() = false, want true (SLO violation counts as progress)")
	}
	if len(d.violated) != 1 {
		t.Fatalf("violated = %v, want one entry", d.violated)
	}
}

func TestRoundRobin_AssignsIdleWorkerAndCachesAssignment(t *testing.T) {
	env := newFakeEnv()
	env.idle = []domain.WorkerID{0, 1}
	env.largest[0] = domain.SubgraphKey{WorkerID: 0}
	env.largest[1] = domain.SubgraphKey{WorkerID: 1}
	q := NewFIFOQueue(
		&domain.Job{JobID: 1, ModelID: 7},
		&domain.Job{JobID: 2, ModelID: 8},
	)
	d := &fakeDispatch{}

	if !(RoundRobin{}).Schedule(q, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("Schedule() = false, want true")
	}
	if len(d.dispatched) != 2 {
		t.Fatalf("dispatched = %v, want 2 jobs", d.dispatched)
	}
	if _, ok := env.ModelWorker(7); !ok {
		t.Error("expected model 7's worker assignment to be cached")
	}
}

func TestShortestExpectedLatency_MostUrgentFirst(t *testing.T) {
	env := newFakeEnv()
	env.shortest = func(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
		// Job 2 has the shortest (soonest) end time -> least urgent by the
		// "largest shortest-finish-time first" rule it should go LAST.
		ends := map[domain.JobID]int64{1: 30, 2: 10, 3: 20}
		return []domain.SubgraphKey{{WorkerID: 0}}, ends[job.JobID], true
	}
	q := NewFIFOQueue(
		&domain.Job{JobID: 1, ExpectedLatency: 30},
		&domain.Job{JobID: 2, ExpectedLatency: 10},
		&domain.Job{JobID: 3, ExpectedLatency: 20},
	)
	d := &fakeDispatch{}

	if !(ShortestExpectedLatency{WindowSize: 3}).Schedule(q, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("Schedule() = false")
	}
	want := []domain.JobID{1, 3, 2}
	if len(d.dispatched) != 3 {
		t.Fatalf("dispatched = %v, want 3 jobs", d.dispatched)
	}
	for i, id := range want {
		if d.dispatched[i] != id {
			t.Errorf("dispatch order = %v, want %v", d.dispatched, want)
			break
		}
	}
}

// TestShortestExpectedLatency_RescansLiveWaitingAfterEachDispatch is a
// regression test for a batch-precompute bug: two jobs both cheapest on
// worker 0 under the starting waiting view must not both land on worker
// 0 — once the first is dispatched, worker 0's projected finish time
// rises and the second job must be re-evaluated against that live view,
// landing on worker 1 instead (spec.md §4.5's "fold a tentative
// assignment into the local waiting view before considering later jobs
// in the same pass" invariant).
func TestShortestExpectedLatency_RescansLiveWaitingAfterEachDispatch(t *testing.T) {
	env := newFakeEnv()
	env.shortest = func(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
		w0, w1 := waiting[0], waiting[1]
		if w0 <= w1 {
			return []domain.SubgraphKey{{WorkerID: 0}}, w0 + job.ExpectedLatency, true
		}
		return []domain.SubgraphKey{{WorkerID: 1}}, w1 + job.ExpectedLatency, true
	}
	q := NewFIFOQueue(
		&domain.Job{JobID: 1, ExpectedLatency: 10},
		&domain.Job{JobID: 2, ExpectedLatency: 10},
	)
	d := &fakeDispatch{}
	waiting := domain.WorkerWaitingTime{0: 0, 1: 5}

	if !(ShortestExpectedLatency{WindowSize: 2}).Schedule(q, waiting, env, d) {
		t.Fatal("Schedule() = false")
	}
	if len(d.dispatched) != 2 {
		t.Fatalf("dispatched = %v, want 2 jobs", d.dispatched)
	}
	if d.workerOf[1] != 0 {
		t.Errorf("job 1 worker = %d, want 0", d.workerOf[1])
	}
	if d.workerOf[2] != 1 {
		t.Errorf("job 2 worker = %d, want 1 (worker 0 got expensive after job 1 was dispatched to it)", d.workerOf[2])
	}
}

func TestHEFT_RescansLiveWaitingAfterEachDispatch(t *testing.T) {
	env := newFakeEnv()
	env.shortest = func(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
		w0, w1 := waiting[0], waiting[1]
		if w0 <= w1 {
			return []domain.SubgraphKey{{WorkerID: 0}}, w0 + job.ExpectedLatency, true
		}
		return []domain.SubgraphKey{{WorkerID: 1}}, w1 + job.ExpectedLatency, true
	}
	h := NewHEFT(2, true)
	q := NewFIFOQueue(
		&domain.Job{JobID: 1, ExpectedLatency: 10},
		&domain.Job{JobID: 2, ExpectedLatency: 10},
	)
	d := &fakeDispatch{}
	waiting := domain.WorkerWaitingTime{0: 0, 1: 5}

	if !h.Schedule(q, waiting, env, d) {
		t.Fatal("Schedule() = false")
	}
	if d.workerOf[1] != 0 {
		t.Errorf("job 1 worker = %d, want 0", d.workerOf[1])
	}
	if d.workerOf[2] != 1 {
		t.Errorf("job 2 worker = %d, want 1 (worker 0 got expensive after job 1 was dispatched to it)", d.workerOf[2])
	}
}

func TestHEFT_ReservationKeepsJobOnSameWorker(t *testing.T) {
	env := newFakeEnv()
	env.largest[3] = domain.SubgraphKey{WorkerID: 3}
	env.shortest = func(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
		return []domain.SubgraphKey{{WorkerID: 3}}, 100, true
	}
	h := NewHEFT(4, true)
	d := &fakeDispatch{}

	q1 := NewFIFOQueue(&domain.Job{JobID: 1})
	if !h.Schedule(q1, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("first Schedule() = false")
	}

	// Second unit step of the same job: ShortestLatency would route
	// elsewhere, but the reservation should still pin it to worker 3.
	env.shortest = func(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
		return []domain.SubgraphKey{{WorkerID: 9}}, 5, true
	}
	q2 := NewFIFOQueue(&domain.Job{JobID: 1})
	if !h.Schedule(q2, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("second Schedule() = false")
	}
	if d.dispatched[1] != 1 {
		t.Fatalf("dispatched = %v", d.dispatched)
	}
}

func TestLeastSlackTimeFirst_AscendingSlackOrder(t *testing.T) {
	env := newFakeEnv()
	env.now = 0
	env.idle = []domain.WorkerID{0, 1}
	env.shortest = func(job *domain.Job, waiting domain.WorkerWaitingTime) ([]domain.SubgraphKey, int64, bool) {
		if job.JobID == 1 {
			return []domain.SubgraphKey{{WorkerID: 0}}, 0, true
		}
		return []domain.SubgraphKey{{WorkerID: 1}}, 0, true
	}
	// Job 1 has less slack (80ms budget) than job 2 (100ms budget).
	q := NewFIFOQueue(
		&domain.Job{JobID: 2, SLOUs: 100_000, ExpectedLatency: 10_000},
		&domain.Job{JobID: 1, SLOUs: 80_000, ExpectedLatency: 10_000},
	)
	d := &fakeDispatch{}

	if !(LeastSlackTimeFirst{WindowSize: 2}).Schedule(q, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("Schedule() = false")
	}
	if len(d.dispatched) != 2 || d.dispatched[0] != 1 {
		t.Fatalf("dispatched = %v, want job 1 first (less slack)", d.dispatched)
	}
}

func TestLeastSlackTimeFirst_ImmediateSLOViolation(t *testing.T) {
	env := newFakeEnv()
	env.now = 0
	q := NewFIFOQueue(&domain.Job{JobID: 1, SLOUs: 5, ExpectedLatency: 100, EnqueueTime: 0})
	d := &fakeDispatch{}

	if !(LeastSlackTimeFirst{WindowSize: 1}).Schedule(q, domain.WorkerWaitingTime{}, env, d) {
		t.Fatal("Schedule() = false")
	}
	if len(d.violated) != 1 {
		t.Fatalf("violated = %v, want one entry", d.violated)
	}
}
