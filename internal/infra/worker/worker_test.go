package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/band-engine/band/internal/domain"
)

type fakeCallbacks struct {
	mu        sync.Mutex
	finished  []*domain.Job
	failInput bool
	failExec  bool
}

func (f *fakeCallbacks) TryCopyInputTensors(job *domain.Job) error {
	if f.failInput {
		return errors.New("input copy failed")
	}
	return nil
}
func (f *fakeCallbacks) ExecuteSubgraph(ctx context.Context, job *domain.Job) error {
	if f.failExec {
		return errors.New("exec failed")
	}
	return nil
}
func (f *fakeCallbacks) TryCopyOutputTensors(job *domain.Job) error { return nil }
func (f *fakeCallbacks) EnqueueFinishedJob(job *domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, job)
}
func (f *fakeCallbacks) ResolveForWorker(job *domain.Job, w domain.WorkerID) (domain.SubgraphKey, bool) {
	return domain.SubgraphKey{WorkerID: w}, true
}

func (f *fakeCallbacks) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := len(f.finished)
		f.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d finished jobs", n)
}

func TestWorker_RunsJobToSuccess(t *testing.T) {
	deque := NewDeque()
	cb := &fakeCallbacks{}
	w := New(Config{ID: 0, Device: domain.DeviceCPU}, deque, cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deque.Push(&domain.Job{JobID: 1})
	cb.wait(t, 1)

	if cb.finished[0].Status != domain.JobSuccess {
		t.Fatalf("status = %v, want success", cb.finished[0].Status)
	}
	if cb.finished[0].InvokeTime == 0 || cb.finished[0].EndTime == 0 {
		t.Error("expected InvokeTime/EndTime to be stamped")
	}
	w.End()
}

func TestWorker_InputCopyFailureDeliversFailureStatus(t *testing.T) {
	deque := NewDeque()
	cb := &fakeCallbacks{failInput: true}
	w := New(Config{ID: 0, Device: domain.DeviceCPU}, deque, cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deque.Push(&domain.Job{JobID: 1})
	cb.wait(t, 1)

	if cb.finished[0].Status != domain.JobInputCopyFailure {
		t.Fatalf("status = %v, want inputCopyFailure", cb.finished[0].Status)
	}
	w.End()
}

func TestWorker_PauseStopsDequeuing(t *testing.T) {
	deque := NewDeque()
	cb := &fakeCallbacks{}
	w := New(Config{ID: 0, Device: domain.DeviceCPU}, deque, cb)
	w.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deque.Push(&domain.Job{JobID: 1})
	time.Sleep(20 * time.Millisecond)

	cb.mu.Lock()
	got := len(cb.finished)
	cb.mu.Unlock()
	if got != 0 {
		t.Fatalf("job ran while paused: finished = %d", got)
	}

	w.Resume()
	cb.wait(t, 1)
	w.End()
}

func TestWorker_WorkStealingMovesUnsetTargetJob(t *testing.T) {
	victimDeque := NewDeque()
	thiefDeque := NewDeque()
	cb := &fakeCallbacks{}

	victim := New(Config{ID: 0, Device: domain.DeviceCPU}, victimDeque, cb)
	thief := New(Config{ID: 1, Device: domain.DeviceCPU, AllowWorksteal: true}, thiefDeque, cb)
	thief.SetSiblings([]*Worker{victim, thief})

	victimDeque.Push(&domain.Job{JobID: 1, TargetWorkerID: domain.AnyWorker})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go thief.Run(ctx)

	cb.wait(t, 1)
	if cb.finished[0].SubgraphKey.WorkerID != 1 {
		t.Fatalf("stolen job's SubgraphKey.WorkerID = %d, want 1", cb.finished[0].SubgraphKey.WorkerID)
	}
	thief.End()
}

func TestDeque_WaitingMicros(t *testing.T) {
	d := NewDeque()
	d.Push(&domain.Job{JobID: 1, ExpectedLatency: 100})
	d.Push(&domain.Job{JobID: 2, ExpectedLatency: 250})
	if got := d.WaitingMicros(); got != 350 {
		t.Fatalf("WaitingMicros() = %d, want 350", got)
	}
}
