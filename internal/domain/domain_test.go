package domain

import "testing"

// ─── BitMask Tests ──────────────────────────────────────────────────────────

func TestBitMask_SetTestClear(t *testing.T) {
	var m BitMask
	m = m.Set(0).Set(3).Set(5)

	for _, i := range []int{0, 3, 5} {
		if !m.Test(i) {
			t.Errorf("Test(%d) = false, want true", i)
		}
	}
	if m.Test(1) {
		t.Error("Test(1) = true, want false")
	}

	m = m.Clear(3)
	if m.Test(3) {
		t.Error("Clear(3) did not clear bit 3")
	}
}

func TestBitMask_PopCountAndIndices(t *testing.T) {
	m := NewBitMask(1, 2, 4)
	if got := m.PopCount(); got != 3 {
		t.Errorf("PopCount() = %d, want 3", got)
	}
	want := []int{1, 2, 4}
	got := m.Indices()
	if len(got) != len(want) {
		t.Fatalf("Indices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Indices()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBitMask_IsContiguous(t *testing.T) {
	tests := []struct {
		name string
		mask BitMask
		want bool
	}{
		{"empty", EmptyMask, true},
		{"single", NewBitMask(2), true},
		{"contiguous run", NewBitMask(1, 2, 3), true},
		{"gap", NewBitMask(1, 3), false},
		{"two singles far apart", NewBitMask(0, 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mask.IsContiguous(); got != tt.want {
				t.Errorf("IsContiguous() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBitMask_UnionIntersectContains(t *testing.T) {
	a := NewBitMask(0, 1, 2)
	b := NewBitMask(1, 2, 3)

	if got := a.Union(b); got != NewBitMask(0, 1, 2, 3) {
		t.Errorf("Union = %v, want 0,1,2,3", got.Indices())
	}
	if got := a.Intersect(b); got != NewBitMask(1, 2) {
		t.Errorf("Intersect = %v, want 1,2", got.Indices())
	}
	if !a.Contains(NewBitMask(1)) {
		t.Error("Contains(1) should be true for mask {0,1,2}")
	}
	if a.Contains(NewBitMask(3)) {
		t.Error("Contains(3) should be false for mask {0,1,2}")
	}
}

// ─── SubgraphKey Tests ──────────────────────────────────────────────────────

func TestSubgraphKey_Equality(t *testing.T) {
	k1 := SubgraphKey{ModelID: 1, WorkerID: 0, UnitIndices: NewBitMask(0, 1)}
	k2 := SubgraphKey{ModelID: 1, WorkerID: 0, UnitIndices: NewBitMask(0, 1)}
	k3 := SubgraphKey{ModelID: 1, WorkerID: 1, UnitIndices: NewBitMask(0, 1)}

	if k1 != k2 {
		t.Error("identical keys should compare equal")
	}
	if k1 == k3 {
		t.Error("keys differing by worker should not compare equal")
	}

	m := map[SubgraphKey]int{k1: 42}
	if m[k2] != 42 {
		t.Error("SubgraphKey should be usable as a map key by value")
	}
}

func TestSubgraphKey_IsFullModel(t *testing.T) {
	full := SubgraphKey{ModelID: 1, WorkerID: 0}
	partial := SubgraphKey{ModelID: 1, WorkerID: 0, UnitIndices: NewBitMask(2)}

	if !full.IsFullModel() {
		t.Error("empty UnitIndices should denote the full model")
	}
	if partial.IsFullModel() {
		t.Error("non-empty UnitIndices should not denote the full model")
	}
}

// ─── ModelSpec Tests ────────────────────────────────────────────────────────

func buildTestSpec() *ModelSpec {
	// Three ops in a chain: op0 -> t1 -> op1 -> t2 -> op2 -> t3
	// op0 reads external input t0, op2 writes external output t3.
	s := NewModelSpec(3, 4)
	s.OpInputTensors[0] = []int{0}
	s.OpOutputTensors[0] = []int{1}
	s.OpInputTensors[1] = []int{1}
	s.OpOutputTensors[1] = []int{2}
	s.OpInputTensors[2] = []int{2}
	s.OpOutputTensors[2] = []int{3}
	s.InputTensors = []int{0}
	s.OutputTensors = []int{3}
	return s
}

func TestModelSpec_GetPureInputTensors(t *testing.T) {
	s := buildTestSpec()
	ops := map[int]struct{}{0: {}, 1: {}}
	got := s.GetPureInputTensors(ops)
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("GetPureInputTensors = %v, want [0]", got)
	}
}

func TestModelSpec_GetOutputTensors(t *testing.T) {
	s := buildTestSpec()
	ops := map[int]struct{}{0: {}, 1: {}}
	got := s.GetOutputTensors(ops)
	if len(got) != 2 {
		t.Fatalf("GetOutputTensors = %v, want 2 entries", got)
	}
}

func TestModelSpec_IsOpSupported(t *testing.T) {
	s := buildTestSpec()
	s.UnsupportedOps[DeviceGPU] = map[int]struct{}{1: {}}

	if !s.IsOpSupported(DeviceGPU, 0) {
		t.Error("op 0 should be supported on GPU")
	}
	if s.IsOpSupported(DeviceGPU, 1) {
		t.Error("op 1 should be unsupported on GPU")
	}
	if !s.IsOpSupported(DeviceCPU, 1) {
		t.Error("op 1 should default to supported on an unlisted device")
	}
}

// ─── Job Tests ──────────────────────────────────────────────────────────────

func TestJob_MeetsDeadline(t *testing.T) {
	tests := []struct {
		name            string
		enqueue         int64
		slo             int64
		now             int64
		expectedLatency int64
		want            bool
	}{
		{"plenty of slack", 0, 100_000, 10_000, 20_000, true},
		{"exactly on the line", 0, 100_000, 50_000, 50_000, true},
		{"over budget", 0, 50_000, 10_000, 60_000, false},
		{"no slo configured", 0, 0, 1_000_000, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{EnqueueTime: tt.enqueue, SLOUs: tt.slo, ExpectedLatency: tt.expectedLatency}
			if got := j.MeetsDeadline(tt.now); got != tt.want {
				t.Errorf("MeetsDeadline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_Clone_DoesNotAliasSlice(t *testing.T) {
	j := &Job{PreviousSubgraphKeys: []SubgraphKey{{ModelID: 1}}}
	cp := j.Clone()
	cp.PreviousSubgraphKeys[0].ModelID = 99

	if j.PreviousSubgraphKeys[0].ModelID == 99 {
		t.Error("Clone should not alias the original's slice backing array")
	}
}

func TestWorkerWaitingTime_Clone(t *testing.T) {
	w := WorkerWaitingTime{0: 100, 1: 200}
	cp := w.Clone()
	cp[0] = 999

	if w[0] != 100 {
		t.Error("Clone should be independent of the original map")
	}
}

// ─── JobStatus Tests ────────────────────────────────────────────────────────

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobQueued, false},
		{JobRunning, false},
		{JobSuccess, true},
		{JobSLOViolation, true},
		{JobInvokeFailure, true},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
