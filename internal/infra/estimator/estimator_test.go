package estimator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/band-engine/band/internal/domain"
)

func TestUpdateLatency_ExponentialMovingAverage(t *testing.T) {
	e := New(Config{SmoothingFactor: 0.5})
	key := domain.SubgraphKey{ModelID: 1, WorkerID: 0}

	e.UpdateLatency(key, 100)
	if got, _ := e.GetProfiled(key); got != 100 {
		t.Fatalf("first update: got %d, want 100", got)
	}
	e.UpdateLatency(key, 200)
	if got, _ := e.GetProfiled(key); got != 150 {
		t.Fatalf("second update: got %d, want 150", got)
	}
}

func TestGetWorst_MaxOverFullModelKeys(t *testing.T) {
	e := New(Config{SmoothingFactor: 0.5})
	e.UpdateLatency(domain.SubgraphKey{ModelID: 1, WorkerID: 0}, 300)
	e.UpdateLatency(domain.SubgraphKey{ModelID: 1, WorkerID: 1}, 500)
	e.UpdateLatency(domain.SubgraphKey{ModelID: 1, WorkerID: 2, UnitIndices: domain.NewBitMask(0)}, 999)

	worst, ok := e.GetWorst(1)
	if !ok || worst != 500 {
		t.Fatalf("GetWorst() = %d, %v, want 500 true", worst, ok)
	}
}

func TestProfileModel_MeanOfMeasuredRuns(t *testing.T) {
	e := New(Config{NumWarmups: 1, NumRuns: 3, SmoothingFactor: 0.5})
	key := domain.SubgraphKey{ModelID: 1, WorkerID: 0}
	calls := 0
	run := func(k domain.SubgraphKey) (int64, error) {
		calls++
		return 100, nil
	}

	warnings := e.ProfileModel([]domain.SubgraphKey{key}, run)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	if calls != 4 { // 1 warmup + 3 measured
		t.Fatalf("run called %d times, want 4", calls)
	}
	if got, _ := e.GetProfiled(key); got != 100 {
		t.Fatalf("GetProfiled() = %d, want 100", got)
	}
}

func TestProfileModel_AllRunsFailLeavesUnprofiled(t *testing.T) {
	e := New(Config{NumRuns: 2, SmoothingFactor: 0.5})
	key := domain.SubgraphKey{ModelID: 1, WorkerID: 0}
	run := func(k domain.SubgraphKey) (int64, error) { return 0, errors.New("boom") }

	warnings := e.ProfileModel([]domain.SubgraphKey{key}, run)
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", warnings)
	}
	if _, ok := e.GetProfiled(key); ok {
		t.Error("key should remain unprofiled after every run fails")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	e := New(Config{SmoothingFactor: 0.5})
	key := domain.SubgraphKey{ModelID: 2, WorkerID: 1, UnitIndices: domain.NewBitMask(0, 2)}
	e.UpdateLatency(key, 4242)

	path := filepath.Join(t.TempDir(), "profile.json")
	if err := e.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := New(Config{ProfilePath: path, SmoothingFactor: 0.5})
	got, ok := loaded.GetProfiled(key)
	if !ok || got != 4242 {
		t.Fatalf("GetProfiled() after reload = %d, %v, want 4242 true", got, ok)
	}
}

func TestSeedFromStrings_DoesNotOverrideKnownEntry(t *testing.T) {
	key := domain.SubgraphKey{ModelID: 3, WorkerID: 0, UnitIndices: domain.NewBitMask(1)}
	e := New(Config{SmoothingFactor: 0.5})
	e.UpdateLatency(key, 111)

	other := domain.SubgraphKey{ModelID: 3, WorkerID: 1}
	e.SeedFromStrings(map[string]int64{
		key.String():   999, // already known — must not be overwritten
		other.String(): 222,
	})

	if got, _ := e.GetProfiled(key); got != 111 {
		t.Fatalf("GetProfiled(key) = %d, want 111 (seed must not override)", got)
	}
	if got, ok := e.GetProfiled(other); !ok || got != 222 {
		t.Fatalf("GetProfiled(other) = %d, %v, want 222 true", got, ok)
	}
}

func TestSetUpdateHook_FiresWithMovingAverageAndSampleCount(t *testing.T) {
	e := New(Config{SmoothingFactor: 0.5})
	key := domain.SubgraphKey{ModelID: 1, WorkerID: 0}

	type call struct {
		avg   int64
		count int
	}
	var calls []call
	e.SetUpdateHook(func(k domain.SubgraphKey, movingAvgUs int64, sampleCount int) {
		calls = append(calls, call{movingAvgUs, sampleCount})
	})

	e.UpdateLatency(key, 100)
	e.UpdateLatency(key, 200)

	if len(calls) != 2 {
		t.Fatalf("hook fired %d times, want 2", len(calls))
	}
	if calls[0] != (call{100, 1}) {
		t.Fatalf("calls[0] = %+v, want {100 1}", calls[0])
	}
	if calls[1] != (call{150, 2}) {
		t.Fatalf("calls[1] = %+v, want {150 2}", calls[1])
	}
}

func TestNew_UnreadableProfilePathFallsBackToEmpty(t *testing.T) {
	e := New(Config{ProfilePath: filepath.Join(os.TempDir(), "does-not-exist-band-profile.json"), SmoothingFactor: 0.5})
	if _, ok := e.GetProfiled(domain.SubgraphKey{ModelID: 1}); ok {
		t.Error("expected an empty estimator when the profile path cannot be read")
	}
}
