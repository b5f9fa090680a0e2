package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/band-engine/band/internal/domain"
)

// writeScaleByThreeModel writes the same fixture backend_test.go exercises
// directly against the reference executor: two float32 inputs scaled by 3.
func writeScaleByThreeModel(t *testing.T) string {
	t.Helper()
	model := map[string]any{
		"num_tensors":    2,
		"tensor_lengths": []int{2, 2},
		"input_tensors":  []int{0},
		"output_tensors": []int{1},
		"ops": []map[string]any{
			{"kind": 3, "input": 0, "output": 1, "scalar": 3},
		},
	}
	data, err := json.Marshal(model)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "scale.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg, err := NewRuntimeConfigBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEngine_RegisterAndRequestSync_ScaleByThree(t *testing.T) {
	e := newTestEngine(t)
	path := writeScaleByThreeModel(t)

	modelID, err := e.RegisterModel(path)
	if err != nil {
		t.Fatalf("RegisterModel() error = %v", err)
	}

	handle, err := e.CreateTensor(modelID)
	if err != nil {
		t.Fatalf("CreateTensor() error = %v", err)
	}
	if err := e.WriteTensor(modelID, handle, 0, floatBytes(1.0, 3.0)); err != nil {
		t.Fatalf("WriteTensor() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outputHandle, status, err := e.RequestSync(ctx, modelID, handle, 0, domain.AnyWorker)
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	if status != domain.JobSuccess {
		t.Fatalf("status = %v, want success", status)
	}

	out, err := e.ReadTensor(modelID, outputHandle, 1)
	if err != nil {
		t.Fatalf("ReadTensor() error = %v", err)
	}
	got := bytesFloats(out)
	if len(got) != 2 || got[0] != 3.0 || got[1] != 9.0 {
		t.Fatalf("output = %v, want [3 9]", got)
	}
}

func TestEngine_UnregisterModel_RejectsFurtherRequests(t *testing.T) {
	e := newTestEngine(t)
	path := writeScaleByThreeModel(t)
	modelID, err := e.RegisterModel(path)
	if err != nil {
		t.Fatalf("RegisterModel() error = %v", err)
	}
	if err := e.UnregisterModel(modelID); err != nil {
		t.Fatalf("UnregisterModel() error = %v", err)
	}
	if _, err := e.CreateTensor(modelID); err == nil {
		t.Fatal("CreateTensor() on unregistered model should fail")
	}
	if err := e.UnregisterModel(modelID); err == nil {
		t.Fatal("second UnregisterModel() should fail")
	}
}

func TestEngine_RequestAsync_RejectsInvalidTargetWorker(t *testing.T) {
	e := newTestEngine(t)
	path := writeScaleByThreeModel(t)
	modelID, err := e.RegisterModel(path)
	if err != nil {
		t.Fatalf("RegisterModel() error = %v", err)
	}
	handle, err := e.CreateTensor(modelID)
	if err != nil {
		t.Fatalf("CreateTensor() error = %v", err)
	}
	if err := e.WriteTensor(modelID, handle, 0, floatBytes(1.0, 3.0)); err != nil {
		t.Fatalf("WriteTensor() error = %v", err)
	}

	before := e.totalEnqueued.Load()
	if _, _, err := e.RequestAsync(modelID, handle, 0, false, domain.WorkerID(99)); err == nil {
		t.Fatal("RequestAsync() with out-of-range target worker should fail")
	} else if !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("RequestAsync() error = %v, want ErrInvalidTarget", err)
	}
	if got := e.totalEnqueued.Load(); got != before {
		t.Fatalf("totalEnqueued = %d, want %d (no job should be enqueued)", got, before)
	}
}

func TestEngine_Persistence_SeedsAndArchives(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "band.sqlite")
	cfg, err := NewRuntimeConfigBuilder().WithPersistence(dbPath, 0).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	path := writeScaleByThreeModel(t)
	modelID, err := e.RegisterModel(path)
	if err != nil {
		t.Fatalf("RegisterModel() error = %v", err)
	}
	handle, err := e.CreateTensor(modelID)
	if err != nil {
		t.Fatalf("CreateTensor() error = %v", err)
	}
	if err := e.WriteTensor(modelID, handle, 0, floatBytes(1.0, 3.0)); err != nil {
		t.Fatalf("WriteTensor() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, status, err := e.RequestSync(ctx, modelID, handle, 0, domain.AnyWorker); err != nil || status != domain.JobSuccess {
		t.Fatalf("RequestSync() = (_, %v, %v)", status, err)
	}
	e.Close()

	// Reopen against the same database: the profile store must have
	// persisted the subgraph's moving average across the restart.
	e2, err := New(cfg)
	if err != nil {
		t.Fatalf("New() (reopen) error = %v", err)
	}
	defer e2.Close()
	seeded, err := e2.profileStore.All()
	if err != nil {
		t.Fatalf("profileStore.All() error = %v", err)
	}
	if len(seeded) == 0 {
		t.Fatal("expected at least one persisted profile entry after a successful request")
	}
	records, err := e2.jobArchive.Recent(10)
	if err != nil {
		t.Fatalf("jobArchive.Recent() error = %v", err)
	}
	if len(records) == 0 {
		t.Fatal("expected the finished job to be archived")
	}
}

func TestRuntimeConfigBuilder_RejectsMismatchedWorkerVectors(t *testing.T) {
	_, err := NewRuntimeConfigBuilder().WithWorkers(WorkerConfig{
		Devices:    []domain.DeviceFlag{domain.DeviceCPU, domain.DeviceCPU},
		CPUMasks:   []domain.CPUMaskFlag{domain.CPUMaskAll},
		NumThreads: []int{1, 1},
	}).Build()
	if err == nil {
		t.Fatal("Build() should reject mismatched worker vector lengths")
	}
}

func TestRuntimeConfigBuilder_RejectsBadSmoothingFactor(t *testing.T) {
	_, err := NewRuntimeConfigBuilder().WithProfile(ProfileConfig{SmoothingFactor: 1.5, NumWarmups: 1, NumRuns: 1}).Build()
	if err == nil {
		t.Fatal("Build() should reject smoothing_factor outside (0, 1]")
	}
}

func floatBytes(vals ...float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bytesFloats(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
