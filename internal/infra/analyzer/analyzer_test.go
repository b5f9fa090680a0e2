package analyzer

import (
	"testing"

	"github.com/band-engine/band/internal/domain"
)

// buildChainSpec builds a 4-op linear chain: op0 -> op1 -> op2 -> op3,
// where op1 is GPU-unsupported (forcing a CPU-only unit subgraph) and the
// rest run anywhere.
func buildChainSpec() *domain.ModelSpec {
	s := domain.NewModelSpec(4, 5)
	for i := 0; i < 4; i++ {
		s.OpInputTensors[i] = []int{i}
		s.OpOutputTensors[i] = []int{i + 1}
	}
	s.InputTensors = []int{0}
	s.OutputTensors = []int{4}
	s.UnsupportedOps[domain.DeviceGPU] = map[int]struct{}{1: {}}
	return s
}

func twoWorkers() []WorkerInfo {
	return []WorkerInfo{
		{ID: 0, Device: domain.DeviceCPU},
		{ID: 1, Device: domain.DeviceGPU},
	}
}

func TestCreateSubgraphs_UnitMode_PartitionsAroundUnsupportedOp(t *testing.T) {
	spec := buildChainSpec()
	a := New(Config{MinimumSubgraphSize: 1, Preparation: domain.PrepUnit})

	defs, err := a.CreateSubgraphs(spec, twoWorkers())
	if err != nil {
		t.Fatalf("CreateSubgraphs() error = %v", err)
	}

	if len(spec.UnitSubgraphs) < 2 {
		t.Fatalf("expected the GPU-unsupported op to split the model into >=2 unit subgraphs, got %d", len(spec.UnitSubgraphs))
	}

	// Every op must appear exactly once across all unit subgraphs.
	seen := make(map[int]bool)
	for _, u := range spec.UnitSubgraphs {
		for op := range u {
			if seen[op] {
				t.Fatalf("op %d assigned to more than one unit subgraph", op)
			}
			seen[op] = true
		}
	}
	for i := 0; i < spec.NumOps; i++ {
		if !seen[i] {
			t.Fatalf("op %d not assigned to any unit subgraph", i)
		}
	}

	// unit mode: one SubgraphDef per (unit, worker) pair.
	if len(defs) != len(spec.UnitSubgraphs)*2 {
		t.Fatalf("unit mode should emit len(units)*len(workers) defs, got %d for %d units", len(defs), len(spec.UnitSubgraphs))
	}
	for _, d := range defs {
		if err := VerifySubgraphDefContiguity(d); err != nil {
			t.Errorf("non-contiguous SubgraphDef: %v", err)
		}
	}
}

func TestCreateSubgraphs_NoFallbackMode_OneDefPerWorker(t *testing.T) {
	spec := buildChainSpec()
	a := New(Config{MinimumSubgraphSize: 1, Preparation: domain.PrepNoFallback})

	defs, err := a.CreateSubgraphs(spec, twoWorkers())
	if err != nil {
		t.Fatalf("CreateSubgraphs() error = %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("no_fallback mode should emit one def per worker, got %d", len(defs))
	}
	for _, d := range defs {
		if len(d.OpIndices) != spec.NumOps {
			t.Errorf("no_fallback def should cover all ops, got %d of %d", len(d.OpIndices), spec.NumOps)
		}
	}
}

func TestCreateSubgraphs_MergedUnitMode_MergesAdjacentSameWorkerUnits(t *testing.T) {
	spec := buildChainSpec()
	a := New(Config{MinimumSubgraphSize: 1, Preparation: domain.PrepMergedUnit})

	defs, err := a.CreateSubgraphs(spec, twoWorkers())
	if err != nil {
		t.Fatalf("CreateSubgraphs() error = %v", err)
	}

	foundMerge := false
	for _, d := range defs {
		if d.UnitSubgraphIndices.PopCount() > 1 {
			foundMerge = true
			if err := VerifySubgraphDefContiguity(d); err != nil {
				t.Errorf("merged def should still be contiguous: %v", err)
			}
		}
	}
	if !foundMerge {
		t.Error("expected merged_unit mode to produce at least one multi-unit SubgraphDef")
	}
}

func TestCreateSubgraphs_FallbackPerWorkerMode(t *testing.T) {
	spec := buildChainSpec()
	a := New(Config{MinimumSubgraphSize: 1, Preparation: domain.PrepFallbackPerWorker})

	defs, err := a.CreateSubgraphs(spec, twoWorkers())
	if err != nil {
		t.Fatalf("CreateSubgraphs() error = %v", err)
	}
	if len(defs) == 0 {
		t.Fatal("expected at least one SubgraphDef")
	}
	for _, d := range defs {
		if err := VerifySubgraphDefContiguity(d); err != nil {
			t.Errorf("non-contiguous SubgraphDef: %v", err)
		}
	}
}

func TestCreateSubgraphs_MinimumSubgraphSize_ForcesFallback(t *testing.T) {
	// op2 is the lone GPU-capable op surrounded by CPU-only ops; with a
	// minimum subgraph size of 2 it cannot stand alone on the GPU and
	// must fold into the CPU fallback unit.
	spec := domain.NewModelSpec(3, 4)
	for i := 0; i < 3; i++ {
		spec.OpInputTensors[i] = []int{i}
		spec.OpOutputTensors[i] = []int{i + 1}
	}
	spec.InputTensors = []int{0}
	spec.OutputTensors = []int{3}
	spec.UnsupportedOps[domain.DeviceGPU] = map[int]struct{}{0: {}, 2: {}}

	a := New(Config{MinimumSubgraphSize: 2, Preparation: domain.PrepUnit})
	_, err := a.CreateSubgraphs(spec, twoWorkers())
	if err != nil {
		t.Fatalf("CreateSubgraphs() error = %v", err)
	}

	if len(spec.UnitSubgraphs) != 1 {
		t.Fatalf("expected the isolated GPU op to be folded into a single CPU-fallback unit subgraph, got %d units", len(spec.UnitSubgraphs))
	}
}

func TestCreateSubgraphs_NoValidWorker(t *testing.T) {
	spec := buildChainSpec()
	spec.UnavailableDevices[domain.DeviceCPU] = struct{}{}
	spec.UnavailableDevices[domain.DeviceGPU] = struct{}{}

	a := New(Config{MinimumSubgraphSize: 1, Preparation: domain.PrepUnit})
	_, err := a.CreateSubgraphs(spec, twoWorkers())
	if err == nil {
		t.Fatal("expected an error when no worker's device is available")
	}
}

func TestCreateSubgraphs_DependenciesAreTopological(t *testing.T) {
	spec := buildChainSpec()
	a := New(Config{MinimumSubgraphSize: 1, Preparation: domain.PrepUnit})

	if _, err := a.CreateSubgraphs(spec, twoWorkers()); err != nil {
		t.Fatalf("CreateSubgraphs() error = %v", err)
	}

	for u, deps := range spec.UnitSubgraphDependencies {
		for _, dep := range deps.Indices() {
			if dep >= u {
				t.Errorf("unit %d depends on unit %d, which is not earlier in topological order", u, dep)
			}
		}
	}
}
