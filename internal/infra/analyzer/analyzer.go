// Package analyzer implements the ModelAnalyzer: deterministic
// partitioning of a registered model into unit subgraphs and, from those,
// per-worker SubgraphDefs under one of four preparation modes
// (spec.md §4.1).
package analyzer

import (
	"fmt"
	"sort"

	"github.com/band-engine/band/internal/domain"
)

// WorkerInfo is the subset of worker configuration the analyzer needs:
// its identity and the device it is bound to.
type WorkerInfo struct {
	ID     domain.WorkerID
	Device domain.DeviceFlag
}

// Config controls the analyzer's behavior.
type Config struct {
	MinimumSubgraphSize int
	Preparation         domain.SubgraphPreparationType
}

// Analyzer partitions models under a fixed Config.
type Analyzer struct {
	cfg Config
}

// New returns an Analyzer for the given configuration.
func New(cfg Config) *Analyzer {
	if cfg.MinimumSubgraphSize <= 0 {
		cfg.MinimumSubgraphSize = 1
	}
	return &Analyzer{cfg: cfg}
}

// unit is the analyzer's working representation of a unit subgraph before
// it is flattened into domain.ModelSpec.UnitSubgraphs. DeviceMask records
// which devices can execute every op in the unit directly — CPU is
// (almost) always a member, since band treats CPU as the universal
// reference backend able to run any op band's ModelSpec has not
// explicitly excluded.
type unit struct {
	ops        map[int]struct{}
	deviceMask domain.BitMask
}

// CreateSubgraphs partitions spec into unit subgraphs (writing the result
// back into spec.UnitSubgraphs / spec.UnitSubgraphDependencies) and
// builds the list of SubgraphDefs for the analyzer's configured
// preparation mode.
func (a *Analyzer) CreateSubgraphs(spec *domain.ModelSpec, workers []WorkerInfo) ([]domain.SubgraphDef, error) {
	validWorkers := make([]WorkerInfo, 0, len(workers))
	for _, w := range workers {
		if _, unavailable := spec.UnavailableDevices[w.Device]; unavailable {
			continue
		}
		validWorkers = append(validWorkers, w)
	}
	if len(validWorkers) == 0 {
		return nil, fmt.Errorf("analyzer: %w: no valid worker for model", domain.ErrConfiguration)
	}

	availableDevices := make(map[domain.DeviceFlag]struct{})
	var cpuWorker *WorkerInfo
	for i, w := range validWorkers {
		availableDevices[w.Device] = struct{}{}
		if w.Device == domain.DeviceCPU && cpuWorker == nil {
			cpuWorker = &validWorkers[i]
		}
	}

	units, err := a.partitionUnits(spec, availableDevices)
	if err != nil {
		return nil, err
	}

	spec.UnitSubgraphs = make([]map[int]struct{}, len(units))
	for i, u := range units {
		spec.UnitSubgraphs[i] = u.ops
	}
	spec.UnitSubgraphDependencies = computeDependencies(spec, units)

	if err := verifyPartition(spec, units); err != nil {
		return nil, err
	}

	defs, err := a.buildSubgraphDefs(spec, units, validWorkers, cpuWorker)
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// partitionUnits runs the greedy pass-based algorithm of spec.md §4.1:
// repeatedly collect every remaining op whose inputs are all resolved and
// whose device support mask equals the pass's shared mask, growing the
// group as its own outputs resolve further ops; a group below
// minimum_subgraph_size on a non-CPU-only device set is forced onto CPU
// and the partition restarts from the model inputs with those ops forced.
func (a *Analyzer) partitionUnits(spec *domain.ModelSpec, availableDevices map[domain.DeviceFlag]struct{}) ([]unit, error) {
	forced := make(map[int]bool, spec.NumOps)
restart:
	resolved := make(map[int]struct{}, len(spec.InputTensors))
	for _, t := range spec.InputTensors {
		resolved[t] = struct{}{}
	}
	remaining := make(map[int]struct{}, spec.NumOps)
	for i := 0; i < spec.NumOps; i++ {
		remaining[i] = struct{}{}
	}

	nativeMask := func(op int) domain.BitMask {
		var m domain.BitMask
		for d := range availableDevices {
			if spec.IsOpSupported(d, op) {
				m = m.Set(int(d))
			}
		}
		return m
	}
	cpuOnly := domain.NewBitMask(int(domain.DeviceCPU))
	effectiveMask := func(op int) domain.BitMask {
		if forced[op] {
			return cpuOnly
		}
		return nativeMask(op)
	}

	var units []unit
	for len(remaining) > 0 {
		candidates := readyOps(remaining, resolved, spec)
		if len(candidates) == 0 {
			return nil, fmt.Errorf("analyzer: %w: no op is ready — dependency cycle or unresolved external input", domain.ErrConfiguration)
		}

		first := candidates[0]
		shared := effectiveMask(first)
		var group []int
		for grew := true; grew; {
			grew = false
			for _, op := range readyOps(remaining, resolved, spec) {
				if effectiveMask(op) == shared {
					group = append(group, op)
					delete(remaining, op)
					for _, t := range spec.OpOutputTensors[op] {
						resolved[t] = struct{}{}
					}
					grew = true
				}
			}
		}

		_, includesCPU := availableDevices[domain.DeviceCPU]
		isAcceleratorOnly := includesCPU && shared != cpuOnly
		if isAcceleratorOnly && len(group) < a.cfg.MinimumSubgraphSize {
			for _, op := range group {
				forced[op] = true
			}
			goto restart
		}

		ops := make(map[int]struct{}, len(group))
		for _, op := range group {
			ops[op] = struct{}{}
			delete(remaining, op)
			for _, t := range spec.OpOutputTensors[op] {
				resolved[t] = struct{}{}
			}
		}
		units = append(units, unit{ops: ops, deviceMask: shared})
	}
	return units, nil
}

// readyOps returns, in ascending index order, every remaining op whose
// inputs are all in resolved.
func readyOps(remaining, resolved map[int]struct{}, spec *domain.ModelSpec) []int {
	var out []int
	for op := range remaining {
		ready := true
		for _, t := range spec.OpInputTensors[op] {
			if _, ok := resolved[t]; !ok {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, op)
		}
	}
	sort.Ints(out)
	return out
}

// computeDependencies derives, for each unit, the set of earlier units
// whose outputs it consumes.
func computeDependencies(spec *domain.ModelSpec, units []unit) []domain.BitMask {
	producerUnit := make(map[int]int, spec.NumTensors)
	for ui, u := range units {
		for op := range u.ops {
			for _, t := range spec.OpOutputTensors[op] {
				producerUnit[t] = ui
			}
		}
	}

	deps := make([]domain.BitMask, len(units))
	for ui, u := range units {
		var mask domain.BitMask
		for op := range u.ops {
			for _, t := range spec.OpInputTensors[op] {
				if pu, ok := producerUnit[t]; ok && pu != ui {
					mask = mask.Set(pu)
				}
			}
		}
		deps[ui] = mask
	}
	return deps
}
