package analyzer

import (
	"fmt"

	"github.com/band-engine/band/internal/domain"
)

// buildSubgraphDefs dispatches to the configured preparation mode
// (spec.md §4.1).
func (a *Analyzer) buildSubgraphDefs(spec *domain.ModelSpec, units []unit, valid []WorkerInfo, cpuWorker *WorkerInfo) ([]domain.SubgraphDef, error) {
	switch a.cfg.Preparation {
	case domain.PrepNoFallback:
		return noFallbackDefs(spec, valid), nil
	case domain.PrepUnit:
		return unitDefs(units, valid), nil
	case domain.PrepMergedUnit:
		return mergedUnitDefs(spec, units, valid), nil
	case domain.PrepFallbackPerWorker:
		return fallbackPerWorkerDefs(spec, units, valid, cpuWorker)
	default:
		return nil, fmt.Errorf("analyzer: %w: unknown preparation mode %d", domain.ErrConfiguration, a.cfg.Preparation)
	}
}

// noFallbackDefs: one SubgraphDef per valid worker, covering all ops.
func noFallbackDefs(spec *domain.ModelSpec, valid []WorkerInfo) []domain.SubgraphDef {
	allOps := make(map[int]struct{}, spec.NumOps)
	for i := 0; i < spec.NumOps; i++ {
		allOps[i] = struct{}{}
	}
	var allUnits domain.BitMask
	for i := range spec.UnitSubgraphs {
		allUnits = allUnits.Set(i)
	}

	defs := make([]domain.SubgraphDef, 0, len(valid))
	for _, w := range valid {
		defs = append(defs, domain.SubgraphDef{
			WorkerID:            w.ID,
			OpIndices:            cloneOpSet(allOps),
			UnitSubgraphIndices: allUnits,
		})
	}
	return defs
}

// unitDefs: one SubgraphDef per (unit, valid worker) pair.
func unitDefs(units []unit, valid []WorkerInfo) []domain.SubgraphDef {
	defs := make([]domain.SubgraphDef, 0, len(units)*len(valid))
	for ui, u := range units {
		for _, w := range valid {
			defs = append(defs, domain.SubgraphDef{
				WorkerID:            w.ID,
				OpIndices:            cloneOpSet(u.ops),
				UnitSubgraphIndices: domain.NewBitMask(ui),
			})
		}
	}
	return defs
}

// mergedUnitDefs starts from unitDefs and iteratively merges adjacent
// same-worker SubgraphDefs whose earlier member's outputs cover the
// later member's pure inputs, until no new merge is found.
func mergedUnitDefs(spec *domain.ModelSpec, units []unit, valid []WorkerInfo) []domain.SubgraphDef {
	defs := unitDefs(units, valid)

	for {
		merged := false
	pairs:
		for i, l := range defs {
			for j, r := range defs {
				if i == j || l.WorkerID != r.WorkerID {
					continue
				}
				if !adjacent(l.UnitSubgraphIndices, r.UnitSubgraphIndices) {
					continue
				}
				if !coversInputs(spec, l.OpIndices, r.OpIndices) {
					continue
				}
				newDef := domain.SubgraphDef{
					WorkerID:            l.WorkerID,
					OpIndices:            unionOps(l.OpIndices, r.OpIndices),
					UnitSubgraphIndices: l.UnitSubgraphIndices.Union(r.UnitSubgraphIndices),
				}
				if containsDef(defs, newDef) {
					continue
				}
				defs = append(defs, newDef)
				merged = true
				break pairs
			}
		}
		if !merged {
			break
		}
	}
	return defs
}

// adjacent reports whether l's unit indices end exactly where r's begin
// in topological order, i.e. l ∪ r is contiguous and l, r are disjoint.
func adjacent(l, r domain.BitMask) bool {
	if l.Intersect(r) != domain.EmptyMask {
		return false
	}
	return l.Max()+1 == r.Min()
}

// coversInputs reports whether every pure (external-to-rOps) input
// tensor of rOps is produced by lOps.
func coversInputs(spec *domain.ModelSpec, lOps, rOps map[int]struct{}) bool {
	produced := make(map[int]struct{})
	for op := range lOps {
		for _, t := range spec.OpOutputTensors[op] {
			produced[t] = struct{}{}
		}
	}
	for _, t := range spec.GetPureInputTensors(rOps) {
		if _, ok := produced[t]; !ok {
			return false
		}
	}
	return true
}

func containsDef(defs []domain.SubgraphDef, d domain.SubgraphDef) bool {
	for _, existing := range defs {
		if existing.WorkerID == d.WorkerID && existing.UnitSubgraphIndices == d.UnitSubgraphIndices {
			return true
		}
	}
	return false
}

// fallbackPerWorkerDefs: for each worker, walk units in topological
// order, classifying each as "supported" (worker's device is in the
// unit's device mask) or "fallback" (must run on the CPU worker
// instead), and emit one SubgraphDef per maximal run.
func fallbackPerWorkerDefs(spec *domain.ModelSpec, units []unit, valid []WorkerInfo, cpuWorker *WorkerInfo) ([]domain.SubgraphDef, error) {
	var defs []domain.SubgraphDef
	for _, w := range valid {
		runStart := -1
		runSupported := false
		flush := func(end int) {
			if runStart < 0 {
				return
			}
			ops := make(map[int]struct{})
			var mask domain.BitMask
			for i := runStart; i < end; i++ {
				for op := range units[i].ops {
					ops[op] = struct{}{}
				}
				mask = mask.Set(i)
			}
			target := w.ID
			if !runSupported {
				target = cpuWorker.ID
			}
			defs = append(defs, domain.SubgraphDef{
				WorkerID:            target,
				OpIndices:            ops,
				UnitSubgraphIndices: mask,
			})
		}

		for i, u := range units {
			supported := u.deviceMask.Test(int(w.Device))
			if !supported && w.Device != domain.DeviceCPU && cpuWorker == nil {
				return nil, fmt.Errorf("analyzer: %w: fallback_per_worker requires a CPU worker", domain.ErrConfiguration)
			}
			if runStart == -1 {
				runStart, runSupported = i, supported
				continue
			}
			if supported != runSupported {
				flush(i)
				runStart, runSupported = i, supported
			}
		}
		flush(len(units))
	}
	return defs, nil
}

func cloneOpSet(ops map[int]struct{}) map[int]struct{} {
	cp := make(map[int]struct{}, len(ops))
	for k := range ops {
		cp[k] = struct{}{}
	}
	return cp
}

func unionOps(a, b map[int]struct{}) map[int]struct{} {
	cp := cloneOpSet(a)
	for k := range b {
		cp[k] = struct{}{}
	}
	return cp
}
