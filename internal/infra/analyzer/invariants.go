package analyzer

import (
	"fmt"

	"github.com/band-engine/band/internal/domain"
)

// verifyPartition checks the analyzer-completion invariants of spec.md
// §4.1: distinct unit subgraphs share no ops, and every op belongs to
// exactly one unit subgraph. Cross-worker tensor-view compatibility
// (spec.md §4.1's fourth invariant) needs backend TensorViews the
// analyzer does not have access to; it is checked by
// Engine.RegisterModel (spec.md §4.6 step 4) instead.
func verifyPartition(spec *domain.ModelSpec, units []unit) error {
	seen := make(map[int]int, spec.NumOps)
	for ui, u := range units {
		for op := range u.ops {
			if other, dup := seen[op]; dup {
				return fmt.Errorf("analyzer: %w: op %d assigned to both unit %d and unit %d", domain.ErrConfiguration, op, other, ui)
			}
			seen[op] = ui
		}
	}
	if len(seen) != spec.NumOps {
		return fmt.Errorf("analyzer: %w: %d of %d ops were not assigned to any unit subgraph", domain.ErrConfiguration, spec.NumOps-len(seen), spec.NumOps)
	}
	return nil
}

// VerifySubgraphDefContiguity checks the SubgraphDef invariant from
// spec.md §3: its unit_subgraph_indices form a contiguous interval under
// topological order. It is exported, but Engine.RegisterModel does not
// call it; the analyzer's own tests use it.
func VerifySubgraphDefContiguity(def domain.SubgraphDef) error {
	if !def.UnitSubgraphIndices.IsContiguous() {
		return fmt.Errorf("analyzer: %w: SubgraphDef for worker %d has non-contiguous unit indices %v",
			domain.ErrConfiguration, def.WorkerID, def.UnitSubgraphIndices.Indices())
	}
	return nil
}
