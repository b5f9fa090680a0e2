package worker

import (
	"github.com/klauspost/cpuid/v2"

	"github.com/band-engine/band/internal/domain"
)

// ClusterCores maps a CPUMaskFlag to the logical core indices a worker's
// thread should be pinned to. cpuid exposes no per-core big.LITTLE
// asymmetry signal, so band falls back to a fixed heuristic: the lower
// half of logical cores is treated as the efficiency ("little") cluster
// and the upper half as the performance ("big") cluster — accurate on the
// common two-cluster ARM layouts this backend targets, approximate
// elsewhere.
func ClusterCores(flag domain.CPUMaskFlag) []int {
	n := cpuid.CPU.LogicalCores
	if n <= 0 {
		n = 1
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	switch flag {
	case domain.CPUMaskPrimary:
		return []int{0}
	case domain.CPUMaskLittle:
		half := n / 2
		if half == 0 {
			half = n
		}
		return all[:half]
	case domain.CPUMaskBig:
		half := n / 2
		return all[half:]
	default: // CPUMaskAll
		return all
	}
}
