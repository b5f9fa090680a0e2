package worker

import "github.com/band-engine/band/internal/domain"

// applyAffinity is implemented per-platform (affinity_linux.go,
// affinity_other.go); platforms without CPU-affinity syscalls are a
// silent no-op, matching spec.md §4.3 "on platforms that support CPU
// affinity".
var applyAffinityImpl = func(cores []int) error { return nil }

func applyAffinity(flag domain.CPUMaskFlag, numThreads int) {
	cores := ClusterCores(flag)
	_ = applyAffinityImpl(cores)
	_ = numThreads // thread-count hints are advisory for the reference backend
}
