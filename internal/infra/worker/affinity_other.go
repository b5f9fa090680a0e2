//go:build !linux

package worker

// CPU affinity pinning has no portable equivalent off Linux; workers
// still run, just without a pinned core set (spec.md §4.3 "on platforms
// that support CPU affinity").
func init() {
	applyAffinityImpl = func(cores []int) error { return nil }
}
