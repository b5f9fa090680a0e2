//go:build linux

package worker

import "golang.org/x/sys/unix"

func init() {
	applyAffinityImpl = func(cores []int) error {
		var set unix.CPUSet
		set.Zero()
		for _, c := range cores {
			set.Set(c)
		}
		return unix.SchedSetaffinity(0, &set)
	}
}
