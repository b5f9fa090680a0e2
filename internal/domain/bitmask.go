// Package domain contains the pure data model of the inference engine core:
// identifiers, the subgraph/job types the scheduler operates on, and the
// service interfaces infrastructure packages implement. It depends on
// nothing outside the standard library.
package domain

import (
	"math/bits"
	"strconv"
)

// BitMask is a fixed-width bitset over unit-subgraph indices. band never
// partitions a model into more than 64 unit subgraphs in practice (mobile
// SoCs top out at a few dozen ops worth of fallback boundaries), so a
// single uint64 word is both sufficient and keeps SubgraphKey comparable
// and usable as a map key without a custom Equal/Hash pair.
type BitMask uint64

// EmptyMask denotes "no unit subgraphs", which by convention also means
// "the full model" when used as SubgraphKey.UnitIndices.
const EmptyMask BitMask = 0

// MaxUnitSubgraphs is the widest index BitMask can represent.
const MaxUnitSubgraphs = 64

// NewBitMask builds a mask with the given indices set.
func NewBitMask(indices ...int) BitMask {
	var m BitMask
	for _, i := range indices {
		m = m.Set(i)
	}
	return m
}

// Set returns a copy of m with bit i set.
func (m BitMask) Set(i int) BitMask {
	return m | (1 << uint(i))
}

// Clear returns a copy of m with bit i cleared.
func (m BitMask) Clear(i int) BitMask {
	return m &^ (1 << uint(i))
}

// Test reports whether bit i is set.
func (m BitMask) Test(i int) bool {
	return m&(1<<uint(i)) != 0
}

// IsEmpty reports whether no bits are set.
func (m BitMask) IsEmpty() bool {
	return m == 0
}

// Union returns m | other.
func (m BitMask) Union(other BitMask) BitMask {
	return m | other
}

// Intersect returns m & other.
func (m BitMask) Intersect(other BitMask) BitMask {
	return m & other
}

// Contains reports whether every bit set in other is also set in m.
func (m BitMask) Contains(other BitMask) bool {
	return m&other == other
}

// PopCount returns the number of set bits.
func (m BitMask) PopCount() int {
	return bits.OnesCount64(uint64(m))
}

// Indices returns the set bit positions in ascending order.
func (m BitMask) Indices() []int {
	out := make([]int, 0, m.PopCount())
	for i := 0; i < MaxUnitSubgraphs; i++ {
		if m.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

// Min returns the lowest set bit index, or -1 if empty.
func (m BitMask) Min() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(m))
}

// Max returns the highest set bit index, or -1 if empty.
func (m BitMask) Max() int {
	if m == 0 {
		return -1
	}
	return 63 - bits.LeadingZeros64(uint64(m))
}

// IsContiguous reports whether the set bits form a contiguous run, i.e.
// max-min+1 == popcount. Used to verify SubgraphDef.UnitSubgraphIndices
// (spec.md §3 invariant) under the analyzer's topological order.
func (m BitMask) IsContiguous() bool {
	if m.IsEmpty() {
		return true
	}
	return m.Max()-m.Min()+1 == m.PopCount()
}

// String renders the mask as a hex literal for log lines and SubgraphKey
// textual encodings (used by the sqlite profile store as a map key).
func (m BitMask) String() string {
	return "0x" + strconv.FormatUint(uint64(m), 16)
}
