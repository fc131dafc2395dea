package sched

import "math/bits"

// MaxCPUs is the widest machine a CPUSet can describe.
const MaxCPUs = 64

// CPUSet is a bitset of core indices. The empty set on a task means "any core".
type CPUSet uint64

// CPUs builds a set from core indices.
func CPUs(idx ...int) CPUSet {
	var s CPUSet
	for _, i := range idx {
		s |= 1 << uint(i)
	}
	return s
}

// FirstCPUs returns the set {0, ..., n-1}.
func FirstCPUs(n int) CPUSet {
	if n >= MaxCPUs {
		return ^CPUSet(0)
	}
	return CPUSet(1)<<uint(n) - 1
}

// Has reports whether core i is in the set.
func (s CPUSet) Has(i int) bool { return i >= 0 && i < MaxCPUs && s&(1<<uint(i)) != 0 }

// Count returns the number of cores in the set.
func (s CPUSet) Count() int { return bits.OnesCount64(uint64(s)) }

// Each calls fn for every member in ascending order.
func (s CPUSet) Each(fn func(i int)) {
	for s != 0 {
		i := bits.TrailingZeros64(uint64(s))
		fn(i)
		s &= s - 1
	}
}

func bitIndex(s CPUSet) int { return bits.TrailingZeros64(uint64(s)) }
