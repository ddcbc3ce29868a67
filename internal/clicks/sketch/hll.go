// Package sketch holds the probabilistic structures the aggregator keeps
// per rollup window: a HyperLogLog for unique-session estimates and a
// bounded heavy-hitter counter for the country and referrer breakdowns.
package sketch

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// hllPrecision fixes the register count at 2^12 = 4096, roughly 1.6%
// standard error. Windows are hourly and per-link, so a few KB per live
// window is acceptable.
const hllPrecision = 12

const hllRegisters = 1 << hllPrecision

// HLL is a fixed-precision HyperLogLog cardinality estimator over strings.
// Not safe for concurrent use; the aggregator owns each instance from a
// single goroutine.
type HLL struct {
	registers [hllRegisters]uint8
}

// NewHLL creates an empty estimator.
func NewHLL() *HLL {
	return &HLL{}
}

// Add observes one item.
func (h *HLL) Add(item string) {
	sum := xxhash.Sum64String(item)

	// High bits pick the register, the rest feed the rank.
	idx := sum >> (64 - hllPrecision)
	rank := uint8(bits.LeadingZeros64(sum<<hllPrecision|1<<(hllPrecision-1))) + 1
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// Estimate returns the current cardinality estimate.
func (h *HLL) Estimate() int64 {
	var sum float64
	var zeros int
	for _, r := range h.registers {
		sum += 1 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}

	m := float64(hllRegisters)
	estimate := alpha() * m * m / sum

	// Linear counting corrects the small-cardinality regime.
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/float64(zeros))
	}
	return int64(estimate + 0.5)
}

func alpha() float64 {
	// The standard bias constant for m >= 128.
	return 0.7213 / (1 + 1.079/float64(hllRegisters))
}
