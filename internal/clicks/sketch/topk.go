package sketch

import (
	"sort"

	"github.com/linkmesh/engine/pkg/types"
)

// TopK tracks approximate heavy hitters with bounded memory using the
// Misra-Gries summary: at most capacity counters are kept, and observing
// an untracked key while full decrements every counter instead of
// evicting one outright. Counts are lower bounds; keys with true frequency
// above n/capacity are guaranteed to survive.
type TopK struct {
	capacity int
	counts   map[string]int64
}

// NewTopK creates a tracker holding at most capacity keys.
func NewTopK(capacity int) *TopK {
	if capacity < 1 {
		capacity = 1
	}
	return &TopK{capacity: capacity, counts: make(map[string]int64, capacity)}
}

// Observe counts one occurrence of key. Empty keys are ignored.
func (t *TopK) Observe(key string) {
	if key == "" {
		return
	}
	if _, tracked := t.counts[key]; tracked || len(t.counts) < t.capacity {
		t.counts[key]++
		return
	}
	for k := range t.counts {
		t.counts[k]--
		if t.counts[k] <= 0 {
			delete(t.counts, k)
		}
	}
}

// Entries returns the tracked keys sorted by descending count, key
// ascending on ties for stable output.
func (t *TopK) Entries() []types.CounterEntry {
	if len(t.counts) == 0 {
		return nil
	}
	out := make([]types.CounterEntry, 0, len(t.counts))
	for k, c := range t.counts {
		out = append(out, types.CounterEntry{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Len returns the number of tracked keys.
func (t *TopK) Len() int {
	return len(t.counts)
}
