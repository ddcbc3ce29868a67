// Package rollup persists hourly click aggregates keyed by
// (link id, window start).
//
// The aggregator is the single writer for any given key thanks to
// partition affinity, so Upsert overwrites the row with the latest window
// snapshot; the monotone columns guard against regressions when a
// restarted consumer replays part of a window it no longer holds in
// memory.
package rollup

import (
	"context"
	"sync"
	"time"

	"github.com/linkmesh/engine/pkg/types"
)

// Store is the persistence contract for hourly rollups.
type Store interface {
	// Upsert writes the window snapshot. total_clicks and unique_sessions
	// never decrease across upserts of the same key.
	Upsert(ctx context.Context, r *types.HourlyRollup) error

	// Get returns the rollup for (linkID, windowStart), or (nil, nil).
	Get(ctx context.Context, linkID int64, windowStart time.Time) (*types.HourlyRollup, error)

	// ListForLink returns the rollups for one link with window start in
	// [from, to), oldest first.
	ListForLink(ctx context.Context, linkID int64, from, to time.Time) ([]*types.HourlyRollup, error)

	// Close releases the underlying connections.
	Close()
}

type windowKey struct {
	linkID      int64
	windowStart time.Time
}

// MemoryStore keeps rollups in process. Tests and dev mode.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[windowKey]*types.HourlyRollup
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[windowKey]*types.HourlyRollup)}
}

func (s *MemoryStore) Upsert(_ context.Context, r *types.HourlyRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := windowKey{linkID: r.LinkID, windowStart: r.WindowStart.UTC()}
	next := copyRollup(r)
	if existing, ok := s.windows[key]; ok {
		if existing.TotalClicks > next.TotalClicks {
			next.TotalClicks = existing.TotalClicks
		}
		if existing.UniqueSessions > next.UniqueSessions {
			next.UniqueSessions = existing.UniqueSessions
		}
	}
	s.windows[key] = next
	return nil
}

func (s *MemoryStore) Get(_ context.Context, linkID int64, windowStart time.Time) (*types.HourlyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.windows[windowKey{linkID: linkID, windowStart: windowStart.UTC()}]
	if !ok {
		return nil, nil
	}
	return copyRollup(r), nil
}

func (s *MemoryStore) ListForLink(_ context.Context, linkID int64, from, to time.Time) ([]*types.HourlyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.HourlyRollup
	for key, r := range s.windows {
		if key.linkID != linkID {
			continue
		}
		if key.windowStart.Before(from.UTC()) || !key.windowStart.Before(to.UTC()) {
			continue
		}
		out = append(out, copyRollup(r))
	}
	sortByWindow(out)
	return out, nil
}

func (s *MemoryStore) Close() {}

func sortByWindow(rollups []*types.HourlyRollup) {
	for i := 1; i < len(rollups); i++ {
		for j := i; j > 0 && rollups[j].WindowStart.Before(rollups[j-1].WindowStart); j-- {
			rollups[j], rollups[j-1] = rollups[j-1], rollups[j]
		}
	}
}

func copyRollup(r *types.HourlyRollup) *types.HourlyRollup {
	out := &types.HourlyRollup{
		LinkID:         r.LinkID,
		WindowStart:    r.WindowStart.UTC(),
		TotalClicks:    r.TotalClicks,
		UniqueSessions: r.UniqueSessions,
	}
	if len(r.TopCountries) > 0 {
		out.TopCountries = append([]types.CounterEntry(nil), r.TopCountries...)
	}
	if len(r.TopReferrers) > 0 {
		out.TopReferrers = append([]types.CounterEntry(nil), r.TopReferrers...)
	}
	if len(r.DeviceCounts) > 0 {
		out.DeviceCounts = make(map[types.DeviceClass]int64, len(r.DeviceCounts))
		for k, v := range r.DeviceCounts {
			out.DeviceCounts[k] = v
		}
	}
	return out
}
