// Package aggregator turns the click event stream into hourly rollups.
//
// Delivery is at-least-once, so every event id is recorded in a per-window
// seen-set and replays are no-ops for all counters. Rollup writes happen
// before any message is acknowledged; a restarted consumer replays its
// unacknowledged tail and the seen-set plus the store's monotone columns
// absorb the overlap.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/clicks/rollup"
	"github.com/linkmesh/engine/internal/clicks/sketch"
	"github.com/linkmesh/engine/internal/shortener/store"
	"github.com/linkmesh/engine/pkg/types"
)

const (
	// DefaultTopK bounds the country and referrer breakdowns.
	DefaultTopK = 10

	// windowRetention keeps sealed windows in memory long enough for late
	// events before their state is discarded.
	windowRetention = 2 * time.Hour
)

type windowKey struct {
	linkID      int64
	windowStart time.Time
}

type windowState struct {
	seen         map[string]struct{}
	total        int64
	flushedTotal int64 // already forwarded to the denormalized counter
	sessions     *sketch.HLL
	countries    *sketch.TopK
	referrers    *sketch.TopK
	devices      map[types.DeviceClass]int64
	dirty        bool
}

// Aggregator accumulates per-window click state and flushes it to the
// rollup store. Not safe for concurrent use: the consumer loop is its
// single owner.
type Aggregator struct {
	rollups rollup.Store
	links   store.Store // nil disables click-count denormalization
	topK    int
	logger  *zap.Logger

	windows map[windowKey]*windowState
}

// New creates an Aggregator. topK <= 0 selects DefaultTopK.
func New(rollups rollup.Store, links store.Store, topK int, logger *zap.Logger) *Aggregator {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Aggregator{
		rollups: rollups,
		links:   links,
		topK:    topK,
		logger:  logger,
		windows: make(map[windowKey]*windowState),
	}
}

// Apply folds one event into its hour window. Returns false when the
// event id was already processed in that window.
func (a *Aggregator) Apply(event *types.ClickEvent) bool {
	key := windowKey{linkID: event.LinkID, windowStart: types.WindowStartFor(event.EmittedAt)}

	state, ok := a.windows[key]
	if !ok {
		state = &windowState{
			seen:      make(map[string]struct{}),
			sessions:  sketch.NewHLL(),
			countries: sketch.NewTopK(a.topK),
			referrers: sketch.NewTopK(a.topK),
			devices:   make(map[types.DeviceClass]int64),
		}
		a.windows[key] = state
	}

	if _, dup := state.seen[event.EventID]; dup {
		return false
	}
	state.seen[event.EventID] = struct{}{}

	state.total++
	state.sessions.Add(sessionKey(event))
	state.countries.Observe(event.Country)
	state.referrers.Observe(event.Referrer)

	device := event.DeviceClass
	if device == "" {
		device = types.DeviceUnknown
	}
	state.devices[device]++
	state.dirty = true
	return true
}

// sessionKey identifies one visitor coarsely for the unique-session
// estimate: client IP plus user agent.
func sessionKey(event *types.ClickEvent) string {
	return event.ClientIP + "|" + event.UserAgent
}

// Flush writes every dirty window to the rollup store and forwards the
// click-count delta to the link store, then prunes windows past retention.
// On error the in-memory state is kept so a retry covers the same ground.
func (a *Aggregator) Flush(ctx context.Context, now time.Time) error {
	for key, state := range a.windows {
		if !state.dirty {
			continue
		}

		if err := a.rollups.Upsert(ctx, a.snapshot(key, state)); err != nil {
			return fmt.Errorf("rollup upsert for link %d window %s: %w",
				key.linkID, key.windowStart.Format(time.RFC3339), err)
		}
		state.dirty = false

		if delta := state.total - state.flushedTotal; delta > 0 {
			if a.links == nil {
				state.flushedTotal = state.total
			} else if err := a.links.IncrementClickCount(ctx, key.linkID, delta); err != nil {
				// The rollup is durable; only the denormalized hint lagged.
				// Leaving flushedTotal unchanged retries the delta next flush.
				a.logger.Warn("Click count increment failed",
					zap.Int64("link_id", key.linkID),
					zap.Int64("delta", delta),
					zap.Error(err))
			} else {
				state.flushedTotal = state.total
			}
		}
	}

	a.prune(now)
	return nil
}

func (a *Aggregator) snapshot(key windowKey, state *windowState) *types.HourlyRollup {
	devices := make(map[types.DeviceClass]int64, len(state.devices))
	for k, v := range state.devices {
		devices[k] = v
	}
	return &types.HourlyRollup{
		LinkID:         key.linkID,
		WindowStart:    key.windowStart,
		TotalClicks:    state.total,
		UniqueSessions: state.sessions.Estimate(),
		TopCountries:   state.countries.Entries(),
		TopReferrers:   state.referrers.Entries(),
		DeviceCounts:   devices,
	}
}

func (a *Aggregator) prune(now time.Time) {
	cutoff := now.UTC().Add(-windowRetention)
	for key, state := range a.windows {
		// Never drop unflushed state.
		if state.dirty || state.total != state.flushedTotal {
			continue
		}
		if key.windowStart.Add(time.Hour).Before(cutoff) {
			delete(a.windows, key)
		}
	}
}

// WindowCount reports how many windows are held in memory.
func (a *Aggregator) WindowCount() int {
	return len(a.windows)
}
