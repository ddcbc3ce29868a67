// Package types defines the entities shared across the link gateway and the
// click aggregator: short links, click events, hourly rollups, and the error
// taxonomy both services surface.
package types

import (
	"time"
)

// DeviceClass buckets a User-Agent into a coarse device category.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceBot     DeviceClass = "bot"
	DeviceUnknown DeviceClass = "unknown"
)

// DeviceClasses lists every valid device class, in rollup column order.
var DeviceClasses = []DeviceClass{DeviceDesktop, DeviceMobile, DeviceTablet, DeviceBot, DeviceUnknown}

// LinkMetadata is the open key/value map attached to a short link.
// MaxClicks is the only key the core interprets; everything else is
// passed through for callers.
type LinkMetadata map[string]any

// MetadataKeyMaxClicks bounds total clicks before a link stops resolving.
const MetadataKeyMaxClicks = "maxClicks"

// MaxClicks returns the maxClicks limit if set and valid.
func (m LinkMetadata) MaxClicks() (int64, bool) {
	raw, ok := m[MetadataKeyMaxClicks]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		if v >= 0 {
			return int64(v), true
		}
	case int64:
		if v >= 0 {
			return v, true
		}
	case float64:
		// JSON numbers decode as float64.
		if v >= 0 && v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Clone returns a shallow copy so patches never alias stored maps.
func (m LinkMetadata) Clone() LinkMetadata {
	if m == nil {
		return nil
	}
	out := make(LinkMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ShortLink is the central entity: one live row per (tenant, canonical URL).
type ShortLink struct {
	ID           int64        `json:"id"`
	TenantID     int64        `json:"tenant_id"`
	Code         string       `json:"code"`
	OriginalURL  string       `json:"original_url"`
	CanonicalURL string       `json:"canonical_url"`
	CreatorID    int64        `json:"creator_id"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	IsActive     bool         `json:"is_active"`
	ClickCount   int64        `json:"click_count"`
	Deleted      bool         `json:"-"`
	Metadata     LinkMetadata `json:"metadata,omitempty"`
}

// LiveAt evaluates the liveness predicate: not deleted, active, not expired,
// and under the maxClicks limit when one is set. The click count is a
// denormalized hint, so a small overshoot past maxClicks is tolerated by
// the write side; reads here take the counter at face value.
func (l *ShortLink) LiveAt(now time.Time) bool {
	if l == nil || l.Deleted || !l.IsActive {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	if limit, ok := l.Metadata.MaxClicks(); ok && l.ClickCount >= limit {
		return false
	}
	return true
}

// ClickEvent is the append-only fact emitted on every resolved redirect.
// EventID is generated by the producer and is the deduplication key for
// at-least-once delivery.
type ClickEvent struct {
	EventID     string    `json:"event_id"`
	EmittedAt   time.Time `json:"emitted_at"`
	LinkID      int64     `json:"link_id"`
	TenantID    int64     `json:"tenant_id"`
	Code        string    `json:"code"`
	Destination string    `json:"destination"`

	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`

	// Derived at emit time; empty/unknown when derivation is unavailable.
	Country        string      `json:"country,omitempty"` // ISO-3166-1 alpha-2
	DeviceClass    DeviceClass `json:"device_class,omitempty"`
	BrowserFamily  string      `json:"browser_family,omitempty"`
	OSFamily       string      `json:"os_family,omitempty"`
}

// HourlyRollup aggregates clicks for one link within one UTC hour window.
type HourlyRollup struct {
	LinkID         int64                 `json:"link_id"`
	WindowStart    time.Time             `json:"window_start"`
	TotalClicks    int64                 `json:"total_clicks"`
	UniqueSessions int64                 `json:"unique_sessions"` // cardinality estimate
	TopCountries   []CounterEntry        `json:"top_countries,omitempty"`
	TopReferrers   []CounterEntry        `json:"top_referrers,omitempty"`
	DeviceCounts   map[DeviceClass]int64 `json:"device_counts,omitempty"`
}

// CounterEntry is one heavy-hitter row in a rollup breakdown.
type CounterEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// WindowStartFor truncates an instant to its UTC hour window.
func WindowStartFor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
