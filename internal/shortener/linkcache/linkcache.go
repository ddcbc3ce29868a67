// Package linkcache is the read-through cache fronting the resolver.
//
// Values are JSON snapshots of just what liveness evaluation and the
// redirect need. Entries expire on a TTL and are explicitly invalidated on
// every admin mutation; click counts inside snapshots are best-effort.
// Every cache failure degrades to a store read: the redirect path must
// never fail because Redis is down.
package linkcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/common/redis"
	"github.com/linkmesh/engine/pkg/types"
)

const (
	// DefaultTTL matches the cache_ttl default of one hour.
	DefaultTTL = time.Hour
	// DefaultNegativeTTL bounds how long a missing code is remembered.
	// Short, so a code created moments after a miss resolves quickly.
	DefaultNegativeTTL = 30 * time.Second
)

// Snapshot is the cached projection of a short link. NotFound entries
// remember that no live row exists for the key.
type Snapshot struct {
	NotFound    bool       `json:"not_found,omitempty"`
	LinkID      int64      `json:"link_id,omitempty"`
	Destination string     `json:"destination,omitempty"`
	IsActive    bool       `json:"is_active,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxClicks   *int64     `json:"max_clicks,omitempty"`
	ClickCount  int64      `json:"click_count,omitempty"`
}

// LiveAt evaluates the liveness predicate against the snapshot.
func (s *Snapshot) LiveAt(now time.Time) bool {
	if s == nil || s.NotFound || !s.IsActive {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	if s.MaxClicks != nil && s.ClickCount >= *s.MaxClicks {
		return false
	}
	return true
}

// SnapshotOf projects a stored link into its cacheable form.
func SnapshotOf(link *types.ShortLink) *Snapshot {
	snap := &Snapshot{
		LinkID:      link.ID,
		Destination: link.OriginalURL,
		IsActive:    link.IsActive,
		ClickCount:  link.ClickCount,
	}
	if link.ExpiresAt != nil {
		expiry := *link.ExpiresAt
		snap.ExpiresAt = &expiry
	}
	if limit, ok := link.Metadata.MaxClicks(); ok {
		snap.MaxClicks = &limit
	}
	return snap
}

// Cache stores snapshots in Redis keyed by (tenant, code).
type Cache struct {
	client      *redis.Client
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *zap.Logger
}

// New creates a Cache. Non-positive TTLs fall back to the defaults.
func New(client *redis.Client, ttl, negativeTTL time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = DefaultNegativeTTL
	}
	return &Cache{client: client, ttl: ttl, negativeTTL: negativeTTL, logger: logger}
}

func cacheKey(tenantID int64, code string) string {
	return fmt.Sprintf("link:%d:%s", tenantID, code)
}

// Get returns the cached snapshot, or nil on a miss. Redis errors are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, tenantID int64, code string) *Snapshot {
	raw, found, err := c.client.Get(ctx, cacheKey(tenantID, code))
	if err != nil || !found {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn("Discarding undecodable cache entry",
			zap.String("code", code),
			zap.Int64("tenant_id", tenantID),
			zap.Error(err))
		_ = c.client.Del(ctx, cacheKey(tenantID, code))
		return nil
	}
	return &snap
}

// Put stores a positive snapshot under the standard TTL.
func (c *Cache) Put(ctx context.Context, tenantID int64, code string, snap *Snapshot) {
	c.put(ctx, tenantID, code, snap, c.ttl)
}

// PutLink is Put for a freshly loaded store row.
func (c *Cache) PutLink(ctx context.Context, link *types.ShortLink) {
	c.Put(ctx, link.TenantID, link.Code, SnapshotOf(link))
}

// PutNotFound remembers a missing code briefly to absorb hot 404 scans.
func (c *Cache) PutNotFound(ctx context.Context, tenantID int64, code string) {
	c.put(ctx, tenantID, code, &Snapshot{NotFound: true}, c.negativeTTL)
}

func (c *Cache) put(ctx context.Context, tenantID int64, code string, snap *Snapshot, ttl time.Duration) {
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error("Failed to encode cache snapshot", zap.Error(err))
		return
	}
	// Best effort: a failed write just means the next resolve hits the store.
	_ = c.client.Set(ctx, cacheKey(tenantID, code), data, ttl)
}

// Invalidate drops the entry for (tenant, code). Called on every admin
// mutation so subsequent resolves observe the new state.
func (c *Cache) Invalidate(ctx context.Context, tenantID int64, code string) error {
	return c.client.Del(ctx, cacheKey(tenantID, code))
}
