// Package resolver serves the redirect hot path: (tenant, code) to
// destination through the read-through cache, with a store fallback on
// miss. It never blocks on telemetry; click publishing is the caller's
// fire-and-forget concern.
package resolver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/shortener/code"
	"github.com/linkmesh/engine/internal/shortener/linkcache"
	"github.com/linkmesh/engine/internal/shortener/store"
	"github.com/linkmesh/engine/pkg/types"
)

// Resolution is the hot-path answer: everything the redirect and the click
// event need, nothing more.
type Resolution struct {
	LinkID      int64
	Destination string
	FromCache   bool
}

// Resolver evaluates liveness and returns destinations.
type Resolver struct {
	store   store.Store
	cache   *linkcache.Cache // nil disables caching
	deriver *code.Deriver
	logger  *zap.Logger
}

// New creates a Resolver.
func New(s store.Store, cache *linkcache.Cache, deriver *code.Deriver, logger *zap.Logger) *Resolver {
	return &Resolver{store: s, cache: cache, deriver: deriver, logger: logger}
}

// Resolve returns the destination for (tenant, code) at the given instant.
//
// Fails with types.ErrInvalidCode on an alphabet/length violation,
// types.ErrNotFound when no live row exists, and types.ErrGone when a row
// exists but fails the liveness predicate.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, shortCode string, now time.Time) (*Resolution, error) {
	// Cheap rejection before any I/O: malformed codes can never exist.
	if err := r.deriver.Validate(shortCode); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidCode, err)
	}

	if r.cache != nil {
		if snap := r.cache.Get(ctx, tenantID, shortCode); snap != nil {
			if snap.NotFound {
				return nil, types.ErrNotFound
			}
			if !snap.LiveAt(now) {
				return nil, types.ErrGone
			}
			return &Resolution{LinkID: snap.LinkID, Destination: snap.Destination, FromCache: true}, nil
		}
	}

	link, err := r.store.FindByCode(ctx, tenantID, shortCode)
	if err != nil {
		return nil, err
	}
	if link == nil {
		if r.cache != nil {
			r.cache.PutNotFound(ctx, tenantID, shortCode)
		}
		return nil, types.ErrNotFound
	}

	if r.cache != nil {
		r.cache.PutLink(ctx, link)
	}

	if !link.LiveAt(now) {
		return nil, types.ErrGone
	}
	return &Resolution{LinkID: link.ID, Destination: link.OriginalURL}, nil
}
