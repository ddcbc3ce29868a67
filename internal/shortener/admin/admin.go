// Package admin exposes the management surface over short links: list,
// get, metadata patch and soft delete. Every mutation invalidates the
// cached snapshot so the redirect path observes the new state on its next
// miss.
package admin

import (
	"context"

	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/shortener/linkcache"
	"github.com/linkmesh/engine/internal/shortener/store"
	"github.com/linkmesh/engine/pkg/types"
)

// Service wraps the store with cache invalidation.
type Service struct {
	store  store.Store
	cache  *linkcache.Cache // nil disables invalidation
	logger *zap.Logger
}

// New creates a Service.
func New(s store.Store, cache *linkcache.Cache, logger *zap.Logger) *Service {
	return &Service{store: s, cache: cache, logger: logger}
}

// List returns one page of the tenant's links plus the total count.
func (s *Service) List(ctx context.Context, tenantID int64, params store.ListParams) ([]*types.ShortLink, int64, error) {
	return s.store.List(ctx, tenantID, params)
}

// GetByID returns the link, including soft-deleted rows, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, tenantID, id int64) (*types.ShortLink, error) {
	link, err := s.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, types.ErrNotFound
	}
	return link, nil
}

// GetByCode returns the non-deleted link for the code, or ErrNotFound.
func (s *Service) GetByCode(ctx context.Context, tenantID int64, code string) (*types.ShortLink, error) {
	link, err := s.store.FindByCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, types.ErrNotFound
	}
	return link, nil
}

// UpdateMetadata applies a non-destructive patch and invalidates the
// cached snapshot for the affected code.
func (s *Service) UpdateMetadata(ctx context.Context, tenantID, id int64, patch store.MetadataPatch) (*types.ShortLink, error) {
	updated, err := s.store.UpdateMetadata(ctx, tenantID, id, patch)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, types.ErrNotFound
	}
	s.invalidate(ctx, tenantID, updated.Code)
	return updated, nil
}

// SoftDelete marks the link deleted and invalidates its snapshot.
// Deleting an already-deleted or unknown id succeeds silently.
func (s *Service) SoftDelete(ctx context.Context, tenantID, id int64) error {
	// Read first: the code is needed for invalidation and is gone from the
	// live indexes after the delete.
	link, err := s.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, tenantID, id); err != nil {
		return err
	}
	if link != nil {
		s.invalidate(ctx, tenantID, link.Code)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID int64, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, tenantID, code); err != nil {
		// The entry will still age out on its TTL; resolves may serve the
		// old state until then.
		s.logger.Warn("Cache invalidation failed after link mutation",
			zap.Int64("tenant_id", tenantID),
			zap.String("code", code),
			zap.Error(err))
	}
}
