package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linkmesh/engine/pkg/types"
)

// MemoryStore is a mutex-guarded in-process Store. It backs the
// storage.driver "memory" dev mode and the coordinator/resolver tests, and
// honors the same uniqueness and conflict semantics as the Postgres store.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*types.ShortLink

	// Live (non-deleted) secondary indexes, keyed per tenant.
	byCode      map[codeKey]int64
	byCanonical map[canonicalKey]int64
}

type codeKey struct {
	tenantID int64
	code     string
}

type canonicalKey struct {
	tenantID  int64
	canonical string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:      1,
		byID:        make(map[int64]*types.ShortLink),
		byCode:      make(map[codeKey]int64),
		byCanonical: make(map[canonicalKey]int64),
	}
}

func (s *MemoryStore) FindByCanonical(_ context.Context, tenantID int64, canonicalURL string) (*types.ShortLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCanonical[canonicalKey{tenantID, canonicalURL}]
	if !ok {
		return nil, nil
	}
	return copyLink(s.byID[id]), nil
}

func (s *MemoryStore) FindByCode(_ context.Context, tenantID int64, code string) (*types.ShortLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[codeKey{tenantID, code}]
	if !ok {
		return nil, nil
	}
	return copyLink(s.byID[id]), nil
}

func (s *MemoryStore) GetByID(_ context.Context, tenantID, id int64) (*types.ShortLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byID[id]
	if !ok || link.TenantID != tenantID {
		return nil, nil
	}
	return copyLink(link), nil
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, link *types.ShortLink) (*InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Code conflicts are checked first: the coordinator's salt-retry loop
	// depends on learning about code collisions before canonical races.
	if id, ok := s.byCode[codeKey{link.TenantID, link.Code}]; ok {
		return &InsertResult{Outcome: ConflictByCode, Link: copyLink(s.byID[id])}, nil
	}
	if id, ok := s.byCanonical[canonicalKey{link.TenantID, link.CanonicalURL}]; ok {
		return &InsertResult{Outcome: ConflictByCanonical, Link: copyLink(s.byID[id])}, nil
	}

	stored := copyLink(link)
	stored.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Deleted = false

	s.byID[stored.ID] = stored
	s.byCode[codeKey{stored.TenantID, stored.Code}] = stored.ID
	s.byCanonical[canonicalKey{stored.TenantID, stored.CanonicalURL}] = stored.ID

	return &InsertResult{Outcome: Inserted, Link: copyLink(stored)}, nil
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, tenantID, id int64, patch MetadataPatch) (*types.ShortLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byID[id]
	if !ok || link.TenantID != tenantID || link.Deleted {
		return nil, nil
	}

	if patch.IsActive != nil {
		link.IsActive = *patch.IsActive
	}
	if patch.ClearExpiresAt {
		link.ExpiresAt = nil
	} else if patch.ExpiresAt != nil {
		expiry := *patch.ExpiresAt
		link.ExpiresAt = &expiry
	}
	if len(patch.Metadata) > 0 {
		if link.Metadata == nil {
			link.Metadata = types.LinkMetadata{}
		}
		for k, v := range patch.Metadata {
			link.Metadata[k] = v
		}
	}
	link.UpdatedAt = time.Now().UTC()

	return copyLink(link), nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, tenantID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byID[id]
	if !ok || link.TenantID != tenantID || link.Deleted {
		return nil
	}

	link.Deleted = true
	link.UpdatedAt = time.Now().UTC()

	// Freeing the live indexes lets the code and canonical URL be
	// re-inserted after deletion, matching the partial unique indexes.
	delete(s.byCode, codeKey{link.TenantID, link.Code})
	delete(s.byCanonical, canonicalKey{link.TenantID, link.CanonicalURL})
	return nil
}

func (s *MemoryStore) IncrementClickCount(_ context.Context, id int64, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link, ok := s.byID[id]; ok {
		link.ClickCount += n
		link.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID int64, params ListParams) ([]*types.ShortLink, int64, error) {
	params = params.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	var links []*types.ShortLink
	for _, link := range s.byID {
		if link.TenantID == tenantID && !link.Deleted {
			links = append(links, link)
		}
	}

	sort.Slice(links, func(i, j int) bool {
		a, b := links[i], links[j]
		switch params.Sort {
		case "click_count":
			if a.ClickCount != b.ClickCount {
				return a.ClickCount > b.ClickCount
			}
		case "code":
			if a.Code != b.Code {
				return a.Code < b.Code
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		// Surrogate id keeps the order total, so pages never overlap.
		return a.ID > b.ID
	})

	total := int64(len(links))
	start := (params.Page - 1) * params.PageSize
	if start >= len(links) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(links) {
		end = len(links)
	}

	page := make([]*types.ShortLink, 0, end-start)
	for _, link := range links[start:end] {
		page = append(page, copyLink(link))
	}
	return page, total, nil
}

func (s *MemoryStore) Close() {}

func copyLink(link *types.ShortLink) *types.ShortLink {
	if link == nil {
		return nil
	}
	out := *link
	out.Metadata = link.Metadata.Clone()
	if link.ExpiresAt != nil {
		expiry := *link.ExpiresAt
		out.ExpiresAt = &expiry
	}
	return &out
}
