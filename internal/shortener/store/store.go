// Package store persists short links and enforces the per-tenant uniqueness
// invariants: at most one non-deleted row per (tenant, code) and per
// (tenant, canonical URL).
//
// Two implementations exist: Postgres (production, partial unique indexes)
// and an in-process memory store (tests and dev mode). Both report insert
// conflicts with a definitive cause so the create coordinator can tell a
// genuine hash collision from a concurrent equivalent create.
package store

import (
	"context"
	"time"

	"github.com/linkmesh/engine/pkg/types"
)

// InsertOutcome says how InsertIfAbsent resolved.
type InsertOutcome int

const (
	// Inserted means the row was written.
	Inserted InsertOutcome = iota
	// ConflictByCode means a non-deleted row already holds the code.
	ConflictByCode
	// ConflictByCanonical means a non-deleted row already holds the
	// canonical URL.
	ConflictByCanonical
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case ConflictByCode:
		return "conflict_by_code"
	case ConflictByCanonical:
		return "conflict_by_canonical"
	default:
		return "unknown"
	}
}

// InsertResult carries the outcome plus the definitive row: the inserted
// link on success, the pre-existing conflicting link otherwise.
type InsertResult struct {
	Outcome InsertOutcome
	Link    *types.ShortLink
}

// MetadataPatch is a non-destructive update. Nil pointer fields are left
// untouched; Metadata keys are merged into the existing map. Destination
// and code are immutable and deliberately absent here.
type MetadataPatch struct {
	IsActive       *bool
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	Metadata       types.LinkMetadata
}

// ListParams selects one stable page of a tenant's links.
type ListParams struct {
	Page     int
	PageSize int
	Sort     string // created_at (default), click_count, code
}

// Store is the persistence contract for short links.
//
// Find methods return (nil, nil) when no matching non-deleted row exists.
// All methods wrap transport failures in types.ErrStorageUnavailable and
// unanticipated constraint violations in types.ErrStorageConflict.
type Store interface {
	// FindByCanonical returns the non-deleted row for (tenant, canonical).
	FindByCanonical(ctx context.Context, tenantID int64, canonicalURL string) (*types.ShortLink, error)

	// FindByCode returns the non-deleted row for (tenant, code).
	FindByCode(ctx context.Context, tenantID int64, code string) (*types.ShortLink, error)

	// GetByID returns the row by surrogate id, including soft-deleted rows,
	// or (nil, nil) when the id is unknown or belongs to another tenant.
	GetByID(ctx context.Context, tenantID, id int64) (*types.ShortLink, error)

	// InsertIfAbsent atomically inserts the link unless a non-deleted row
	// already holds its code or canonical URL. The outcome is definitive
	// under concurrent callers.
	InsertIfAbsent(ctx context.Context, link *types.ShortLink) (*InsertResult, error)

	// UpdateMetadata applies a patch to is_active, expires_at and metadata.
	// Returns the updated row, or (nil, nil) when the id is unknown.
	UpdateMetadata(ctx context.Context, tenantID, id int64, patch MetadataPatch) (*types.ShortLink, error)

	// SoftDelete marks the row deleted. Idempotent; deleting an unknown id
	// is a no-op.
	SoftDelete(ctx context.Context, tenantID, id int64) error

	// IncrementClickCount atomically adds n to the denormalized counter.
	IncrementClickCount(ctx context.Context, id int64, n int64) error

	// List returns one page of the tenant's non-deleted links plus the
	// total count. Ordering is stable across pages.
	List(ctx context.Context, tenantID int64, params ListParams) ([]*types.ShortLink, int64, error)

	// Close releases the underlying connections.
	Close()
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps paging parameters and defaults the sort column.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	switch p.Sort {
	case "click_count", "code", "created_at":
	default:
		p.Sort = "created_at"
	}
	return p
}
