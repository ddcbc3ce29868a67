package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

// Partial unique index names; the insert conflict cause is derived from
// which one the database reports.
const (
	idxTenantCode      = "short_links_tenant_code_live_idx"
	idxTenantCanonical = "short_links_tenant_canonical_live_idx"
)

const schema = `
CREATE TABLE IF NOT EXISTS short_links (
	id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	tenant_id     BIGINT NOT NULL,
	code          TEXT NOT NULL,
	original_url  TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	creator_id    BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ,
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	click_count   BIGINT NOT NULL DEFAULT 0 CHECK (click_count >= 0),
	deleted       BOOLEAN NOT NULL DEFAULT FALSE,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE UNIQUE INDEX IF NOT EXISTS short_links_tenant_code_live_idx
	ON short_links (tenant_id, code) WHERE NOT deleted;

CREATE UNIQUE INDEX IF NOT EXISTS short_links_tenant_canonical_live_idx
	ON short_links (tenant_id, canonical_url) WHERE NOT deleted;
`

const linkColumns = `id, tenant_id, code, original_url, canonical_url, creator_id,
	created_at, updated_at, expires_at, is_active, click_count, deleted, metadata`

// PostgresStore implements Store on a pgx connection pool. Uniqueness is
// enforced by the partial unique indexes, so the insert path never needs an
// explicit transaction: a single INSERT either lands or reports which index
// rejected it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects, verifies the connection, and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug("Postgres store connected", zap.String("database", cfg.ConnConfig.Database))
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure short_links schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByCanonical(ctx context.Context, tenantID int64, canonicalURL string) (*types.ShortLink, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM short_links
		 WHERE tenant_id = $1 AND canonical_url = $2 AND NOT deleted`,
		tenantID, canonicalURL)
	return scanOptionalLink(row)
}

func (s *PostgresStore) FindByCode(ctx context.Context, tenantID int64, code string) (*types.ShortLink, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM short_links
		 WHERE tenant_id = $1 AND code = $2 AND NOT deleted`,
		tenantID, code)
	return scanOptionalLink(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, tenantID, id int64) (*types.ShortLink, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM short_links WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanOptionalLink(row)
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, link *types.ShortLink) (*InsertResult, error) {
	metadata, err := encodeMetadata(link.Metadata)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO short_links
		 (tenant_id, code, original_url, canonical_url, creator_id, expires_at, is_active, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+linkColumns,
		link.TenantID, link.Code, link.OriginalURL, link.CanonicalURL,
		link.CreatorID, link.ExpiresAt, link.IsActive, metadata)

	inserted, err := scanLink(row)
	if err == nil {
		return &InsertResult{Outcome: Inserted, Link: inserted}, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case idxTenantCode:
			existing, ferr := s.FindByCode(ctx, link.TenantID, link.Code)
			if ferr != nil {
				return nil, ferr
			}
			if existing == nil {
				// The conflicting row vanished between the insert and the
				// re-read (concurrent delete). Report as a conflict the
				// caller will retry through.
				return nil, fmt.Errorf("%w: code conflict row disappeared", types.ErrStorageConflict)
			}
			return &InsertResult{Outcome: ConflictByCode, Link: existing}, nil
		case idxTenantCanonical:
			existing, ferr := s.FindByCanonical(ctx, link.TenantID, link.CanonicalURL)
			if ferr != nil {
				return nil, ferr
			}
			if existing == nil {
				return nil, fmt.Errorf("%w: canonical conflict row disappeared", types.ErrStorageConflict)
			}
			return &InsertResult{Outcome: ConflictByCanonical, Link: existing}, nil
		}
		return nil, fmt.Errorf("%w: unexpected unique violation on %s", types.ErrStorageConflict, pgErr.ConstraintName)
	}

	return nil, wrapTransportErr(err)
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, tenantID, id int64, patch MetadataPatch) (*types.ShortLink, error) {
	metadata, err := encodeMetadata(patch.Metadata)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE short_links SET
			is_active  = COALESCE($3, is_active),
			expires_at = CASE
				WHEN $4 THEN NULL
				WHEN $5::timestamptz IS NOT NULL THEN $5
				ELSE expires_at
			END,
			metadata   = metadata || $6::jsonb,
			updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND NOT deleted
		 RETURNING `+linkColumns,
		tenantID, id, patch.IsActive, patch.ClearExpiresAt, patch.ExpiresAt, metadata)

	return scanOptionalLink(row)
}

func (s *PostgresStore) SoftDelete(ctx context.Context, tenantID, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE short_links SET deleted = TRUE, updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND NOT deleted`,
		tenantID, id)
	if err != nil {
		return wrapTransportErr(err)
	}
	return nil
}

func (s *PostgresStore) IncrementClickCount(ctx context.Context, id int64, n int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE short_links SET click_count = click_count + $2, updated_at = now()
		 WHERE id = $1`,
		id, n)
	if err != nil {
		return wrapTransportErr(err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID int64, params ListParams) ([]*types.ShortLink, int64, error) {
	params = params.Normalize()

	// Sort column is taken from the Normalize whitelist, never from raw input.
	var order string
	switch params.Sort {
	case "click_count":
		order = "click_count DESC, id DESC"
	case "code":
		order = "code ASC, id DESC"
	default:
		order = "created_at DESC, id DESC"
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+`, count(*) OVER() AS total
		 FROM short_links
		 WHERE tenant_id = $1 AND NOT deleted
		 ORDER BY `+order+`
		 LIMIT $2 OFFSET $3`,
		tenantID, params.PageSize, (params.Page-1)*params.PageSize)
	if err != nil {
		return nil, 0, wrapTransportErr(err)
	}
	defer rows.Close()

	var links []*types.ShortLink
	var total int64
	for rows.Next() {
		link, rowTotal, err := scanLinkWithTotal(rows)
		if err != nil {
			return nil, 0, wrapTransportErr(err)
		}
		links = append(links, link)
		total = rowTotal
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapTransportErr(err)
	}
	return links, total, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func encodeMetadata(m types.LinkMetadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode link metadata: %w", err)
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*types.ShortLink, error) {
	var link types.ShortLink
	var expiresAt *time.Time
	var metadata []byte

	err := row.Scan(&link.ID, &link.TenantID, &link.Code, &link.OriginalURL,
		&link.CanonicalURL, &link.CreatorID, &link.CreatedAt, &link.UpdatedAt,
		&expiresAt, &link.IsActive, &link.ClickCount, &link.Deleted, &metadata)
	if err != nil {
		return nil, err
	}

	link.ExpiresAt = expiresAt
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &link.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode link metadata: %w", err)
		}
	}
	return &link, nil
}

func scanLinkWithTotal(row rowScanner) (*types.ShortLink, int64, error) {
	var link types.ShortLink
	var expiresAt *time.Time
	var metadata []byte
	var total int64

	err := row.Scan(&link.ID, &link.TenantID, &link.Code, &link.OriginalURL,
		&link.CanonicalURL, &link.CreatorID, &link.CreatedAt, &link.UpdatedAt,
		&expiresAt, &link.IsActive, &link.ClickCount, &link.Deleted, &metadata, &total)
	if err != nil {
		return nil, 0, err
	}

	link.ExpiresAt = expiresAt
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &link.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to decode link metadata: %w", err)
		}
	}
	return &link, total, nil
}

func scanOptionalLink(row rowScanner) (*types.ShortLink, error) {
	link, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	return link, nil
}

func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrDeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
}
