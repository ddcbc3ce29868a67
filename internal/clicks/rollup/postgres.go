package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS hourly_rollups (
	link_id         BIGINT NOT NULL,
	window_start    TIMESTAMPTZ NOT NULL,
	total_clicks    BIGINT NOT NULL DEFAULT 0,
	unique_sessions BIGINT NOT NULL DEFAULT 0,
	top_countries   JSONB NOT NULL DEFAULT '[]'::jsonb,
	top_referrers   JSONB NOT NULL DEFAULT '[]'::jsonb,
	device_counts   JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (link_id, window_start)
);
`

const rollupColumns = `link_id, window_start, total_clicks, unique_sessions,
	top_countries, top_referrers, device_counts`

// PostgresStore implements Store on a pgx connection pool.
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
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure hourly_rollups schema: %w", err)
	}

	logger.Debug("Rollup store connected", zap.String("database", cfg.ConnConfig.Database))
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool; Close is then a no-op on
// the shared pool and must be handled by the owner.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure hourly_rollups schema: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, r *types.HourlyRollup) error {
	countries, referrers, devices, err := encodeBreakdowns(r)
	if err != nil {
		return err
	}

	// GREATEST guards the monotone columns against a replayed partial window.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO hourly_rollups
		 (link_id, window_start, total_clicks, unique_sessions, top_countries, top_referrers, device_counts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (link_id, window_start) DO UPDATE SET
			total_clicks    = GREATEST(hourly_rollups.total_clicks, EXCLUDED.total_clicks),
			unique_sessions = GREATEST(hourly_rollups.unique_sessions, EXCLUDED.unique_sessions),
			top_countries   = EXCLUDED.top_countries,
			top_referrers   = EXCLUDED.top_referrers,
			device_counts   = EXCLUDED.device_counts,
			updated_at      = now()`,
		r.LinkID, r.WindowStart.UTC(), r.TotalClicks, r.UniqueSessions,
		countries, referrers, devices)
	if err != nil {
		return wrapTransportErr(err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, linkID int64, windowStart time.Time) (*types.HourlyRollup, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rollupColumns+` FROM hourly_rollups
		 WHERE link_id = $1 AND window_start = $2`,
		linkID, windowStart.UTC())

	r, err := scanRollup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	return r, nil
}

func (s *PostgresStore) ListForLink(ctx context.Context, linkID int64, from, to time.Time) ([]*types.HourlyRollup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rollupColumns+` FROM hourly_rollups
		 WHERE link_id = $1 AND window_start >= $2 AND window_start < $3
		 ORDER BY window_start ASC`,
		linkID, from.UTC(), to.UTC())
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	defer rows.Close()

	var out []*types.HourlyRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, wrapTransportErr(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTransportErr(err)
	}
	return out, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func encodeBreakdowns(r *types.HourlyRollup) (countries, referrers, devices []byte, err error) {
	if countries, err = json.Marshal(orEmptySlice(r.TopCountries)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode top_countries: %w", err)
	}
	if referrers, err = json.Marshal(orEmptySlice(r.TopReferrers)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode top_referrers: %w", err)
	}
	dc := r.DeviceCounts
	if dc == nil {
		dc = map[types.DeviceClass]int64{}
	}
	if devices, err = json.Marshal(dc); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode device_counts: %w", err)
	}
	return countries, referrers, devices, nil
}

func orEmptySlice(entries []types.CounterEntry) []types.CounterEntry {
	if entries == nil {
		return []types.CounterEntry{}
	}
	return entries
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRollup(row rowScanner) (*types.HourlyRollup, error) {
	var r types.HourlyRollup
	var countries, referrers, devices []byte

	err := row.Scan(&r.LinkID, &r.WindowStart, &r.TotalClicks, &r.UniqueSessions,
		&countries, &referrers, &devices)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(countries, &r.TopCountries); err != nil {
		return nil, fmt.Errorf("failed to decode top_countries: %w", err)
	}
	if err := json.Unmarshal(referrers, &r.TopReferrers); err != nil {
		return nil, fmt.Errorf("failed to decode top_referrers: %w", err)
	}
	if err := json.Unmarshal(devices, &r.DeviceCounts); err != nil {
		return nil, fmt.Errorf("failed to decode device_counts: %w", err)
	}
	r.WindowStart = r.WindowStart.UTC()
	return &r, nil
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
