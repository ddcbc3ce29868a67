// Package archive retains raw click events in ClickHouse for offline
// analysis. Retention here is best-effort and at-least-once: the hourly
// rollups are the system of record, the archive is for ad-hoc queries
// over the raw stream.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS click_events (
	event_id       String,
	emitted_at     DateTime64(3, 'UTC'),
	link_id        Int64,
	tenant_id      Int64,
	code           String,
	destination    String,
	client_ip      String,
	user_agent     String,
	referrer       String,
	country        LowCardinality(String),
	device_class   LowCardinality(String),
	browser_family LowCardinality(String),
	os_family      LowCardinality(String)
) ENGINE = MergeTree()
ORDER BY (link_id, emitted_at)
TTL toDateTime(emitted_at) + INTERVAL 90 DAY
`

const insertQuery = `INSERT INTO click_events
	(event_id, emitted_at, link_id, tenant_id, code, destination,
	 client_ip, user_agent, referrer, country, device_class, browser_family, os_family)`

// conn is the slice of driver.Conn the archive needs.
type conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// Options tune archive batching. Zero values select the defaults.
type Options struct {
	BatchSize     int           // default 500
	FlushInterval time.Duration // default 5s
	QueueSize     int           // default 8192
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 8192
	}
	return o
}

// Archive batches click events into ClickHouse from a background worker.
type Archive struct {
	conn   conn
	opts   Options
	logger *zap.Logger

	queue chan *types.ClickEvent
	done  chan struct{}
}

// Connect opens a ClickHouse connection, ensures the table, and starts
// the batching worker.
func Connect(ctx context.Context, addr []string, database, username, password string, opts Options, logger *zap.Logger) (*Archive, error) {
	c, err := clickhouse.Open(&clickhouse.Options{
		Addr: addr,
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return New(ctx, c, opts, logger)
}

// New builds an Archive over an existing connection.
func New(ctx context.Context, c conn, opts Options, logger *zap.Logger) (*Archive, error) {
	if err := c.Exec(ctx, schema); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ensure click_events table: %w", err)
	}

	opts = opts.withDefaults()
	a := &Archive{
		conn:   c,
		opts:   opts,
		logger: logger,
		queue:  make(chan *types.ClickEvent, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// Archive enqueues one event. Non-blocking: a full queue drops the event,
// the rollup path is unaffected.
func (a *Archive) Archive(event *types.ClickEvent) {
	select {
	case a.queue <- event:
	default:
		a.logger.Warn("Archive queue full, raw click event dropped",
			zap.Int64("link_id", event.LinkID))
	}
}

func (a *Archive) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*types.ClickEvent, 0, a.opts.BatchSize)
	for {
		select {
		case event, ok := <-a.queue:
			if !ok {
				a.flush(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= a.opts.BatchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (a *Archive) flush(events []*types.ClickEvent) {
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	batch, err := a.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		a.logger.Error("Failed to prepare archive batch",
			zap.Int("events", len(events)), zap.Error(err))
		return
	}
	for _, ev := range events {
		err := batch.Append(
			ev.EventID, ev.EmittedAt.UTC(), ev.LinkID, ev.TenantID, ev.Code,
			ev.Destination, ev.ClientIP, ev.UserAgent, ev.Referrer,
			ev.Country, string(ev.DeviceClass), ev.BrowserFamily, ev.OSFamily)
		if err != nil {
			a.logger.Error("Failed to append event to archive batch",
				zap.String("event_id", ev.EventID), zap.Error(err))
			return
		}
	}
	if err := batch.Send(); err != nil {
		a.logger.Error("Failed to send archive batch",
			zap.Int("events", len(events)), zap.Error(err))
		return
	}
	a.logger.Debug("Archived raw click events", zap.Int("events", len(events)))
}

// Close flushes the remaining queue and closes the connection.
func (a *Archive) Close() error {
	close(a.queue)
	<-a.done
	return a.conn.Close()
}
