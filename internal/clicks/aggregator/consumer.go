package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/clicks/producer"
	"github.com/linkmesh/engine/pkg/types"
)

// Durable is the shared JetStream consumer name: all aggregator replicas
// compete on it, so each event is handed to exactly one of them.
const Durable = "click-aggregator"

// subjectEvents matches clicks.<tenant>.<partition> and leaves the
// two-token dead-letter subject alone.
const subjectEvents = producer.SubjectRoot + ".*.*"

// ConsumerOptions tune the pull loop. Zero values select the defaults.
type ConsumerOptions struct {
	BatchSize     int           // events per Fetch; default 100
	FetchTimeout  time.Duration // wait for a non-empty batch; default 5s
	FlushInterval time.Duration // idle flush cadence; default 1m
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 5 * time.Second
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Minute
	}
	return o
}

// Archiver receives each first-seen event for raw retention. Fire-and-forget.
type Archiver interface {
	Archive(event *types.ClickEvent)
}

// Consumer runs the JetStream pull loop feeding one Aggregator.
type Consumer struct {
	js      nats.JetStreamContext
	agg     *Aggregator
	archive Archiver // nil disables raw retention
	metrics Metrics
	opts    ConsumerOptions
	logger  *zap.Logger
}

// NewConsumer creates a Consumer over an existing JetStream context.
func NewConsumer(js nats.JetStreamContext, agg *Aggregator, archive Archiver, metrics Metrics, opts ConsumerOptions, logger *zap.Logger) *Consumer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Consumer{js: js, agg: agg, archive: archive, metrics: metrics, opts: opts.withDefaults(), logger: logger}
}

// Run subscribes and consumes until the context is cancelled. Messages are
// acknowledged only after the batch's rollup writes are durable; a failed
// flush NAKs the whole batch for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(
		subjectEvents,
		Durable,
		nats.BindStream(producer.StreamClicks),
	)
	if err != nil {
		return fmt.Errorf("click aggregator: PullSubscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Click aggregator consuming",
		zap.String("stream", producer.StreamClicks),
		zap.String("durable", Durable),
		zap.String("subject", subjectEvents))

	lastFlush := time.Now()
	for {
		select {
		case <-ctx.Done():
			// Final best-effort flush so a clean shutdown loses nothing
			// that was already acknowledged-pending.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.agg.Flush(flushCtx, time.Now()); err != nil {
				c.logger.Warn("Final flush failed on shutdown", zap.Error(err))
			}
			c.logger.Info("Click aggregator stopping")
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(c.opts.BatchSize, nats.MaxWait(c.opts.FetchTimeout))
		if err != nil {
			// Timeouts just mean an empty queue; honor the flush cadence so
			// partial windows still materialize while traffic is quiet.
			if time.Since(lastFlush) >= c.opts.FlushInterval {
				if ferr := c.agg.Flush(ctx, time.Now()); ferr != nil {
					c.metrics.FlushFailed()
					c.logger.Error("Idle flush failed", zap.Error(ferr))
				} else {
					c.metrics.FlushSucceeded()
					lastFlush = time.Now()
				}
			}
			continue
		}

		pending := c.applyBatch(msgs)
		if len(pending) == 0 {
			continue
		}

		if err := c.agg.Flush(ctx, time.Now()); err != nil {
			c.metrics.FlushFailed()
			c.logger.Error("Batch flush failed, requeueing batch", zap.Error(err))
			for _, msg := range pending {
				if nerr := msg.Nak(); nerr != nil {
					c.logger.Warn("NAK failed", zap.Error(nerr))
				}
			}
			continue
		}
		c.metrics.FlushSucceeded()
		lastFlush = time.Now()

		// The rollup write is durable; committing the batch is now safe.
		for _, msg := range pending {
			if aerr := msg.Ack(); aerr != nil {
				c.logger.Warn("ACK failed", zap.Error(aerr))
			}
		}
	}
}

// applyBatch folds decodable messages into the aggregator and terminates
// poison pills. It returns the messages awaiting acknowledgment.
func (c *Consumer) applyBatch(msgs []*nats.Msg) []*nats.Msg {
	pending := make([]*nats.Msg, 0, len(msgs))
	for _, msg := range msgs {
		event, err := decodeEvent(msg.Data)
		if err != nil {
			c.metrics.EventPoisoned()
			c.logger.Warn("Terminating poison-pill click event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			if terr := msg.Term(); terr != nil {
				c.logger.Warn("Term failed", zap.Error(terr))
			}
			continue
		}

		if c.agg.Apply(event) {
			c.metrics.EventProcessed()
			if c.archive != nil {
				c.archive.Archive(event)
			}
		} else {
			c.metrics.EventDuplicate()
			c.logger.Debug("Duplicate click event skipped",
				zap.String("event_id", event.EventID))
		}
		pending = append(pending, msg)
	}
	return pending
}

func decodeEvent(data []byte) (*types.ClickEvent, error) {
	var event types.ClickEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal click event: %w", err)
	}
	if event.EventID == "" {
		return nil, fmt.Errorf("missing event id")
	}
	if event.LinkID == 0 {
		return nil, fmt.Errorf("missing link id")
	}
	if event.EmittedAt.IsZero() {
		return nil, fmt.Errorf("missing emitted_at")
	}
	return &event, nil
}
