// Package producer emits click events off the redirect path.
//
// Emit never blocks and never returns an error: the redirect has already
// been served by the time telemetry happens. Events flow through a bounded
// queue into a background publisher with bounded retries; overflow goes to
// the durable spool when one is configured, otherwise it is dropped and
// counted. Publish failures after retries land on the dead-letter subject.
package producer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

// Sink is the transport the producer publishes through.
type Sink interface {
	// Publish delivers one event to its partition subject.
	Publish(ctx context.Context, event *types.ClickEvent) error

	// PublishDeadLetter routes an undeliverable payload to the dead-letter
	// destination, tagged with its cause.
	PublishDeadLetter(ctx context.Context, payload []byte, cause string) error

	Close() error
}

// Metrics observes producer outcomes. The backpressure policy must be
// visible operationally, so every drop and spool is counted.
type Metrics interface {
	EventPublished()
	EventDropped(reason string)
	EventSpooled()
	EventDeadLettered()
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) EventPublished()     {}
func (NopMetrics) EventDropped(string) {}
func (NopMetrics) EventSpooled()       {}
func (NopMetrics) EventDeadLettered()  {}

// Options tune the producer. Zero values select the defaults.
type Options struct {
	QueueSize      int           // default 4096
	PublishRetries int           // attempts after the first; default 3
	RetryBackoff   time.Duration // default 50ms, doubled per attempt
	PublishTimeout time.Duration // per-attempt deadline; default 2s
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
	if o.PublishRetries <= 0 {
		o.PublishRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	return o
}

// Producer is the fire-and-forget click event emitter.
type Producer struct {
	sink    Sink
	spool   *Spool // nil means overflow drops
	metrics Metrics
	logger  *zap.Logger
	opts    Options

	queue  chan *types.ClickEvent
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New creates a Producer and starts its publish worker.
func New(sink Sink, spool *Spool, metrics Metrics, opts Options, logger *zap.Logger) *Producer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	opts = opts.withDefaults()

	p := &Producer{
		sink:    sink,
		spool:   spool,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		queue:   make(chan *types.ClickEvent, opts.QueueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Emit enqueues one event. Fire-and-forget, non-blocking: a full queue
// spools or drops, it never stalls the caller.
func (p *Producer) Emit(event *types.ClickEvent) {
	if p.closed.Load() {
		p.overflow(event, "producer_closed")
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}

	select {
	case p.queue <- event:
	default:
		p.overflow(event, "queue_full")
	}
}

func (p *Producer) overflow(event *types.ClickEvent, reason string) {
	if p.spool != nil {
		err := p.spool.Append(event)
		if err == nil {
			p.metrics.EventSpooled()
			return
		}
		p.logger.Error("Failed to spool overflowing click event", zap.Error(err))
	}
	p.metrics.EventDropped(reason)
	p.logger.Warn("Click event dropped",
		zap.String("reason", reason),
		zap.Int64("link_id", event.LinkID))
}

func (p *Producer) run() {
	defer p.wg.Done()
	for event := range p.queue {
		p.publishWithRetry(event)
	}
}

func (p *Producer) publishWithRetry(event *types.ClickEvent) {
	backoff := p.opts.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= p.opts.PublishRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		// A fresh deadline per attempt; the originating request context is
		// long gone by the time this runs.
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.PublishTimeout)
		lastErr = p.sink.Publish(ctx, event)
		cancel()

		if lastErr == nil {
			p.metrics.EventPublished()
			return
		}
	}

	p.deadLetter(event, lastErr)
}

func (p *Producer) deadLetter(event *types.ClickEvent, cause error) {
	p.logger.Error("Click event publish failed after retries",
		zap.String("event_id", event.EventID),
		zap.Int64("link_id", event.LinkID),
		zap.Error(cause))

	payload, err := json.Marshal(event)
	if err != nil {
		p.metrics.EventDropped("marshal_failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.PublishTimeout)
	defer cancel()
	if err := p.sink.PublishDeadLetter(ctx, payload, cause.Error()); err != nil {
		// Dead-letter transport down too; the spool is the last resort.
		if p.spool != nil {
			if serr := p.spool.Append(event); serr == nil {
				p.metrics.EventSpooled()
				return
			}
		}
		p.metrics.EventDropped("dead_letter_failed")
		return
	}
	p.metrics.EventDeadLettered()
}

// DrainSpool republishes spooled events through the sink. Intended to run
// at startup and on a periodic cadence.
func (p *Producer) DrainSpool(ctx context.Context) (int, error) {
	if p.spool == nil {
		return 0, nil
	}
	n, err := p.spool.Drain(ctx, func(ctx context.Context, event *types.ClickEvent) error {
		if perr := p.sink.Publish(ctx, event); perr != nil {
			return perr
		}
		p.metrics.EventPublished()
		return nil
	})
	if n > 0 {
		p.logger.Info("Drained spooled click events", zap.Int("events", n))
	}
	return n, err
}

// Close stops accepting events, flushes the queue and closes the sink.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.queue)
	p.wg.Wait()
	return p.sink.Close()
}
