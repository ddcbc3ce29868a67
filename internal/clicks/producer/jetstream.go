package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

const (
	// StreamClicks is the durable stream holding all click traffic.
	StreamClicks = "CLICKS"
	// SubjectRoot prefixes every click subject:
	// clicks.<tenant>.<partition> for events, clicks.dlq for dead letters.
	SubjectRoot = "clicks"
	// SubjectDeadLetter receives payloads that failed publishing or parsing.
	SubjectDeadLetter = SubjectRoot + ".dlq"

	// DefaultPartitionCount spreads links over consumer-affine subjects.
	DefaultPartitionCount = 16

	headerDeadLetterCause = "Linkmesh-DLQ-Cause"
)

// JetStreamSink publishes click events to NATS JetStream. Partition
// affinity by link id keeps events for one link on one subject, so the
// aggregator sees them in publish order.
type JetStreamSink struct {
	js         nats.JetStreamContext
	partitions int64
	logger     *zap.Logger
}

// NewJetStreamSink wraps an existing JetStream context.
func NewJetStreamSink(js nats.JetStreamContext, partitionCount int, logger *zap.Logger) *JetStreamSink {
	if partitionCount <= 0 {
		partitionCount = DefaultPartitionCount
	}
	return &JetStreamSink{js: js, partitions: int64(partitionCount), logger: logger}
}

// ProvisionStream idempotently creates the CLICKS stream.
func (s *JetStreamSink) ProvisionStream() error {
	_, err := s.js.StreamInfo(StreamClicks)
	if err == nil {
		s.logger.Info("NATS stream exists", zap.String("stream", StreamClicks))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:      StreamClicks,
		Subjects:  []string{SubjectRoot + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	s.logger.Info("NATS stream provisioned", zap.String("stream", StreamClicks))
	return nil
}

// Subject returns the partition subject for one event.
func (s *JetStreamSink) Subject(event *types.ClickEvent) string {
	partition := event.LinkID % s.partitions
	if partition < 0 {
		partition = -partition
	}
	return fmt.Sprintf("%s.%d.%d", SubjectRoot, event.TenantID, partition)
}

func (s *JetStreamSink) Publish(ctx context.Context, event *types.ClickEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode click event: %w", err)
	}

	msg := nats.NewMsg(s.Subject(event))
	msg.Data = payload
	// JetStream dedupes on Nats-Msg-Id within its duplicate window, which
	// thins out redeliveries before the aggregator's own seen-set.
	msg.Header.Set(nats.MsgIdHdr, event.EventID)

	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrEventPublishFailed, err)
	}
	return nil
}

func (s *JetStreamSink) PublishDeadLetter(ctx context.Context, payload []byte, cause string) error {
	msg := nats.NewMsg(SubjectDeadLetter)
	msg.Data = payload
	msg.Header.Set(headerDeadLetterCause, cause)

	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: dead letter: %v", types.ErrEventPublishFailed, err)
	}
	return nil
}

// Close is a no-op; the NATS connection is owned by the caller.
func (s *JetStreamSink) Close() error { return nil }
