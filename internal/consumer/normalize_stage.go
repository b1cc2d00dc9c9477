package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/queue"
	"github.com/shardie-github/castor-sub009/internal/tenant"
)

// SignalNormalizer canonicalizes one source-tagged payload.
type SignalNormalizer interface {
	Normalize(ctx context.Context, tenantID string, source domain.EventSource, payload []byte) (*domain.CanonicalEvent, error)
}

// DedupReleaser frees the dedup reservation of an event that failed to reach
// the durable log. Without the release, the SQS redelivery of a nacked event
// would be classified a duplicate and dropped without ever being logged.
type DedupReleaser interface {
	Release(ctx context.Context, tenantID string, source domain.EventSource, key string) error
}

// NormalizeStage turns raw SQS messages into canonical-event envelopes.
// Malformed and unknown-source signals are rejected and removed from the
// queue; duplicates are an idempotent no-op and likewise removed. Only
// transient failures leave a message visible for retry.
type NormalizeStage struct {
	consumer   queue.Consumer
	normalizer SignalNormalizer
	dedup      DedupReleaser
	log        *zap.Logger
}

// NewNormalizeStage creates a normalize stage.
func NewNormalizeStage(consumer queue.Consumer, normalizer SignalNormalizer, dedup DedupReleaser, log *zap.Logger) *NormalizeStage {
	return &NormalizeStage{
		consumer:   consumer,
		normalizer: normalizer,
		dedup:      dedup,
		log:        log,
	}
}

// Start begins normalizing messages and outputs envelopes.
func (s *NormalizeStage) Start(ctx context.Context, in <-chan types.Message, out chan<- *Envelope) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Normalize stage shutting down")
			return
		case msg, ok := <-in:
			if !ok {
				s.log.Info("Normalize stage input channel closed")
				return
			}

			envelope := s.processMessage(ctx, msg)
			if envelope == nil {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- envelope:
			}
		}
	}
}

// processMessage normalizes a single SQS message into an envelope, or nil if
// the message was consumed terminally (rejected or duplicate).
func (s *NormalizeStage) processMessage(ctx context.Context, msg types.Message) *Envelope {
	var signal queue.SignalMessage
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &signal); err != nil {
		s.log.Warn("Failed to unmarshal signal envelope",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		s.deleteMessage(ctx, msg)
		return nil
	}

	tenantID, err := tenant.Require(signal.TenantID)
	if err != nil {
		s.log.Warn("Signal missing tenant",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.String("source", signal.Source))
		s.deleteMessage(ctx, msg)
		return nil
	}

	event, err := s.normalizer.Normalize(ctx, tenantID, domain.EventSource(signal.Source), signal.Payload)
	if err != nil {
		s.handleNormalizeError(ctx, msg, signal.Source, err)
		return nil
	}

	ack := func(ctx context.Context) error {
		return s.deleteMessageErr(ctx, msg)
	}
	nack := func(ctx context.Context) error {
		// The event never reached the log: free its reservation so the SQS
		// redelivery is normalized again instead of dropped as a duplicate.
		// If the release itself fails, the reservation TTL is the backstop.
		return s.dedup.Release(ctx, event.TenantID, event.Source, event.DedupKey)
	}
	return NewEnvelope(event, ack, nack)
}

func (s *NormalizeStage) handleNormalizeError(ctx context.Context, msg types.Message, source string, err error) {
	var malformed *domain.MalformedEventError
	var duplicate *domain.DuplicateEventError
	var unknown *domain.UnknownSourceError

	switch {
	case errors.As(err, &duplicate):
		s.log.Debug("Duplicate signal dropped",
			zap.String("source", source),
			zap.String("dedup_key", duplicate.DedupKey))
		s.deleteMessage(ctx, msg)
	case errors.As(err, &malformed), errors.As(err, &unknown):
		s.log.Warn("Rejected signal",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.String("source", source),
			zap.Error(err))
		s.deleteMessage(ctx, msg)
	default:
		// Transient (dedup store unreachable): keep the message for retry.
		s.log.Error("Failed to normalize signal",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.String("source", source),
			zap.Error(err))
	}
}

func (s *NormalizeStage) deleteMessage(ctx context.Context, msg types.Message) {
	if err := s.deleteMessageErr(ctx, msg); err != nil {
		s.log.Error("Failed to delete message",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
	}
}

func (s *NormalizeStage) deleteMessageErr(ctx context.Context, msg types.Message) error {
	_, err := s.consumer.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.consumer.QueueURL()),
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}
