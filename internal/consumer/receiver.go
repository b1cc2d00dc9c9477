package consumer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/queue"
)

// ReceiverConfig configures the SQS long poll. Values come from
// config.Consumer; the buffer size also caps the pipeline's in-flight
// signal count.
type ReceiverConfig struct {
	MaxMessages     int32
	WaitTimeSeconds int32
	BufferSize      int
}

// Receiver long-polls the signal queue and feeds the normalize stage.
type Receiver struct {
	consumer queue.Consumer
	config   ReceiverConfig
	log      *zap.Logger
}

// NewReceiver creates a new SQS receiver.
func NewReceiver(consumer queue.Consumer, config ReceiverConfig, log *zap.Logger) *Receiver {
	return &Receiver{
		consumer: consumer,
		config:   config,
		log:      log,
	}
}

// Start polls until the context ends, forwarding every received message.
func (r *Receiver) Start(ctx context.Context, out chan<- types.Message) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Receiver shutting down")
			return
		default:
		}

		if !r.pull(ctx, out) {
			return
		}
	}
}

// pull performs one long poll and forwards its messages downstream. It
// reports false when the context ended mid-forward.
func (r *Receiver) pull(ctx context.Context, out chan<- types.Message) bool {
	result, err := r.consumer.ReceiveMessages(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:              aws.String(r.consumer.QueueURL()),
		MaxNumberOfMessages:   r.config.MaxMessages,
		WaitTimeSeconds:       r.config.WaitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		r.log.Error("Failed to receive signal messages", zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
			return true
		}
	}

	if len(result.Messages) == 0 {
		return true
	}
	r.log.Debug("Received signal messages", zap.Int("message_count", len(result.Messages)))

	for _, msg := range result.Messages {
		select {
		case <-ctx.Done():
			r.log.Info("Receiver shutting down while forwarding messages")
			return false
		case out <- msg:
		}
	}
	return true
}
