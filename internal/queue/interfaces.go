package queue

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SignalMessage is the wire envelope for one inbound signal: the tenant it
// belongs to, which ingestion channel produced it, and the source-shaped
// payload untouched.
type SignalMessage struct {
	TenantID string          `json:"tenant_id"`
	Source   string          `json:"source"`
	Payload  json.RawMessage `json:"payload"`
}

// Publisher publishes inbound signals to the ingestion queue.
type Publisher interface {
	PublishSignal(ctx context.Context, msg *SignalMessage) error
}

// Consumer consumes messages from the ingestion queue.
type Consumer interface {
	ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	QueueURL() string
}
