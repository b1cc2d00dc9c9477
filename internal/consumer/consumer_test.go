package consumer

import (
	"context"
	"testing"
	"time"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/domain"
)

// MockIdentityResolver is a mock implementation of IdentityResolver
type MockIdentityResolver struct {
	mock.Mock
}

func (m *MockIdentityResolver) Resolve(ctx context.Context, tenantID string, event *domain.CanonicalEvent) (*domain.UnifiedIdentity, error) {
	args := m.Called(ctx, tenantID, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UnifiedIdentity), args.Error(1)
}

func consumerTestConfig() *config.Config {
	return &config.Config{
		Consumer: config.Consumer{
			BatchSizeMax:       10,
			BatchTimeoutSec:    1,
			ReceiveMaxMessages: 10,
			ReceiveWaitTimeSec: 20,
			ReceiveBufferSize:  100,
		},
	}
}

func TestConsumer_Start_PipelineCoordination(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockEventLog := new(MockEventLog)
	mockNormalizer := new(MockSignalNormalizer)
	mockResolver := new(MockIdentityResolver)
	log := zap.NewNop()

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/signals")

	msg := signalSQSMessage(t, "tenant1", "promo_code")
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{msg}}, nil).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil).Maybe()

	event := &domain.CanonicalEvent{
		EventID:    "event1",
		TenantID:   "tenant1",
		CampaignID: "campaign1",
		Source:     domain.SourcePromoCode,
	}
	mockNormalizer.On("Normalize", mock.Anything, "tenant1", domain.SourcePromoCode, mock.Anything).
		Return(event, nil)
	mockConsumer.On("DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput")).
		Return(&awssqs.DeleteMessageOutput{}, nil).Maybe()

	mockEventLog.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.CanonicalEvent) bool {
		return len(events) == 1 && events[0].EventID == "event1"
	})).Return(1, nil)

	mockResolver.On("Resolve", mock.Anything, "tenant1", event).
		Return(&domain.UnifiedIdentity{IdentityID: "identity1", Tier: domain.TierLow}, nil).Maybe()

	consumer := NewConsumer(consumerTestConfig(), mockConsumer, mockNormalizer, new(MockDedupReleaser), mockEventLog, mockResolver, log)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := consumer.Start(ctx)

	assert.NoError(t, err)
	mockEventLog.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestConsumer_Start_GracefulShutdown(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockEventLog := new(MockEventLog)
	log := zap.NewNop()

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/signals").Maybe()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil).Maybe()

	consumer := NewConsumer(consumerTestConfig(), mockConsumer, new(MockSignalNormalizer), new(MockDedupReleaser), mockEventLog, new(MockIdentityResolver), log)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		err := consumer.Start(ctx)
		assert.NoError(t, err)
		done <- true
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Graceful shutdown took too long")
	}
}

func TestConsumer_Start_EmptyQueue(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockEventLog := new(MockEventLog)
	log := zap.NewNop()

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/signals")
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil).Maybe()

	consumer := NewConsumer(consumerTestConfig(), mockConsumer, new(MockSignalNormalizer), new(MockDedupReleaser), mockEventLog, new(MockIdentityResolver), log)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := consumer.Start(ctx)

	assert.NoError(t, err)
	mockEventLog.AssertNotCalled(t, "InsertBatch")
}
