package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/queue"
	"github.com/shardie-github/castor-sub009/internal/repository"
)

// Consumer orchestrates the ingestion pipeline: receive signal messages,
// normalize them, append to the immutable event log, resolve identities.
type Consumer struct {
	receiver    *Receiver
	normalize   *NormalizeStage
	batchWriter *BatchWriter
	resolve     *ResolveStage
}

// NewConsumer creates a consumer with a pipeline architecture.
func NewConsumer(cfg *config.Config, queueConsumer queue.Consumer, normalizer SignalNormalizer, dedup DedupReleaser, eventLog repository.EventLog, resolver IdentityResolver, log *zap.Logger) *Consumer {
	receiver := NewReceiver(queueConsumer, ReceiverConfig{
		MaxMessages:     cfg.Consumer.ReceiveMaxMessages,
		WaitTimeSeconds: cfg.Consumer.ReceiveWaitTimeSec,
		BufferSize:      cfg.Consumer.ReceiveBufferSize,
	}, log)

	normalize := NewNormalizeStage(queueConsumer, normalizer, dedup, log)

	batchWriter := NewBatchWriter(eventLog, BatchWriterConfig{
		MaxBatchSize: cfg.Consumer.BatchSizeMax,
		FlushTimeout: time.Duration(cfg.Consumer.BatchTimeoutSec) * time.Second,
	}, log)

	resolve := NewResolveStage(resolver, log)

	return &Consumer{
		receiver:    receiver,
		normalize:   normalize,
		batchWriter: batchWriter,
		resolve:     resolve,
	}
}

// Start begins the consumer pipeline and blocks until all stages drain.
func (c *Consumer) Start(ctx context.Context) error {
	buffer := c.receiver.config.BufferSize
	messageChan := make(chan types.Message, buffer)
	envelopeChan := make(chan *Envelope, buffer)
	loggedChan := make(chan *domain.CanonicalEvent, buffer)

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		c.receiver.Start(ctx, messageChan)
	}()

	go func() {
		defer wg.Done()
		c.normalize.Start(ctx, messageChan, envelopeChan)
	}()

	go func() {
		defer wg.Done()
		c.batchWriter.Start(ctx, envelopeChan, loggedChan)
	}()

	go func() {
		defer wg.Done()
		c.resolve.Start(ctx, loggedChan)
	}()

	wg.Wait()
	return nil
}
