package consumer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/repository"
)

// BatchWriterConfig configures the batch writer.
type BatchWriterConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
}

// BatchWriter batches canonical events and appends them to the event log.
// Events are acked only after the append succeeds; successfully logged
// events flow on to identity resolution.
type BatchWriter struct {
	eventLog repository.EventLog
	config   BatchWriterConfig
	log      *zap.Logger
}

// NewBatchWriter creates a new batch writer.
func NewBatchWriter(eventLog repository.EventLog, config BatchWriterConfig, log *zap.Logger) *BatchWriter {
	return &BatchWriter{
		eventLog: eventLog,
		config:   config,
		log:      log,
	}
}

// Start begins batching envelopes and writing them to the event log. Logged
// events are forwarded to out for identity resolution.
func (w *BatchWriter) Start(ctx context.Context, in <-chan *Envelope, out chan<- *domain.CanonicalEvent) {
	defer close(out)

	ticker := time.NewTicker(w.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*Envelope, 0, w.config.MaxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.processBatch(ctx, batch, out)
		batch = make([]*Envelope, 0, w.config.MaxBatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Batch writer shutting down", zap.Int("pending", len(batch)))
			flush()
			return

		case envelope, ok := <-in:
			if !ok {
				w.log.Info("Batch writer input channel closed", zap.Int("pending", len(batch)))
				flush()
				return
			}

			batch = append(batch, envelope)
			if len(batch) >= w.config.MaxBatchSize {
				flush()
				ticker.Reset(w.config.FlushTimeout)
			}

		case <-ticker.C:
			flush()
		}
	}
}

// processBatch appends the batch to the event log, acks on success and nacks
// on failure so the queue redelivers.
func (w *BatchWriter) processBatch(ctx context.Context, envelopes []*Envelope, out chan<- *domain.CanonicalEvent) {
	events := make([]*domain.CanonicalEvent, len(envelopes))
	for i, env := range envelopes {
		events[i] = env.Event
	}

	inserted, err := w.eventLog.InsertBatch(ctx, events)
	if err != nil {
		w.log.Error("Failed to append batch to event log",
			zap.Error(err),
			zap.Int("event_count", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}
	if inserted != len(events) {
		w.log.Warn("Partial append",
			zap.Int("inserted", inserted),
			zap.Int("expected", len(events)))
		w.nackAll(ctx, envelopes)
		return
	}

	w.log.Debug("Appended events to log", zap.Int("count", inserted))

	for _, env := range envelopes {
		if err := env.Ack(ctx); err != nil {
			w.log.Error("Failed to ack envelope", zap.Error(err))
		}
	}
	for _, event := range events {
		select {
		case <-ctx.Done():
			return
		case out <- event:
		}
	}
}

func (w *BatchWriter) nackAll(ctx context.Context, envelopes []*Envelope) {
	for _, env := range envelopes {
		if err := env.Nack(ctx); err != nil {
			w.log.Error("Failed to nack envelope", zap.Error(err))
		}
	}
}
