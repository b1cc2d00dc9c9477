package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/dto"
	"github.com/shardie-github/castor-sub009/internal/normalizer"
	"github.com/shardie-github/castor-sub009/internal/queue"
)

// IngestService validates inbound signals and hands them to the queue. The
// consumer pipeline owns normalization and persistence; acceptance here only
// means the signal is durably enqueued.
type IngestService struct {
	publisher queue.Publisher
	log       *zap.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(publisher queue.Publisher, log *zap.Logger) *IngestService {
	return &IngestService{publisher: publisher, log: log}
}

// SubmitPromo enqueues a promo-code redemption.
func (s *IngestService) SubmitPromo(ctx context.Context, tenantID string, req *dto.PromoSignalRequest) error {
	if err := validateTimestamp(req.Timestamp); err != nil {
		return err
	}
	return s.publish(ctx, tenantID, domain.SourcePromoCode, req)
}

// SubmitPixel enqueues a pixel fire or UTM-tagged click.
func (s *IngestService) SubmitPixel(ctx context.Context, tenantID string, req *dto.PixelSignalRequest) error {
	if err := validateTimestamp(req.Timestamp); err != nil {
		return err
	}
	return s.publish(ctx, tenantID, domain.SourcePixel, req)
}

// SubmitConversion enqueues a direct API conversion.
func (s *IngestService) SubmitConversion(ctx context.Context, tenantID string, req *dto.ConversionSignalRequest) error {
	if err := validateTimestamp(req.Timestamp); err != nil {
		return err
	}
	return s.publish(ctx, tenantID, domain.SourceDirectAPI, req)
}

// SubmitOfflineImport enqueues every row of an offline import batch. Rows are
// validated independently: a bad row is reported and skipped, the rest of the
// batch still goes through.
func (s *IngestService) SubmitOfflineImport(ctx context.Context, tenantID string, req *dto.OfflineImportRequest) (*dto.OfflineImportResponse, error) {
	resp := &dto.OfflineImportResponse{ImportBatchID: req.ImportBatchID}

	for i, row := range req.Rows {
		if _, err := time.Parse("2006-01-02", row.ConversionDate); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, dto.OfflineRowError{
				RowIndex: i,
				Reason:   fmt.Sprintf("bad conversion_date %q", row.ConversionDate),
			})
			continue
		}

		payload := normalizer.OfflineConversion{
			CampaignID:      row.CampaignID,
			PodcastID:       row.PodcastID,
			ConversionDate:  row.ConversionDate,
			ConversionValue: row.ConversionValue,
			Currency:        row.Currency,
			CustomerID:      row.CustomerID,
			ImportBatchID:   req.ImportBatchID,
			RowIndex:        i,
		}
		if err := s.publish(ctx, tenantID, domain.SourceOfflineImport, payload); err != nil {
			s.log.Warn("Failed to enqueue offline import row",
				zap.String("import_batch_id", req.ImportBatchID),
				zap.Int("row_index", i),
				zap.Error(err))
			resp.Rejected++
			resp.Errors = append(resp.Errors, dto.OfflineRowError{RowIndex: i, Reason: "enqueue failed"})
			continue
		}
		resp.Accepted++
	}

	return resp, nil
}

func (s *IngestService) publish(ctx context.Context, tenantID string, source domain.EventSource, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode signal payload: %w", err)
	}

	msg := &queue.SignalMessage{
		TenantID: tenantID,
		Source:   string(source),
		Payload:  raw,
	}
	if err := s.publisher.PublishSignal(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish signal to queue: %w", err)
	}
	return nil
}

// ErrFutureTimestamp rejects signals stamped ahead of the server clock.
var ErrFutureTimestamp = errors.New("timestamp cannot be in the future")

func validateTimestamp(ts int64) error {
	now := time.Now().Unix()
	if ts > now+1 {
		return fmt.Errorf("%w: %d > %d", ErrFutureTimestamp, ts, now)
	}
	return nil
}
