package service

import (
	"context"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/dto"
)

// IngestServicer accepts inbound signals for the handler layer.
type IngestServicer interface {
	SubmitPromo(ctx context.Context, tenantID string, req *dto.PromoSignalRequest) error
	SubmitPixel(ctx context.Context, tenantID string, req *dto.PixelSignalRequest) error
	SubmitConversion(ctx context.Context, tenantID string, req *dto.ConversionSignalRequest) error
	SubmitOfflineImport(ctx context.Context, tenantID string, req *dto.OfflineImportRequest) (*dto.OfflineImportResponse, error)
}

// AnalyticsServicer serves settings writes and reporting reads.
type AnalyticsServicer interface {
	SaveSettings(ctx context.Context, tenantID, campaignID string, req *dto.AttributionSettingsRequest) (*dto.SettingsResponse, error)
	GetSettings(ctx context.Context, tenantID, campaignID string) (*dto.SettingsResponse, error)
	RunCampaignAttribution(ctx context.Context, tenantID, campaignID string) (*domain.CampaignFinancials, error)
	GetFinancials(ctx context.Context, tenantID, campaignID, model string) ([]dto.FinancialsResponse, error)
	GetAttributionResults(ctx context.Context, tenantID, campaignID, model string) ([]dto.AttributionResultResponse, error)
	ComputeSegmentLift(ctx context.Context, tenantID, campaignID string, q *dto.LiftQueryRequest) (*dto.SegmentLiftResponse, error)
	ListSegmentLifts(ctx context.Context, tenantID, campaignID string) ([]dto.SegmentLiftResponse, error)
}
