package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/repository"
)

// DerivedStore implements repository.DerivedStore on Postgres.
type DerivedStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewDerivedStore creates the store.
func NewDerivedStore(db *gorm.DB, log *zap.Logger) *DerivedStore {
	return &DerivedStore{db: db, log: log}
}

// SaveSettings upserts a campaign's attribution settings.
func (s *DerivedStore) SaveSettings(ctx context.Context, settings *domain.CampaignSettings) error {
	model := CampaignSettingsModel{
		TenantID:     settings.TenantID,
		CampaignID:   settings.CampaignID,
		Model:        string(settings.Model),
		WindowDays:   settings.WindowDays,
		HalfLifeSecs: int64(settings.HalfLife.Seconds()),
		Cost:         settings.Cost,
		Currency:     settings.Currency,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "campaign_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"model", "window_days", "half_life_secs", "cost", "currency", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to save settings for campaign %s: %w", settings.CampaignID, err)
	}
	return nil
}

// GetSettings loads a campaign's attribution settings, or nil when the
// campaign has none configured.
func (s *DerivedStore) GetSettings(ctx context.Context, tenantID, campaignID string) (*domain.CampaignSettings, error) {
	var model CampaignSettingsModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for campaign %s: %w", campaignID, err)
	}
	return &domain.CampaignSettings{
		TenantID:   model.TenantID,
		CampaignID: model.CampaignID,
		Model:      domain.ModelType(model.Model),
		WindowDays: model.WindowDays,
		HalfLife:   time.Duration(model.HalfLifeSecs) * time.Second,
		Cost:       model.Cost,
		Currency:   model.Currency,
	}, nil
}

// ListCampaigns returns the campaigns with attribution settings for a tenant.
func (s *DerivedStore) ListCampaigns(ctx context.Context, tenantID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&CampaignSettingsModel{}).
		Where("tenant_id = ?", tenantID).
		Order("campaign_id").
		Pluck("campaign_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return ids, nil
}

// ReplaceResults swaps a campaign's attribution results for one model with a
// fresh run's output in a single transaction.
func (s *DerivedStore) ReplaceResults(ctx context.Context, tenantID, campaignID string, model domain.ModelType, results []*domain.AttributionResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("tenant_id = ? AND campaign_id = ? AND model = ?", tenantID, campaignID, string(model)).
			Delete(&AttributionResultModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear prior results: %w", err)
		}
		for _, result := range results {
			creditsJSON, err := json.Marshal(result.Credits)
			if err != nil {
				return fmt.Errorf("failed to marshal credits for path %s: %w", result.PathID, err)
			}
			row := AttributionResultModel{
				PathID:        result.PathID,
				Model:         string(result.Model),
				TenantID:      result.TenantID,
				CampaignID:    result.CampaignID,
				Credits:       creditsJSON,
				LowConfidence: result.LowConfidence,
				ComputedAt:    result.ComputedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert result for path %s: %w", result.PathID, err)
			}
		}
		return nil
	})
}

// ResultsForCampaign loads a campaign's attribution results for one model.
func (s *DerivedStore) ResultsForCampaign(ctx context.Context, tenantID, campaignID string, model domain.ModelType) ([]*domain.AttributionResult, error) {
	var rows []AttributionResultModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND campaign_id = ? AND model = ?", tenantID, campaignID, string(model)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load results for campaign %s: %w", campaignID, err)
	}

	out := make([]*domain.AttributionResult, 0, len(rows))
	for _, row := range rows {
		var credits []domain.Credit
		if err := json.Unmarshal(row.Credits, &credits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credits for path %s: %w", row.PathID, err)
		}
		out = append(out, &domain.AttributionResult{
			PathID:        row.PathID,
			TenantID:      row.TenantID,
			CampaignID:    row.CampaignID,
			Model:         domain.ModelType(row.Model),
			Credits:       credits,
			LowConfidence: row.LowConfidence,
			ComputedAt:    row.ComputedAt,
		})
	}
	return out, nil
}

// SaveFinancials upserts the derived ROI row for (campaign, model).
func (s *DerivedStore) SaveFinancials(ctx context.Context, fin *domain.CampaignFinancials) error {
	model := CampaignFinancialsModel{
		TenantID:             fin.TenantID,
		CampaignID:           fin.CampaignID,
		Model:                string(fin.Model),
		Cost:                 fin.Cost,
		AttributedValueTotal: fin.AttributedValueTotal,
		ROIPercentage:        fin.ROIPercentage,
		ROAS:                 fin.ROAS,
		IntervalLower:        fin.Interval.Lower,
		IntervalUpper:        fin.Interval.Upper,
		ConversionCount:      fin.ConversionCount,
		LowConfidenceCount:   fin.LowConfidenceCount,
		UndefinedROI:         fin.UndefinedROI,
		ComputedAt:           fin.ComputedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "campaign_id"}, {Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cost", "attributed_value_total", "roi_percentage", "roas",
			"interval_lower", "interval_upper", "conversion_count",
			"low_confidence_count", "undefined_roi", "computed_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to save financials for campaign %s: %w", fin.CampaignID, err)
	}
	return nil
}

// FinancialsForCampaign loads the ROI rows for a campaign, optionally
// narrowed to one model.
func (s *DerivedStore) FinancialsForCampaign(ctx context.Context, tenantID, campaignID string, filter repository.FinancialsFilter) ([]*domain.CampaignFinancials, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID)
	if filter.Model != "" {
		query = query.Where("model = ?", string(filter.Model))
	}

	var rows []CampaignFinancialsModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load financials for campaign %s: %w", campaignID, err)
	}

	out := make([]*domain.CampaignFinancials, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.CampaignFinancials{
			TenantID:             row.TenantID,
			CampaignID:           row.CampaignID,
			Model:                domain.ModelType(row.Model),
			Cost:                 row.Cost,
			AttributedValueTotal: row.AttributedValueTotal,
			ROIPercentage:        row.ROIPercentage,
			ROAS:                 row.ROAS,
			Interval:             domain.ConfidenceInterval{Lower: row.IntervalLower, Upper: row.IntervalUpper},
			ConversionCount:      row.ConversionCount,
			LowConfidenceCount:   row.LowConfidenceCount,
			UndefinedROI:         row.UndefinedROI,
			ComputedAt:           row.ComputedAt,
		})
	}
	return out, nil
}

// SaveSegmentStat upserts one segment's lift row.
func (s *DerivedStore) SaveSegmentStat(ctx context.Context, stat *domain.DemographicSegmentStat) error {
	model := SegmentStatModel{
		TenantID:       stat.TenantID,
		CampaignID:     stat.CampaignID,
		SegmentKey:     stat.SegmentKey,
		BaselineRate:   stat.BaselineRate,
		CampaignRate:   stat.CampaignRate,
		Lift:           stat.Lift,
		LiftPercentage: stat.LiftPercentage,
		PValue:         stat.PValue,
		SampleSize:     stat.SampleSize,
		Significant:    stat.Significant,
		ComputedAt:     stat.ComputedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "campaign_id"}, {Name: "segment_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"baseline_rate", "campaign_rate", "lift", "lift_percentage",
			"p_value", "sample_size", "significant", "computed_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to save segment stat %s: %w", stat.SegmentKey, err)
	}
	return nil
}

// SegmentStatsForCampaign loads all lift rows for a campaign.
func (s *DerivedStore) SegmentStatsForCampaign(ctx context.Context, tenantID, campaignID string) ([]*domain.DemographicSegmentStat, error) {
	var rows []SegmentStatModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID).
		Order("segment_key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load segment stats for campaign %s: %w", campaignID, err)
	}

	out := make([]*domain.DemographicSegmentStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.DemographicSegmentStat{
			TenantID:       row.TenantID,
			CampaignID:     row.CampaignID,
			SegmentKey:     row.SegmentKey,
			BaselineRate:   row.BaselineRate,
			CampaignRate:   row.CampaignRate,
			Lift:           row.Lift,
			LiftPercentage: row.LiftPercentage,
			PValue:         row.PValue,
			SampleSize:     row.SampleSize,
			Significant:    row.Significant,
			ComputedAt:     row.ComputedAt,
		})
	}
	return out, nil
}

// DeleteAttributionBefore enforces attribution retention: results first,
// then the event bindings they were derived from. Any dependency violation
// aborts the transaction and is fatal to the retention run.
func (s *DerivedStore) DeleteAttributionBefore(ctx context.Context, cutoff time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("computed_at < ?", cutoff).Delete(&AttributionResultModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete attribution results before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if err := tx.Where("timestamp < ?", cutoff).Delete(&EventBindingModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete event bindings before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		return nil
	})
}
