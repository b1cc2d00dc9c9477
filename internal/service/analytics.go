package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/attribution"
	"github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/dto"
	"github.com/shardie-github/castor-sub009/internal/lift"
	"github.com/shardie-github/castor-sub009/internal/repository"
	"github.com/shardie-github/castor-sub009/internal/roi"
)

// AnalyticsService orchestrates the derived side of the engine: it turns
// logged conversions into attribution paths, runs the configured model, and
// rolls the credited value up into financials and lift stats.
type AnalyticsService struct {
	eventLog    repository.EventLog
	derived     repository.DerivedStore
	pathBuilder *attribution.PathBuilder
	calculator  *roi.Calculator
	analyzer    *lift.Analyzer
	defaults    config.Attribution
	log         *zap.Logger
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(
	eventLog repository.EventLog,
	derived repository.DerivedStore,
	pathBuilder *attribution.PathBuilder,
	calculator *roi.Calculator,
	analyzer *lift.Analyzer,
	defaults config.Attribution,
	log *zap.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		eventLog:    eventLog,
		derived:     derived,
		pathBuilder: pathBuilder,
		calculator:  calculator,
		analyzer:    analyzer,
		defaults:    defaults,
		log:         log,
	}
}

// SaveSettings validates and stores a campaign's attribution settings.
func (s *AnalyticsService) SaveSettings(ctx context.Context, tenantID, campaignID string, req *dto.AttributionSettingsRequest) (*dto.SettingsResponse, error) {
	model := domain.ModelType(req.Model)
	if !domain.ValidModel(model) {
		return nil, &domain.InvalidModelError{Model: req.Model}
	}

	settings := &domain.CampaignSettings{
		TenantID:   tenantID,
		CampaignID: campaignID,
		Model:      model,
		WindowDays: req.WindowDays,
		Cost:       req.Cost,
		Currency:   req.Currency,
	}
	if settings.WindowDays <= 0 {
		settings.WindowDays = s.defaults.DefaultWindowDays
	}
	if req.HalfLifeDays > 0 {
		settings.HalfLife = time.Duration(req.HalfLifeDays * 24 * float64(time.Hour))
	} else {
		settings.HalfLife = s.defaults.HalfLife()
	}

	if err := s.derived.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save campaign settings: %w", err)
	}
	return settingsResponse(settings), nil
}

// GetSettings returns a campaign's stored or default attribution settings.
func (s *AnalyticsService) GetSettings(ctx context.Context, tenantID, campaignID string) (*dto.SettingsResponse, error) {
	settings, err := s.settingsOrDefault(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	return settingsResponse(settings), nil
}

// RunCampaignAttribution rebuilds a campaign's attribution results under its
// configured model and recomputes financials from them. The run checks for
// cancellation at path granularity and persists nothing when cancelled, so an
// interrupted re-attribution never leaves a campaign half-swapped.
func (s *AnalyticsService) RunCampaignAttribution(ctx context.Context, tenantID, campaignID string) (*domain.CampaignFinancials, error) {
	settings, err := s.settingsOrDefault(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	horizon := now.Add(-domain.DefaultRetention().AttributionRows)
	conversions, err := s.eventLog.Conversions(ctx, tenantID, campaignID, horizon, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversions: %w", err)
	}

	results := make([]*domain.AttributionResult, 0, len(conversions))
	params := attribution.Params{HalfLife: settings.HalfLife}
	for _, conv := range conversions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := s.pathBuilder.Build(ctx, tenantID, conv, settings.WindowDays)
		if err != nil {
			var noID *domain.NoIdentityError
			if errors.As(err, &noID) {
				s.log.Debug("Skipping unresolvable conversion",
					zap.String("campaign_id", campaignID),
					zap.String("event_id", conv.EventID))
				continue
			}
			return nil, fmt.Errorf("failed to build attribution path: %w", err)
		}

		result, err := attribution.Apply(path, settings.Model, params)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	if err := s.derived.ReplaceResults(ctx, tenantID, campaignID, settings.Model, results); err != nil {
		return nil, fmt.Errorf("failed to replace attribution results: %w", err)
	}

	fin, err := s.calculator.Compute(ctx, *settings, results)
	if err != nil {
		var zeroCost *domain.ZeroCostError
		if !errors.As(err, &zeroCost) {
			return nil, err
		}
		// ROI is undefined without a cost. The attributed totals are still
		// real, so persist them with the flag instead of failing the run.
		fin = undefinedROIFinancials(settings, results)
		s.log.Warn("Campaign has no cost on record, ROI flagged undefined",
			zap.String("tenant_id", tenantID),
			zap.String("campaign_id", campaignID))
	}

	if err := s.derived.SaveFinancials(ctx, fin); err != nil {
		return nil, fmt.Errorf("failed to save financials: %w", err)
	}

	s.log.Info("Attribution run complete",
		zap.String("tenant_id", tenantID),
		zap.String("campaign_id", campaignID),
		zap.String("model", string(settings.Model)),
		zap.Int("conversions", len(results)),
		zap.Int("low_confidence", fin.LowConfidenceCount))
	return fin, nil
}

// GetFinancials reports a campaign's financials, optionally filtered to one
// model, running attribution first when nothing is on record yet.
func (s *AnalyticsService) GetFinancials(ctx context.Context, tenantID, campaignID, model string) ([]dto.FinancialsResponse, error) {
	filter := repository.FinancialsFilter{}
	if model != "" {
		mt := domain.ModelType(model)
		if !domain.ValidModel(mt) {
			return nil, &domain.InvalidModelError{Model: model}
		}
		filter.Model = mt
	}

	rows, err := s.derived.FinancialsForCampaign(ctx, tenantID, campaignID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load financials: %w", err)
	}
	if len(rows) == 0 {
		fin, err := s.RunCampaignAttribution(ctx, tenantID, campaignID)
		if err != nil {
			return nil, err
		}
		rows = []*domain.CampaignFinancials{fin}
	}

	settings, err := s.settingsOrDefault(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.FinancialsResponse, 0, len(rows))
	for _, fin := range rows {
		out = append(out, dto.FinancialsResponse{
			CampaignID:      fin.CampaignID,
			Model:           string(fin.Model),
			Cost:            fin.Cost,
			Currency:        settings.Currency,
			AttributedValue: fin.AttributedValueTotal,
			ROIPercentage:   fin.ROIPercentage,
			ROAS:            fin.ROAS,
			UndefinedROI:    fin.UndefinedROI,
			ConfidenceInterval: dto.ConfidenceIntervalResponse{
				Lower: fin.Interval.Lower,
				Upper: fin.Interval.Upper,
			},
			ConversionCount:    fin.ConversionCount,
			LowConfidenceCount: fin.LowConfidenceCount,
			ComputedAt:         fin.ComputedAt.Unix(),
		})
	}
	return out, nil
}

// ComputeSegmentLift measures one segment's conversion-rate lift over
// explicit campaign and baseline windows and persists the stat. An
// undersized sample still produces and stores a labeled stat.
func (s *AnalyticsService) ComputeSegmentLift(ctx context.Context, tenantID, campaignID string, q *dto.LiftQueryRequest) (*dto.SegmentLiftResponse, error) {
	baseline, err := s.eventLog.SegmentObservation(ctx, tenantID, "", q.SegmentKey,
		time.Unix(q.BaselineFrom, 0).UTC(), time.Unix(q.BaselineTo, 0).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to measure baseline segment: %w", err)
	}
	campaign, err := s.eventLog.SegmentObservation(ctx, tenantID, campaignID, q.SegmentKey,
		time.Unix(q.CampaignFrom, 0).UTC(), time.Unix(q.CampaignTo, 0).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to measure campaign segment: %w", err)
	}

	stat, err := s.analyzer.Analyze(tenantID, campaignID, q.SegmentKey, baseline, campaign)
	if err != nil {
		var small *domain.InsufficientSampleError
		if !errors.As(err, &small) {
			return nil, err
		}
		s.log.Warn("Segment sample below significance floor",
			zap.String("campaign_id", campaignID),
			zap.String("segment", q.SegmentKey),
			zap.Int("sample_size", small.SampleSize))
	}

	if err := s.derived.SaveSegmentStat(ctx, stat); err != nil {
		return nil, fmt.Errorf("failed to save segment stat: %w", err)
	}

	resp := segmentLiftResponse(stat)
	return &resp, nil
}

// ListSegmentLifts reports every stored demographic lift stat for a
// campaign, labels included, exactly as past ComputeSegmentLift runs
// persisted them.
func (s *AnalyticsService) ListSegmentLifts(ctx context.Context, tenantID, campaignID string) ([]dto.SegmentLiftResponse, error) {
	stats, err := s.derived.SegmentStatsForCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment stats: %w", err)
	}

	out := make([]dto.SegmentLiftResponse, 0, len(stats))
	for _, stat := range stats {
		out = append(out, segmentLiftResponse(stat))
	}
	return out, nil
}

// GetAttributionResults reports the stored per-path crediting for one model,
// defaulting to the campaign's configured model when none is named.
func (s *AnalyticsService) GetAttributionResults(ctx context.Context, tenantID, campaignID, model string) ([]dto.AttributionResultResponse, error) {
	var mt domain.ModelType
	if model != "" {
		mt = domain.ModelType(model)
		if !domain.ValidModel(mt) {
			return nil, &domain.InvalidModelError{Model: model}
		}
	} else {
		settings, err := s.settingsOrDefault(ctx, tenantID, campaignID)
		if err != nil {
			return nil, err
		}
		mt = settings.Model
	}

	results, err := s.derived.ResultsForCampaign(ctx, tenantID, campaignID, mt)
	if err != nil {
		return nil, fmt.Errorf("failed to load attribution results: %w", err)
	}

	out := make([]dto.AttributionResultResponse, 0, len(results))
	for _, r := range results {
		credits := make([]dto.CreditResponse, 0, len(r.Credits))
		for _, c := range r.Credits {
			credits = append(credits, dto.CreditResponse{
				EventID:         c.EventID,
				Fraction:        c.Fraction,
				AttributedValue: c.AttributedValue,
			})
		}
		out = append(out, dto.AttributionResultResponse{
			PathID:        r.PathID,
			CampaignID:    r.CampaignID,
			Model:         string(r.Model),
			Credits:       credits,
			LowConfidence: r.LowConfidence,
			ComputedAt:    r.ComputedAt.Unix(),
		})
	}
	return out, nil
}

func segmentLiftResponse(stat *domain.DemographicSegmentStat) dto.SegmentLiftResponse {
	return dto.SegmentLiftResponse{
		CampaignID:     stat.CampaignID,
		SegmentKey:     stat.SegmentKey,
		BaselineRate:   stat.BaselineRate,
		CampaignRate:   stat.CampaignRate,
		Lift:           stat.Lift,
		LiftPercentage: stat.LiftPercentage,
		PValue:         stat.PValue,
		SampleSize:     stat.SampleSize,
		Significant:    stat.Significant,
		ComputedAt:     stat.ComputedAt.Unix(),
	}
}

func (s *AnalyticsService) settingsOrDefault(ctx context.Context, tenantID, campaignID string) (*domain.CampaignSettings, error) {
	settings, err := s.derived.GetSettings(ctx, tenantID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign settings: %w", err)
	}
	if settings != nil {
		return settings, nil
	}
	return &domain.CampaignSettings{
		TenantID:   tenantID,
		CampaignID: campaignID,
		Model:      domain.ModelType(s.defaults.DefaultModel),
		WindowDays: s.defaults.DefaultWindowDays,
		HalfLife:   s.defaults.HalfLife(),
	}, nil
}

func undefinedROIFinancials(settings *domain.CampaignSettings, results []*domain.AttributionResult) *domain.CampaignFinancials {
	var total float64
	var lowConfidence int
	for _, r := range results {
		total += r.TotalAttributed()
		if r.LowConfidence {
			lowConfidence++
		}
	}
	return &domain.CampaignFinancials{
		TenantID:             settings.TenantID,
		CampaignID:           settings.CampaignID,
		Model:                settings.Model,
		Cost:                 settings.Cost,
		AttributedValueTotal: total,
		ConversionCount:      len(results),
		LowConfidenceCount:   lowConfidence,
		UndefinedROI:         true,
		ComputedAt:           time.Now().UTC(),
	}
}

func settingsResponse(settings *domain.CampaignSettings) *dto.SettingsResponse {
	return &dto.SettingsResponse{
		CampaignID:   settings.CampaignID,
		Model:        string(settings.Model),
		WindowDays:   settings.WindowDays,
		HalfLifeDays: settings.HalfLife.Hours() / 24,
		Cost:         settings.Cost,
		Currency:     settings.Currency,
	}
}
