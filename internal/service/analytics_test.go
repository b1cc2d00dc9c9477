package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/attribution"
	"github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/dto"
	"github.com/shardie-github/castor-sub009/internal/lift"
	"github.com/shardie-github/castor-sub009/internal/repository"
	"github.com/shardie-github/castor-sub009/internal/roi"
)

// MockEventLog is a mock implementation of repository.EventLog
type MockEventLog struct {
	mock.Mock
}

func (m *MockEventLog) InsertBatch(ctx context.Context, events []*domain.CanonicalEvent) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockEventLog) Conversions(ctx context.Context, tenantID, campaignID string, from, to time.Time) ([]*domain.CanonicalEvent, error) {
	args := m.Called(ctx, tenantID, campaignID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CanonicalEvent), args.Error(1)
}

func (m *MockEventLog) SegmentObservation(ctx context.Context, tenantID, campaignID, segmentKey string, from, to time.Time) (lift.Observation, error) {
	args := m.Called(ctx, tenantID, campaignID, segmentKey, from, to)
	return args.Get(0).(lift.Observation), args.Error(1)
}

func (m *MockEventLog) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventLog) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventLog) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockDerivedStore is a mock implementation of repository.DerivedStore
type MockDerivedStore struct {
	mock.Mock
}

func (m *MockDerivedStore) SaveSettings(ctx context.Context, settings *domain.CampaignSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockDerivedStore) GetSettings(ctx context.Context, tenantID, campaignID string) (*domain.CampaignSettings, error) {
	args := m.Called(ctx, tenantID, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CampaignSettings), args.Error(1)
}

func (m *MockDerivedStore) ListCampaigns(ctx context.Context, tenantID string) ([]string, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDerivedStore) ReplaceResults(ctx context.Context, tenantID, campaignID string, model domain.ModelType, results []*domain.AttributionResult) error {
	args := m.Called(ctx, tenantID, campaignID, model, results)
	return args.Error(0)
}

func (m *MockDerivedStore) ResultsForCampaign(ctx context.Context, tenantID, campaignID string, model domain.ModelType) ([]*domain.AttributionResult, error) {
	args := m.Called(ctx, tenantID, campaignID, model)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AttributionResult), args.Error(1)
}

func (m *MockDerivedStore) SaveFinancials(ctx context.Context, fin *domain.CampaignFinancials) error {
	args := m.Called(ctx, fin)
	return args.Error(0)
}

func (m *MockDerivedStore) FinancialsForCampaign(ctx context.Context, tenantID, campaignID string, filter repository.FinancialsFilter) ([]*domain.CampaignFinancials, error) {
	args := m.Called(ctx, tenantID, campaignID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CampaignFinancials), args.Error(1)
}

func (m *MockDerivedStore) SaveSegmentStat(ctx context.Context, stat *domain.DemographicSegmentStat) error {
	args := m.Called(ctx, stat)
	return args.Error(0)
}

func (m *MockDerivedStore) SegmentStatsForCampaign(ctx context.Context, tenantID, campaignID string) ([]*domain.DemographicSegmentStat, error) {
	args := m.Called(ctx, tenantID, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DemographicSegmentStat), args.Error(1)
}

func (m *MockDerivedStore) DeleteAttributionBefore(ctx context.Context, cutoff time.Time) error {
	args := m.Called(ctx, cutoff)
	return args.Error(0)
}

// MockTouchpointSource is a mock implementation of attribution.TouchpointSource
type MockTouchpointSource struct {
	mock.Mock
}

func (m *MockTouchpointSource) IdentityForEvent(ctx context.Context, tenantID, eventID string) (*domain.UnifiedIdentity, error) {
	args := m.Called(ctx, tenantID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UnifiedIdentity), args.Error(1)
}

func (m *MockTouchpointSource) TouchpointsForIdentity(ctx context.Context, tenantID, identityID, campaignID string, from, to time.Time) ([]domain.Touchpoint, error) {
	args := m.Called(ctx, tenantID, identityID, campaignID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Touchpoint), args.Error(1)
}

var analyticsBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDefaults() config.Attribution {
	return config.Attribution{
		DefaultModel:       "last_touch",
		DefaultWindowDays:  30,
		DecayHalfLifeDays:  7,
		BootstrapResamples: 100,
	}
}

func newAnalyticsFixture(eventLog *MockEventLog, derived *MockDerivedStore, source *MockTouchpointSource) *AnalyticsService {
	log := zap.NewNop()
	return NewAnalyticsService(
		eventLog,
		derived,
		attribution.NewPathBuilder(source, log),
		roi.NewCalculator(100, 1, log),
		lift.NewAnalyzer(log),
		testDefaults(),
		log,
	)
}

func conversionEvent(eventID string, value float64) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		EventID:    eventID,
		TenantID:   "tenant1",
		CampaignID: "campaign1",
		Timestamp:  analyticsBase,
		Kind:       domain.KindConversion,
		Source:     domain.SourceDirectAPI,
		Value:      value,
		Monetized:  value > 0,
	}
}

func TestAnalyticsService_RunCampaignAttribution_Success(t *testing.T) {
	eventLog := new(MockEventLog)
	derived := new(MockDerivedStore)
	source := new(MockTouchpointSource)
	svc := newAnalyticsFixture(eventLog, derived, source)

	settings := &domain.CampaignSettings{
		TenantID:   "tenant1",
		CampaignID: "campaign1",
		Model:      domain.ModelLinear,
		WindowDays: 30,
		Cost:       1000,
	}
	derived.On("GetSettings", mock.Anything, "tenant1", "campaign1").Return(settings, nil)

	eventLog.On("Conversions", mock.Anything, "tenant1", "campaign1", mock.Anything, mock.Anything).
		Return([]*domain.CanonicalEvent{conversionEvent("conv1", 1500)}, nil)

	identity := &domain.UnifiedIdentity{IdentityID: "id1", TenantID: "tenant1"}
	source.On("IdentityForEvent", mock.Anything, "tenant1", "conv1").Return(identity, nil)
	source.On("TouchpointsForIdentity", mock.Anything, "tenant1", "id1", "campaign1", mock.Anything, mock.Anything).
		Return([]domain.Touchpoint{
			{EventID: "click1", Timestamp: analyticsBase.Add(-24 * time.Hour), Kind: domain.KindClick},
			{EventID: "imp1", Timestamp: analyticsBase.Add(-48 * time.Hour), Kind: domain.KindImpression},
		}, nil)

	derived.On("ReplaceResults", mock.Anything, "tenant1", "campaign1", domain.ModelLinear,
		mock.MatchedBy(func(results []*domain.AttributionResult) bool {
			return len(results) == 1 && len(results[0].Credits) == 2
		})).Return(nil)
	derived.On("SaveFinancials", mock.Anything, mock.Anything).Return(nil)

	fin, err := svc.RunCampaignAttribution(context.Background(), "tenant1", "campaign1")

	require.NoError(t, err)
	assert.InDelta(t, 1500.0, fin.AttributedValueTotal, 1e-6)
	assert.InDelta(t, 50.0, fin.ROIPercentage, 1e-6)
	assert.InDelta(t, 1.5, fin.ROAS, 1e-6)
	assert.False(t, fin.UndefinedROI)
	derived.AssertExpectations(t)
}

func TestAnalyticsService_RunCampaignAttribution_ZeroCostFlagsUndefinedROI(t *testing.T) {
	eventLog := new(MockEventLog)
	derived := new(MockDerivedStore)
	source := new(MockTouchpointSource)
	svc := newAnalyticsFixture(eventLog, derived, source)

	// No stored settings: defaults carry zero cost.
	derived.On("GetSettings", mock.Anything, "tenant1", "campaign1").Return(nil, nil)
	eventLog.On("Conversions", mock.Anything, "tenant1", "campaign1", mock.Anything, mock.Anything).
		Return([]*domain.CanonicalEvent{conversionEvent("conv1", 200)}, nil)

	identity := &domain.UnifiedIdentity{IdentityID: "id1", TenantID: "tenant1"}
	source.On("IdentityForEvent", mock.Anything, "tenant1", "conv1").Return(identity, nil)
	source.On("TouchpointsForIdentity", mock.Anything, "tenant1", "id1", "campaign1", mock.Anything, mock.Anything).
		Return([]domain.Touchpoint{}, nil)

	derived.On("ReplaceResults", mock.Anything, "tenant1", "campaign1", domain.ModelLastTouch, mock.Anything).Return(nil)
	derived.On("SaveFinancials", mock.Anything, mock.MatchedBy(func(fin *domain.CampaignFinancials) bool {
		return fin.UndefinedROI && fin.AttributedValueTotal == 200 && fin.LowConfidenceCount == 1
	})).Return(nil)

	fin, err := svc.RunCampaignAttribution(context.Background(), "tenant1", "campaign1")

	require.NoError(t, err)
	assert.True(t, fin.UndefinedROI)
	assert.Equal(t, 1, fin.LowConfidenceCount)
	derived.AssertExpectations(t)
}

func TestAnalyticsService_RunCampaignAttribution_SkipsUnresolvedConversions(t *testing.T) {
	eventLog := new(MockEventLog)
	derived := new(MockDerivedStore)
	source := new(MockTouchpointSource)
	svc := newAnalyticsFixture(eventLog, derived, source)

	settings := &domain.CampaignSettings{
		TenantID:   "tenant1",
		CampaignID: "campaign1",
		Model:      domain.ModelLastTouch,
		WindowDays: 30,
		Cost:       100,
	}
	derived.On("GetSettings", mock.Anything, "tenant1", "campaign1").Return(settings, nil)
	eventLog.On("Conversions", mock.Anything, "tenant1", "campaign1", mock.Anything, mock.Anything).
		Return([]*domain.CanonicalEvent{
			conversionEvent("orphan", 50),
			conversionEvent("conv1", 300),
		}, nil)

	source.On("IdentityForEvent", mock.Anything, "tenant1", "orphan").Return(nil, nil)
	identity := &domain.UnifiedIdentity{IdentityID: "id1", TenantID: "tenant1"}
	source.On("IdentityForEvent", mock.Anything, "tenant1", "conv1").Return(identity, nil)
	source.On("TouchpointsForIdentity", mock.Anything, "tenant1", "id1", "campaign1", mock.Anything, mock.Anything).
		Return([]domain.Touchpoint{}, nil)

	derived.On("ReplaceResults", mock.Anything, "tenant1", "campaign1", domain.ModelLastTouch,
		mock.MatchedBy(func(results []*domain.AttributionResult) bool {
			return len(results) == 1
		})).Return(nil)
	derived.On("SaveFinancials", mock.Anything, mock.Anything).Return(nil)

	fin, err := svc.RunCampaignAttribution(context.Background(), "tenant1", "campaign1")

	require.NoError(t, err)
	assert.Equal(t, 1, fin.ConversionCount)
	assert.InDelta(t, 300.0, fin.AttributedValueTotal, 1e-6)
}

func TestAnalyticsService_RunCampaignAttribution_CancelledBeforePersist(t *testing.T) {
	eventLog := new(MockEventLog)
	derived := new(MockDerivedStore)
	source := new(MockTouchpointSource)
	svc := newAnalyticsFixture(eventLog, derived, source)

	derived.On("GetSettings", mock.Anything, "tenant1", "campaign1").Return(nil, nil)
	eventLog.On("Conversions", mock.Anything, "tenant1", "campaign1", mock.Anything, mock.Anything).
		Return([]*domain.CanonicalEvent{conversionEvent("conv1", 100)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fin, err := svc.RunCampaignAttribution(ctx, "tenant1", "campaign1")

	assert.Nil(t, fin)
	assert.ErrorIs(t, err, context.Canceled)
	derived.AssertNotCalled(t, "ReplaceResults")
	derived.AssertNotCalled(t, "SaveFinancials")
}

func TestAnalyticsService_SaveSettings_InvalidModel(t *testing.T) {
	derived := new(MockDerivedStore)
	svc := newAnalyticsFixture(new(MockEventLog), derived, new(MockTouchpointSource))

	resp, err := svc.SaveSettings(context.Background(), "tenant1", "campaign1",
		&dto.AttributionSettingsRequest{Model: "shapley"})

	assert.Nil(t, resp)
	var invalid *domain.InvalidModelError
	require.ErrorAs(t, err, &invalid)
	derived.AssertNotCalled(t, "SaveSettings")
}

func TestAnalyticsService_SaveSettings_DefaultsApplied(t *testing.T) {
	derived := new(MockDerivedStore)
	svc := newAnalyticsFixture(new(MockEventLog), derived, new(MockTouchpointSource))

	derived.On("SaveSettings", mock.Anything, mock.MatchedBy(func(s *domain.CampaignSettings) bool {
		return s.WindowDays == 30 && s.HalfLife == 7*24*time.Hour && s.Model == domain.ModelTimeDecay
	})).Return(nil)

	resp, err := svc.SaveSettings(context.Background(), "tenant1", "campaign1",
		&dto.AttributionSettingsRequest{Model: "time_decay", Cost: 500})

	require.NoError(t, err)
	assert.Equal(t, 30, resp.WindowDays)
	assert.InDelta(t, 7.0, resp.HalfLifeDays, 1e-9)
	derived.AssertExpectations(t)
}

func TestAnalyticsService_ComputeSegmentLift_SavesLabeledStat(t *testing.T) {
	eventLog := new(MockEventLog)
	derived := new(MockDerivedStore)
	svc := newAnalyticsFixture(eventLog, derived, new(MockTouchpointSource))

	q := &dto.LiftQueryRequest{
		SegmentKey:   "age=25-34",
		CampaignFrom: analyticsBase.Add(-7 * 24 * time.Hour).Unix(),
		CampaignTo:   analyticsBase.Unix(),
		BaselineFrom: analyticsBase.Add(-37 * 24 * time.Hour).Unix(),
		BaselineTo:   analyticsBase.Add(-7 * 24 * time.Hour).Unix(),
	}

	eventLog.On("SegmentObservation", mock.Anything, "tenant1", "", "age=25-34", mock.Anything, mock.Anything).
		Return(lift.Observation{Conversions: 1, Impressions: 20}, nil)
	eventLog.On("SegmentObservation", mock.Anything, "tenant1", "campaign1", "age=25-34", mock.Anything, mock.Anything).
		Return(lift.Observation{Conversions: 8, Impressions: 20}, nil)

	// Undersized sample: the stat is still persisted, labeled not significant.
	derived.On("SaveSegmentStat", mock.Anything, mock.MatchedBy(func(stat *domain.DemographicSegmentStat) bool {
		return !stat.Significant && stat.SampleSize == 40
	})).Return(nil)

	resp, err := svc.ComputeSegmentLift(context.Background(), "tenant1", "campaign1", q)

	require.NoError(t, err)
	assert.False(t, resp.Significant)
	assert.Equal(t, 40, resp.SampleSize)
	assert.Greater(t, resp.Lift, 0.0)
	derived.AssertExpectations(t)
}

func TestAnalyticsService_GetFinancials_InvalidModelFilter(t *testing.T) {
	svc := newAnalyticsFixture(new(MockEventLog), new(MockDerivedStore), new(MockTouchpointSource))

	rows, err := svc.GetFinancials(context.Background(), "tenant1", "campaign1", "median_touch")

	assert.Nil(t, rows)
	var invalid *domain.InvalidModelError
	assert.ErrorAs(t, err, &invalid)
}

func TestReattributionRunner_RunTenant_ContinuesPastFailures(t *testing.T) {
	eventLog := new(MockEventLog)
	derived := new(MockDerivedStore)
	source := new(MockTouchpointSource)
	svc := newAnalyticsFixture(eventLog, derived, source)
	runner := NewReattributionRunner(svc, derived, zap.NewNop())

	derived.On("ListCampaigns", mock.Anything, "tenant1").Return([]string{"bad", "good"}, nil)

	derived.On("GetSettings", mock.Anything, "tenant1", "bad").Return(nil, assert.AnError)

	settings := &domain.CampaignSettings{
		TenantID: "tenant1", CampaignID: "good", Model: domain.ModelLastTouch, WindowDays: 30, Cost: 100,
	}
	derived.On("GetSettings", mock.Anything, "tenant1", "good").Return(settings, nil)
	eventLog.On("Conversions", mock.Anything, "tenant1", "good", mock.Anything, mock.Anything).
		Return([]*domain.CanonicalEvent{}, nil)
	derived.On("ReplaceResults", mock.Anything, "tenant1", "good", domain.ModelLastTouch, mock.Anything).Return(nil)
	derived.On("SaveFinancials", mock.Anything, mock.Anything).Return(nil)

	err := runner.RunTenant(context.Background(), "tenant1")

	require.NoError(t, err)
	derived.AssertCalled(t, "ReplaceResults", mock.Anything, "tenant1", "good", domain.ModelLastTouch, mock.Anything)
}

func TestReattributionRunner_RunTenant_StopsOnCancel(t *testing.T) {
	derived := new(MockDerivedStore)
	svc := newAnalyticsFixture(new(MockEventLog), derived, new(MockTouchpointSource))
	runner := NewReattributionRunner(svc, derived, zap.NewNop())

	derived.On("ListCampaigns", mock.Anything, "tenant1").Return([]string{"c1", "c2"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runner.RunTenant(ctx, "tenant1")

	assert.ErrorIs(t, err, context.Canceled)
	derived.AssertNotCalled(t, "GetSettings")
}

func TestAnalyticsService_ListSegmentLifts_ReturnsStoredStats(t *testing.T) {
	derived := new(MockDerivedStore)
	svc := newAnalyticsFixture(new(MockEventLog), derived, new(MockTouchpointSource))

	stats := []*domain.DemographicSegmentStat{
		{
			TenantID:    "tenant1",
			CampaignID:  "campaign1",
			SegmentKey:  "age=25-34",
			Lift:        0.02,
			PValue:      0.01,
			SampleSize:  5000,
			Significant: true,
			ComputedAt:  analyticsBase,
		},
		{
			TenantID:    "tenant1",
			CampaignID:  "campaign1",
			SegmentKey:  "gender=f",
			Lift:        0.001,
			PValue:      0.4,
			SampleSize:  40,
			Significant: false,
			ComputedAt:  analyticsBase,
		},
	}
	derived.On("SegmentStatsForCampaign", mock.Anything, "tenant1", "campaign1").Return(stats, nil)

	rows, err := svc.ListSegmentLifts(context.Background(), "tenant1", "campaign1")

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "age=25-34", rows[0].SegmentKey)
	assert.True(t, rows[0].Significant)
	// Non-significant stats are listed and labeled, never hidden.
	assert.False(t, rows[1].Significant)
	assert.Equal(t, analyticsBase.Unix(), rows[1].ComputedAt)
}

func TestAnalyticsService_GetAttributionResults_DefaultsToConfiguredModel(t *testing.T) {
	derived := new(MockDerivedStore)
	svc := newAnalyticsFixture(new(MockEventLog), derived, new(MockTouchpointSource))

	settings := &domain.CampaignSettings{
		TenantID:   "tenant1",
		CampaignID: "campaign1",
		Model:      domain.ModelLinear,
		WindowDays: 30,
	}
	results := []*domain.AttributionResult{{
		PathID:     "path1",
		TenantID:   "tenant1",
		CampaignID: "campaign1",
		Model:      domain.ModelLinear,
		Credits: []domain.Credit{
			{EventID: "imp1", Fraction: 0.5, AttributedValue: 50},
			{EventID: "click1", Fraction: 0.5, AttributedValue: 50},
		},
		ComputedAt: analyticsBase,
	}}
	derived.On("GetSettings", mock.Anything, "tenant1", "campaign1").Return(settings, nil)
	derived.On("ResultsForCampaign", mock.Anything, "tenant1", "campaign1", domain.ModelLinear).Return(results, nil)

	rows, err := svc.GetAttributionResults(context.Background(), "tenant1", "campaign1", "")

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "linear", rows[0].Model)
	require.Len(t, rows[0].Credits, 2)
	assert.InDelta(t, 0.5, rows[0].Credits[0].Fraction, 1e-9)
}

func TestAnalyticsService_GetAttributionResults_InvalidModel(t *testing.T) {
	derived := new(MockDerivedStore)
	svc := newAnalyticsFixture(new(MockEventLog), derived, new(MockTouchpointSource))

	_, err := svc.GetAttributionResults(context.Background(), "tenant1", "campaign1", "markov_chain")

	var invalid *domain.InvalidModelError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "markov_chain", invalid.Model)
	derived.AssertNotCalled(t, "ResultsForCampaign")
}
