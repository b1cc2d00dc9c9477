package normalizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// MockDeduper is a mock implementation of Deduper
type MockDeduper struct {
	mock.Mock
}

func (m *MockDeduper) Reserve(ctx context.Context, tenantID string, source domain.EventSource, key string) (bool, error) {
	args := m.Called(ctx, tenantID, source, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeduper) Release(ctx context.Context, tenantID string, source domain.EventSource, key string) error {
	args := m.Called(ctx, tenantID, source, key)
	return args.Error(0)
}

const testTimestamp int64 = 1766702551

func newTestNormalizer(dedup *MockDeduper) *Normalizer {
	return New(dedup, zap.NewNop())
}

func allowAll(dedup *MockDeduper) {
	dedup.On("Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
}

func TestNormalize_Promo(t *testing.T) {
	dedup := new(MockDeduper)
	allowAll(dedup)
	n := newTestNormalizer(dedup)

	value := 49.99
	payload, _ := json.Marshal(PromoRedemption{
		PromoCode:        "PODSAVE20",
		CampaignID:       "campaign1",
		PodcastID:        "podcast1",
		Timestamp:        testTimestamp,
		ConversionValue:  &value,
		Currency:         "USD",
		EmailHash:        "hash1",
		ExternalDedupKey: "order-789",
	})

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourcePromoCode, payload)

	require.NoError(t, err)
	assert.Equal(t, domain.KindConversion, event.Kind)
	assert.Equal(t, domain.SourcePromoCode, event.Source)
	assert.Equal(t, "order-789", event.DedupKey)
	assert.True(t, event.Monetized)
	assert.InDelta(t, 49.99, event.Value, 1e-9)
	assert.Equal(t, "hash1", event.Hints.EmailHash)
	assert.Equal(t, time.Unix(testTimestamp, 0).UTC(), event.Timestamp)
	assert.NotEmpty(t, event.EventID)
}

func TestNormalize_DeterministicEventID(t *testing.T) {
	dedup := new(MockDeduper)
	allowAll(dedup)
	n := newTestNormalizer(dedup)

	payload, _ := json.Marshal(DirectConversion{
		CampaignID:     "campaign1",
		TrackingID:     "trk-1",
		Timestamp:      testTimestamp,
		ConversionType: "purchase",
	})

	first, err := n.Normalize(context.Background(), "tenant1", domain.SourceDirectAPI, payload)
	require.NoError(t, err)
	second, err := n.Normalize(context.Background(), "tenant1", domain.SourceDirectAPI, payload)
	require.NoError(t, err)

	assert.Equal(t, first.EventID, second.EventID)

	other, err := n.Normalize(context.Background(), "tenant2", domain.SourceDirectAPI, payload)
	require.NoError(t, err)
	assert.NotEqual(t, first.EventID, other.EventID)
}

func TestNormalize_PixelWithUTMBecomesClick(t *testing.T) {
	dedup := new(MockDeduper)
	allowAll(dedup)
	n := newTestNormalizer(dedup)

	payload, _ := json.Marshal(PixelFire{
		CampaignID:       "campaign1",
		PixelID:          "px1",
		Timestamp:        testTimestamp,
		UTMSource:        "newsletter",
		IP:               "203.0.113.7",
		UserAgent:        "Mozilla/5.0",
		ExternalDedupKey: "fire-1",
	})

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourcePixel, payload)

	require.NoError(t, err)
	assert.Equal(t, domain.SourceUTM, event.Source)
	assert.Equal(t, domain.KindClick, event.Kind)
	assert.Equal(t, "203.0.113.7", event.Hints.IP)
}

func TestNormalize_PixelWithoutUTMIsImpression(t *testing.T) {
	dedup := new(MockDeduper)
	allowAll(dedup)
	n := newTestNormalizer(dedup)

	payload, _ := json.Marshal(PixelFire{
		CampaignID:       "campaign1",
		PixelID:          "px1",
		Timestamp:        testTimestamp,
		IP:               "203.0.113.7",
		UserAgent:        "Mozilla/5.0",
		ExternalDedupKey: "fire-2",
	})

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourcePixel, payload)

	require.NoError(t, err)
	assert.Equal(t, domain.SourcePixel, event.Source)
	assert.Equal(t, domain.KindImpression, event.Kind)
}

func TestNormalize_MissingCampaign(t *testing.T) {
	dedup := new(MockDeduper)
	n := newTestNormalizer(dedup)

	payload, _ := json.Marshal(PromoRedemption{
		PromoCode:        "CODE",
		Timestamp:        testTimestamp,
		ExternalDedupKey: "k1",
	})

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourcePromoCode, payload)

	assert.Nil(t, event)
	var malformed *domain.MalformedEventError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Reason, "campaign_id")
	dedup.AssertNotCalled(t, "Reserve")
}

func TestNormalize_Duplicate(t *testing.T) {
	dedup := new(MockDeduper)
	dedup.On("Reserve", mock.Anything, "tenant1", domain.SourceDirectAPI, "trk-1").Return(false, nil)
	n := newTestNormalizer(dedup)

	payload, _ := json.Marshal(DirectConversion{
		CampaignID:     "campaign1",
		TrackingID:     "trk-1",
		Timestamp:      testTimestamp,
		ConversionType: "purchase",
	})

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourceDirectAPI, payload)

	assert.Nil(t, event)
	var duplicate *domain.DuplicateEventError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, "trk-1", duplicate.DedupKey)
}

func TestNormalize_UnknownSource(t *testing.T) {
	dedup := new(MockDeduper)
	n := newTestNormalizer(dedup)

	event, err := n.Normalize(context.Background(), "tenant1", domain.EventSource("carrier_pigeon"), []byte(`{}`))

	assert.Nil(t, event)
	var unknown *domain.UnknownSourceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "carrier_pigeon", unknown.Source)
}

func TestNormalize_OfflineImportDateBecomesNoonUTC(t *testing.T) {
	dedup := new(MockDeduper)
	allowAll(dedup)
	n := newTestNormalizer(dedup)

	payload, _ := json.Marshal(OfflineConversion{
		CampaignID:      "campaign1",
		ConversionDate:  "2026-02-14",
		ConversionValue: 25,
		CustomerID:      "cust1",
		ImportBatchID:   "batch-7",
		RowIndex:        3,
	})

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourceOfflineImport, payload)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, "batch-7:3", event.DedupKey)
	assert.Equal(t, "cust1", event.Hints.UserID)
}

func TestNormalize_OfflineImportBadDate(t *testing.T) {
	dedup := new(MockDeduper)
	n := newTestNormalizer(dedup)

	payload, _ := json.Marshal(OfflineConversion{
		CampaignID:     "campaign1",
		ConversionDate: "14/02/2026",
		ImportBatchID:  "batch-7",
	})

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourceOfflineImport, payload)

	assert.Nil(t, event)
	var malformed *domain.MalformedEventError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Reason, "conversion_date")
}

func TestNormalize_MalformedJSON(t *testing.T) {
	dedup := new(MockDeduper)
	n := newTestNormalizer(dedup)

	event, err := n.Normalize(context.Background(), "tenant1", domain.SourcePromoCode, []byte(`{not json`))

	assert.Nil(t, event)
	var malformed *domain.MalformedEventError
	require.ErrorAs(t, err, &malformed)
}
