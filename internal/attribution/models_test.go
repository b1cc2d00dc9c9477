package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testPath(value float64, offsets ...time.Duration) *domain.AttributionPath {
	path := &domain.AttributionPath{
		PathID:     "path1",
		TenantID:   "tenant1",
		CampaignID: "campaign1",
		Conversion: domain.Touchpoint{
			EventID:   "conv",
			Timestamp: testBase,
			Kind:      domain.KindConversion,
		},
		ConversionValue: value,
		Monetized:       value > 0,
		WindowDays:      30,
	}
	for i, off := range offsets {
		path.Touchpoints = append(path.Touchpoints, domain.Touchpoint{
			EventID:   "tp" + string(rune('a'+i)),
			Timestamp: testBase.Add(-off),
			Kind:      domain.KindClick,
		})
	}
	return path
}

func TestApply_Linear_TwoTouchpoints(t *testing.T) {
	path := testPath(100, 48*time.Hour, 24*time.Hour)

	result, err := Apply(path, domain.ModelLinear, Params{})

	require.NoError(t, err)
	require.Len(t, result.Credits, 2)
	assert.InDelta(t, 50.0, result.Credits[0].AttributedValue, 1e-9)
	assert.InDelta(t, 50.0, result.Credits[1].AttributedValue, 1e-9)
	assert.False(t, result.LowConfidence)
}

func TestApply_FirstTouch(t *testing.T) {
	path := testPath(100, 72*time.Hour, 24*time.Hour)

	result, err := Apply(path, domain.ModelFirstTouch, Params{})

	require.NoError(t, err)
	assert.Equal(t, "tpa", result.Credits[0].EventID)
	assert.InDelta(t, 100.0, result.Credits[0].AttributedValue, 1e-9)
	assert.InDelta(t, 0.0, result.Credits[1].AttributedValue, 1e-9)
}

func TestApply_LastTouch(t *testing.T) {
	path := testPath(100, 72*time.Hour, 24*time.Hour)

	result, err := Apply(path, domain.ModelLastTouch, Params{})

	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.Credits[0].AttributedValue, 1e-9)
	assert.InDelta(t, 100.0, result.Credits[1].AttributedValue, 1e-9)
}

func TestApply_PositionBased_TwoTouchpointsRenormalize(t *testing.T) {
	path := testPath(100, 48*time.Hour, 24*time.Hour)

	result, err := Apply(path, domain.ModelPositionBased, Params{})

	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.Credits[0].Fraction, 1e-9)
	assert.InDelta(t, 0.5, result.Credits[1].Fraction, 1e-9)
}

func TestApply_PositionBased_MiddleSplit(t *testing.T) {
	path := testPath(100, 96*time.Hour, 72*time.Hour, 48*time.Hour, 24*time.Hour)

	result, err := Apply(path, domain.ModelPositionBased, Params{})

	require.NoError(t, err)
	require.Len(t, result.Credits, 4)
	assert.InDelta(t, 0.4, result.Credits[0].Fraction, 1e-9)
	assert.InDelta(t, 0.1, result.Credits[1].Fraction, 1e-9)
	assert.InDelta(t, 0.1, result.Credits[2].Fraction, 1e-9)
	assert.InDelta(t, 0.4, result.Credits[3].Fraction, 1e-9)
}

func TestApply_TimeDecay_RecentTouchpointsWeighMore(t *testing.T) {
	path := testPath(100, 14*24*time.Hour, 24*time.Hour)

	result, err := Apply(path, domain.ModelTimeDecay, Params{HalfLife: 7 * 24 * time.Hour})

	require.NoError(t, err)
	assert.Greater(t, result.Credits[1].Fraction, result.Credits[0].Fraction)
}

func TestApply_FractionsSumToOne(t *testing.T) {
	models := []domain.ModelType{
		domain.ModelFirstTouch,
		domain.ModelLastTouch,
		domain.ModelLinear,
		domain.ModelTimeDecay,
		domain.ModelPositionBased,
	}

	path := testPath(250, 120*time.Hour, 96*time.Hour, 72*time.Hour, 48*time.Hour, 24*time.Hour)
	for _, model := range models {
		result, err := Apply(path, model, Params{})
		require.NoError(t, err)

		var sum float64
		for _, c := range result.Credits {
			sum += c.Fraction
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "model %s", model)
		assert.InDelta(t, 250.0, result.TotalAttributed(), 1e-6, "model %s", model)
	}
}

func TestApply_SelfAttribution_LowConfidence(t *testing.T) {
	path := testPath(100)

	result, err := Apply(path, domain.ModelLinear, Params{})

	require.NoError(t, err)
	assert.True(t, result.LowConfidence)
	require.Len(t, result.Credits, 1)
	assert.Equal(t, "conv", result.Credits[0].EventID)
	assert.InDelta(t, 100.0, result.Credits[0].AttributedValue, 1e-9)
}

func TestApply_NonMonetizedConversion_ZeroValue(t *testing.T) {
	path := testPath(0, 24*time.Hour)

	result, err := Apply(path, domain.ModelLinear, Params{})

	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Credits[0].Fraction, 1e-9)
	assert.InDelta(t, 0.0, result.TotalAttributed(), 1e-9)
}

func TestApply_UnknownModel(t *testing.T) {
	path := testPath(100, 24*time.Hour)

	result, err := Apply(path, domain.ModelType("markov_chain"), Params{})

	assert.Nil(t, result)
	var invalid *domain.InvalidModelError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, "markov_chain", invalid.Model)
}
