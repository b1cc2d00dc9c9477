package lift

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

const (
	// MinSampleSize is the combined observation floor below which no lift
	// result may claim significance.
	MinSampleSize = 100
	// Alpha is the significance level for the chi-square test.
	Alpha = 0.05
)

// Observation is one segment's conversion funnel over a window.
type Observation struct {
	Conversions int64
	Impressions int64
}

// Rate returns conversions per impression.
func (o Observation) Rate() float64 {
	if o.Impressions == 0 {
		return 0
	}
	return float64(o.Conversions) / float64(o.Impressions)
}

// Analyzer measures a segment's conversion-rate lift during a campaign
// against its baseline, with a chi-square significance test. Results are
// always produced and labeled; non-significant ones are never hidden.
type Analyzer struct {
	log *zap.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(log *zap.Logger) *Analyzer {
	return &Analyzer{log: log}
}

// Analyze compares campaign-period and baseline conversion rates for one
// segment. A combined sample under MinSampleSize yields the stat with
// significant=false and an InsufficientSampleError the caller can surface.
func (a *Analyzer) Analyze(tenantID, campaignID, segmentKey string, baseline, campaign Observation) (*domain.DemographicSegmentStat, error) {
	if baseline.Impressions < baseline.Conversions || campaign.Impressions < campaign.Conversions {
		return nil, fmt.Errorf("segment %s: conversions exceed impressions", segmentKey)
	}

	baselineRate := baseline.Rate()
	campaignRate := campaign.Rate()
	liftValue := campaignRate - baselineRate

	stat := &domain.DemographicSegmentStat{
		TenantID:     tenantID,
		CampaignID:   campaignID,
		SegmentKey:   segmentKey,
		BaselineRate: baselineRate,
		CampaignRate: campaignRate,
		Lift:         liftValue,
		PValue:       1,
		SampleSize:   int(baseline.Impressions + campaign.Impressions),
		ComputedAt:   time.Now().UTC(),
	}
	if baselineRate > 0 {
		stat.LiftPercentage = liftValue / baselineRate * 100
	}

	stat.PValue = chiSquareP(baseline, campaign)
	stat.Significant = stat.PValue < Alpha && stat.SampleSize >= MinSampleSize

	if stat.SampleSize < MinSampleSize {
		return stat, &domain.InsufficientSampleError{
			SegmentKey: segmentKey,
			SampleSize: stat.SampleSize,
			Minimum:    MinSampleSize,
		}
	}
	return stat, nil
}

// chiSquareP runs a 2x2 chi-square test of the two conversion proportions
// with Yates continuity correction, returning the p-value.
func chiSquareP(baseline, campaign Observation) float64 {
	a := float64(campaign.Conversions)
	b := float64(campaign.Impressions - campaign.Conversions)
	c := float64(baseline.Conversions)
	d := float64(baseline.Impressions - baseline.Conversions)
	n := a + b + c + d

	if n == 0 {
		return 1
	}
	denom := (a + b) * (c + d) * (a + c) * (b + d)
	if denom == 0 {
		return 1
	}

	diff := math.Abs(a*d-b*c) - n/2
	if diff < 0 {
		diff = 0
	}
	chi2 := n * diff * diff / denom

	return distuv.ChiSquared{K: 1}.Survival(chi2)
}
