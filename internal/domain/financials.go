package domain

import "time"

// CampaignSettings are the per-campaign attribution inputs owned by the
// campaign-management collaborator: which model to run, how far back to look,
// and what the sponsorship cost was.
type CampaignSettings struct {
	TenantID   string
	CampaignID string
	Model      ModelType
	WindowDays int
	HalfLife   time.Duration
	Cost       float64
	Currency   string
}

// ConfidenceInterval is a bootstrap 95% interval on attributed value.
type ConfidenceInterval struct {
	Lower float64
	Upper float64
}

// CampaignFinancials is derived and recomputable, never hand-edited. Every
// row names the model that produced it: model outputs are never mixed.
type CampaignFinancials struct {
	TenantID             string
	CampaignID           string
	Model                ModelType
	Cost                 float64
	AttributedValueTotal float64
	ROIPercentage        float64
	ROAS                 float64
	Interval             ConfidenceInterval
	ConversionCount      int
	LowConfidenceCount   int
	UndefinedROI         bool
	ComputedAt           time.Time
}

// DemographicSegmentStat is one segment's lift for one campaign. Rows are
// always reported; non-significant results are labeled, never hidden.
type DemographicSegmentStat struct {
	TenantID       string
	CampaignID     string
	SegmentKey     string
	BaselineRate   float64
	CampaignRate   float64
	Lift           float64
	LiftPercentage float64
	PValue         float64
	SampleSize     int
	Significant    bool
	ComputedAt     time.Time
}
