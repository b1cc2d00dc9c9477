package postgres

import (
	"time"

	"gorm.io/datatypes"
)

// IdentityModel is a unified identity row. Identities are never deleted:
// a merged-away identity keeps its row with MergedInto pointing at the
// survivor, preserving an auditable merge trail.
type IdentityModel struct {
	IdentityID   string `gorm:"primaryKey;size:64"`
	TenantID     string `gorm:"size:64;index:idx_identities_tenant"`
	Tier         string `gorm:"size:16"`
	Hints        datatypes.JSON
	MergedInto   *string `gorm:"size:64;index:idx_identities_merged_into"`
	LastActiveAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (IdentityModel) TableName() string { return "identities" }

// IdentityHintModel indexes a single hint value to the identity carrying it,
// the lookup path for candidate retrieval. The unique index doubles as the
// idempotence guarantee for re-binding the same hint.
type IdentityHintModel struct {
	ID         uint   `gorm:"primaryKey"`
	TenantID   string `gorm:"size:64;uniqueIndex:ux_hint,priority:1"`
	HintType   string `gorm:"size:16;uniqueIndex:ux_hint,priority:2"`
	HintValue  string `gorm:"size:256;uniqueIndex:ux_hint,priority:3"`
	IdentityID string `gorm:"size:64;uniqueIndex:ux_hint,priority:4;index:idx_hints_identity"`
	CreatedAt  time.Time
}

func (IdentityHintModel) TableName() string { return "identity_hints" }

// EventBindingModel records which identity an event resolved to,
// denormalizing the fields path building filters on so a path query never
// touches the raw log.
type EventBindingModel struct {
	EventID    string `gorm:"primaryKey;size:64"`
	TenantID   string `gorm:"size:64;index:idx_bindings_tenant"`
	IdentityID string `gorm:"size:64;index:idx_bindings_identity"`
	CampaignID string `gorm:"size:64;index:idx_bindings_campaign"`
	Kind       string `gorm:"size:16"`
	Timestamp  time.Time `gorm:"index:idx_bindings_ts"`
	CreatedAt  time.Time
}

func (EventBindingModel) TableName() string { return "event_bindings" }

// CampaignSettingsModel holds the per-campaign attribution inputs owned by
// the campaign-management collaborator.
type CampaignSettingsModel struct {
	TenantID     string `gorm:"primaryKey;size:64"`
	CampaignID   string `gorm:"primaryKey;size:64"`
	Model        string `gorm:"size:32"`
	WindowDays   int
	HalfLifeSecs int64
	Cost         float64
	Currency     string `gorm:"size:8"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (CampaignSettingsModel) TableName() string { return "campaign_settings" }

// AttributionResultModel stores one model's crediting of one path. Credits
// are a JSONB list; the row is immutable once written and replaced wholesale
// on re-attribution.
type AttributionResultModel struct {
	PathID        string `gorm:"primaryKey;size:64"`
	Model         string `gorm:"primaryKey;size:32"`
	TenantID      string `gorm:"size:64;index:idx_results_tenant"`
	CampaignID    string `gorm:"size:64;index:idx_results_campaign"`
	Credits       datatypes.JSON
	LowConfidence bool
	ComputedAt    time.Time `gorm:"index:idx_results_computed"`
}

func (AttributionResultModel) TableName() string { return "attribution_results" }

// CampaignFinancialsModel is the derived ROI row, keyed by campaign and the
// model that produced it. Model outputs are never mixed in one row.
type CampaignFinancialsModel struct {
	TenantID             string `gorm:"primaryKey;size:64"`
	CampaignID           string `gorm:"primaryKey;size:64"`
	Model                string `gorm:"primaryKey;size:32"`
	Cost                 float64
	AttributedValueTotal float64
	ROIPercentage        float64
	ROAS                 float64
	IntervalLower        float64
	IntervalUpper        float64
	ConversionCount      int
	LowConfidenceCount   int
	UndefinedROI         bool
	ComputedAt           time.Time
}

func (CampaignFinancialsModel) TableName() string { return "campaign_financials" }

// SegmentStatModel is one demographic segment's lift for one campaign.
type SegmentStatModel struct {
	TenantID       string `gorm:"primaryKey;size:64"`
	CampaignID     string `gorm:"primaryKey;size:64"`
	SegmentKey     string `gorm:"primaryKey;size:128"`
	BaselineRate   float64
	CampaignRate   float64
	Lift           float64
	LiftPercentage float64
	PValue         float64
	SampleSize     int
	Significant    bool
	ComputedAt     time.Time
}

func (SegmentStatModel) TableName() string { return "segment_stats" }
