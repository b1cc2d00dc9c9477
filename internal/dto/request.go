package dto

// PromoSignalRequest is an inbound promo-code redemption.
type PromoSignalRequest struct {
	PromoCode        string   `json:"promo_code" binding:"required"`
	CampaignID       string   `json:"campaign_id" binding:"required"`
	PodcastID        string   `json:"podcast_id,omitempty"`
	EpisodeID        string   `json:"episode_id,omitempty"`
	Timestamp        int64    `json:"timestamp" binding:"required"`
	ConversionValue  *float64 `json:"conversion_value,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	EmailHash        string   `json:"email_hash,omitempty"`
	ExternalDedupKey string   `json:"external_dedup_key" binding:"required"`
}

// PixelSignalRequest is an inbound tracking-pixel fire or UTM-tagged click.
type PixelSignalRequest struct {
	CampaignID       string `json:"campaign_id" binding:"required"`
	PodcastID        string `json:"podcast_id,omitempty"`
	EpisodeID        string `json:"episode_id,omitempty"`
	PixelID          string `json:"pixel_id" binding:"required"`
	Kind             string `json:"kind,omitempty"`
	Timestamp        int64  `json:"timestamp" binding:"required"`
	UTMSource        string `json:"utm_source,omitempty"`
	UTMMedium        string `json:"utm_medium,omitempty"`
	UTMCampaign      string `json:"utm_campaign,omitempty"`
	IP               string `json:"ip" binding:"required"`
	UserAgent        string `json:"user_agent" binding:"required"`
	SessionID        string `json:"session_id,omitempty"`
	DeviceID         string `json:"device_id,omitempty"`
	ExternalDedupKey string `json:"external_dedup_key" binding:"required"`
}

// ConversionSignalRequest is an inbound direct API conversion.
type ConversionSignalRequest struct {
	CampaignID      string  `json:"campaign_id" binding:"required"`
	PodcastID       string  `json:"podcast_id,omitempty"`
	EpisodeID       string  `json:"episode_id,omitempty"`
	TrackingID      string  `json:"tracking_id" binding:"required"`
	Timestamp       int64   `json:"timestamp" binding:"required"`
	ConversionType  string  `json:"conversion_type" binding:"required"`
	ConversionValue float64 `json:"conversion_value"`
	Currency        string  `json:"currency,omitempty"`
	UserID          string  `json:"user_id,omitempty"`
}

// OfflineRowRequest is one row of an offline conversion import.
type OfflineRowRequest struct {
	CampaignID      string  `json:"campaign_id" binding:"required"`
	PodcastID       string  `json:"podcast_id,omitempty"`
	ConversionDate  string  `json:"conversion_date" binding:"required"`
	ConversionValue float64 `json:"conversion_value"`
	Currency        string  `json:"currency,omitempty"`
	CustomerID      string  `json:"customer_id,omitempty"`
}

// OfflineImportRequest is an offline/in-store import batch.
type OfflineImportRequest struct {
	ImportBatchID string              `json:"import_batch_id" binding:"required"`
	Rows          []OfflineRowRequest `json:"rows" binding:"required,min=1,max=5000,dive"`
}

// AttributionSettingsRequest configures a campaign's attribution inputs.
type AttributionSettingsRequest struct {
	Model        string  `json:"model" binding:"required"`
	WindowDays   int     `json:"window_days"`
	HalfLifeDays float64 `json:"half_life_days"`
	Cost         float64 `json:"cost"`
	Currency     string  `json:"currency,omitempty"`
}

// LiftQueryRequest asks for one segment's lift over explicit windows.
type LiftQueryRequest struct {
	SegmentKey   string `form:"segment" binding:"required"`
	CampaignFrom int64  `form:"campaign_from" binding:"required"`
	CampaignTo   int64  `form:"campaign_to" binding:"required"`
	BaselineFrom int64  `form:"baseline_from" binding:"required"`
	BaselineTo   int64  `form:"baseline_to" binding:"required"`
}
