package dto

// ErrorResponse is the envelope for every non-2xx body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SignalAcceptedResponse acknowledges an accepted signal.
type SignalAcceptedResponse struct {
	Status string `json:"status"`
	Source string `json:"source"`
}

// OfflineRowError reports one rejected import row.
type OfflineRowError struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// OfflineImportResponse summarizes an offline import batch.
type OfflineImportResponse struct {
	ImportBatchID string            `json:"import_batch_id"`
	Accepted      int               `json:"accepted"`
	Rejected      int               `json:"rejected"`
	Errors        []OfflineRowError `json:"errors,omitempty"`
}

// ConfidenceIntervalResponse is a two-sided 95% interval.
type ConfidenceIntervalResponse struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// FinancialsResponse reports campaign ROI under one attribution model.
type FinancialsResponse struct {
	CampaignID         string                     `json:"campaign_id"`
	Model              string                     `json:"model"`
	Cost               float64                    `json:"cost"`
	Currency           string                     `json:"currency"`
	AttributedValue    float64                    `json:"attributed_value"`
	ROIPercentage      float64                    `json:"roi_percentage"`
	ROAS               float64                    `json:"roas"`
	UndefinedROI       bool                       `json:"undefined_roi"`
	ConfidenceInterval ConfidenceIntervalResponse `json:"confidence_interval"`
	ConversionCount    int                        `json:"conversion_count"`
	LowConfidenceCount int                        `json:"low_confidence_count"`
	ComputedAt         int64                      `json:"computed_at"`
}

// CreditResponse is one touchpoint's share of a conversion's value.
type CreditResponse struct {
	EventID         string  `json:"event_id"`
	Fraction        float64 `json:"fraction"`
	AttributedValue float64 `json:"attributed_value"`
}

// AttributionResultResponse is one conversion path's crediting under the
// model that produced it.
type AttributionResultResponse struct {
	PathID        string           `json:"path_id"`
	CampaignID    string           `json:"campaign_id"`
	Model         string           `json:"model"`
	Credits       []CreditResponse `json:"credits"`
	LowConfidence bool             `json:"low_confidence_attribution"`
	ComputedAt    int64            `json:"computed_at"`
}

// SegmentLiftResponse reports one demographic segment's lift.
type SegmentLiftResponse struct {
	CampaignID     string  `json:"campaign_id"`
	SegmentKey     string  `json:"segment_key"`
	BaselineRate   float64 `json:"baseline_rate"`
	CampaignRate   float64 `json:"campaign_rate"`
	Lift           float64 `json:"lift"`
	LiftPercentage float64 `json:"lift_percentage"`
	PValue         float64 `json:"p_value"`
	SampleSize     int     `json:"sample_size"`
	Significant    bool    `json:"significant"`
	ComputedAt     int64   `json:"computed_at"`
}

// SettingsResponse echoes stored campaign attribution settings.
type SettingsResponse struct {
	CampaignID   string  `json:"campaign_id"`
	Model        string  `json:"model"`
	WindowDays   int     `json:"window_days"`
	HalfLifeDays float64 `json:"half_life_days"`
	Cost         float64 `json:"cost"`
	Currency     string  `json:"currency"`
}
