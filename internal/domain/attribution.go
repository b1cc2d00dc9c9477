package domain

import "time"

// ModelType selects the crediting rule applied to an attribution path.
type ModelType string

const (
	ModelFirstTouch    ModelType = "first_touch"
	ModelLastTouch     ModelType = "last_touch"
	ModelLinear        ModelType = "linear"
	ModelTimeDecay     ModelType = "time_decay"
	ModelPositionBased ModelType = "position_based"
)

// ValidModel reports whether m names a supported attribution model.
func ValidModel(m ModelType) bool {
	switch m {
	case ModelFirstTouch, ModelLastTouch, ModelLinear, ModelTimeDecay, ModelPositionBased:
		return true
	}
	return false
}

// Touchpoint is one ordered entry in an attribution path.
type Touchpoint struct {
	EventID   string
	Timestamp time.Time
	Kind      EventKind
}

// AttributionPath is the ordered touchpoint sequence for one converted
// identity and one campaign, ending at the conversion event. The path is
// never empty: a conversion with no prior touchpoints is a path of one.
type AttributionPath struct {
	PathID          string
	TenantID        string
	IdentityID      string
	CampaignID      string
	Touchpoints     []Touchpoint
	Conversion      Touchpoint
	ConversionValue float64
	Monetized       bool
	WindowDays      int
}

// Len counts the path entries including the conversion itself.
func (p *AttributionPath) Len() int {
	return len(p.Touchpoints) + 1
}

// SelfAttributing reports whether the path holds only the conversion event.
func (p *AttributionPath) SelfAttributing() bool {
	return len(p.Touchpoints) == 0
}

// Credit assigns one touchpoint its fraction of a conversion's value.
type Credit struct {
	EventID         string
	Fraction        float64
	AttributedValue float64
}

// AttributionResult is the output of applying one model to one path.
// Credit fractions sum to 1.0 within floating tolerance.
type AttributionResult struct {
	PathID        string
	TenantID      string
	CampaignID    string
	Model         ModelType
	Credits       []Credit
	LowConfidence bool
	ComputedAt    time.Time
}

// TotalAttributed sums the value credited across all touchpoints.
func (r *AttributionResult) TotalAttributed() float64 {
	var total float64
	for _, c := range r.Credits {
		total += c.AttributedValue
	}
	return total
}
