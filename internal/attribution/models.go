package attribution

import (
	"math"
	"time"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// DefaultHalfLife is the time-decay half-life used when none is configured.
const DefaultHalfLife = 7 * 24 * time.Hour

// Params tunes the crediting models.
type Params struct {
	HalfLife time.Duration
}

// Apply distributes one conversion's credit across the path's touchpoints
// under the given model. It is a pure function of (path, model, params):
// nothing is read or written, so runs are parallelizable across campaigns.
//
// A path holding only the conversion event self-attributes 100% under every
// model and is flagged low-confidence for reporting. Unrecognized models fail
// with InvalidModelError; there is no silent default.
func Apply(path *domain.AttributionPath, model domain.ModelType, params Params) (*domain.AttributionResult, error) {
	if !domain.ValidModel(model) {
		return nil, &domain.InvalidModelError{Model: string(model)}
	}

	result := &domain.AttributionResult{
		PathID:     path.PathID,
		TenantID:   path.TenantID,
		CampaignID: path.CampaignID,
		Model:      model,
		ComputedAt: time.Now().UTC(),
	}

	if path.SelfAttributing() {
		result.LowConfidence = true
		result.Credits = []domain.Credit{{
			EventID:         path.Conversion.EventID,
			Fraction:        1,
			AttributedValue: path.ConversionValue,
		}}
		return result, nil
	}

	fractions := make([]float64, len(path.Touchpoints))
	switch model {
	case domain.ModelFirstTouch:
		fractions[0] = 1
	case domain.ModelLastTouch:
		fractions[len(fractions)-1] = 1
	case domain.ModelLinear:
		share := 1 / float64(len(fractions))
		for i := range fractions {
			fractions[i] = share
		}
	case domain.ModelTimeDecay:
		timeDecay(path, params.HalfLife, fractions)
	case domain.ModelPositionBased:
		positionBased(fractions)
	}

	result.Credits = make([]domain.Credit, len(fractions))
	for i, tp := range path.Touchpoints {
		result.Credits[i] = domain.Credit{
			EventID:         tp.EventID,
			Fraction:        fractions[i],
			AttributedValue: fractions[i] * path.ConversionValue,
		}
	}
	return result, nil
}

// timeDecay weights each touchpoint by 2^(-Δt/halfLife), Δt measured from
// touchpoint to conversion, then normalizes to sum 1.
func timeDecay(path *domain.AttributionPath, halfLife time.Duration, fractions []float64) {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}

	var total float64
	for i, tp := range path.Touchpoints {
		delta := path.Conversion.Timestamp.Sub(tp.Timestamp)
		weight := math.Exp2(-float64(delta) / float64(halfLife))
		fractions[i] = weight
		total += weight
	}
	for i := range fractions {
		fractions[i] /= total
	}
}

// positionBased assigns 40% to the first and 40% to the last touchpoint with
// the remaining 20% split evenly across the middle. Two touchpoints
// renormalize to 50/50; one touchpoint takes everything.
func positionBased(fractions []float64) {
	switch n := len(fractions); {
	case n == 1:
		fractions[0] = 1
	case n == 2:
		fractions[0] = 0.5
		fractions[1] = 0.5
	default:
		fractions[0] = 0.4
		fractions[n-1] = 0.4
		middle := 0.2 / float64(n-2)
		for i := 1; i < n-1; i++ {
			fractions[i] = middle
		}
	}
}
