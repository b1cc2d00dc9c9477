package domain

import "time"

// ConfidenceTier buckets how reliable an identity match is.
type ConfidenceTier string

const (
	TierDeterministic ConfidenceTier = "deterministic"
	TierHigh          ConfidenceTier = "high"
	TierMedium        ConfidenceTier = "medium"
	TierLow           ConfidenceTier = "low"
)

// TierForScore maps a match score to its confidence tier. A deterministic
// signal anywhere in the identity's history overrides the score bands.
func TierForScore(score float64, deterministic bool) ConfidenceTier {
	switch {
	case deterministic:
		return TierDeterministic
	case score >= 70:
		return TierHigh
	case score >= 50:
		return TierMedium
	default:
		return TierLow
	}
}

// UnifiedIdentity is a resolved cross-device journey. Identities are never
// deleted; when a deterministic signal later proves two identities are the
// same person they are merged, and the loser forwards to the winner.
type UnifiedIdentity struct {
	IdentityID   string
	TenantID     string
	Hints        []IdentityHints
	Tier         ConfidenceTier
	LastActiveAt time.Time
	CreatedAt    time.Time
}

// Touch records activity, keeping the most-recently-active tie-break honest.
func (id *UnifiedIdentity) Touch(at time.Time) {
	if at.After(id.LastActiveAt) {
		id.LastActiveAt = at
	}
}

// AbsorbHints merges another hint record into this identity's hint set,
// skipping exact duplicates.
func (id *UnifiedIdentity) AbsorbHints(h IdentityHints) {
	if h.Empty() {
		return
	}
	for _, existing := range id.Hints {
		if existing == h {
			return
		}
	}
	id.Hints = append(id.Hints, h)
}

// HasDeterministicHint reports whether any absorbed hint record carries an
// identity-level signal.
func (id *UnifiedIdentity) HasDeterministicHint() bool {
	for _, h := range id.Hints {
		if h.Deterministic() {
			return true
		}
	}
	return false
}
