package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// Store persists identities and their event bindings. Implementations must
// return canonical identities from CandidatesByHints: an identity merged away
// is reported as its surviving winner.
type Store interface {
	CandidatesByHints(ctx context.Context, tenantID string, hints domain.IdentityHints) ([]*domain.UnifiedIdentity, error)
	SaveIdentity(ctx context.Context, identity *domain.UnifiedIdentity) error
	MergeInto(ctx context.Context, tenantID, loserID, winnerID string) error
	BindEvent(ctx context.Context, tenantID string, event *domain.CanonicalEvent, identityID string) error
	IdentityForEvent(ctx context.Context, tenantID, eventID string) (*domain.UnifiedIdentity, error)
}

// Weights are the additive match-scoring signals. These are heuristics: the
// defaults come straight from the platform's stated weighting and the
// threshold is a tunable, not a proven constant. Matches below the threshold
// stay separate identities and are only ever used for analytics.
type Weights struct {
	Deterministic float64
	IPUserAgent   float64
	Device        float64
	TimeClose     float64
	TimeNear      float64
	Geo           float64
	Threshold     float64
}

// DefaultWeights returns the platform's stated scoring defaults.
func DefaultWeights() Weights {
	return Weights{
		Deterministic: 100,
		IPUserAgent:   20,
		Device:        15,
		TimeClose:     10,
		TimeNear:      5,
		Geo:           5,
		Threshold:     50,
	}
}

// Resolver assigns each event to the unified identity it belongs to,
// creating or merging identities as the evidence demands. Score-and-merge
// for a hint cluster runs under a short-lived exclusive lock; concurrent
// events for unrelated clusters proceed in parallel.
type Resolver struct {
	store   Store
	locker  Locker
	weights Weights
	log     *zap.Logger

	mu sync.Mutex
	uf *UnionFind
}

// NewResolver creates a resolver.
func NewResolver(store Store, locker Locker, weights Weights, log *zap.Logger) *Resolver {
	return &Resolver{
		store:   store,
		locker:  locker,
		weights: weights,
		log:     log,
		uf:      NewUnionFind(),
	}
}

// Resolve returns the UnifiedIdentity the event belongs to, existing or
// newly created.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, event *domain.CanonicalEvent) (*domain.UnifiedIdentity, error) {
	hints := event.Hints

	release, err := r.locker.Acquire(ctx, LockKey(tenantID, []string{
		hints.UserID, hints.EmailHash, hints.DeviceID, hints.IP, hints.SessionID,
	}))
	if err != nil {
		return nil, err
	}
	defer release()

	candidates, err := r.store.CandidatesByHints(ctx, tenantID, hints)
	if err != nil {
		return nil, err
	}

	var (
		best          *domain.UnifiedIdentity
		bestScore     float64
		deterministic []*domain.UnifiedIdentity
	)
	for _, cand := range candidates {
		score, det := r.score(event, cand)
		if det {
			deterministic = append(deterministic, cand)
		}
		if score < r.weights.Threshold {
			continue
		}
		if score > bestScore || (score == bestScore && moreRecentlyActive(cand, best)) {
			best, bestScore = cand, score
		}
	}

	var winner *domain.UnifiedIdentity
	switch {
	case len(deterministic) > 0:
		// A deterministic signal wins outright. Multiple deterministic
		// candidates mean we have just proven them to be the same person.
		winner, err = r.mergeDeterministic(ctx, tenantID, deterministic)
		if err != nil {
			return nil, err
		}
	case best != nil:
		winner = best
	default:
		winner = &domain.UnifiedIdentity{
			IdentityID: uuid.NewString(),
			TenantID:   tenantID,
			CreatedAt:  event.Timestamp,
		}
		r.log.Debug("Created identity",
			zap.String("tenant_id", tenantID),
			zap.String("identity_id", winner.IdentityID))
	}

	winner.AbsorbHints(hints)
	winner.Touch(event.Timestamp)
	winner.Tier = raiseTier(winner.Tier, domain.TierForScore(bestScore, winner.HasDeterministicHint()))

	if err := r.store.SaveIdentity(ctx, winner); err != nil {
		return nil, err
	}
	if err := r.store.BindEvent(ctx, tenantID, event, winner.IdentityID); err != nil {
		return nil, err
	}
	return winner, nil
}

// mergeDeterministic folds all deterministically-matched candidates into one
// surviving identity. Union ordering is delegated to the disjoint-set so the
// outcome is independent of arrival order. A failed persist aborts the
// resolve; the union is idempotent, so a redelivered event replays it.
func (r *Resolver) mergeDeterministic(ctx context.Context, tenantID string, matched []*domain.UnifiedIdentity) (*domain.UnifiedIdentity, error) {
	r.mu.Lock()
	root := matched[0].IdentityID
	for _, cand := range matched[1:] {
		root = r.uf.Union(root, cand.IdentityID)
	}
	r.mu.Unlock()

	byID := make(map[string]*domain.UnifiedIdentity, len(matched))
	for _, cand := range matched {
		byID[cand.IdentityID] = cand
	}
	winner, ok := byID[root]
	if !ok {
		// Root predates this batch of candidates; keep the first as carrier.
		winner = matched[0]
	}

	for _, cand := range matched {
		if cand.IdentityID == winner.IdentityID {
			continue
		}
		for _, h := range cand.Hints {
			winner.AbsorbHints(h)
		}
		winner.Touch(cand.LastActiveAt)
		if err := r.store.MergeInto(ctx, tenantID, cand.IdentityID, winner.IdentityID); err != nil {
			return nil, fmt.Errorf("failed to persist identity merge %s into %s: %w",
				cand.IdentityID, winner.IdentityID, err)
		}
	}
	winner.Tier = domain.TierDeterministic
	return winner, nil
}

// score computes the additive match score of an event against one candidate.
func (r *Resolver) score(event *domain.CanonicalEvent, cand *domain.UnifiedIdentity) (float64, bool) {
	h := event.Hints
	var score float64
	var deterministic, fingerprint, device, geo bool

	for _, ch := range cand.Hints {
		if h.UserID != "" && h.UserID == ch.UserID {
			deterministic = true
		}
		if h.EmailHash != "" && h.EmailHash == ch.EmailHash {
			deterministic = true
		}
		if h.IP != "" && h.UserAgent != "" && h.IP == ch.IP && h.UserAgent == ch.UserAgent {
			fingerprint = true
		}
		if h.DeviceID != "" && h.DeviceID == ch.DeviceID {
			device = true
		}
		if coarseGeoMatch(h.IP, ch.IP) {
			geo = true
		}
	}

	if deterministic {
		return r.weights.Deterministic, true
	}
	if fingerprint {
		score += r.weights.IPUserAgent
	}
	if device {
		score += r.weights.Device
	}
	if geo {
		score += r.weights.Geo
	}

	gap := event.Timestamp.Sub(cand.LastActiveAt)
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap <= time.Hour:
		score += r.weights.TimeClose
	case gap <= 24*time.Hour:
		score += r.weights.TimeNear
	}

	return score, false
}

// coarseGeoMatch approximates shared coarse geography by comparing the first
// two IPv4 octets. The inbound shapes carry no country field, so this is the
// closest proxy available at ingest.
func coarseGeoMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	pa := strings.SplitN(a, ".", 3)
	pb := strings.SplitN(b, ".", 3)
	if len(pa) < 3 || len(pb) < 3 {
		return false
	}
	return pa[0] == pb[0] && pa[1] == pb[1]
}

func moreRecentlyActive(a, b *domain.UnifiedIdentity) bool {
	if b == nil {
		return true
	}
	return a.LastActiveAt.After(b.LastActiveAt)
}

var tierOrder = map[domain.ConfidenceTier]int{
	domain.TierLow:           0,
	domain.TierMedium:        1,
	domain.TierHigh:          2,
	domain.TierDeterministic: 3,
}

// raiseTier keeps the stronger of the existing and newly-observed tiers; new
// evidence never downgrades an identity.
func raiseTier(current, observed domain.ConfidenceTier) domain.ConfidenceTier {
	if current == "" {
		if observed == "" {
			return domain.TierLow
		}
		return observed
	}
	if tierOrder[observed] > tierOrder[current] {
		return observed
	}
	return current
}
