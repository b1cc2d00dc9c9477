package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// IdentityStore implements identity.Store and attribution.TouchpointSource
// on Postgres. Candidate retrieval always follows merge pointers so callers
// only ever see canonical identities.
type IdentityStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewIdentityStore creates the store.
func NewIdentityStore(db *gorm.DB, log *zap.Logger) *IdentityStore {
	return &IdentityStore{db: db, log: log}
}

type hintRef struct {
	hintType string
	value    string
}

func hintRefs(h domain.IdentityHints) []hintRef {
	refs := make([]hintRef, 0, 5)
	if h.UserID != "" {
		refs = append(refs, hintRef{"user_id", h.UserID})
	}
	if h.EmailHash != "" {
		refs = append(refs, hintRef{"email_hash", h.EmailHash})
	}
	if h.DeviceID != "" {
		refs = append(refs, hintRef{"device_id", h.DeviceID})
	}
	if h.SessionID != "" {
		refs = append(refs, hintRef{"session_id", h.SessionID})
	}
	if h.IP != "" {
		refs = append(refs, hintRef{"ip", h.IP})
	}
	return refs
}

// CandidatesByHints returns the canonical identities sharing at least one
// hint value with the given record.
func (s *IdentityStore) CandidatesByHints(ctx context.Context, tenantID string, hints domain.IdentityHints) ([]*domain.UnifiedIdentity, error) {
	refs := hintRefs(hints)
	if len(refs) == 0 {
		return nil, nil
	}

	query := s.db.WithContext(ctx).Where("1 = 0")
	for _, ref := range refs {
		query = query.Or(s.db.Where("tenant_id = ? AND hint_type = ? AND hint_value = ?", tenantID, ref.hintType, ref.value))
	}

	var rows []IdentityHintModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query hint index: %w", err)
	}

	seen := make(map[string]bool)
	var out []*domain.UnifiedIdentity
	for _, row := range rows {
		identity, err := s.loadCanonical(ctx, tenantID, row.IdentityID)
		if err != nil {
			return nil, err
		}
		if identity == nil || seen[identity.IdentityID] {
			continue
		}
		seen[identity.IdentityID] = true
		out = append(out, identity)
	}
	return out, nil
}

// loadCanonical loads an identity, chasing merge pointers to the survivor.
func (s *IdentityStore) loadCanonical(ctx context.Context, tenantID, identityID string) (*domain.UnifiedIdentity, error) {
	for {
		var model IdentityModel
		err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND identity_id = ?", tenantID, identityID).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load identity %s: %w", identityID, err)
		}
		if model.MergedInto == nil {
			return toDomainIdentity(&model)
		}
		identityID = *model.MergedInto
	}
}

// SaveIdentity upserts the identity row and refreshes its hint index.
func (s *IdentityStore) SaveIdentity(ctx context.Context, identity *domain.UnifiedIdentity) error {
	hintsJSON, err := json.Marshal(identity.Hints)
	if err != nil {
		return fmt.Errorf("failed to marshal hints: %w", err)
	}

	model := IdentityModel{
		IdentityID:   identity.IdentityID,
		TenantID:     identity.TenantID,
		Tier:         string(identity.Tier),
		Hints:        hintsJSON,
		LastActiveAt: identity.LastActiveAt,
		CreatedAt:    identity.CreatedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "hints", "last_active_at", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return fmt.Errorf("failed to upsert identity: %w", err)
		}

		for _, h := range identity.Hints {
			for _, ref := range hintRefs(h) {
				hint := IdentityHintModel{
					TenantID:   identity.TenantID,
					HintType:   ref.hintType,
					HintValue:  ref.value,
					IdentityID: identity.IdentityID,
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&hint).Error; err != nil {
					return fmt.Errorf("failed to index hint: %w", err)
				}
			}
		}
		return nil
	})
}

// MergeInto points the loser at the winner and repoints its hint index and
// event bindings. Re-running the same merge is a no-op.
func (s *IdentityStore) MergeInto(ctx context.Context, tenantID, loserID, winnerID string) error {
	if loserID == winnerID {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&IdentityModel{}).
			Where("tenant_id = ? AND identity_id = ? AND merged_into IS NULL", tenantID, loserID).
			Update("merged_into", winnerID).Error; err != nil {
			return fmt.Errorf("failed to mark merge: %w", err)
		}
		if err := tx.Model(&IdentityHintModel{}).
			Where("tenant_id = ? AND identity_id = ?", tenantID, loserID).
			Update("identity_id", winnerID).Error; err != nil {
			return fmt.Errorf("failed to repoint hint index: %w", err)
		}
		if err := tx.Model(&EventBindingModel{}).
			Where("tenant_id = ? AND identity_id = ?", tenantID, loserID).
			Update("identity_id", winnerID).Error; err != nil {
			return fmt.Errorf("failed to repoint event bindings: %w", err)
		}
		return nil
	})
}

// BindEvent records the event → identity resolution.
func (s *IdentityStore) BindEvent(ctx context.Context, tenantID string, event *domain.CanonicalEvent, identityID string) error {
	binding := EventBindingModel{
		EventID:    event.EventID,
		TenantID:   tenantID,
		IdentityID: identityID,
		CampaignID: event.CampaignID,
		Kind:       string(event.Kind),
		Timestamp:  event.Timestamp,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&binding).Error; err != nil {
		return fmt.Errorf("failed to bind event %s: %w", event.EventID, err)
	}
	return nil
}

// IdentityForEvent returns the canonical identity an event resolved to, or
// nil when the event was never bound.
func (s *IdentityStore) IdentityForEvent(ctx context.Context, tenantID, eventID string) (*domain.UnifiedIdentity, error) {
	var binding EventBindingModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load binding for event %s: %w", eventID, err)
	}
	return s.loadCanonical(ctx, tenantID, binding.IdentityID)
}

// TouchpointsForIdentity returns the identity's bound events for a campaign
// inside [from, to], in insertion order; the path builder owns ordering and
// window trimming.
func (s *IdentityStore) TouchpointsForIdentity(ctx context.Context, tenantID, identityID, campaignID string, from, to time.Time) ([]domain.Touchpoint, error) {
	var bindings []EventBindingModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND identity_id = ? AND campaign_id = ? AND timestamp >= ? AND timestamp <= ?",
			tenantID, identityID, campaignID, from, to).
		Find(&bindings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load touchpoints for identity %s: %w", identityID, err)
	}

	out := make([]domain.Touchpoint, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, domain.Touchpoint{
			EventID:   b.EventID,
			Timestamp: b.Timestamp,
			Kind:      domain.EventKind(b.Kind),
		})
	}
	return out, nil
}

func toDomainIdentity(model *IdentityModel) (*domain.UnifiedIdentity, error) {
	var hints []domain.IdentityHints
	if len(model.Hints) > 0 {
		if err := json.Unmarshal(model.Hints, &hints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hints for %s: %w", model.IdentityID, err)
		}
	}
	return &domain.UnifiedIdentity{
		IdentityID:   model.IdentityID,
		TenantID:     model.TenantID,
		Hints:        hints,
		Tier:         domain.ConfidenceTier(model.Tier),
		LastActiveAt: model.LastActiveAt,
		CreatedAt:    model.CreatedAt,
	}, nil
}
