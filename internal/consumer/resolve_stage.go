package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// IdentityResolver assigns an event to its unified identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, tenantID string, event *domain.CanonicalEvent) (*domain.UnifiedIdentity, error)
}

// ResolveStage runs identity resolution over events that were durably
// appended to the log. Resolution failures are logged and skipped: the event
// is already in the log and a later re-attribution run can bind it.
type ResolveStage struct {
	resolver IdentityResolver
	log      *zap.Logger
}

// NewResolveStage creates a resolve stage.
func NewResolveStage(resolver IdentityResolver, log *zap.Logger) *ResolveStage {
	return &ResolveStage{resolver: resolver, log: log}
}

// Start consumes logged events and resolves each to an identity.
func (s *ResolveStage) Start(ctx context.Context, in <-chan *domain.CanonicalEvent) {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Resolve stage shutting down")
			return
		case event, ok := <-in:
			if !ok {
				s.log.Info("Resolve stage input channel closed")
				return
			}

			identity, err := s.resolver.Resolve(ctx, event.TenantID, event)
			if err != nil {
				s.log.Error("Failed to resolve identity",
					zap.String("event_id", event.EventID),
					zap.String("tenant_id", event.TenantID),
					zap.Error(err))
				continue
			}

			s.log.Debug("Event resolved",
				zap.String("event_id", event.EventID),
				zap.String("identity_id", identity.IdentityID),
				zap.String("tier", string(identity.Tier)))
		}
	}
}
