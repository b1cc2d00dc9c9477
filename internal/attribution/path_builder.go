package attribution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// TouchpointSource supplies the resolved identity of a conversion and the
// identity's prior touchpoints for a campaign.
type TouchpointSource interface {
	IdentityForEvent(ctx context.Context, tenantID, eventID string) (*domain.UnifiedIdentity, error)
	TouchpointsForIdentity(ctx context.Context, tenantID, identityID, campaignID string, from, to time.Time) ([]domain.Touchpoint, error)
}

// PathBuilder assembles the ordered touchpoint sequence ending at a
// conversion, restricted to the attribution window.
type PathBuilder struct {
	source TouchpointSource
	log    *zap.Logger
}

// NewPathBuilder creates a path builder.
func NewPathBuilder(source TouchpointSource, log *zap.Logger) *PathBuilder {
	return &PathBuilder{source: source, log: log}
}

// Build returns the attribution path for one conversion event: all prior
// events of the conversion's identity and campaign inside
// [conversion − window, conversion], ascending, conversion last. It fails
// with NoIdentityError when the conversion was never resolved.
func (b *PathBuilder) Build(ctx context.Context, tenantID string, conversion *domain.CanonicalEvent, windowDays int) (*domain.AttributionPath, error) {
	if !conversion.IsConversion() {
		return nil, fmt.Errorf("event %s is %s, not a conversion", conversion.EventID, conversion.Kind)
	}
	if windowDays <= 0 {
		windowDays = 30
	}

	identity, err := b.source.IdentityForEvent(ctx, tenantID, conversion.EventID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, &domain.NoIdentityError{EventID: conversion.EventID}
	}

	window := time.Duration(windowDays) * 24 * time.Hour
	from := conversion.Timestamp.Add(-window)

	touchpoints, err := b.source.TouchpointsForIdentity(ctx, tenantID, identity.IdentityID, conversion.CampaignID, from, conversion.Timestamp)
	if err != nil {
		return nil, err
	}

	// Only influence-eligible events stay: the conversion itself, any prior
	// conversions, and anything outside the window are excluded.
	kept := touchpoints[:0]
	seen := make(map[string]bool, len(touchpoints))
	for _, tp := range touchpoints {
		if tp.Kind == domain.KindConversion || tp.EventID == conversion.EventID {
			continue
		}
		if tp.Timestamp.Before(from) || tp.Timestamp.After(conversion.Timestamp) {
			continue
		}
		if seen[tp.EventID] {
			continue
		}
		seen[tp.EventID] = true
		kept = append(kept, tp)
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Timestamp.Equal(kept[j].Timestamp) {
			return kept[i].EventID < kept[j].EventID
		}
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})

	path := &domain.AttributionPath{
		PathID:      uuid.NewString(),
		TenantID:    tenantID,
		IdentityID:  identity.IdentityID,
		CampaignID:  conversion.CampaignID,
		Touchpoints: kept,
		Conversion: domain.Touchpoint{
			EventID:   conversion.EventID,
			Timestamp: conversion.Timestamp,
			Kind:      conversion.Kind,
		},
		ConversionValue: conversion.ConversionValue(),
		Monetized:       conversion.Monetized,
		WindowDays:      windowDays,
	}

	b.log.Debug("Built attribution path",
		zap.String("tenant_id", tenantID),
		zap.String("path_id", path.PathID),
		zap.String("campaign_id", path.CampaignID),
		zap.Int("touchpoints", len(kept)))

	return path, nil
}
