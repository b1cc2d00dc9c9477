package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/repository"
)

// ReattributionRunner re-runs attribution across every configured campaign of
// a tenant, for model or settings changes that invalidate stored results. A
// campaign's results swap atomically when its run completes, so cancelling
// mid-sweep keeps already-finished campaigns and leaves the interrupted one on
// its previous results.
type ReattributionRunner struct {
	analytics *AnalyticsService
	derived   repository.DerivedStore
	log       *zap.Logger
}

// NewReattributionRunner creates a runner.
func NewReattributionRunner(analytics *AnalyticsService, derived repository.DerivedStore, log *zap.Logger) *ReattributionRunner {
	return &ReattributionRunner{analytics: analytics, derived: derived, log: log}
}

// RunTenant sweeps a tenant's campaigns in deterministic order. Per-campaign
// failures are logged and skipped; only cancellation stops the sweep.
func (r *ReattributionRunner) RunTenant(ctx context.Context, tenantID string) error {
	campaigns, err := r.derived.ListCampaigns(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list campaigns for tenant %s: %w", tenantID, err)
	}

	var failed int
	for _, campaignID := range campaigns {
		if err := ctx.Err(); err != nil {
			r.log.Info("Re-attribution sweep cancelled",
				zap.String("tenant_id", tenantID),
				zap.String("next_campaign_id", campaignID))
			return err
		}

		if _, err := r.analytics.RunCampaignAttribution(ctx, tenantID, campaignID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.log.Info("Re-attribution sweep cancelled mid-campaign, prior results kept",
					zap.String("tenant_id", tenantID),
					zap.String("campaign_id", campaignID))
				return err
			}
			failed++
			r.log.Error("Campaign re-attribution failed",
				zap.String("tenant_id", tenantID),
				zap.String("campaign_id", campaignID),
				zap.Error(err))
		}
	}

	r.log.Info("Re-attribution sweep complete",
		zap.String("tenant_id", tenantID),
		zap.Int("campaigns", len(campaigns)),
		zap.Int("failed", failed))
	return nil
}
