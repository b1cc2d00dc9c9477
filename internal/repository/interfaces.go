package repository

import (
	"context"
	"time"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/lift"
)

// EventLog is the immutable raw event store. Writes are append-only batches
// from unsynchronized concurrent producers; duplicate rows collapse on the
// event's content-derived ID rather than through locking.
type EventLog interface {
	// InsertBatch appends a batch of canonical events to the log.
	InsertBatch(ctx context.Context, events []*domain.CanonicalEvent) (int, error)

	// Conversions returns the conversion events for a campaign in a window.
	Conversions(ctx context.Context, tenantID, campaignID string, from, to time.Time) ([]*domain.CanonicalEvent, error)

	// SegmentObservation counts conversions and impressions for one
	// demographic segment. An empty campaignID spans all campaigns, which is
	// how baseline windows are measured.
	SegmentObservation(ctx context.Context, tenantID, campaignID, segmentKey string, from, to time.Time) (lift.Observation, error)

	// InitSchema creates the log tables if they do not exist.
	InitSchema(ctx context.Context) error

	// Ping checks the store connection.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// RollupStore persists and compacts time-series aggregates. Upserts are
// keyed by the bucket tuple so re-running a bucket overwrites instead of
// double-counting.
type RollupStore interface {
	// BuildRollups computes the aggregates for buckets covering [from, to).
	BuildRollups(ctx context.Context, granularity domain.Granularity, from, to time.Time) ([]domain.RollupRow, error)

	// UpsertRollups writes rollup rows, replacing any prior run's rows for
	// the same bucket tuples.
	UpsertRollups(ctx context.Context, rows []domain.RollupRow) error

	// DeleteRawEventsBefore enforces raw-event retention.
	DeleteRawEventsBefore(ctx context.Context, cutoff time.Time) error

	// DeleteRollupsBefore enforces rollup retention for one granularity.
	DeleteRollupsBefore(ctx context.Context, granularity domain.Granularity, cutoff time.Time) error
}

// FinancialsFilter narrows reporting reads. Model is optional; reports never
// mix model outputs, so rows always carry the model that produced them.
type FinancialsFilter struct {
	Model domain.ModelType
}

// DerivedStore persists everything the engine owns downstream of the raw
// log: attribution results, campaign financials, segment stats, and the
// per-campaign attribution settings supplied by campaign management.
type DerivedStore interface {
	SaveSettings(ctx context.Context, settings *domain.CampaignSettings) error
	GetSettings(ctx context.Context, tenantID, campaignID string) (*domain.CampaignSettings, error)
	ListCampaigns(ctx context.Context, tenantID string) ([]string, error)

	// ReplaceResults atomically swaps a campaign's attribution results for
	// one model with a fresh run's output.
	ReplaceResults(ctx context.Context, tenantID, campaignID string, model domain.ModelType, results []*domain.AttributionResult) error
	ResultsForCampaign(ctx context.Context, tenantID, campaignID string, model domain.ModelType) ([]*domain.AttributionResult, error)

	SaveFinancials(ctx context.Context, fin *domain.CampaignFinancials) error
	FinancialsForCampaign(ctx context.Context, tenantID, campaignID string, filter FinancialsFilter) ([]*domain.CampaignFinancials, error)

	SaveSegmentStat(ctx context.Context, stat *domain.DemographicSegmentStat) error
	SegmentStatsForCampaign(ctx context.Context, tenantID, campaignID string) ([]*domain.DemographicSegmentStat, error)

	// DeleteAttributionBefore enforces attribution-row retention. Paths and
	// results go before anything that references them; a dependency
	// violation here is fatal to the retention run.
	DeleteAttributionBefore(ctx context.Context, cutoff time.Time) error
}
