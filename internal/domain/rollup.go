package domain

import "time"

// Granularity selects the rollup bucket width.
type Granularity string

const (
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
)

// Width returns the bucket duration for the granularity.
func (g Granularity) Width() time.Duration {
	if g == GranularityDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// Truncate aligns t to the start of its bucket.
func (g Granularity) Truncate(t time.Time) time.Time {
	if g == GranularityDaily {
		return t.UTC().Truncate(24 * time.Hour)
	}
	return t.UTC().Truncate(time.Hour)
}

// RollupRow is one precomputed aggregate, keyed by the bucket tuple.
// Re-running a rollup for the same bucket upserts on this key rather than
// double-counting.
type RollupRow struct {
	Granularity Granularity `ch:"granularity"`
	Bucket      time.Time   `ch:"bucket"`
	TenantID    string      `ch:"tenant_id"`
	PodcastID   string      `ch:"podcast_id"`
	EpisodeID   string      `ch:"episode_id"`
	CampaignID  string      `ch:"campaign_id"`
	Kind        EventKind   `ch:"kind"`
	Platform    string      `ch:"platform"`
	EventCount  uint64      `ch:"event_count"`
	ValueSum    float64     `ch:"value_sum"`
	AvgValue    float64     `ch:"avg_value"`
	Version     uint64      `ch:"version"`
}

// RetentionPolicy holds the expiry horizons enforced by the retention job.
// Deletion is scheduled, not a query-time filter, and always removes raw rows
// before touching the aggregates derived from them.
type RetentionPolicy struct {
	RawEvents       time.Duration
	HourlyRollups   time.Duration
	DailyRollups    time.Duration
	AttributionRows time.Duration
}

// DefaultRetention mirrors the platform's published data-retention terms.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		RawEvents:       90 * 24 * time.Hour,
		HourlyRollups:   365 * 24 * time.Hour,
		DailyRollups:    7 * 365 * 24 * time.Hour,
		AttributionRows: 2 * 365 * 24 * time.Hour,
	}
}
