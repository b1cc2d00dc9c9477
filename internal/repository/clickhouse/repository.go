package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/lift"
)

// Repository implements the EventLog and RollupStore ports on ClickHouse.
// Both tables use ReplacingMergeTree: the event log collapses duplicate
// submissions on event_id, the rollup table collapses re-runs of a bucket on
// the bucket tuple. That replace-on-key engine is what makes both ingestion
// and rollup jobs idempotent.
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a ClickHouse-backed repository.
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{client: client, log: log}
}

// InitSchema creates the event log and rollup tables if they do not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	events := `
	CREATE TABLE IF NOT EXISTS events (
		event_id String,
		tenant_id LowCardinality(String),
		timestamp DateTime64(3),
		campaign_id String,
		podcast_id String,
		episode_id String,
		kind LowCardinality(String),
		source LowCardinality(String),
		dedup_key String,
		user_id String,
		session_id String,
		device_id String,
		ip String,
		user_agent String,
		email_hash String,
		value Float64,
		currency LowCardinality(String),
		monetized Bool,
		raw_payload String,
		ingested_at DateTime64(3) DEFAULT now64(3),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PRIMARY KEY (event_id)
	ORDER BY (event_id, timestamp)
	PARTITION BY toYYYYMM(timestamp)
	SETTINGS index_granularity = 8192
	`

	rollups := `
	CREATE TABLE IF NOT EXISTS rollups (
		granularity LowCardinality(String),
		bucket DateTime,
		tenant_id LowCardinality(String),
		podcast_id String,
		episode_id String,
		campaign_id String,
		kind LowCardinality(String),
		platform LowCardinality(String),
		event_count UInt64,
		value_sum Float64,
		avg_value Float64,
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	ORDER BY (granularity, bucket, tenant_id, podcast_id, episode_id, campaign_id, kind, platform)
	PARTITION BY toYYYYMM(bucket)
	`

	if err := r.client.Conn().Exec(ctx, events); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	if err := r.client.Conn().Exec(ctx, rollups); err != nil {
		return fmt.Errorf("failed to create rollups table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized")
	return nil
}

// InsertBatch appends canonical events to the log.
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.CanonicalEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	inserted := 0
	for _, event := range events {
		if event.Version == 0 {
			event.Version = uint64(time.Now().UnixNano())
		}
		raw := string(event.RawPayload)
		if raw == "" {
			raw = "{}"
		}

		err := batch.Append(
			event.EventID,
			event.TenantID,
			event.Timestamp,
			event.CampaignID,
			event.PodcastID,
			event.EpisodeID,
			string(event.Kind),
			string(event.Source),
			event.DedupKey,
			event.Hints.UserID,
			event.Hints.SessionID,
			event.Hints.DeviceID,
			event.Hints.IP,
			event.Hints.UserAgent,
			event.Hints.EmailHash,
			event.Value,
			event.Currency,
			event.Monetized,
			raw,
			event.IngestedAt,
			event.Version,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append event to batch: %w", err)
		}
		inserted++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}
	return inserted, nil
}

// Conversions returns the conversion events for a campaign inside a window.
func (r *Repository) Conversions(ctx context.Context, tenantID, campaignID string, from, to time.Time) ([]*domain.CanonicalEvent, error) {
	query := `
		SELECT event_id, tenant_id, timestamp, campaign_id, podcast_id, episode_id,
		       kind, source, dedup_key, user_id, session_id, device_id, ip,
		       user_agent, email_hash, value, currency, monetized
		FROM events FINAL
		WHERE tenant_id = ? AND campaign_id = ? AND kind = 'conversion'
		  AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.client.Conn().Query(ctx, query, tenantID, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer r.closeRows(rows)

	var events []*domain.CanonicalEvent
	for rows.Next() {
		var e domain.CanonicalEvent
		var kind, source string
		if err := rows.Scan(
			&e.EventID, &e.TenantID, &e.Timestamp, &e.CampaignID, &e.PodcastID, &e.EpisodeID,
			&kind, &source, &e.DedupKey, &e.Hints.UserID, &e.Hints.SessionID, &e.Hints.DeviceID,
			&e.Hints.IP, &e.Hints.UserAgent, &e.Hints.EmailHash, &e.Value, &e.Currency, &e.Monetized,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversion row: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.Source = domain.EventSource(source)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversion rows: %w", err)
	}
	return events, nil
}

// SegmentObservation counts a demographic segment's conversions and
// impressions. The segment label lives in the opaque payload bag, so the
// filter reads it straight out of raw_payload.
func (r *Repository) SegmentObservation(ctx context.Context, tenantID, campaignID, segmentKey string, from, to time.Time) (lift.Observation, error) {
	field, value, ok := strings.Cut(segmentKey, "=")
	if !ok {
		return lift.Observation{}, fmt.Errorf("segment key %q is not field=value", segmentKey)
	}

	query := `
		SELECT countIf(kind = 'conversion'), countIf(kind = 'impression')
		FROM events FINAL
		WHERE tenant_id = ? AND JSONExtractString(raw_payload, ?) = ?
		  AND timestamp >= ? AND timestamp <= ?
	`
	args := []interface{}{tenantID, field, value, from, to}
	if campaignID != "" {
		query += " AND campaign_id = ?"
		args = append(args, campaignID)
	}

	var obs lift.Observation
	row := r.client.Conn().QueryRow(ctx, query, args...)
	var conversions, impressions uint64
	if err := row.Scan(&conversions, &impressions); err != nil {
		return lift.Observation{}, fmt.Errorf("failed to query segment observation: %w", err)
	}
	obs.Conversions = int64(conversions)
	obs.Impressions = int64(impressions)
	return obs, nil
}

// BuildRollups aggregates raw events into rollup rows for every bucket
// intersecting [from, to). The platform dimension comes from the user-agent
// family when present, else the ingestion source.
func (r *Repository) BuildRollups(ctx context.Context, granularity domain.Granularity, from, to time.Time) ([]domain.RollupRow, error) {
	bucketExpr := "toStartOfHour(timestamp)"
	if granularity == domain.GranularityDaily {
		bucketExpr = "toStartOfDay(timestamp)"
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS bucket,
			tenant_id,
			podcast_id,
			episode_id,
			campaign_id,
			kind,
			multiIf(
				positionCaseInsensitive(user_agent, 'iphone') > 0 OR positionCaseInsensitive(user_agent, 'ipad') > 0, 'ios',
				positionCaseInsensitive(user_agent, 'android') > 0, 'android',
				user_agent != '', 'web',
				toString(source)
			) AS platform,
			count() AS event_count,
			sum(value) AS value_sum,
			avg(value) AS avg_value
		FROM events FINAL
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY bucket, tenant_id, podcast_id, episode_id, campaign_id, kind, platform
	`, bucketExpr)

	rows, err := r.client.Conn().Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s rollups: %w", granularity, err)
	}
	defer r.closeRows(rows)

	version := uint64(time.Now().UnixNano())
	var out []domain.RollupRow
	for rows.Next() {
		var row domain.RollupRow
		var kind string
		if err := rows.Scan(
			&row.Bucket, &row.TenantID, &row.PodcastID, &row.EpisodeID, &row.CampaignID,
			&kind, &row.Platform, &row.EventCount, &row.ValueSum, &row.AvgValue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}
		row.Granularity = granularity
		row.Kind = domain.EventKind(kind)
		row.Version = version
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rollup rows: %w", err)
	}
	return out, nil
}

// UpsertRollups writes rollup rows. ReplacingMergeTree keyed on the bucket
// tuple makes a re-run overwrite the previous run's rows.
func (r *Repository) UpsertRollups(ctx context.Context, rollups []domain.RollupRow) error {
	if len(rollups) == 0 {
		return nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO rollups")
	if err != nil {
		return fmt.Errorf("failed to prepare rollup batch: %w", err)
	}
	for _, row := range rollups {
		err := batch.Append(
			string(row.Granularity),
			row.Bucket,
			row.TenantID,
			row.PodcastID,
			row.EpisodeID,
			row.CampaignID,
			string(row.Kind),
			row.Platform,
			row.EventCount,
			row.ValueSum,
			row.AvgValue,
			row.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to append rollup to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send rollup batch: %w", err)
	}
	return nil
}

// DeleteRawEventsBefore enforces raw-event retention. Rollups derived from
// these rows are durable on their own, so raw deletion never dangles them.
func (r *Repository) DeleteRawEventsBefore(ctx context.Context, cutoff time.Time) error {
	err := r.client.Conn().Exec(ctx, "ALTER TABLE events DELETE WHERE timestamp < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete raw events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return nil
}

// DeleteRollupsBefore enforces rollup retention for one granularity.
func (r *Repository) DeleteRollupsBefore(ctx context.Context, granularity domain.Granularity, cutoff time.Time) error {
	err := r.client.Conn().Exec(ctx,
		"ALTER TABLE rollups DELETE WHERE granularity = ? AND bucket < ?",
		string(granularity), cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete %s rollups before %s: %w", granularity, cutoff.Format(time.RFC3339), err)
	}
	return nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the connection.
func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) closeRows(rows driver.Rows) {
	if err := rows.Close(); err != nil {
		r.log.Error("Failed to close rows", zap.Error(err))
	}
}
