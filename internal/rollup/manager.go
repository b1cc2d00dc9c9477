package rollup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/repository"
)

// AttributionRetention expires derived attribution rows. Satisfied by the
// derived store; results always go before the bindings they reference.
type AttributionRetention interface {
	DeleteAttributionBefore(ctx context.Context, cutoff time.Time) error
}

// Manager drives rollup aggregation and retention. Aggregation is idempotent:
// buckets upsert on their full key tuple, so re-running a window after a crash
// overwrites instead of double-counting, and the job needs no checkpoint of
// its own beyond the window it is asked to cover.
type Manager struct {
	rollups   repository.RollupStore
	derived   AttributionRetention
	retention domain.RetentionPolicy
	log       *zap.Logger
}

// NewManager creates a manager with the given retention policy.
func NewManager(rollups repository.RollupStore, derived AttributionRetention, retention domain.RetentionPolicy, log *zap.Logger) *Manager {
	return &Manager{
		rollups:   rollups,
		derived:   derived,
		retention: retention,
		log:       log,
	}
}

// RunRollup aggregates raw events into buckets of the given granularity over
// [from, to). Bounds are aligned outward to bucket edges so partial buckets at
// the window ends are recomputed whole.
func (m *Manager) RunRollup(ctx context.Context, granularity domain.Granularity, from, to time.Time) error {
	alignedFrom := granularity.Truncate(from)
	alignedTo := granularity.Truncate(to)
	if alignedTo.Before(to) {
		alignedTo = alignedTo.Add(granularity.Width())
	}

	rows, err := m.rollups.BuildRollups(ctx, granularity, alignedFrom, alignedTo)
	if err != nil {
		return fmt.Errorf("failed to build %s rollups for [%s, %s): %w",
			granularity, alignedFrom.Format(time.RFC3339), alignedTo.Format(time.RFC3339), err)
	}
	if len(rows) == 0 {
		m.log.Debug("No events in rollup window",
			zap.String("granularity", string(granularity)),
			zap.Time("from", alignedFrom),
			zap.Time("to", alignedTo))
		return nil
	}

	if err := m.rollups.UpsertRollups(ctx, rows); err != nil {
		return fmt.Errorf("failed to upsert %s rollups for [%s, %s): %w",
			granularity, alignedFrom.Format(time.RFC3339), alignedTo.Format(time.RFC3339), err)
	}

	m.log.Info("Rollup window complete",
		zap.String("granularity", string(granularity)),
		zap.Time("from", alignedFrom),
		zap.Time("to", alignedTo),
		zap.Int("buckets", len(rows)))
	return nil
}

// RunRetention enforces every expiry horizon relative to now. Order matters:
// attribution rows reference raw events, so they go first, then the raw log,
// then each rollup granularity. Any failure is fatal to the run; nothing
// downstream of a failed step is touched.
func (m *Manager) RunRetention(ctx context.Context, now time.Time) error {
	now = now.UTC()

	attributionCutoff := now.Add(-m.retention.AttributionRows)
	if err := m.derived.DeleteAttributionBefore(ctx, attributionCutoff); err != nil {
		return fmt.Errorf("retention failed on attribution rows (cutoff %s): %w",
			attributionCutoff.Format(time.RFC3339), err)
	}

	rawCutoff := now.Add(-m.retention.RawEvents)
	if err := m.rollups.DeleteRawEventsBefore(ctx, rawCutoff); err != nil {
		return fmt.Errorf("retention failed on raw events (cutoff %s): %w",
			rawCutoff.Format(time.RFC3339), err)
	}

	hourlyCutoff := now.Add(-m.retention.HourlyRollups)
	if err := m.rollups.DeleteRollupsBefore(ctx, domain.GranularityHourly, hourlyCutoff); err != nil {
		return fmt.Errorf("retention failed on hourly rollups (cutoff %s): %w",
			hourlyCutoff.Format(time.RFC3339), err)
	}

	dailyCutoff := now.Add(-m.retention.DailyRollups)
	if err := m.rollups.DeleteRollupsBefore(ctx, domain.GranularityDaily, dailyCutoff); err != nil {
		return fmt.Errorf("retention failed on daily rollups (cutoff %s): %w",
			dailyCutoff.Format(time.RFC3339), err)
	}

	m.log.Info("Retention run complete",
		zap.Time("attribution_cutoff", attributionCutoff),
		zap.Time("raw_cutoff", rawCutoff),
		zap.Time("hourly_cutoff", hourlyCutoff),
		zap.Time("daily_cutoff", dailyCutoff))
	return nil
}
