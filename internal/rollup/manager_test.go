package rollup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// MockRollupStore is a mock implementation of repository.RollupStore
type MockRollupStore struct {
	mock.Mock
}

func (m *MockRollupStore) BuildRollups(ctx context.Context, granularity domain.Granularity, from, to time.Time) ([]domain.RollupRow, error) {
	args := m.Called(ctx, granularity, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RollupRow), args.Error(1)
}

func (m *MockRollupStore) UpsertRollups(ctx context.Context, rows []domain.RollupRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockRollupStore) DeleteRawEventsBefore(ctx context.Context, cutoff time.Time) error {
	args := m.Called(ctx, cutoff)
	return args.Error(0)
}

func (m *MockRollupStore) DeleteRollupsBefore(ctx context.Context, granularity domain.Granularity, cutoff time.Time) error {
	args := m.Called(ctx, granularity, cutoff)
	return args.Error(0)
}

// MockAttributionRetention is a mock implementation of AttributionRetention
type MockAttributionRetention struct {
	mock.Mock
}

func (m *MockAttributionRetention) DeleteAttributionBefore(ctx context.Context, cutoff time.Time) error {
	args := m.Called(ctx, cutoff)
	return args.Error(0)
}

func newTestManager(store *MockRollupStore, derived *MockAttributionRetention) *Manager {
	return NewManager(store, derived, domain.DefaultRetention(), zap.NewNop())
}

func TestManager_RunRollup_AlignsWindowToBuckets(t *testing.T) {
	store := new(MockRollupStore)
	manager := newTestManager(store, new(MockAttributionRetention))

	from := time.Date(2026, 3, 1, 10, 17, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 12, 42, 0, 0, time.UTC)

	rows := []domain.RollupRow{{
		Granularity: domain.GranularityHourly,
		Bucket:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		TenantID:    "tenant1",
		CampaignID:  "campaign1",
		Kind:        domain.KindClick,
		EventCount:  12,
	}}

	store.On("BuildRollups", mock.Anything, domain.GranularityHourly,
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)).Return(rows, nil)
	store.On("UpsertRollups", mock.Anything, rows).Return(nil)

	err := manager.RunRollup(context.Background(), domain.GranularityHourly, from, to)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestManager_RunRollup_EmptyWindowSkipsUpsert(t *testing.T) {
	store := new(MockRollupStore)
	manager := newTestManager(store, new(MockAttributionRetention))

	store.On("BuildRollups", mock.Anything, domain.GranularityDaily, mock.Anything, mock.Anything).
		Return([]domain.RollupRow{}, nil)

	err := manager.RunRollup(context.Background(), domain.GranularityDaily, time.Now().Add(-time.Hour), time.Now())

	require.NoError(t, err)
	store.AssertNotCalled(t, "UpsertRollups")
}

func TestManager_RunRollup_BuildFailureIsFatal(t *testing.T) {
	store := new(MockRollupStore)
	manager := newTestManager(store, new(MockAttributionRetention))

	store.On("BuildRollups", mock.Anything, domain.GranularityHourly, mock.Anything, mock.Anything).
		Return(nil, errors.New("clickhouse timeout"))

	err := manager.RunRollup(context.Background(), domain.GranularityHourly, time.Now().Add(-time.Hour), time.Now())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build hourly rollups")
	store.AssertNotCalled(t, "UpsertRollups")
}

func TestManager_RunRetention_OrderAndCutoffs(t *testing.T) {
	store := new(MockRollupStore)
	derived := new(MockAttributionRetention)
	manager := newTestManager(store, derived)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	policy := domain.DefaultRetention()

	var order []string
	derived.On("DeleteAttributionBefore", mock.Anything, now.Add(-policy.AttributionRows)).
		Run(func(mock.Arguments) { order = append(order, "attribution") }).Return(nil)
	store.On("DeleteRawEventsBefore", mock.Anything, now.Add(-policy.RawEvents)).
		Run(func(mock.Arguments) { order = append(order, "raw") }).Return(nil)
	store.On("DeleteRollupsBefore", mock.Anything, domain.GranularityHourly, now.Add(-policy.HourlyRollups)).
		Run(func(mock.Arguments) { order = append(order, "hourly") }).Return(nil)
	store.On("DeleteRollupsBefore", mock.Anything, domain.GranularityDaily, now.Add(-policy.DailyRollups)).
		Run(func(mock.Arguments) { order = append(order, "daily") }).Return(nil)

	err := manager.RunRetention(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, []string{"attribution", "raw", "hourly", "daily"}, order)
}

func TestManager_RunRetention_StopsOnDependencyViolation(t *testing.T) {
	store := new(MockRollupStore)
	derived := new(MockAttributionRetention)
	manager := newTestManager(store, derived)

	derived.On("DeleteAttributionBefore", mock.Anything, mock.Anything).
		Return(errors.New("foreign key violation"))

	err := manager.RunRetention(context.Background(), time.Now())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retention failed on attribution rows")
	store.AssertNotCalled(t, "DeleteRawEventsBefore")
	store.AssertNotCalled(t, "DeleteRollupsBefore")
}
