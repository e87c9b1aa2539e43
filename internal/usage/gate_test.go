package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/models"
)

// fakeUsageStore mimics the conditional-increment semantics of the sqlite
// store: the counter moves only while below the ceiling.
type fakeUsageStore struct {
	counts  map[string]int64
	storage map[string]int64
	err     error
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{counts: make(map[string]int64), storage: make(map[string]int64)}
}

func (s *fakeUsageStore) key(tenantID, period string) string {
	return tenantID + "|" + period
}

func (s *fakeUsageStore) TryIncrement(_ context.Context, tenantID, period string, limit int64) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	k := s.key(tenantID, period)
	if s.counts[k] >= limit {
		return false, nil
	}
	s.counts[k]++
	return true, nil
}

func (s *fakeUsageStore) AddStorage(_ context.Context, tenantID, period string, bytes int64) error {
	if s.err != nil {
		return s.err
	}
	s.storage[s.key(tenantID, period)] += bytes
	return nil
}

func (s *fakeUsageStore) Get(_ context.Context, tenantID, period string) (*models.UsageRecord, error) {
	return &models.UsageRecord{
		TenantID:     tenantID,
		Period:       period,
		InvoiceCount: s.counts[s.key(tenantID, period)],
		StorageBytes: s.storage[s.key(tenantID, period)],
	}, nil
}

func freeTenant() *models.Tenant {
	return &models.Tenant{ID: "tenant-1", Tier: "free", OwnNIP: "5260250274"}
}

func newTestGate(store UsageStore) *Gate {
	return NewGate(store, map[string]int64{"free": 2, "business": 1000}, "free", zap.NewNop())
}

func TestGate_AdmitUpToCeiling(t *testing.T) {
	ctx := context.Background()
	store := newFakeUsageStore()
	gate := newTestGate(store)

	require.NoError(t, gate.Admit(ctx, freeTenant()))
	require.NoError(t, gate.Admit(ctx, freeTenant()))

	err := gate.Admit(ctx, freeTenant())
	var quotaErr *apperrors.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, int64(2), quotaErr.Current)
	assert.Equal(t, int64(2), quotaErr.Limit)
}

func TestGate_RejectionDoesNotBurnQuota(t *testing.T) {
	ctx := context.Background()
	store := newFakeUsageStore()
	gate := newTestGate(store)

	require.NoError(t, gate.Admit(ctx, freeTenant()))
	require.NoError(t, gate.Admit(ctx, freeTenant()))
	require.Error(t, gate.Admit(ctx, freeTenant()))
	require.Error(t, gate.Admit(ctx, freeTenant()))

	snap, err := gate.Snapshot(ctx, freeTenant())
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Invoices.Current)
}

func TestGate_UnknownTierFallsBackToDefault(t *testing.T) {
	gate := newTestGate(newFakeUsageStore())
	assert.Equal(t, int64(2), gate.Limit("no-such-tier"))
	assert.Equal(t, int64(1000), gate.Limit("business"))
}

func TestGate_PeriodsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newFakeUsageStore()
	gate := newTestGate(store)

	august := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	gate.SetClock(func() time.Time { return august })
	require.NoError(t, gate.Admit(ctx, freeTenant()))
	require.NoError(t, gate.Admit(ctx, freeTenant()))
	require.Error(t, gate.Admit(ctx, freeTenant()))

	// New billing period, fresh counter
	september := time.Date(2026, 9, 1, 0, 30, 0, 0, time.UTC)
	gate.SetClock(func() time.Time { return september })
	require.NoError(t, gate.Admit(ctx, freeTenant()))

	snap, err := gate.Snapshot(ctx, freeTenant())
	require.NoError(t, err)
	assert.Equal(t, "2026-09", snap.Period)
	assert.Equal(t, int64(1), snap.Invoices.Current)
}

func TestGate_RecordStorageAccumulates(t *testing.T) {
	ctx := context.Background()
	store := newFakeUsageStore()
	gate := newTestGate(store)

	require.NoError(t, gate.RecordStorage(ctx, "tenant-1", 1024))
	require.NoError(t, gate.RecordStorage(ctx, "tenant-1", 512))

	rec, err := store.Get(ctx, "tenant-1", models.PeriodKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1536), rec.StorageBytes)
	// storage never feeds the admission counter
	assert.Zero(t, rec.InvoiceCount)
}

func TestGate_StoreFailureIsNotQuota(t *testing.T) {
	ctx := context.Background()
	store := newFakeUsageStore()
	store.err = assert.AnError
	gate := newTestGate(store)

	err := gate.Admit(ctx, freeTenant())
	require.Error(t, err)

	var quotaErr *apperrors.QuotaExceededError
	assert.False(t, errors.As(err, &quotaErr))
}
