package companies

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/registry"
)

type fakeCompanyStore struct {
	existing map[string]*models.Company
	created  []*models.Company
	nextID   int64
}

func (f *fakeCompanyStore) GetByTenantAndNIP(_ context.Context, tenantID, taxID string) (*models.Company, error) {
	return f.existing[tenantID+"/"+taxID], nil
}

func (f *fakeCompanyStore) Create(_ context.Context, c *models.Company) (*models.Company, error) {
	f.nextID++
	c.ID = f.nextID
	f.created = append(f.created, c)
	return c, nil
}

type fakeRegistry struct {
	entries map[string]*registry.Entry
	err     error
	calls   int
}

func (f *fakeRegistry) Lookup(_ context.Context, taxID string) (*registry.Entry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[taxID], nil
}

func TestResolve_ExistingCompanyMatched(t *testing.T) {
	store := &fakeCompanyStore{existing: map[string]*models.Company{
		"tenant-1/5260250274": {ID: 7, TenantID: "tenant-1", NIP: "5260250274", Name: "Alfa"},
	}}
	reg := &fakeRegistry{}
	resolver := NewResolver(store, reg, zap.NewNop())

	outcome, err := resolver.Resolve(context.Background(), "tenant-1", "PL 526-025-02-74")
	require.NoError(t, err)

	assert.Equal(t, StatusMatched, outcome.Status)
	assert.Equal(t, int64(7), outcome.Company.ID)
	assert.Zero(t, reg.calls, "known counterparty must not hit the register")
	assert.False(t, outcome.NeedsReview())
}

func TestResolve_CreatesFromRegistry(t *testing.T) {
	store := &fakeCompanyStore{}
	reg := &fakeRegistry{entries: map[string]*registry.Entry{
		"5260250274": {
			TaxID:   "5260250274",
			Name:    "ALFA SP. Z O.O.",
			Address: "UL. PRZEMYSŁOWA 4, 00-450 WARSZAWA",
			REGON:   "012100784",
			Active:  true,
		},
	}}
	resolver := NewResolver(store, reg, zap.NewNop())

	outcome, err := resolver.Resolve(context.Background(), "tenant-1", "5260250274")
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, outcome.Status)
	require.Len(t, store.created, 1)
	created := store.created[0]
	assert.Equal(t, "5260250274", created.NIP)
	assert.Equal(t, "UL. PRZEMYSŁOWA 4", created.Street)
	assert.Equal(t, "00-450", created.PostalCode)
	assert.Equal(t, "WARSZAWA", created.City)
	assert.Equal(t, models.CompanySourceFromRegistry, created.Source)
}

func TestResolve_SoftOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		taxID      string
		reg        *fakeRegistry
		wantStatus Status
	}{
		{"invalid checksum", "5260250275", &fakeRegistry{}, StatusInvalidTaxID},
		{"not a tax id", "hello", &fakeRegistry{}, StatusInvalidTaxID},
		{"unknown to register", "5260250274", &fakeRegistry{}, StatusNotRegistered},
		{"register down", "5260250274", &fakeRegistry{err: errors.New("timeout")}, StatusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(&fakeCompanyStore{}, tt.reg, zap.NewNop())

			outcome, err := resolver.Resolve(context.Background(), "tenant-1", tt.taxID)
			require.NoError(t, err, "soft outcomes must not surface as errors")

			assert.Equal(t, tt.wantStatus, outcome.Status)
			assert.Nil(t, outcome.Company)
			assert.True(t, outcome.NeedsReview())
		})
	}
}

func TestResolveBatch_SpacingAndIndependence(t *testing.T) {
	store := &fakeCompanyStore{}
	reg := &fakeRegistry{entries: map[string]*registry.Entry{
		"5260250274": {TaxID: "5260250274", Name: "Alfa", Active: true},
	}}
	resolver := NewResolver(store, reg, zap.NewNop())
	batch := NewBatchResolver(resolver, 300*time.Millisecond, zap.NewNop())

	var slept []time.Duration
	batch.SetSleeper(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	items := batch.ResolveBatch(context.Background(), "tenant-1",
		[]string{"5260250274", "bogus", "1132191233"})

	require.Len(t, items, 3)
	assert.Equal(t, StatusCreated, items[0].Status)
	assert.Equal(t, StatusInvalidTaxID, items[1].Status)
	assert.Equal(t, StatusNotRegistered, items[2].Status)

	// a delay before every call after the first
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, slept)
}

func TestResolveBatch_CancelledMidway(t *testing.T) {
	resolver := NewResolver(&fakeCompanyStore{}, &fakeRegistry{}, zap.NewNop())
	batch := NewBatchResolver(resolver, time.Second, zap.NewNop())

	calls := 0
	batch.SetSleeper(func(_ context.Context, _ time.Duration) error {
		calls++
		return context.Canceled
	})

	items := batch.ResolveBatch(context.Background(), "tenant-1", []string{"bogus", "bogus2"})

	require.Len(t, items, 1, "completed items are kept when the batch stops")
	assert.Equal(t, 1, calls)
}
