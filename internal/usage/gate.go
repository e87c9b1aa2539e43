// Package usage implements per-tenant monthly quota accounting that gates job
// admission. Quota is orthogonal to rate limiting: it caps how many invoices a
// tier may process per period, not how fast requests arrive.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// UsageStore is the persistence contract for usage accounting
type UsageStore interface {
	TryIncrement(ctx context.Context, tenantID, period string, limit int64) (bool, error)
	AddStorage(ctx context.Context, tenantID, period string, bytes int64) error
	Get(ctx context.Context, tenantID, period string) (*models.UsageRecord, error)
}

// Gate checks tier ceilings and performs atomic admission
type Gate struct {
	store       UsageStore
	tiers       map[string]int64
	defaultTier string
	logger      *zap.Logger
	now         func() time.Time
}

// NewGate creates a usage gate from the configured tier ceilings
func NewGate(store UsageStore, tiers map[string]int64, defaultTier string, logger *zap.Logger) *Gate {
	return &Gate{
		store:       store,
		tiers:       tiers,
		defaultTier: defaultTier,
		logger:      logger,
		now:         time.Now,
	}
}

// Limit returns the monthly invoice ceiling for a tier
func (g *Gate) Limit(tier string) int64 {
	if limit, ok := g.tiers[tier]; ok {
		return limit
	}
	return g.tiers[g.defaultTier]
}

// Admit counts one invoice against the tenant's current period. The increment
// happens only when the counter is below the ceiling, in a single conditional
// update, so concurrent admissions for the same tenant cannot overshoot.
func (g *Gate) Admit(ctx context.Context, tenant *models.Tenant) error {
	period := models.PeriodKey(g.now())
	limit := g.Limit(tenant.Tier)

	admitted, err := g.store.TryIncrement(ctx, tenant.ID, period, limit)
	if err != nil {
		return fmt.Errorf("usage admission failed: %w", err)
	}

	if !admitted {
		rec, getErr := g.store.Get(ctx, tenant.ID, period)
		current := limit
		if getErr == nil {
			current = rec.InvoiceCount
		}

		g.logger.Warn("Admission blocked by quota",
			zap.String("tenant_id", tenant.ID),
			zap.String("period", period),
			zap.Int64("current", current),
			zap.Int64("limit", limit))

		return &apperrors.QuotaExceededError{
			TenantID: tenant.ID,
			Current:  current,
			Limit:    limit,
		}
	}

	return nil
}

// RecordStorage attributes uploaded bytes to the tenant's current
// period. Storage is metered, not capped, so this never rejects.
func (g *Gate) RecordStorage(ctx context.Context, tenantID string, bytes int64) error {
	period := models.PeriodKey(g.now())
	if err := g.store.AddStorage(ctx, tenantID, period, bytes); err != nil {
		return fmt.Errorf("failed to record storage usage: %w", err)
	}
	return nil
}

// Snapshot returns the read-only quota view for display
func (g *Gate) Snapshot(ctx context.Context, tenant *models.Tenant) (*models.QuotaSnapshot, error) {
	period := models.PeriodKey(g.now())

	rec, err := g.store.Get(ctx, tenant.ID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	return &models.QuotaSnapshot{
		Tier:   tenant.Tier,
		Period: period,
		Invoices: models.QuotaUsage{
			Current: rec.InvoiceCount,
			Limit:   g.Limit(tenant.Tier),
		},
	}, nil
}

// SetClock replaces the time source (for testing)
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}
