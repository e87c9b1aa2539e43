package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// UsageRepository tracks per-tenant monthly consumption. Counters only move
// through conditional increments so concurrent admissions cannot lose updates
// or overshoot the ceiling.
type UsageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *sql.DB, logger *zap.Logger) *UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

// TryIncrement admits one invoice against the period ceiling. The row is
// created lazily on first use; the guarded UPDATE is the atomic check-and-
// increment, so two concurrent calls at count limit-1 admit exactly one.
// Returns false when the tenant is at or over the ceiling.
func (r *UsageRepository) TryIncrement(ctx context.Context, tenantID, period string, limit int64) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (tenant_id, period, invoice_count)
		VALUES (?, ?, 0)
		ON CONFLICT(tenant_id, period) DO NOTHING`,
		tenantID, period,
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure usage record: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE usage_records
		SET invoice_count = invoice_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND period = ? AND invoice_count < ?`,
		tenantID, period, limit,
	)
	if err != nil {
		r.logger.Error("Failed to increment usage",
			zap.String("tenant_id", tenantID),
			zap.String("period", period),
			zap.Error(err))
		return false, fmt.Errorf("failed to increment usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

// AddStorage accumulates stored bytes for the period
func (r *UsageRepository) AddStorage(ctx context.Context, tenantID, period string, bytes int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (tenant_id, period, storage_bytes)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, period) DO UPDATE SET
			storage_bytes = storage_bytes + excluded.storage_bytes,
			updated_at = CURRENT_TIMESTAMP`,
		tenantID, period, bytes,
	)
	if err != nil {
		return fmt.Errorf("failed to add storage usage: %w", err)
	}
	return nil
}

// Get returns the usage record for a period, or a zero record when none exists
func (r *UsageRepository) Get(ctx context.Context, tenantID, period string) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, period, invoice_count, storage_bytes, updated_at
		FROM usage_records WHERE tenant_id = ? AND period = ?`,
		tenantID, period,
	).Scan(&rec.ID, &rec.TenantID, &rec.Period, &rec.InvoiceCount, &rec.StorageBytes, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.UsageRecord{TenantID: tenantID, Period: period}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	return &rec, nil
}
