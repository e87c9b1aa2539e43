package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// TenantRepository reads tenant records. Tenant management itself lives
// outside the pipeline; the stages only need the tenant's own NIP and tier.
type TenantRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sql.DB, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID fetches a tenant
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, own_nip, tier, created_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.OwnNIP, &t.Tier, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("tenant", id)
	}
	if err != nil {
		r.logger.Error("Failed to get tenant", zap.String("tenant_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &t, nil
}

// Create inserts a tenant row (used by setup tooling and tests)
func (r *TenantRepository) Create(ctx context.Context, t *models.Tenant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, own_nip, tier) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.OwnNIP, t.Tier,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}
