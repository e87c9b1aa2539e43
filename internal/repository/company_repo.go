package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// CompanyRepository handles tenant-scoped company persistence
type CompanyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *sql.DB, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{
		db:     db,
		logger: logger,
	}
}

// GetByTenantAndNIP finds a company by its normalized NIP within a tenant.
// Returns nil without error when none exists.
func (r *CompanyRepository) GetByTenantAndNIP(ctx context.Context, tenantID, nip string) (*models.Company, error) {
	var c models.Company
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, nip, name, street, city, postal_code, regon, krs, source, created_at
		FROM companies WHERE tenant_id = ? AND nip = ?`,
		tenantID, nip,
	).Scan(&c.ID, &c.TenantID, &c.NIP, &c.Name, &c.Street, &c.City,
		&c.PostalCode, &c.REGON, &c.KRS, &c.Source, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company",
			zap.String("tenant_id", tenantID),
			zap.String("nip", nip),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	return &c, nil
}

// GetByID fetches a single company
func (r *CompanyRepository) GetByID(ctx context.Context, id int64) (*models.Company, error) {
	var c models.Company
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, nip, name, street, city, postal_code, regon, krs, source, created_at
		FROM companies WHERE id = ?`, id,
	).Scan(&c.ID, &c.TenantID, &c.NIP, &c.Name, &c.Street, &c.City,
		&c.PostalCode, &c.REGON, &c.KRS, &c.Source, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("company", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	return &c, nil
}

// Create inserts a company. When a concurrent caller created the same
// (tenant, NIP) first, the existing row is fetched and returned instead, so
// callers always end up with exactly one row per NIP.
func (r *CompanyRepository) Create(ctx context.Context, c *models.Company) (*models.Company, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO companies (tenant_id, nip, name, street, city, postal_code, regon, krs, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TenantID, c.NIP, c.Name, c.Street, c.City, c.PostalCode, c.REGON, c.KRS, c.Source,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.GetByTenantAndNIP(ctx, c.TenantID, c.NIP)
			if getErr != nil {
				return nil, getErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		r.logger.Error("Failed to create company",
			zap.String("tenant_id", c.TenantID),
			zap.String("nip", c.NIP),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create company: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	c.ID = id
	return c, nil
}
