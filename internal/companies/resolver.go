// Package companies resolves invoice counterparties against the tenant's
// company directory, creating directory entries from the national
// register when a tax id is seen for the first time.
package companies

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/nip"
	"github.com/fakturo/invoice-pipeline/internal/registry"
)

// Status describes how a resolution attempt ended. Everything except a
// storage failure is a soft outcome; the pipeline continues without a
// company reference when resolution cannot produce one.
type Status string

const (
	StatusMatched       Status = "MATCHED"
	StatusCreated       Status = "CREATED"
	StatusInvalidTaxID  Status = "INVALID_TAX_ID"
	StatusNotRegistered Status = "NOT_REGISTERED"
	StatusUnavailable   Status = "REGISTRY_UNAVAILABLE"
)

// Outcome is the result of resolving one tax id. Company is nil for the
// soft outcomes.
type Outcome struct {
	Company *models.Company
	Status  Status
}

// NeedsReview reports whether this outcome should flag the invoice for
// manual review rather than straight-through processing
func (o Outcome) NeedsReview() bool {
	return o.Status != StatusMatched && o.Status != StatusCreated
}

type companyStore interface {
	GetByTenantAndNIP(ctx context.Context, tenantID, taxID string) (*models.Company, error)
	Create(ctx context.Context, company *models.Company) (*models.Company, error)
}

type registryLookup interface {
	Lookup(ctx context.Context, taxID string) (*registry.Entry, error)
}

type Resolver struct {
	companies companyStore
	registry  registryLookup
	logger    *zap.Logger
}

func NewResolver(companies companyStore, reg registryLookup, logger *zap.Logger) *Resolver {
	return &Resolver{companies: companies, registry: reg, logger: logger}
}

// Resolve finds or creates the directory entry for one counterparty tax
// id. Only storage failures return an error; registry misses and
// invalid tax ids come back as soft outcomes.
func (r *Resolver) Resolve(ctx context.Context, tenantID, rawTaxID string) (Outcome, error) {
	normalized, ok := nip.Normalize(rawTaxID)
	if !ok || !nip.Valid(normalized) {
		r.logger.Debug("counterparty tax id invalid, skipping resolution",
			zap.String("tenant_id", tenantID))
		return Outcome{Status: StatusInvalidTaxID}, nil
	}

	existing, err := r.companies.GetByTenantAndNIP(ctx, tenantID, normalized)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to look up company: %w", err)
	}
	if existing != nil {
		return Outcome{Company: existing, Status: StatusMatched}, nil
	}

	entry, err := r.registry.Lookup(ctx, normalized)
	if err != nil {
		r.logger.Warn("registry lookup failed",
			zap.String("tax_id", normalized), zap.Error(err))
		return Outcome{Status: StatusUnavailable}, nil
	}
	if entry == nil {
		return Outcome{Status: StatusNotRegistered}, nil
	}

	address := registry.ParseAddress(entry.Address)
	company := &models.Company{
		TenantID:   tenantID,
		NIP:        normalized,
		Name:       entry.Name,
		Street:     address.Street,
		PostalCode: address.PostalCode,
		City:       address.City,
		REGON:      entry.REGON,
		KRS:        entry.KRS,
		Source:     models.CompanySourceFromRegistry,
	}

	created, err := r.companies.Create(ctx, company)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create company: %w", err)
	}

	r.logger.Info("counterparty created from register",
		zap.String("tenant_id", tenantID),
		zap.Int64("company_id", created.ID),
		zap.String("tax_id", normalized))

	return Outcome{Company: created, Status: StatusCreated}, nil
}
