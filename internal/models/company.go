package models

import "time"

// Company source constants
const (
	CompanySourceManual       = "MANUAL"
	CompanySourceFromRegistry = "AUTO_FROM_REGISTRY"
)

// Company represents a tenant-scoped counterparty. NIP is unique per tenant;
// rows created from registry lookups carry AUTO_FROM_REGISTRY provenance.
type Company struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	NIP        string    `json:"nip"` // normalized 10-digit form
	Name       string    `json:"name"`
	Street     string    `json:"street,omitempty"`
	City       string    `json:"city,omitempty"`
	PostalCode string    `json:"postal_code,omitempty"`
	REGON      string    `json:"regon,omitempty"`
	KRS        string    `json:"krs,omitempty"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// Tenant represents an isolated business customer. OwnNIP drives the direction
// heuristic; Tier selects the monthly invoice ceiling.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnNIP    string    `json:"own_nip"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}
