package models

import "time"

// UsageRecord tracks per-tenant consumption for one billing period. Counters
// are incremented via conditional updates only and never decremented.
type UsageRecord struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Period       string    `json:"period"` // "YYYY-MM"
	InvoiceCount int64     `json:"invoice_count"`
	StorageBytes int64     `json:"storage_bytes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// QuotaSnapshot is the read-only usage view exposed for display
type QuotaSnapshot struct {
	Tier     string     `json:"tier"`
	Period   string     `json:"period"`
	Invoices QuotaUsage `json:"invoices"`
}

// QuotaUsage pairs current consumption with the tier ceiling
type QuotaUsage struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

// Period returns the usage period key for the given time
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
