package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice status constants. The orchestrator is the only writer once a job is
// running; transitions follow the edges enforced by the workflow package.
const (
	InvoiceStatusUploaded    = "UPLOADED"
	InvoiceStatusProcessing  = "PROCESSING"
	InvoiceStatusExtracted   = "EXTRACTED"
	InvoiceStatusNeedsReview = "NEEDS_REVIEW"
	InvoiceStatusValidated   = "VALIDATED"
	InvoiceStatusSubmitted   = "SUBMITTED"
	InvoiceStatusAccepted    = "ACCEPTED"
	InvoiceStatusRejected    = "REJECTED"
	InvoiceStatusFailed      = "FAILED"
)

// Invoice direction constants
const (
	DirectionIncoming = "INCOMING"
	DirectionOutgoing = "OUTGOING"
	DirectionUnknown  = "UNKNOWN"
)

// Invoice represents an uploaded invoice document and its extracted tax data.
// Amounts are decimals; gross must equal net+vat within 0.01 once the invoice
// reaches VALIDATED.
type Invoice struct {
	ID              int64            `json:"id"`
	TenantID        string           `json:"tenant_id"`
	Status          string           `json:"status"`
	Direction       string           `json:"direction,omitempty"`
	DocumentNumber  string           `json:"document_number,omitempty"`
	IssueDate       *time.Time       `json:"issue_date,omitempty"`
	DueDate         *time.Time       `json:"due_date,omitempty"`
	SaleDate        *time.Time       `json:"sale_date,omitempty"`
	Currency        string           `json:"currency,omitempty"`
	NetAmount       *decimal.Decimal `json:"net_amount,omitempty"`
	VatAmount       *decimal.Decimal `json:"vat_amount,omitempty"`
	GrossAmount     *decimal.Decimal `json:"gross_amount,omitempty"`
	LineItems       []LineItem       `json:"line_items,omitempty"`
	SellerCompanyID *int64           `json:"seller_company_id,omitempty"`
	BuyerCompanyID  *int64           `json:"buyer_company_id,omitempty"`
	KSeFNumber      string           `json:"ksef_number,omitempty"`
	FilePath        string           `json:"file_path"`
	MimeType        string           `json:"mime_type"`
	Confidence      float64          `json:"confidence"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// LineItem represents a single invoice position
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VatRate     string          `json:"vat_rate"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	VatAmount   decimal.Decimal `json:"vat_amount"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
}

// IsSubmittable reports whether the invoice may enter the submission stage
func (i *Invoice) IsSubmittable() bool {
	return i.Status == InvoiceStatusValidated && i.KSeFNumber == ""
}
