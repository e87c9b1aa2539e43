package models

import "time"

// Gateway submission status constants
const (
	SubmissionStatusPending  = "PENDING"
	SubmissionStatusAccepted = "ACCEPTED"
	SubmissionStatusRejected = "REJECTED"
)

// Submission records one document handed to the e-invoicing gateway. The
// reference number is assigned synchronously at submit; the KSeF number and
// receipt arrive asynchronously via status polling. Rows are immutable once
// ACCEPTED.
type Submission struct {
	ID              int64      `json:"id"`
	InvoiceID       int64      `json:"invoice_id"`
	ReferenceNumber string     `json:"reference_number"`
	KSeFNumber      string     `json:"ksef_number,omitempty"`
	Status          string     `json:"status"`
	RejectReason    string     `json:"reject_reason,omitempty"`
	ReceiptPath     string     `json:"receipt_path,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}
