package extraction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Party is a seller or buyer block as returned by the model. Fields the model
// cannot clearly read stay null; they are never guessed.
type Party struct {
	Name    *string `json:"name"`
	TaxID   *string `json:"tax_id"`
	Address *string `json:"address"`
}

// ExtractedLineItem is one invoice position from the model
type ExtractedLineItem struct {
	Description *string          `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	TaxRate     *string          `json:"tax_rate"`
	NetAmount   *decimal.Decimal `json:"net_amount"`
	VatAmount   *decimal.Decimal `json:"vat_amount"`
	GrossAmount *decimal.Decimal `json:"gross_amount"`
}

// ExtractedInvoice is the strict response schema for structured extraction.
// Unmarshalling rejects non-numeric amounts outright; a response that does
// not fit this shape is a hard stage failure, never a zero-confidence result.
type ExtractedInvoice struct {
	DocumentNumber    *string             `json:"document_number"`
	IssueDate         *string             `json:"issue_date"`
	DueDate           *string             `json:"due_date"`
	SaleDate          *string             `json:"sale_date"`
	Currency          *string             `json:"currency"`
	NetAmount         *decimal.Decimal    `json:"net_amount"`
	VatAmount         *decimal.Decimal    `json:"vat_amount"`
	GrossAmount       *decimal.Decimal    `json:"gross_amount"`
	LineItems         []ExtractedLineItem `json:"line_items"`
	Seller            *Party              `json:"seller"`
	Buyer             *Party              `json:"buyer"`
	FieldConfidence   map[string]float64  `json:"field_confidence"`
	OverallConfidence float64             `json:"overall_confidence"`
}

const dateLayout = "2006-01-02"

// Validate rejects responses that parsed as JSON but violate the schema:
// malformed dates, out-of-range confidences. Coercion is never attempted.
func (e *ExtractedInvoice) Validate() error {
	for field, value := range map[string]*string{
		"issue_date": e.IssueDate,
		"due_date":   e.DueDate,
		"sale_date":  e.SaleDate,
	} {
		if value == nil {
			continue
		}
		if _, err := time.Parse(dateLayout, *value); err != nil {
			return fmt.Errorf("field %s is not an ISO date: %q", field, *value)
		}
	}

	if e.OverallConfidence < 0 || e.OverallConfidence > 100 {
		return fmt.Errorf("overall_confidence out of range: %v", e.OverallConfidence)
	}
	for field, conf := range e.FieldConfidence {
		if conf < 0 || conf > 100 {
			return fmt.Errorf("confidence for %s out of range: %v", field, conf)
		}
	}

	return nil
}

// Date parses one of the ISO date fields; Validate must have passed first
func (e *ExtractedInvoice) Date(value *string) *time.Time {
	if value == nil {
		return nil
	}
	t, err := time.Parse(dateLayout, *value)
	if err != nil {
		return nil
	}
	return &t
}

// AmountsConsistent reports whether gross matches net+vat within the
// tolerance. Missing amounts are not judged here; required-field checks
// belong to the validation stage.
func (e *ExtractedInvoice) AmountsConsistent(tolerance decimal.Decimal) bool {
	if e.NetAmount == nil || e.VatAmount == nil || e.GrossAmount == nil {
		return true
	}
	diff := e.GrossAmount.Sub(e.NetAmount.Add(*e.VatAmount)).Abs()
	return diff.LessThanOrEqual(tolerance)
}
