// Package validation runs the financial and tax consistency checks that
// gate an extracted invoice before submission.
package validation

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/nip"
)

// Outcome of a validation run
type Outcome string

const (
	OutcomePass   Outcome = "PASS"
	OutcomeReview Outcome = "REVIEW"
	OutcomeFail   Outcome = "FAIL"
)

var (
	amountTolerance = decimal.NewFromFloat(0.01)

	// domestic VAT rates; "zw" marks an exempt position
	allowedVatRates = map[string]bool{"23": true, "8": true, "5": true, "0": true, "zw": true}
)

// Issue is one finding. Hard issues terminate the job; soft issues
// route the invoice into manual review.
type Issue struct {
	Check   string `json:"check"`
	Message string `json:"message"`
	Hard    bool   `json:"hard"`
}

// Parties carries the extracted counterparty tax ids, which live on the
// extraction result rather than the invoice row
type Parties struct {
	SellerTaxID string
	BuyerTaxID  string
}

// Report collects every finding of a run. Checks never short-circuit:
// the review screen shows all problems at once.
type Report struct {
	Issues []Issue `json:"issues"`
}

func (r *Report) add(check, message string, hard bool) {
	r.Issues = append(r.Issues, Issue{Check: check, Message: message, Hard: hard})
}

// Outcome derives the run outcome: any hard issue fails, any soft
// issue routes to review, otherwise pass.
func (r *Report) Outcome() Outcome {
	outcome := OutcomePass
	for _, issue := range r.Issues {
		if issue.Hard {
			return OutcomeFail
		}
		outcome = OutcomeReview
	}
	return outcome
}

// Err converts the report into the stage error, nil on pass
func (r *Report) Err() error {
	switch r.Outcome() {
	case OutcomePass:
		return nil
	case OutcomeFail:
		return apperrors.NewHardValidationError(r.summary())
	default:
		return apperrors.NewSoftValidationError(r.summary())
	}
}

func (r *Report) summary() string {
	if len(r.Issues) == 0 {
		return ""
	}
	msg := r.Issues[0].Message
	if len(r.Issues) > 1 {
		msg = fmt.Sprintf("%s (and %d more issues)", msg, len(r.Issues)-1)
	}
	return msg
}

type Validator struct {
	logger *zap.Logger
}

func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate runs all checks in a fixed order and returns the full report
func (v *Validator) Validate(invoice *models.Invoice, parties Parties) *Report {
	report := &Report{}

	v.checkRequiredFields(invoice, report)
	v.checkAmountIdentity(invoice, report)
	v.checkTaxIDs(parties, report)
	v.checkLineItems(invoice, report)

	if len(report.Issues) > 0 {
		v.logger.Info("invoice validation found issues",
			zap.Int64("invoice_id", invoice.ID),
			zap.String("outcome", string(report.Outcome())),
			zap.Int("issues", len(report.Issues)))
	}

	return report
}

// A missing required field is a hard failure: the document can never be
// submitted without it, so review would only defer the inevitable.
func (v *Validator) checkRequiredFields(invoice *models.Invoice, report *Report) {
	if invoice.DocumentNumber == "" {
		report.add("required_fields", "document number is missing", true)
	}
	if invoice.IssueDate == nil {
		report.add("required_fields", "issue date is missing", true)
	}
	for _, amount := range []struct {
		name  string
		value *decimal.Decimal
	}{
		{"net", invoice.NetAmount},
		{"vat", invoice.VatAmount},
		{"gross", invoice.GrossAmount},
	} {
		if amount.value == nil {
			report.add("required_fields", fmt.Sprintf("%s amount is missing", amount.name), true)
		}
	}
	if invoice.Currency == "" {
		report.add("required_fields", "currency is missing", true)
	}
}

func (v *Validator) checkAmountIdentity(invoice *models.Invoice, report *Report) {
	for name, amount := range map[string]*decimal.Decimal{
		"net":   invoice.NetAmount,
		"vat":   invoice.VatAmount,
		"gross": invoice.GrossAmount,
	} {
		if amount != nil && amount.IsNegative() {
			report.add("amounts", fmt.Sprintf("%s amount is negative: %s", name, amount), true)
		}
	}

	if invoice.NetAmount == nil || invoice.VatAmount == nil || invoice.GrossAmount == nil {
		return
	}
	expected := invoice.NetAmount.Add(*invoice.VatAmount)
	if invoice.GrossAmount.Sub(expected).Abs().GreaterThan(amountTolerance) {
		report.add("amounts",
			fmt.Sprintf("gross %s does not equal net+vat %s", invoice.GrossAmount, expected), true)
	}
}

// At least one party tax id is required; a present id with a bad
// checksum can never clear registry or gateway checks, so it fails the
// job outright. A single absent id only routes to review.
func (v *Validator) checkTaxIDs(parties Parties, report *Report) {
	if parties.SellerTaxID == "" && parties.BuyerTaxID == "" {
		report.add("required_fields", "no party tax id present", true)
		return
	}

	for _, party := range []struct {
		name string
		raw  string
	}{
		{"seller", parties.SellerTaxID},
		{"buyer", parties.BuyerTaxID},
	} {
		if party.raw == "" {
			report.add("tax_ids", fmt.Sprintf("%s tax id is missing", party.name), false)
			continue
		}
		normalized, ok := nip.Normalize(party.raw)
		if !ok || !nip.Valid(normalized) {
			report.add("tax_ids", fmt.Sprintf("%s tax id %q fails checksum", party.name, party.raw), true)
		}
	}
}

func (v *Validator) checkLineItems(invoice *models.Invoice, report *Report) {
	if len(invoice.LineItems) == 0 {
		return
	}

	lineSum := decimal.Zero
	for i, item := range invoice.LineItems {
		if item.VatRate != "" && !allowedVatRates[item.VatRate] {
			report.add("line_items",
				fmt.Sprintf("line %d has unknown VAT rate %q", i+1, item.VatRate), false)
		}
		lineSum = lineSum.Add(item.GrossAmount)
	}

	if invoice.GrossAmount != nil && !lineSum.IsZero() {
		if invoice.GrossAmount.Sub(lineSum).Abs().GreaterThan(amountTolerance) {
			report.add("line_items",
				fmt.Sprintf("line items sum to %s but invoice gross is %s", lineSum, invoice.GrossAmount), false)
		}
	}
}
