package ksef

import (
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/models"
)

// Subject is one invoice party in the gateway document
type Subject struct {
	TaxID      string `json:"nip"`
	Name       string `json:"name"`
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
}

// Line is one invoice position in the gateway document
type Line struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	VatRate     string `json:"vatRate"`
	NetAmount   string `json:"netAmount"`
	VatAmount   string `json:"vatAmount"`
	GrossAmount string `json:"grossAmount"`
}

// Document is the structured invoice payload submitted to the gateway.
// Amounts travel as fixed two-decimal strings.
type Document struct {
	InvoiceNumber string  `json:"invoiceNumber"`
	IssueDate     string  `json:"issueDate"`
	SaleDate      string  `json:"saleDate,omitempty"`
	Currency      string  `json:"currency"`
	NetAmount     string  `json:"netAmount"`
	VatAmount     string  `json:"vatAmount"`
	GrossAmount   string  `json:"grossAmount"`
	Seller        Subject `json:"seller"`
	Buyer         Subject `json:"buyer"`
	Lines         []Line  `json:"lines,omitempty"`
}

// BuildDocument converts a validated invoice and its resolved parties
// into the gateway payload. Fields validation guarantees are checked
// again here so a malformed document can never leave the process.
func BuildDocument(invoice *models.Invoice, seller, buyer *models.Company) (*Document, error) {
	switch {
	case invoice.DocumentNumber == "":
		return nil, fmt.Errorf("invoice has no document number")
	case invoice.IssueDate == nil:
		return nil, fmt.Errorf("invoice has no issue date")
	case invoice.NetAmount == nil || invoice.VatAmount == nil || invoice.GrossAmount == nil:
		return nil, fmt.Errorf("invoice amounts are incomplete")
	case seller == nil || buyer == nil:
		return nil, fmt.Errorf("invoice parties are not resolved")
	}

	doc := &Document{
		InvoiceNumber: invoice.DocumentNumber,
		IssueDate:     invoice.IssueDate.Format("2006-01-02"),
		Currency:      invoice.Currency,
		NetAmount:     invoice.NetAmount.StringFixed(2),
		VatAmount:     invoice.VatAmount.StringFixed(2),
		GrossAmount:   invoice.GrossAmount.StringFixed(2),
		Seller:        subjectFromCompany(seller),
		Buyer:         subjectFromCompany(buyer),
	}
	if invoice.SaleDate != nil {
		doc.SaleDate = invoice.SaleDate.Format("2006-01-02")
	}

	for _, item := range invoice.LineItems {
		doc.Lines = append(doc.Lines, Line{
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			UnitPrice:   item.UnitPrice.StringFixed(2),
			VatRate:     item.VatRate,
			NetAmount:   item.NetAmount.StringFixed(2),
			VatAmount:   item.VatAmount.StringFixed(2),
			GrossAmount: item.GrossAmount.StringFixed(2),
		})
	}

	return doc, nil
}

func subjectFromCompany(c *models.Company) Subject {
	return Subject{
		TaxID:      c.NIP,
		Name:       c.Name,
		Street:     c.Street,
		PostalCode: c.PostalCode,
		City:       c.City,
	}
}
