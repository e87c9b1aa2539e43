// Package export renders the monthly invoice register as a spreadsheet.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/models"
)

const sheetName = "Rejestr"

var headers = []string{
	"Lp.", "Invoice number", "Issue date", "Direction", "Status",
	"Currency", "Net", "VAT", "Gross", "KSeF number",
}

type invoiceLister interface {
	ListByTenantPeriod(ctx context.Context, tenantID, period string) ([]*models.Invoice, error)
}

type RegisterExporter struct {
	invoices invoiceLister
	logger   *zap.Logger
}

func NewRegisterExporter(invoices invoiceLister, logger *zap.Logger) *RegisterExporter {
	return &RegisterExporter{invoices: invoices, logger: logger}
}

// WriteRegister renders the tenant's invoices for one "YYYY-MM" period
// into an xlsx workbook with a totals row at the bottom.
func (e *RegisterExporter) WriteRegister(ctx context.Context, tenantID, period string, w io.Writer) error {
	invoices, err := e.invoices.ListByTenantPeriod(ctx, tenantID, period)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName(f.GetSheetName(0), sheetName)

	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	totalNet, totalVat, totalGross := decimal.Zero, decimal.Zero, decimal.Zero

	for i, inv := range invoices {
		row := i + 2
		issueDate := ""
		if inv.IssueDate != nil {
			issueDate = inv.IssueDate.Format("2006-01-02")
		}

		values := []any{
			i + 1, inv.DocumentNumber, issueDate, inv.Direction, inv.Status,
			inv.Currency,
			amountCell(inv.NetAmount), amountCell(inv.VatAmount), amountCell(inv.GrossAmount),
			inv.KSeFNumber,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}

		totalNet = addAmount(totalNet, inv.NetAmount)
		totalVat = addAmount(totalVat, inv.VatAmount)
		totalGross = addAmount(totalGross, inv.GrossAmount)
	}

	totalsRow := len(invoices) + 2
	totals := map[int]any{
		2: "Total",
		7: totalNet.InexactFloat64(),
		8: totalVat.InexactFloat64(),
		9: totalGross.InexactFloat64(),
	}
	for col, value := range totals {
		cell, _ := excelize.CoordinatesToCellName(col, totalsRow)
		if err := f.SetCellValue(sheetName, cell, value); err != nil {
			return fmt.Errorf("failed to write totals: %w", err)
		}
	}

	e.logger.Info("invoice register exported",
		zap.String("tenant_id", tenantID),
		zap.String("period", period),
		zap.Int("invoices", len(invoices)))

	return f.Write(w)
}

func amountCell(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

func addAmount(sum decimal.Decimal, d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return sum
	}
	return sum.Add(*d)
}
