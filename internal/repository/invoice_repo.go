package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// InvoiceRepository handles invoice database operations
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

const invoiceColumns = `
	id, tenant_id, status, direction, document_number, issue_date, due_date,
	sale_date, currency, net_amount, vat_amount, gross_amount, line_items,
	seller_company_id, buyer_company_id, ksef_number, file_path, mime_type,
	confidence, created_at, updated_at
`

// Create inserts a new uploaded invoice
func (r *InvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (tenant_id, status, file_path, mime_type, line_items)
		VALUES (?, ?, ?, ?, ?)`,
		inv.TenantID, models.InvoiceStatusUploaded, inv.FilePath, inv.MimeType, string(items),
	)
	if err != nil {
		r.logger.Error("Failed to create invoice", zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	inv.ID = id
	inv.Status = models.InvoiceStatusUploaded
	return nil
}

// GetByID fetches a single invoice
func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*models.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	return r.scan(row, id)
}

// GetByIDForTenant fetches an invoice scoped to a tenant
func (r *InvoiceRepository) GetByIDForTenant(ctx context.Context, tenantID string, id int64) (*models.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return r.scan(row, id)
}

func (r *InvoiceRepository) scan(row *sql.Row, id int64) (*models.Invoice, error) {
	var inv models.Invoice
	var issue, due, sale sql.NullTime
	var net, vat, gross sql.NullString
	var seller, buyer sql.NullInt64
	var items string

	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.Status, &inv.Direction, &inv.DocumentNumber,
		&issue, &due, &sale, &inv.Currency, &net, &vat, &gross, &items,
		&seller, &buyer, &inv.KSeFNumber, &inv.FilePath, &inv.MimeType,
		&inv.Confidence, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("invoice", fmt.Sprintf("%d", id))
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.Int64("invoice_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	inv.IssueDate = timeOrNil(issue)
	inv.DueDate = timeOrNil(due)
	inv.SaleDate = timeOrNil(sale)
	inv.NetAmount = decimalOrNil(net)
	inv.VatAmount = decimalOrNil(vat)
	inv.GrossAmount = decimalOrNil(gross)
	inv.SellerCompanyID = int64OrNil(seller)
	inv.BuyerCompanyID = int64OrNil(buyer)

	if err := json.Unmarshal([]byte(items), &inv.LineItems); err != nil {
		return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
	}

	return &inv, nil
}

// UpdateStatus updates only the invoice status. Pass a transaction when the
// change must be atomic with the job transition.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	result, err := ex.Exec(
		`UPDATE invoices SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		r.logger.Error("Failed to update invoice status",
			zap.Int64("invoice_id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update invoice status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError("invoice", fmt.Sprintf("%d", id))
	}

	return nil
}

// UpdateExtraction persists the structured fields produced by the extraction
// and classification stages.
func (r *InvoiceRepository) UpdateExtraction(ctx context.Context, tx *sql.Tx, inv *models.Invoice) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}

	_, err = ex.Exec(`
		UPDATE invoices SET
			direction = ?, document_number = ?, issue_date = ?, due_date = ?,
			sale_date = ?, currency = ?, net_amount = ?, vat_amount = ?,
			gross_amount = ?, line_items = ?, confidence = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		inv.Direction, inv.DocumentNumber, inv.IssueDate, inv.DueDate,
		inv.SaleDate, inv.Currency,
		decimalToNull(inv.NetAmount), decimalToNull(inv.VatAmount),
		decimalToNull(inv.GrossAmount), string(items), inv.Confidence, inv.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update invoice extraction", zap.Int64("invoice_id", inv.ID), zap.Error(err))
		return fmt.Errorf("failed to update invoice extraction: %w", err)
	}

	return nil
}

// SetCompanyRefs links resolved counterparties to the invoice
func (r *InvoiceRepository) SetCompanyRefs(ctx context.Context, tx *sql.Tx, id int64, sellerID, buyerID *int64) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	var seller, buyer any
	if sellerID != nil {
		seller = *sellerID
	}
	if buyerID != nil {
		buyer = *buyerID
	}

	_, err := ex.Exec(`
		UPDATE invoices SET seller_company_id = ?, buyer_company_id = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		seller, buyer, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set company refs: %w", err)
	}
	return nil
}

// SetKSeFNumber records the external invoice number assigned by the gateway
func (r *InvoiceRepository) SetKSeFNumber(ctx context.Context, tx *sql.Tx, id int64, ksefNumber string) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	_, err := ex.Exec(
		`UPDATE invoices SET ksef_number = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		ksefNumber, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set ksef number: %w", err)
	}
	return nil
}

// ListByTenantPeriod returns the tenant's invoices issued in a "YYYY-MM"
// period, used by the register export.
func (r *InvoiceRepository) ListByTenantPeriod(ctx context.Context, tenantID, period string) ([]*models.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE tenant_id = ? AND strftime('%Y-%m', COALESCE(issue_date, created_at)) = ?
		ORDER BY id`,
		tenantID, period,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		var inv models.Invoice
		var issue, due, sale sql.NullTime
		var net, vat, gross sql.NullString
		var seller, buyer sql.NullInt64
		var items string

		if err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.Status, &inv.Direction, &inv.DocumentNumber,
			&issue, &due, &sale, &inv.Currency, &net, &vat, &gross, &items,
			&seller, &buyer, &inv.KSeFNumber, &inv.FilePath, &inv.MimeType,
			&inv.Confidence, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}

		inv.IssueDate = timeOrNil(issue)
		inv.DueDate = timeOrNil(due)
		inv.SaleDate = timeOrNil(sale)
		inv.NetAmount = decimalOrNil(net)
		inv.VatAmount = decimalOrNil(vat)
		inv.GrossAmount = decimalOrNil(gross)
		inv.SellerCompanyID = int64OrNil(seller)
		inv.BuyerCompanyID = int64OrNil(buyer)
		if err := json.Unmarshal([]byte(items), &inv.LineItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
		}

		invoices = append(invoices, &inv)
	}

	return invoices, rows.Err()
}
