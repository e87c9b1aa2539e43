package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// SubmissionRepository persists gateway submission records
type SubmissionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sql.DB, logger *zap.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a freshly submitted document in PENDING state
func (r *SubmissionRepository) Create(ctx context.Context, tx *sql.Tx, s *models.Submission) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	result, err := ex.Exec(`
		INSERT INTO submissions (invoice_id, reference_number, status)
		VALUES (?, ?, ?)`,
		s.InvoiceID, s.ReferenceNumber, models.SubmissionStatusPending,
	)
	if err != nil {
		r.logger.Error("Failed to create submission", zap.Int64("invoice_id", s.InvoiceID), zap.Error(err))
		return fmt.Errorf("failed to create submission: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	s.ID = id
	s.Status = models.SubmissionStatusPending
	return nil
}

// Resolve finalizes a submission after the gateway's asynchronous decision.
// ACCEPTED rows are immutable afterwards; the guard on status prevents any
// later rewrite.
func (r *SubmissionRepository) Resolve(ctx context.Context, tx *sql.Tx, id int64, status, ksefNumber, rejectReason, receiptPath string) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	result, err := ex.Exec(`
		UPDATE submissions
		SET status = ?, ksef_number = ?, reject_reason = ?, receipt_path = ?,
			resolved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		status, ksefNumber, rejectReason, receiptPath, id, models.SubmissionStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve submission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("submission %d is not pending", id)
	}

	return nil
}

// GetByInvoice returns the latest submission for an invoice, or nil when the
// invoice was never submitted.
func (r *SubmissionRepository) GetByInvoice(ctx context.Context, invoiceID int64) (*models.Submission, error) {
	var s models.Submission
	var resolved sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, reference_number, ksef_number, status, reject_reason,
			receipt_path, submitted_at, resolved_at
		FROM submissions WHERE invoice_id = ? ORDER BY id DESC LIMIT 1`,
		invoiceID,
	).Scan(&s.ID, &s.InvoiceID, &s.ReferenceNumber, &s.KSeFNumber, &s.Status,
		&s.RejectReason, &s.ReceiptPath, &s.SubmittedAt, &resolved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	s.ResolvedAt = timeOrNil(resolved)
	return &s, nil
}
