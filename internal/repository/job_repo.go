package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// JobRepository handles processing job persistence. The partial unique index
// on processing_jobs makes Create the single synchronization point for the
// one-active-job-per-invoice invariant.
type JobRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a QUEUED job for the invoice. A unique-index violation means
// another non-terminal job already exists and is reported as a conflict, so
// concurrent enqueue attempts cannot produce duplicates.
func (r *JobRepository) Create(ctx context.Context, invoiceID int64) (*models.ProcessingJob, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO processing_jobs (invoice_id, status) VALUES (?, ?)`,
		invoiceID, models.JobStatusQueued,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.NewConflictError(
				fmt.Sprintf("invoice %d already has an active processing job", invoiceID))
		}
		r.logger.Error("Failed to create job", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.ProcessingJob{
		ID:        id,
		InvoiceID: invoiceID,
		Status:    models.JobStatusQueued,
	}, nil
}

// GetByID fetches a single job
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	var started, finished sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, status, error_message, result, started_at, finished_at, created_at
		FROM processing_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.InvoiceID, &job.Status, &job.ErrorMessage, &job.Result,
		&started, &finished, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("job", fmt.Sprintf("%d", id))
	}
	if err != nil {
		r.logger.Error("Failed to get job", zap.Int64("job_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.StartedAt = timeOrNil(started)
	job.FinishedAt = timeOrNil(finished)
	return &job, nil
}

// UpdateStatus transitions the job. Terminal transitions also stamp
// finished_at; the first transition out of QUEUED stamps started_at.
func (r *JobRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, status, errorMessage string) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	query := `UPDATE processing_jobs SET status = ?, error_message = ?`
	switch status {
	case models.JobStatusProcessing:
		query += `, started_at = CURRENT_TIMESTAMP`
	case models.JobStatusCompleted, models.JobStatusFailed:
		query += `, finished_at = CURRENT_TIMESTAMP`
	}
	query += ` WHERE id = ?`

	result, err := ex.Exec(query, status, errorMessage, id)
	if err != nil {
		r.logger.Error("Failed to update job status",
			zap.Int64("job_id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError("job", fmt.Sprintf("%d", id))
	}

	return nil
}

// SetResult stores the raw stage result payload on the job
func (r *JobRepository) SetResult(ctx context.Context, tx *sql.Tx, id int64, result string) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	if _, err := ex.Exec(`UPDATE processing_jobs SET result = ? WHERE id = ?`, result, id); err != nil {
		return fmt.Errorf("failed to set job result: %w", err)
	}
	return nil
}

// GetActiveByInvoice returns the current non-terminal job for an invoice, or
// nil when every job is terminal.
func (r *JobRepository) GetActiveByInvoice(ctx context.Context, invoiceID int64) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	var started, finished sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, status, error_message, result, started_at, finished_at, created_at
		FROM processing_jobs
		WHERE invoice_id = ? AND status NOT IN (?, ?)
		LIMIT 1`,
		invoiceID, models.JobStatusCompleted, models.JobStatusFailed,
	).Scan(&job.ID, &job.InvoiceID, &job.Status, &job.ErrorMessage, &job.Result,
		&started, &finished, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}

	job.StartedAt = timeOrNil(started)
	job.FinishedAt = timeOrNil(finished)
	return &job, nil
}
