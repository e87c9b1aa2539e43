package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fakturo/invoice-pipeline/internal/models"
	"go.uber.org/zap"
)

// LogRepository handles the append-only processing audit trail. There is no
// update or delete path on purpose.
type LogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLogRepository creates a new log repository
func NewLogRepository(db *sql.DB, logger *zap.Logger) *LogRepository {
	return &LogRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one log row for a stage transition
func (r *LogRepository) Append(ctx context.Context, tx *sql.Tx, log *models.ProcessingLog) error {
	var ex execer = r.db
	if tx != nil {
		ex = tx
	}

	result, err := ex.Exec(
		`INSERT INTO processing_logs (job_id, step, status, detail) VALUES (?, ?, ?, ?)`,
		log.JobID, log.Step, log.Status, log.Detail,
	)
	if err != nil {
		r.logger.Error("Failed to append processing log",
			zap.Int64("job_id", log.JobID),
			zap.String("step", log.Step),
			zap.Error(err))
		return fmt.Errorf("failed to append processing log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	log.ID = id
	return nil
}

// ListByJob returns all log rows for a job in insertion order
func (r *LogRepository) ListByJob(ctx context.Context, jobID int64) ([]*models.ProcessingLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, step, status, detail, created_at
		FROM processing_logs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ProcessingLog
	for rows.Next() {
		var log models.ProcessingLog
		if err := rows.Scan(&log.ID, &log.JobID, &log.Step, &log.Status, &log.Detail, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan processing log: %w", err)
		}
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}
