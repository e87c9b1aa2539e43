package models

import "time"

// Processing job status constants
const (
	JobStatusQueued        = "QUEUED"
	JobStatusProcessing    = "PROCESSING"
	JobStatusTextExtracted = "TEXT_EXTRACTED"
	JobStatusCompleted     = "COMPLETED"
	JobStatusFailed        = "FAILED"
)

// Pipeline step constants used in processing log rows
const (
	StepOCR       = "OCR"
	StepAIExtract = "AI_EXTRACT"
	StepClassify  = "CLASSIFY"
	StepResolve   = "RESOLVE"
	StepValidate  = "VALIDATE"
	StepSubmit    = "SUBMIT"
)

// Processing log status constants
const (
	LogStatusStarted   = "STARTED"
	LogStatusCompleted = "COMPLETED"
	LogStatusFailed    = "FAILED"
)

// ProcessingJob represents one processing attempt for an invoice. At most one
// job per invoice may be in a non-terminal status; the partial unique index on
// processing_jobs enforces this across processes. Terminal jobs are immutable.
type ProcessingJob struct {
	ID           int64      `json:"id"`
	InvoiceID    int64      `json:"invoice_id"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Result       string     `json:"result,omitempty"` // JSON blob of the raw stage output
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsTerminal reports whether the job can no longer change
func (j *ProcessingJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// ProcessingLog is one append-only audit row per (job, step, transition)
type ProcessingLog struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"` // stage-specific JSON metadata
	CreatedAt time.Time `json:"created_at"`
}
