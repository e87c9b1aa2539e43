// Package orchestrator drives an invoice through the processing
// pipeline: OCR, extraction, classification, counterparty resolution,
// validation and gateway submission. It owns every status transition of
// jobs and invoices while a job is running.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/classification"
	"github.com/fakturo/invoice-pipeline/internal/companies"
	"github.com/fakturo/invoice-pipeline/internal/domain/workflow"
	"github.com/fakturo/invoice-pipeline/internal/extraction"
	"github.com/fakturo/invoice-pipeline/internal/ksef"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/ocr"
	"github.com/fakturo/invoice-pipeline/internal/repository"
	"github.com/fakturo/invoice-pipeline/internal/validation"
	"github.com/fakturo/invoice-pipeline/pkg/database"
)

type pageRenderer interface {
	RenderFirstPage(path string) ([]byte, error)
}

type ocrEngine interface {
	Recognize(ctx context.Context, page []byte) (*ocr.Result, error)
}

type invoiceExtractor interface {
	FromText(ctx context.Context, text string) (*extraction.Result, error)
	FromImage(ctx context.Context, page []byte) (*extraction.Result, error)
}

type directionClassifier interface {
	Classify(ctx context.Context, ownTaxID string, doc classification.Document) classification.Result
}

type partyResolver interface {
	Resolve(ctx context.Context, tenantID, rawTaxID string) (companies.Outcome, error)
}

type invoiceValidator interface {
	Validate(invoice *models.Invoice, parties validation.Parties) *validation.Report
}

type gateway interface {
	Submit(ctx context.Context, doc *ksef.Document) (string, error)
	WaitForOutcome(ctx context.Context, reference string) (*ksef.StatusResult, error)
	DownloadReceipt(ctx context.Context, reference string) (string, error)
}

type admissionGate interface {
	Admit(ctx context.Context, tenant *models.Tenant) error
}

// Config tunes pipeline behavior
type Config struct {
	// ConfidenceThreshold is the overall extraction score below which
	// the invoice goes to manual review instead of validation
	ConfidenceThreshold float64

	// VisionFallbackBelow switches extraction from OCR text to the page
	// image when the OCR confidence is under this value
	VisionFallbackBelow float64

	// MinTextLength also triggers the vision path, for pages where the
	// OCR engine returns next to nothing
	MinTextLength int
}

// Repos bundles the persistence dependencies
type Repos struct {
	Invoices    *repository.InvoiceRepository
	Jobs        *repository.JobRepository
	Logs        *repository.LogRepository
	Tenants     *repository.TenantRepository
	Companies   *repository.CompanyRepository
	Submissions *repository.SubmissionRepository
}

// Orchestrator runs processing jobs. Stages execute sequentially; each
// stage transition commits the job status, the invoice status and an
// audit log row in one transaction.
type Orchestrator struct {
	db         *database.DB
	repos      Repos
	gate       admissionGate
	renderer   pageRenderer
	ocr        ocrEngine
	extractor  invoiceExtractor
	classifier directionClassifier
	resolver   partyResolver
	validator  invoiceValidator
	gateway    gateway
	config     Config
	logger     *zap.Logger

	// dispatch launches the background run; replaced in tests to run
	// synchronously
	dispatch func(func())
}

func New(
	db *database.DB,
	repos Repos,
	gate admissionGate,
	renderer pageRenderer,
	engine ocrEngine,
	extractor invoiceExtractor,
	classifier directionClassifier,
	resolver partyResolver,
	validator invoiceValidator,
	gw gateway,
	config Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:         db,
		repos:      repos,
		gate:       gate,
		renderer:   renderer,
		ocr:        engine,
		extractor:  extractor,
		classifier: classifier,
		resolver:   resolver,
		validator:  validator,
		gateway:    gw,
		config:     config,
		logger:     logger,
		dispatch:   func(fn func()) { go fn() },
	}
}

// Enqueue admits an invoice into the pipeline and starts a background
// job. The checks run in a fixed order so callers get the most specific
// error: existence, repeat submission, processability, active job,
// then quota. The active-job lookup runs before Admit because usage is
// never decremented, so a duplicate rejected after admission would
// still burn quota; the unique job index remains as the backstop for
// concurrent enqueues.
func (o *Orchestrator) Enqueue(ctx context.Context, tenantID string, invoiceID int64) (*models.ProcessingJob, error) {
	tenant, err := o.repos.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	invoice, err := o.repos.Invoices.GetByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.KSeFNumber != "" {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("invoice %d already holds gateway number %s", invoiceID, invoice.KSeFNumber))
	}

	machine := workflow.NewInvoiceMachine(workflow.State(invoice.Status))
	if !machine.CanFire(workflow.TriggerStart) {
		return nil, apperrors.NewValidationError("status",
			fmt.Sprintf("invoice in status %s cannot be processed", invoice.Status))
	}

	active, err := o.repos.Jobs.GetActiveByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("invoice %d already has an active processing job", invoiceID))
	}

	if err := o.gate.Admit(ctx, tenant); err != nil {
		return nil, err
	}

	job, err := o.repos.Jobs.Create(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("processing job enqueued",
		zap.String("tenant_id", tenantID),
		zap.Int64("invoice_id", invoiceID),
		zap.Int64("job_id", job.ID))

	o.dispatch(func() { o.run(context.Background(), job, invoice, tenant) })

	return job, nil
}

// Approve moves a reviewed invoice from NEEDS_REVIEW to VALIDATED and
// starts a submission-only job. Review decisions happen out of band;
// this is the pipeline re-entry point.
func (o *Orchestrator) Approve(ctx context.Context, tenantID string, invoiceID int64) (*models.ProcessingJob, error) {
	invoice, err := o.repos.Invoices.GetByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.Status != models.InvoiceStatusNeedsReview {
		return nil, apperrors.NewValidationError("status",
			fmt.Sprintf("invoice in status %s cannot be approved", invoice.Status))
	}
	if invoice.KSeFNumber != "" {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("invoice %d already holds gateway number %s", invoiceID, invoice.KSeFNumber))
	}

	job, err := o.repos.Jobs.Create(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	err = o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.transitionInvoice(ctx, tx, invoice, workflow.TriggerValidated); err != nil {
			return err
		}
		return o.repos.Jobs.UpdateStatus(ctx, tx, job.ID, models.JobStatusProcessing, "")
	})
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatusProcessing

	o.logger.Info("reviewed invoice approved for submission",
		zap.String("tenant_id", tenantID),
		zap.Int64("invoice_id", invoiceID),
		zap.Int64("job_id", job.ID))

	o.dispatch(func() { o.runSubmissionOnly(context.Background(), job, invoice) })

	return job, nil
}
