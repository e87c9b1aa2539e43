// Package api exposes the pipeline over HTTP. Tenancy comes from the
// X-Tenant-ID header; every resource read is scoped to that tenant.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/companies"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/notification"
	"github.com/fakturo/invoice-pipeline/internal/repository"
	"github.com/fakturo/invoice-pipeline/internal/usage"
)

var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

var allowedUploads = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

type pipeline interface {
	Enqueue(ctx context.Context, tenantID string, invoiceID int64) (*models.ProcessingJob, error)
	Approve(ctx context.Context, tenantID string, invoiceID int64) (*models.ProcessingJob, error)
}

type registerWriter interface {
	WriteRegister(ctx context.Context, tenantID, period string, w io.Writer) error
}

// Handler carries the dependencies of all HTTP endpoints
type Handler struct {
	pipeline    pipeline
	invoices    *repository.InvoiceRepository
	jobs        *repository.JobRepository
	logs        *repository.LogRepository
	tenants     *repository.TenantRepository
	submissions *repository.SubmissionRepository
	gate        *usage.Gate
	batch       *companies.BatchResolver
	exporter    registerWriter
	notifier    *notification.Notifier
	uploadDir   string
	logger      *zap.Logger
}

type HandlerDeps struct {
	Pipeline    pipeline
	Invoices    *repository.InvoiceRepository
	Jobs        *repository.JobRepository
	Logs        *repository.LogRepository
	Tenants     *repository.TenantRepository
	Submissions *repository.SubmissionRepository
	Gate        *usage.Gate
	Batch       *companies.BatchResolver
	Exporter    registerWriter
	Notifier    *notification.Notifier
	UploadDir   string
	Logger      *zap.Logger
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		pipeline:    deps.Pipeline,
		invoices:    deps.Invoices,
		jobs:        deps.Jobs,
		logs:        deps.Logs,
		tenants:     deps.Tenants,
		submissions: deps.Submissions,
		gate:        deps.Gate,
		batch:       deps.Batch,
		exporter:    deps.Exporter,
		notifier:    deps.Notifier,
		uploadDir:   deps.UploadDir,
		logger:      deps.Logger,
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(contextTenantKey)
}

// CreateInvoice accepts a multipart document upload and registers it as
// an UPLOADED invoice
func (h *Handler) CreateInvoice(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, h.logger, apperrors.NewValidationError("file", "multipart file is required"))
		return
	}

	ext := filepath.Ext(file.Filename)
	mimeType, ok := allowedUploads[ext]
	if !ok {
		respondError(c, h.logger, apperrors.NewValidationError("file",
			fmt.Sprintf("unsupported document type %q", ext)))
		return
	}

	storedPath := filepath.Join(h.uploadDir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, storedPath); err != nil {
		respondError(c, h.logger, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	invoice := &models.Invoice{
		TenantID: tenantID(c),
		FilePath: storedPath,
		MimeType: mimeType,
	}
	if err := h.invoices.Create(c.Request.Context(), invoice); err != nil {
		respondError(c, h.logger, err)
		return
	}

	// storage metering is best effort; the upload already succeeded
	if err := h.gate.RecordStorage(c.Request.Context(), invoice.TenantID, file.Size); err != nil {
		h.logger.Warn("Failed to record storage usage",
			zap.String("tenant_id", invoice.TenantID),
			zap.Int64("invoice_id", invoice.ID),
			zap.Error(err))
	}

	respond(c, http.StatusCreated, invoice)
}

// ProcessInvoice admits an invoice into the pipeline
func (h *Handler) ProcessInvoice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	job, err := h.pipeline.Enqueue(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// ApproveInvoice re-enters a reviewed invoice for submission
func (h *Handler) ApproveInvoice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	job, err := h.pipeline.Approve(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// GetInvoice returns one invoice scoped to the tenant, together with
// its latest gateway submission when one exists
func (h *Handler) GetInvoice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	invoice, err := h.invoices.GetByIDForTenant(c.Request.Context(), tenantID(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	submission, err := h.submissions.GetByInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"invoice": invoice, "submission": submission})
}

// GetJob returns a job header after verifying the tenant owns the
// underlying invoice
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.loadTenantJob(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, job)
}

// GetJobLogs returns the append-only audit trail of a job
func (h *Handler) GetJobLogs(c *gin.Context) {
	job, err := h.loadTenantJob(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	logs, err := h.logs.ListByJob(c.Request.Context(), job.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, logs)
}

func (h *Handler) loadTenantJob(c *gin.Context) (*models.ProcessingJob, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}

	job, err := h.jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}

	// cross-tenant reads get the same 404 as a missing job
	if _, err := h.invoices.GetByIDForTenant(c.Request.Context(), tenantID(c), job.InvoiceID); err != nil {
		return nil, apperrors.NewNotFoundError("job", c.Param("id"))
	}

	return job, nil
}

// GetUsage returns the tenant's quota snapshot for the current period
func (h *Handler) GetUsage(c *gin.Context) {
	tenant, err := h.tenants.GetByID(c.Request.Context(), tenantID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	snapshot, err := h.gate.Snapshot(c.Request.Context(), tenant)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, snapshot)
}

// ExportRegister streams the xlsx invoice register for one period
func (h *Handler) ExportRegister(c *gin.Context) {
	period := c.Query("period")
	if !periodPattern.MatchString(period) {
		respondError(c, h.logger, apperrors.NewValidationError("period", "must be YYYY-MM"))
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename="register-%s.xlsx"`, period))

	if err := h.exporter.WriteRegister(c.Request.Context(), tenantID(c), period, c.Writer); err != nil {
		h.logger.Error("register export failed",
			zap.String("tenant_id", tenantID(c)),
			zap.String("period", period),
			zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}

type resolveRequest struct {
	TaxIDs          []string `json:"tax_ids" binding:"required,min=1,max=100"`
	NotifyRecipient string   `json:"notify_recipient"`
}

// ResolveCompanies runs a batch counterparty resolution and optionally
// notifies a recipient with the summary
func (h *Handler) ResolveCompanies(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperrors.NewValidationError("tax_ids", err.Error()))
		return
	}

	tenant := tenantID(c)
	items := h.batch.ResolveBatch(c.Request.Context(), tenant, req.TaxIDs)

	summary := notification.BatchSummary{TenantID: tenant, Total: len(req.TaxIDs)}
	for _, item := range items {
		switch {
		case item.Error != "":
			summary.Failed++
		case item.Status == companies.StatusMatched || item.Status == companies.StatusCreated:
			summary.Succeeded++
		default:
			summary.Review++
		}
	}

	if req.NotifyRecipient != "" && h.notifier != nil {
		go func(recipient string, summary notification.BatchSummary) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := h.notifier.Send(ctx, recipient, summary); err != nil {
				h.logger.Warn("batch summary notification failed", zap.Error(err))
			}
		}(req.NotifyRecipient, summary)
	}

	respond(c, http.StatusOK, gin.H{"items": items, "summary": summary})
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}
