package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/fakturo/invoice-pipeline/internal/classification"
	"github.com/fakturo/invoice-pipeline/internal/companies"
	"github.com/fakturo/invoice-pipeline/internal/extraction"
	"github.com/fakturo/invoice-pipeline/internal/ksef"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/ocr"
	"github.com/fakturo/invoice-pipeline/internal/repository"
	"github.com/fakturo/invoice-pipeline/internal/validation"
	"github.com/fakturo/invoice-pipeline/pkg/database"
)

// --- stage doubles ---

type fakeRenderer struct{ err error }

func (f *fakeRenderer) RenderFirstPage(string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("jpeg-bytes"), nil
}

type fakeOCR struct {
	text       string
	confidence float64
	err        error
}

func (f *fakeOCR) Recognize(context.Context, []byte) (*ocr.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{Text: f.text, Confidence: f.confidence}, nil
}

type fakeExtractor struct {
	result     *extraction.Result
	err        error
	imageCalls int
	textCalls  int
}

func (f *fakeExtractor) FromText(context.Context, string) (*extraction.Result, error) {
	f.textCalls++
	return f.result, f.err
}

func (f *fakeExtractor) FromImage(context.Context, []byte) (*extraction.Result, error) {
	f.imageCalls++
	return f.result, f.err
}

type fakeClassifier struct{ result classification.Result }

func (f *fakeClassifier) Classify(context.Context, string, classification.Document) classification.Result {
	return f.result
}

// dbResolver creates real company rows so foreign keys on the invoice hold
type dbResolver struct {
	repo    *repository.CompanyRepository
	outcome map[string]companies.Status
}

func (r *dbResolver) Resolve(ctx context.Context, tenantID, rawTaxID string) (companies.Outcome, error) {
	if status, ok := r.outcome[rawTaxID]; ok {
		return companies.Outcome{Status: status}, nil
	}
	company, err := r.repo.Create(ctx, &models.Company{
		TenantID: tenantID, NIP: rawTaxID, Name: "Company " + rawTaxID,
		Source: models.CompanySourceFromRegistry,
	})
	if err != nil {
		return companies.Outcome{}, err
	}
	return companies.Outcome{Company: company, Status: companies.StatusCreated}, nil
}

type fakeGateway struct {
	reference  string
	outcome    *ksef.StatusResult
	submitErr  error
	submits    int
	downloaded int
}

func (f *fakeGateway) Submit(context.Context, *ksef.Document) (string, error) {
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.reference, nil
}

func (f *fakeGateway) WaitForOutcome(context.Context, string) (*ksef.StatusResult, error) {
	return f.outcome, nil
}

func (f *fakeGateway) DownloadReceipt(context.Context, string) (string, error) {
	f.downloaded++
	return "/receipts/" + f.reference + ".xml", nil
}

type fakeGate struct {
	err    error
	admits int
}

func (f *fakeGate) Admit(context.Context, *models.Tenant) error {
	f.admits++
	return f.err
}

// --- fixture ---

type fixture struct {
	orch      *Orchestrator
	db        *database.DB
	repos     Repos
	extractor *fakeExtractor
	gateway   *fakeGateway
	ocr       *fakeOCR
	gate      *fakeGate
	renderer  *fakeRenderer
	tenant    *models.Tenant
}

func goodExtraction() *extraction.Result {
	str := func(s string) *string { return &s }
	num := func(s string) *decimal.Decimal { d := decimal.RequireFromString(s); return &d }
	return &extraction.Result{
		Attempts: 1,
		Invoice: &extraction.ExtractedInvoice{
			DocumentNumber: str("FV/2026/08/017"),
			IssueDate:      str("2026-08-12"),
			Currency:       str("PLN"),
			NetAmount:      num("1000.00"),
			VatAmount:      num("230.00"),
			GrossAmount:    num("1230.00"),
			Seller:         &extraction.Party{Name: str("Alfa"), TaxID: str("5260250274")},
			Buyer:          &extraction.Party{Name: str("Beta"), TaxID: str("1132191233")},
			LineItems: []extraction.ExtractedLineItem{{
				Description: str("Usługa"), Quantity: num("1"), UnitPrice: num("1000.00"),
				TaxRate: str("23"), NetAmount: num("1000.00"), VatAmount: num("230.00"),
				GrossAmount: num("1230.00"),
			}},
			OverallConfidence: 92,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: fmt.Sprintf("%s/pipeline.db", t.TempDir()), MaxOpenConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations("../../migrations"))

	repos := Repos{
		Invoices:    repository.NewInvoiceRepository(db.DB, logger),
		Jobs:        repository.NewJobRepository(db.DB, logger),
		Logs:        repository.NewLogRepository(db.DB, logger),
		Tenants:     repository.NewTenantRepository(db.DB, logger),
		Companies:   repository.NewCompanyRepository(db.DB, logger),
		Submissions: repository.NewSubmissionRepository(db.DB, logger),
	}

	f := &fixture{
		db:        db,
		repos:     repos,
		extractor: &fakeExtractor{result: goodExtraction()},
		ocr:       &fakeOCR{text: "Faktura VAT FV/2026/08/017 ...", confidence: 88},
		gateway: &fakeGateway{
			reference: "20260812-EL-0099",
			outcome:   &ksef.StatusResult{Status: ksef.StatusAccepted, KSeFNumber: "5260250274-20260812-AB12CD-00"},
		},
		gate:     &fakeGate{},
		renderer: &fakeRenderer{},
		tenant:   &models.Tenant{ID: "tenant-1", Name: "Test", OwnNIP: "9999999999", Tier: "starter"},
	}
	require.NoError(t, repos.Tenants.Create(context.Background(), f.tenant))

	resolver := &dbResolver{repo: repos.Companies, outcome: map[string]companies.Status{}}

	f.orch = New(db, repos, f.gate, f.renderer, f.ocr, f.extractor,
		&fakeClassifier{result: classification.Result{Direction: models.DirectionIncoming, Confidence: 1, Method: classification.MethodTaxIDMatch}},
		resolver, validation.NewValidator(logger), f.gateway,
		Config{ConfidenceThreshold: 70, VisionFallbackBelow: 40, MinTextLength: 10},
		logger)
	f.orch.dispatch = func(fn func()) { fn() }

	return f
}

func (f *fixture) newInvoice(t *testing.T) *models.Invoice {
	t.Helper()
	inv := &models.Invoice{TenantID: f.tenant.ID, FilePath: "/uploads/fv.pdf", MimeType: "application/pdf"}
	require.NoError(t, f.repos.Invoices.Create(context.Background(), inv))
	return inv
}

// --- tests ---

func TestEnqueue_HappyPathEndsAccepted(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t)
	ctx := context.Background()

	job, err := f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	stored, err := f.repos.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.NotNil(t, stored.FinishedAt)

	final, err := f.repos.Invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusAccepted, final.Status)
	assert.Equal(t, "5260250274-20260812-AB12CD-00", final.KSeFNumber)
	assert.Equal(t, models.DirectionIncoming, final.Direction)
	assert.Equal(t, "FV/2026/08/017", final.DocumentNumber)
	require.NotNil(t, final.GrossAmount)
	assert.Equal(t, "1230", final.GrossAmount.String())
	assert.NotNil(t, final.SellerCompanyID)
	assert.NotNil(t, final.BuyerCompanyID)

	submission, err := f.repos.Submissions.GetByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusAccepted, submission.Status)
	assert.Equal(t, "20260812-EL-0099", submission.ReferenceNumber)
	assert.NotEmpty(t, submission.ReceiptPath)

	logs, err := f.repos.Logs.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	var steps []string
	for _, l := range logs {
		if l.Status == models.LogStatusCompleted {
			steps = append(steps, l.Step)
		}
	}
	assert.Equal(t, []string{
		models.StepOCR, models.StepAIExtract, models.StepClassify,
		models.StepResolve, models.StepValidate, models.StepSubmit,
	}, steps)
}

func TestEnqueue_LowConfidenceParksForReview(t *testing.T) {
	f := newFixture(t)
	f.extractor.result.LowConfidence = true
	f.extractor.result.Invoice.OverallConfidence = 35
	inv := f.newInvoice(t)
	ctx := context.Background()

	job, err := f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	stored, _ := f.repos.Jobs.GetByID(ctx, job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)

	final, _ := f.repos.Invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, models.InvoiceStatusNeedsReview, final.Status)
	assert.Zero(t, f.gateway.submits, "review-bound invoices never reach the gateway")
}

func TestEnqueue_HardValidationFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	broken := decimal.RequireFromString("9999.00")
	f.extractor.result.Invoice.GrossAmount = &broken
	inv := f.newInvoice(t)
	ctx := context.Background()

	job, err := f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	stored, _ := f.repos.Jobs.GetByID(ctx, job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "does not equal")

	final, _ := f.repos.Invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, models.InvoiceStatusFailed, final.Status)
	assert.Zero(t, f.gateway.submits)
}

func TestEnqueue_GatewayRejection(t *testing.T) {
	f := newFixture(t)
	f.gateway.outcome = &ksef.StatusResult{Status: ksef.StatusRejected, RejectReason: "Duplicate invoice number"}
	inv := f.newInvoice(t)
	ctx := context.Background()

	job, err := f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	stored, _ := f.repos.Jobs.GetByID(ctx, job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)

	final, _ := f.repos.Invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, models.InvoiceStatusRejected, final.Status)
	assert.Empty(t, final.KSeFNumber)

	submission, _ := f.repos.Submissions.GetByInvoice(ctx, inv.ID)
	assert.Equal(t, models.SubmissionStatusRejected, submission.Status)
	assert.Equal(t, "Duplicate invoice number", submission.RejectReason)
}

func TestEnqueue_WeakOCRUsesVisionPath(t *testing.T) {
	f := newFixture(t)
	f.ocr.confidence = 20
	inv := f.newInvoice(t)

	_, err := f.orch.Enqueue(context.Background(), f.tenant.ID, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.extractor.imageCalls)
	assert.Zero(t, f.extractor.textCalls)
}

func TestEnqueue_AdmissionGuards(t *testing.T) {
	t.Run("unknown tenant", func(t *testing.T) {
		f := newFixture(t)
		inv := f.newInvoice(t)
		_, err := f.orch.Enqueue(context.Background(), "nobody", inv.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.Enqueue(context.Background(), f.tenant.ID, 404)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("quota exhausted", func(t *testing.T) {
		f := newFixture(t)
		f.gate.err = &apperrors.QuotaExceededError{TenantID: f.tenant.ID, Current: 100, Limit: 100}
		inv := f.newInvoice(t)
		_, err := f.orch.Enqueue(context.Background(), f.tenant.ID, inv.ID)
		assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	})

	t.Run("already accepted", func(t *testing.T) {
		f := newFixture(t)
		inv := f.newInvoice(t)
		_, err := f.orch.Enqueue(context.Background(), f.tenant.ID, inv.ID)
		require.NoError(t, err)

		// the invoice now holds a gateway number, so retry is a conflict
		_, err = f.orch.Enqueue(context.Background(), f.tenant.ID, inv.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("terminal failed invoice", func(t *testing.T) {
		f := newFixture(t)
		inv := f.newInvoice(t)
		require.NoError(t, f.repos.Invoices.UpdateStatus(context.Background(), nil, inv.ID, models.InvoiceStatusFailed))

		_, err := f.orch.Enqueue(context.Background(), f.tenant.ID, inv.ID)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("repeat submission blocked before quota", func(t *testing.T) {
		f := newFixture(t)
		inv := f.newInvoice(t)
		require.NoError(t, f.repos.Invoices.SetKSeFNumber(context.Background(), nil, inv.ID, "already-there"))
		f.gate.err = errors.New("gate must not be consulted")

		_, err := f.orch.Enqueue(context.Background(), f.tenant.ID, inv.ID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})
}

func TestEnqueue_OneActiveJobPerInvoice(t *testing.T) {
	f := newFixture(t)
	// leave the job hanging instead of running it
	f.orch.dispatch = func(func()) {}
	inv := f.newInvoice(t)
	ctx := context.Background()

	_, err := f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	_, err = f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// usage is never decremented, so the rejected duplicate must not
	// have been admitted against the quota
	assert.Equal(t, 1, f.gate.admits)
}

func TestFailedJobScrubsSecrets(t *testing.T) {
	f := newFixture(t)
	f.ocr.err = errors.New(`engine rejected request: Bearer sk-verysecretvalue1234`)
	inv := f.newInvoice(t)
	ctx := context.Background()

	job, err := f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	stored, _ := f.repos.Jobs.GetByID(ctx, job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.NotContains(t, stored.ErrorMessage, "sk-verysecretvalue1234")
	assert.Contains(t, stored.ErrorMessage, "[REDACTED]")
}

func TestApprove_SubmitsReviewedInvoice(t *testing.T) {
	f := newFixture(t)
	f.extractor.result.LowConfidence = true
	inv := f.newInvoice(t)
	ctx := context.Background()

	_, err := f.orch.Enqueue(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	parked, _ := f.repos.Invoices.GetByID(ctx, inv.ID)
	require.Equal(t, models.InvoiceStatusNeedsReview, parked.Status)

	job, err := f.orch.Approve(ctx, f.tenant.ID, inv.ID)
	require.NoError(t, err)

	stored, _ := f.repos.Jobs.GetByID(ctx, job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)

	final, _ := f.repos.Invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, models.InvoiceStatusAccepted, final.Status)
	assert.NotEmpty(t, final.KSeFNumber)
}

func TestApprove_RejectsWrongStatus(t *testing.T) {
	f := newFixture(t)
	inv := f.newInvoice(t)

	_, err := f.orch.Approve(context.Background(), f.tenant.ID, inv.ID)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
