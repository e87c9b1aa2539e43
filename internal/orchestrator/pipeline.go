package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/classification"
	"github.com/fakturo/invoice-pipeline/internal/companies"
	"github.com/fakturo/invoice-pipeline/internal/domain/workflow"
	"github.com/fakturo/invoice-pipeline/internal/extraction"
	"github.com/fakturo/invoice-pipeline/internal/ksef"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/validation"
)

// runState holds what stages hand to each other within one run
type runState struct {
	page          []byte
	text          string
	ocrConfidence float64
	extracted     *extraction.ExtractedInvoice
	lowConfidence bool
	seller        companies.Outcome
	buyer         companies.Outcome
	reviewReasons []string
}

func (s *runState) flagReview(reason string) {
	s.reviewReasons = append(s.reviewReasons, reason)
}

func (s *runState) sellerTaxID() string {
	if s.extracted != nil && s.extracted.Seller != nil && s.extracted.Seller.TaxID != nil {
		return *s.extracted.Seller.TaxID
	}
	return ""
}

func (s *runState) buyerTaxID() string {
	if s.extracted != nil && s.extracted.Buyer != nil && s.extracted.Buyer.TaxID != nil {
		return *s.extracted.Buyer.TaxID
	}
	return ""
}

func (o *Orchestrator) run(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice, tenant *models.Tenant) {
	defer o.recover(ctx, job, invoice)

	err := o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.transitionJob(ctx, tx, job, workflow.TriggerStart, ""); err != nil {
			return err
		}
		return o.transitionInvoice(ctx, tx, invoice, workflow.TriggerStart)
	})
	if err != nil {
		o.failJob(ctx, job, invoice, "", err)
		return
	}

	state := &runState{}

	if err := o.stageOCR(ctx, job, state); err != nil {
		o.failJob(ctx, job, invoice, models.StepOCR, err)
		return
	}
	if err := o.stageExtract(ctx, job, invoice, state); err != nil {
		o.failJob(ctx, job, invoice, models.StepAIExtract, err)
		return
	}

	o.stageClassify(ctx, job, invoice, tenant, state)

	if err := o.stageResolve(ctx, job, invoice, tenant, state); err != nil {
		o.failJob(ctx, job, invoice, models.StepResolve, err)
		return
	}

	proceed, err := o.stageValidate(ctx, job, invoice, state)
	if err != nil {
		o.failJob(ctx, job, invoice, models.StepValidate, err)
		return
	}
	if !proceed {
		return
	}

	if err := o.stageSubmit(ctx, job, invoice, state.seller.Company, state.buyer.Company); err != nil {
		o.failJob(ctx, job, invoice, models.StepSubmit, err)
		return
	}
}

// runSubmissionOnly handles jobs created by Approve: the invoice is
// already VALIDATED with parties resolved, only submission remains
func (o *Orchestrator) runSubmissionOnly(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice) {
	defer o.recover(ctx, job, invoice)

	seller, buyer, err := o.loadParties(ctx, invoice)
	if err != nil {
		o.failJob(ctx, job, invoice, models.StepSubmit, err)
		return
	}

	if err := o.stageSubmit(ctx, job, invoice, seller, buyer); err != nil {
		o.failJob(ctx, job, invoice, models.StepSubmit, err)
	}
}

func (o *Orchestrator) loadParties(ctx context.Context, invoice *models.Invoice) (*models.Company, *models.Company, error) {
	if invoice.SellerCompanyID == nil || invoice.BuyerCompanyID == nil {
		return nil, nil, fmt.Errorf("invoice %d parties are not resolved", invoice.ID)
	}
	seller, err := o.repos.Companies.GetByID(ctx, *invoice.SellerCompanyID)
	if err != nil {
		return nil, nil, err
	}
	buyer, err := o.repos.Companies.GetByID(ctx, *invoice.BuyerCompanyID)
	if err != nil {
		return nil, nil, err
	}
	return seller, buyer, nil
}

func (o *Orchestrator) stageOCR(ctx context.Context, job *models.ProcessingJob, state *runState) error {
	if err := o.logStep(ctx, job.ID, models.StepOCR, models.LogStatusStarted, ""); err != nil {
		return err
	}

	invoice, err := o.repos.Invoices.GetByID(ctx, job.InvoiceID)
	if err != nil {
		return err
	}

	page, err := o.renderer.RenderFirstPage(invoice.FilePath)
	if err != nil {
		return err
	}
	state.page = page

	result, err := o.ocr.Recognize(ctx, page)
	if err != nil {
		return err
	}
	state.text = result.Text
	state.ocrConfidence = result.Confidence

	detail, _ := json.Marshal(map[string]any{
		"confidence": result.Confidence,
		"characters": len(result.Text),
	})

	return o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.transitionJob(ctx, tx, job, workflow.TriggerTextExtracted, ""); err != nil {
			return err
		}
		return o.appendLog(ctx, tx, job.ID, models.StepOCR, models.LogStatusCompleted, string(detail))
	})
}

func (o *Orchestrator) stageExtract(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice, state *runState) error {
	if err := o.logStep(ctx, job.ID, models.StepAIExtract, models.LogStatusStarted, ""); err != nil {
		return err
	}

	var result *extraction.Result
	var err error
	useVision := state.ocrConfidence < o.config.VisionFallbackBelow ||
		len(strings.TrimSpace(state.text)) < o.config.MinTextLength
	if useVision {
		o.logger.Info("ocr output too weak, extracting from page image",
			zap.Int64("job_id", job.ID),
			zap.Float64("ocr_confidence", state.ocrConfidence))
		result, err = o.extractor.FromImage(ctx, state.page)
	} else {
		result, err = o.extractor.FromText(ctx, state.text)
	}
	if err != nil {
		return err
	}

	state.extracted = result.Invoice
	state.lowConfidence = result.LowConfidence
	if result.LowConfidence {
		state.flagReview(fmt.Sprintf("extraction confidence %.1f below threshold", result.Invoice.OverallConfidence))
	}

	applyExtraction(invoice, result.Invoice)

	raw, _ := json.Marshal(result.Invoice)
	detail, _ := json.Marshal(map[string]any{
		"confidence": result.Invoice.OverallConfidence,
		"attempts":   result.Attempts,
		"vision":     useVision,
	})

	return o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.repos.Invoices.UpdateExtraction(ctx, tx, invoice); err != nil {
			return err
		}
		if err := o.repos.Jobs.SetResult(ctx, tx, job.ID, string(raw)); err != nil {
			return err
		}
		if err := o.transitionInvoice(ctx, tx, invoice, workflow.TriggerExtracted); err != nil {
			return err
		}
		return o.appendLog(ctx, tx, job.ID, models.StepAIExtract, models.LogStatusCompleted, string(detail))
	})
}

// stageClassify never fails the job: an undecidable direction is stored
// as UNKNOWN and the pipeline moves on
func (o *Orchestrator) stageClassify(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice, tenant *models.Tenant, state *runState) {
	_ = o.logStep(ctx, job.ID, models.StepClassify, models.LogStatusStarted, "")

	doc := classification.Document{
		DocumentNumber: invoice.DocumentNumber,
		RawText:        state.text,
	}
	if state.extracted.Seller != nil {
		doc.SellerTaxID = state.sellerTaxID()
		if state.extracted.Seller.Name != nil {
			doc.SellerName = *state.extracted.Seller.Name
		}
	}
	if state.extracted.Buyer != nil {
		doc.BuyerTaxID = state.buyerTaxID()
		if state.extracted.Buyer.Name != nil {
			doc.BuyerName = *state.extracted.Buyer.Name
		}
	}

	result := o.classifier.Classify(ctx, tenant.OwnNIP, doc)
	invoice.Direction = result.Direction
	if result.Direction == models.DirectionUnknown {
		state.flagReview("invoice direction could not be determined")
	}

	detail, _ := json.Marshal(map[string]any{
		"direction":  result.Direction,
		"confidence": result.Confidence,
		"method":     result.Method,
		"rationale":  result.Rationale,
	})

	err := o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.repos.Invoices.UpdateExtraction(ctx, tx, invoice); err != nil {
			return err
		}
		return o.appendLog(ctx, tx, job.ID, models.StepClassify, models.LogStatusCompleted, string(detail))
	})
	if err != nil {
		o.logger.Warn("failed to persist classification", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

func (o *Orchestrator) stageResolve(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice, tenant *models.Tenant, state *runState) error {
	if err := o.logStep(ctx, job.ID, models.StepResolve, models.LogStatusStarted, ""); err != nil {
		return err
	}

	var err error
	state.seller, err = o.resolver.Resolve(ctx, tenant.ID, state.sellerTaxID())
	if err != nil {
		return err
	}
	state.buyer, err = o.resolver.Resolve(ctx, tenant.ID, state.buyerTaxID())
	if err != nil {
		return err
	}

	if state.seller.NeedsReview() {
		state.flagReview(fmt.Sprintf("seller not resolved: %s", state.seller.Status))
	}
	if state.buyer.NeedsReview() {
		state.flagReview(fmt.Sprintf("buyer not resolved: %s", state.buyer.Status))
	}

	var sellerID, buyerID *int64
	if state.seller.Company != nil {
		sellerID = &state.seller.Company.ID
		invoice.SellerCompanyID = sellerID
	}
	if state.buyer.Company != nil {
		buyerID = &state.buyer.Company.ID
		invoice.BuyerCompanyID = buyerID
	}

	detail, _ := json.Marshal(map[string]any{
		"seller": state.seller.Status,
		"buyer":  state.buyer.Status,
	})

	return o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.repos.Invoices.SetCompanyRefs(ctx, tx, invoice.ID, sellerID, buyerID); err != nil {
			return err
		}
		return o.appendLog(ctx, tx, job.ID, models.StepResolve, models.LogStatusCompleted, string(detail))
	})
}

// stageValidate returns whether the pipeline continues into submission.
// Soft findings and review flags from earlier stages park the invoice in
// NEEDS_REVIEW and complete the job; hard findings fail it.
func (o *Orchestrator) stageValidate(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice, state *runState) (bool, error) {
	if err := o.logStep(ctx, job.ID, models.StepValidate, models.LogStatusStarted, ""); err != nil {
		return false, err
	}

	report := o.validator.Validate(invoice, validation.Parties{
		SellerTaxID: state.sellerTaxID(),
		BuyerTaxID:  state.buyerTaxID(),
	})

	if report.Outcome() == validation.OutcomeFail {
		return false, report.Err()
	}

	for _, issue := range report.Issues {
		state.flagReview(issue.Message)
	}

	detail, _ := json.Marshal(map[string]any{
		"outcome": report.Outcome(),
		"issues":  state.reviewReasons,
	})

	if len(state.reviewReasons) > 0 {
		err := o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := o.transitionInvoice(ctx, tx, invoice, workflow.TriggerReviewNeeded); err != nil {
				return err
			}
			if err := o.transitionJob(ctx, tx, job, workflow.TriggerComplete, ""); err != nil {
				return err
			}
			return o.appendLog(ctx, tx, job.ID, models.StepValidate, models.LogStatusCompleted, string(detail))
		})
		if err != nil {
			return false, err
		}

		o.logger.Info("invoice parked for manual review",
			zap.Int64("invoice_id", invoice.ID),
			zap.Strings("reasons", state.reviewReasons))
		return false, nil
	}

	err := o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.transitionInvoice(ctx, tx, invoice, workflow.TriggerValidated); err != nil {
			return err
		}
		return o.appendLog(ctx, tx, job.ID, models.StepValidate, models.LogStatusCompleted, string(detail))
	})
	return err == nil, err
}

func (o *Orchestrator) stageSubmit(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice, seller, buyer *models.Company) error {
	if err := o.logStep(ctx, job.ID, models.StepSubmit, models.LogStatusStarted, ""); err != nil {
		return err
	}

	if !invoice.IsSubmittable() {
		return fmt.Errorf("invoice %d in status %s is not submittable", invoice.ID, invoice.Status)
	}

	doc, err := ksef.BuildDocument(invoice, seller, buyer)
	if err != nil {
		return err
	}

	reference, err := o.gateway.Submit(ctx, doc)
	if err != nil {
		return err
	}

	submission := &models.Submission{InvoiceID: invoice.ID, ReferenceNumber: reference}
	err = o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.repos.Submissions.Create(ctx, tx, submission); err != nil {
			return err
		}
		return o.transitionInvoice(ctx, tx, invoice, workflow.TriggerSubmitted)
	})
	if err != nil {
		return err
	}

	outcome, err := o.gateway.WaitForOutcome(ctx, reference)
	if err != nil {
		return err
	}

	switch outcome.Status {
	case ksef.StatusAccepted:
		receiptPath, receiptErr := o.gateway.DownloadReceipt(ctx, reference)
		if receiptErr != nil {
			// the acceptance stands; the receipt can be re-fetched later
			o.logger.Warn("receipt download failed",
				zap.String("reference", reference), zap.Error(receiptErr))
		}

		detail, _ := json.Marshal(map[string]any{
			"reference":   reference,
			"ksef_number": outcome.KSeFNumber,
		})
		return o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := o.repos.Submissions.Resolve(ctx, tx, submission.ID,
				models.SubmissionStatusAccepted, outcome.KSeFNumber, "", receiptPath); err != nil {
				return err
			}
			if err := o.repos.Invoices.SetKSeFNumber(ctx, tx, invoice.ID, outcome.KSeFNumber); err != nil {
				return err
			}
			if err := o.transitionInvoice(ctx, tx, invoice, workflow.TriggerAccepted); err != nil {
				return err
			}
			if err := o.transitionJob(ctx, tx, job, workflow.TriggerComplete, ""); err != nil {
				return err
			}
			return o.appendLog(ctx, tx, job.ID, models.StepSubmit, models.LogStatusCompleted, string(detail))
		})

	case ksef.StatusRejected:
		detail, _ := json.Marshal(map[string]any{
			"reference": reference,
			"reason":    outcome.RejectReason,
		})
		return o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if err := o.repos.Submissions.Resolve(ctx, tx, submission.ID,
				models.SubmissionStatusRejected, "", outcome.RejectReason, ""); err != nil {
				return err
			}
			if err := o.transitionInvoice(ctx, tx, invoice, workflow.TriggerRejected); err != nil {
				return err
			}
			if err := o.transitionJob(ctx, tx, job, workflow.TriggerComplete, ""); err != nil {
				return err
			}
			return o.appendLog(ctx, tx, job.ID, models.StepSubmit, models.LogStatusCompleted, string(detail))
		})

	default:
		return fmt.Errorf("gateway returned unexpected status %s", outcome.Status)
	}
}
