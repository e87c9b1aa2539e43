package orchestrator

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/domain/workflow"
	"github.com/fakturo/invoice-pipeline/internal/extraction"
	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/pkg/utils"
)

// transitionJob fires a trigger on the job's state machine and persists
// the new status. An illegal trigger is a programming error and fails
// the transaction.
func (o *Orchestrator) transitionJob(ctx context.Context, tx *sql.Tx, job *models.ProcessingJob, trigger workflow.Trigger, errorMessage string) error {
	machine := workflow.NewJobMachine(workflow.State(job.Status))
	if err := machine.Fire(trigger); err != nil {
		return fmt.Errorf("job %d: %w", job.ID, err)
	}

	newStatus := string(machine.State())
	if err := o.repos.Jobs.UpdateStatus(ctx, tx, job.ID, newStatus, errorMessage); err != nil {
		return err
	}
	job.Status = newStatus
	return nil
}

func (o *Orchestrator) transitionInvoice(ctx context.Context, tx *sql.Tx, invoice *models.Invoice, trigger workflow.Trigger) error {
	machine := workflow.NewInvoiceMachine(workflow.State(invoice.Status))
	if err := machine.Fire(trigger); err != nil {
		return fmt.Errorf("invoice %d: %w", invoice.ID, err)
	}

	newStatus := string(machine.State())
	if err := o.repos.Invoices.UpdateStatus(ctx, tx, invoice.ID, newStatus); err != nil {
		return err
	}
	invoice.Status = newStatus
	return nil
}

func (o *Orchestrator) appendLog(ctx context.Context, tx *sql.Tx, jobID int64, step, status, detail string) error {
	return o.repos.Logs.Append(ctx, tx, &models.ProcessingLog{
		JobID:  jobID,
		Step:   step,
		Status: status,
		Detail: detail,
	})
}

func (o *Orchestrator) logStep(ctx context.Context, jobID int64, step, status, detail string) error {
	return o.appendLog(ctx, nil, jobID, step, status, detail)
}

// failJob marks the job FAILED with a scrubbed error message, moves the
// invoice to FAILED when its graph allows it, and writes the failure
// into the audit trail.
func (o *Orchestrator) failJob(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice, step string, cause error) {
	scrubbed := utils.ScrubSecrets(cause.Error())

	o.logger.Error("processing job failed",
		zap.Int64("job_id", job.ID),
		zap.Int64("invoice_id", invoice.ID),
		zap.String("step", step),
		zap.String("error", scrubbed))

	err := o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := o.transitionJob(ctx, tx, job, workflow.TriggerFail, scrubbed); err != nil {
			return err
		}

		machine := workflow.NewInvoiceMachine(workflow.State(invoice.Status))
		if machine.CanFire(workflow.TriggerFail) {
			if err := o.transitionInvoice(ctx, tx, invoice, workflow.TriggerFail); err != nil {
				return err
			}
		}

		if step != "" {
			return o.appendLog(ctx, tx, job.ID, step, models.LogStatusFailed, scrubbed)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("failed to record job failure",
			zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

// recover turns a stage panic into a regular job failure so one bad
// document can never take the worker down
func (o *Orchestrator) recover(ctx context.Context, job *models.ProcessingJob, invoice *models.Invoice) {
	if r := recover(); r != nil {
		o.failJob(ctx, job, invoice, "", fmt.Errorf("panic during processing: %v", r))
	}
}

// applyExtraction copies the model's output onto the invoice row
func applyExtraction(invoice *models.Invoice, extracted *extraction.ExtractedInvoice) {
	if extracted.DocumentNumber != nil {
		invoice.DocumentNumber = *extracted.DocumentNumber
	}
	invoice.IssueDate = extracted.Date(extracted.IssueDate)
	invoice.DueDate = extracted.Date(extracted.DueDate)
	invoice.SaleDate = extracted.Date(extracted.SaleDate)
	if extracted.Currency != nil {
		invoice.Currency = *extracted.Currency
	}
	invoice.NetAmount = extracted.NetAmount
	invoice.VatAmount = extracted.VatAmount
	invoice.GrossAmount = extracted.GrossAmount
	invoice.Confidence = extracted.OverallConfidence

	invoice.LineItems = nil
	for _, item := range extracted.LineItems {
		line := models.LineItem{}
		if item.Description != nil {
			line.Description = *item.Description
		}
		if item.Quantity != nil {
			line.Quantity = *item.Quantity
		}
		if item.UnitPrice != nil {
			line.UnitPrice = *item.UnitPrice
		}
		if item.TaxRate != nil {
			line.VatRate = *item.TaxRate
		}
		if item.NetAmount != nil {
			line.NetAmount = *item.NetAmount
		}
		if item.VatAmount != nil {
			line.VatAmount = *item.VatAmount
		}
		if item.GrossAmount != nil {
			line.GrossAmount = *item.GrossAmount
		}
		invoice.LineItems = append(invoice.LineItems, line)
	}
}
