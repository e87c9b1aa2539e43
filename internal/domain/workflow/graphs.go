package workflow

// jobBuilder declares the processing-job lifecycle. COMPLETED and FAILED are
// terminal and deliberately have no outgoing edges.
func jobBuilder() *Builder {
	return NewBuilder().
		Permit(StateQueued, TriggerStart, StateProcessing).
		Permit(StateQueued, TriggerFail, StateFailed).
		Permit(StateProcessing, TriggerTextExtracted, StateTextExtracted).
		Permit(StateProcessing, TriggerComplete, StateCompleted).
		Permit(StateProcessing, TriggerFail, StateFailed).
		Permit(StateTextExtracted, TriggerComplete, StateCompleted).
		Permit(StateTextExtracted, TriggerFail, StateFailed)
}

// invoiceBuilder declares the invoice status graph. An invoice reaches
// SUBMITTED only through VALIDATED, and ACCEPTED/REJECTED only through
// SUBMITTED. NEEDS_REVIEW re-enters the graph at VALIDATED after a human
// correction re-triggers validation.
func invoiceBuilder() *Builder {
	return NewBuilder().
		Permit(StateUploaded, TriggerStart, StateProcessing).
		Permit(StateProcessing, TriggerExtracted, StateExtracted).
		Permit(StateProcessing, TriggerFail, StateFailed).
		Permit(StateExtracted, TriggerReviewNeeded, StateNeedsReview).
		Permit(StateExtracted, TriggerValidated, StateValidated).
		Permit(StateExtracted, TriggerFail, StateFailed).
		Permit(StateValidated, TriggerSubmitted, StateSubmitted).
		Permit(StateValidated, TriggerFail, StateFailed).
		Permit(StateSubmitted, TriggerAccepted, StateAccepted).
		Permit(StateSubmitted, TriggerRejected, StateRejected).
		Permit(StateSubmitted, TriggerFail, StateFailed).
		Permit(StateNeedsReview, TriggerValidated, StateValidated)
}

// NewJobMachine builds a job machine positioned at the given state
func NewJobMachine(current State) *Machine {
	return jobBuilder().Build(current)
}

// NewInvoiceMachine builds an invoice machine positioned at the given state
func NewInvoiceMachine(current State) *Machine {
	return invoiceBuilder().Build(current)
}
