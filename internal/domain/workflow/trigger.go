package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerStart         Trigger = "START"
	TriggerTextExtracted Trigger = "TEXT_EXTRACTED"
	TriggerExtracted     Trigger = "EXTRACTED"
	TriggerReviewNeeded  Trigger = "REVIEW_NEEDED"
	TriggerValidated     Trigger = "VALIDATED"
	TriggerSubmitted     Trigger = "SUBMITTED"
	TriggerAccepted      Trigger = "ACCEPTED"
	TriggerRejected      Trigger = "REJECTED"
	TriggerComplete      Trigger = "COMPLETE"
	TriggerFail          Trigger = "FAIL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
