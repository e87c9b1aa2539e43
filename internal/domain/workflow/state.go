package workflow

// State represents a node in a processing lifecycle graph. The same machinery
// drives both the job graph and the invoice status graph; PROCESSING and
// FAILED appear in both with different edge sets.
type State string

const (
	// Job states
	StateQueued        State = "QUEUED"
	StateProcessing    State = "PROCESSING"
	StateTextExtracted State = "TEXT_EXTRACTED"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"

	// Invoice states
	StateUploaded    State = "UPLOADED"
	StateExtracted   State = "EXTRACTED"
	StateNeedsReview State = "NEEDS_REVIEW"
	StateValidated   State = "VALIDATED"
	StateSubmitted   State = "SUBMITTED"
	StateAccepted    State = "ACCEPTED"
	StateRejected    State = "REJECTED"
)

var validStates = map[State]bool{
	StateQueued:        true,
	StateProcessing:    true,
	StateTextExtracted: true,
	StateCompleted:     true,
	StateFailed:        true,
	StateUploaded:      true,
	StateExtracted:     true,
	StateNeedsReview:   true,
	StateValidated:     true,
	StateSubmitted:     true,
	StateAccepted:      true,
	StateRejected:      true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateAccepted:  true,
	StateRejected:  true,
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state belongs to one of the lifecycle graphs
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}
