package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMachine_HappyPath(t *testing.T) {
	m := NewJobMachine(StateQueued)

	require.NoError(t, m.Fire(TriggerStart))
	assert.Equal(t, StateProcessing, m.State())

	require.NoError(t, m.Fire(TriggerTextExtracted))
	assert.Equal(t, StateTextExtracted, m.State())

	require.NoError(t, m.Fire(TriggerComplete))
	assert.Equal(t, StateCompleted, m.State())
	assert.True(t, m.State().IsTerminal())
}

func TestJobMachine_TerminalStatesHaveNoEdges(t *testing.T) {
	for _, state := range []State{StateCompleted, StateFailed} {
		m := NewJobMachine(state)
		assert.Empty(t, m.PermittedTriggers(), "state %s", state)

		err := m.Fire(TriggerStart)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, state, m.State(), "failed fire must not move the machine")
	}
}

func TestInvoiceMachine_SubmissionOnlyThroughValidated(t *testing.T) {
	tests := []struct {
		name string
		from State
	}{
		{"uploaded", StateUploaded},
		{"extracted", StateExtracted},
		{"needs review", StateNeedsReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewInvoiceMachine(tt.from)
			assert.False(t, m.CanFire(TriggerSubmitted))
		})
	}

	m := NewInvoiceMachine(StateValidated)
	assert.True(t, m.CanFire(TriggerSubmitted))
}

func TestInvoiceMachine_ReviewReentry(t *testing.T) {
	m := NewInvoiceMachine(StateNeedsReview)

	require.NoError(t, m.Fire(TriggerValidated))
	require.NoError(t, m.Fire(TriggerSubmitted))
	require.NoError(t, m.Fire(TriggerAccepted))

	assert.Equal(t, StateAccepted, m.State())
	assert.True(t, m.State().IsTerminal())
}

func TestInvoiceMachine_NeedsReviewCannotFail(t *testing.T) {
	// A parked invoice waits for a human; only approval moves it.
	m := NewInvoiceMachine(StateNeedsReview)

	assert.False(t, m.CanFire(TriggerFail))
	assert.Equal(t, []Trigger{TriggerValidated}, m.PermittedTriggers())
}

func TestMachine_CanFireDoesNotTransition(t *testing.T) {
	m := NewInvoiceMachine(StateUploaded)

	assert.True(t, m.CanFire(TriggerStart))
	assert.Equal(t, StateUploaded, m.State())
}

func TestBuilder_MachinesDoNotShareState(t *testing.T) {
	b := NewBuilder().Permit(StateQueued, TriggerStart, StateProcessing)

	first := b.Build(StateQueued)
	second := b.Build(StateQueued)

	require.NoError(t, first.Fire(TriggerStart))
	assert.Equal(t, StateProcessing, first.State())
	assert.Equal(t, StateQueued, second.State())
}

func TestBuilder_RejectsUnknownStates(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder().Permit(State("NOPE"), TriggerStart, StateProcessing)
	})
	assert.Panics(t, func() {
		NewBuilder().Build(State("NOPE"))
	})
}
