package workflow

import "fmt"

// Machine tracks a current state and validates transitions against a
// configured edge set. It is a pure in-memory guard; persistence of the
// resulting status is the orchestrator's job.
type Machine struct {
	current     State
	transitions map[State]map[Trigger]State
}

// Builder accumulates permitted transitions before a machine is built
type Builder struct {
	transitions map[State]map[Trigger]State
}

// NewBuilder creates a new state machine builder
func NewBuilder() *Builder {
	return &Builder{
		transitions: make(map[State]map[Trigger]State),
	}
}

// Permit allows trigger to move the machine from state to toState
func (b *Builder) Permit(from State, trigger Trigger, to State) *Builder {
	if !from.IsValid() || !to.IsValid() {
		panic(fmt.Sprintf("invalid transition %s -> %s", from, to))
	}
	if b.transitions[from] == nil {
		b.transitions[from] = make(map[Trigger]State)
	}
	b.transitions[from][trigger] = to
	return b
}

// Build creates a machine starting at initial. The transition table is copied
// so machines built from one builder do not share mutable state.
func (b *Builder) Build(initial State) *Machine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}

	copied := make(map[State]map[Trigger]State, len(b.transitions))
	for from, edges := range b.transitions {
		edgeCopy := make(map[Trigger]State, len(edges))
		for trig, to := range edges {
			edgeCopy[trig] = to
		}
		copied[from] = edgeCopy
	}

	return &Machine{
		current:     initial,
		transitions: copied,
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.current
}

// CanFire returns true if the trigger is permitted in the current state
func (m *Machine) CanFire(trigger Trigger) bool {
	edges, ok := m.transitions[m.current]
	if !ok {
		return false
	}
	_, ok = edges[trigger]
	return ok
}

// Fire executes the trigger, transitioning to the new state if allowed
func (m *Machine) Fire(trigger Trigger) error {
	edges, ok := m.transitions[m.current]
	if !ok {
		return fmt.Errorf("%w: trigger %s from terminal or unconfigured state %s", ErrInvalidTransition, trigger, m.current)
	}

	to, ok := edges[trigger]
	if !ok {
		return fmt.Errorf("%w: trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}

	m.current = to
	return nil
}

// PermittedTriggers returns all triggers that can be fired in the current state
func (m *Machine) PermittedTriggers() []Trigger {
	edges, ok := m.transitions[m.current]
	if !ok {
		return nil
	}

	triggers := make([]Trigger, 0, len(edges))
	for trigger := range edges {
		triggers = append(triggers, trigger)
	}
	return triggers
}
