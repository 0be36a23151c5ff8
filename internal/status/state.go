package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ninety5/habitate/internal/bus"
)

// State represents the sync engine's runtime state.
type State string

const (
	// Idle: no dispatch pass running, no known backlog problem.
	Idle State = "IDLE"
	// Syncing: a dispatch pass is draining the queue.
	Syncing State = "SYNCING"
	// Offline: the last pass could not reach the server; local writes
	// keep accumulating in the queue.
	Offline State = "OFFLINE"
	// Degraded: the last pass finished but left quarantined operations.
	Degraded State = "DEGRADED"
	// Error: the engine itself hit a local fault (storage failure).
	Error State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:     {Syncing, Error},
	Syncing:  {Idle, Offline, Degraded, Error},
	Offline:  {Syncing, Error},
	Degraded: {Syncing, Idle, Error},
	Error:    {Idle},
}

// Machine tracks and enforces sync engine state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition
// is invalid. Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "status.changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
