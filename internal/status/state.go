package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/officechat/internal/bus"
)

// State represents the lifecycle stage of the realtime connection.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// validTransitions defines allowed state transitions. Any state may fall
// back to Disconnected on an intentional disconnect or exhausted retries.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Re-entering the current state
// is accepted and reports changed=false without publishing anything.
func (m *Machine) Transition(to State) (changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return false, nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return false, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStateChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return true, nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
