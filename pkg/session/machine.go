package session

import (
	"sync"

	"github.com/zachfi/scannercast/pkg/event"
)

// Transition is published to observers whenever the state changes.
type Transition struct {
	From State
	To   State
}

// Machine holds the connection state of one destination. Once an error state
// is entered only another error state or Reset can replace it.
type Machine struct {
	mu    sync.Mutex
	state State

	hooks     []func(Transition)
	observers event.Registry[Transition]
}

// NewMachine starts in Ready. Hooks run synchronously on every transition,
// before observers are notified, and must not block.
func NewMachine(hooks ...func(Transition)) *Machine {
	return &Machine{state: Ready, hooks: hooks}
}

func (m *Machine) notify(t Transition) {
	for _, h := range m.hooks {
		h(t)
	}
	m.observers.Publish(t)
}

// Observers is the registry notified of every transition.
func (m *Machine) Observers() *event.Registry[Transition] { return &m.observers }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Set moves to s and reports whether the state changed.
func (m *Machine) Set(s State) bool {
	m.mu.Lock()
	from := m.state
	if from == s || (from.IsError() && !s.IsError()) {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.mu.Unlock()

	m.notify(Transition{From: from, To: s})
	return true
}

// CompareAndSet moves to s only when the current state is from.
func (m *Machine) CompareAndSet(from, s State) bool {
	m.mu.Lock()
	if m.state != from || from == s {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.mu.Unlock()

	m.notify(Transition{From: from, To: s})
	return true
}

// Pause moves to Paused, or back to Ready when paused is false. Destinations in
// an error state ignore it.
func (m *Machine) Pause(paused bool) bool {
	m.mu.Lock()
	from := m.state
	if from.IsError() {
		m.mu.Unlock()
		return false
	}

	to := Ready
	if paused {
		to = Paused
	}
	if from == to {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	m.notify(Transition{From: from, To: to})
	return true
}

// Reset clears any state, including error states, back to Ready.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	from := m.state
	if from == Ready {
		m.mu.Unlock()
		return false
	}
	m.state = Ready
	m.mu.Unlock()

	m.notify(Transition{From: from, To: Ready})
	return true
}

// CanConnect is true when not connected and not in an error state.
func (m *Machine) CanConnect() bool {
	s := m.State()
	return s != Connected && !s.IsError()
}

func (m *Machine) Connected() bool {
	return m.State() == Connected
}
