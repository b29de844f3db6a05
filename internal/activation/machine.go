// Package activation decides when the XR effect turns on and off.
//
// The effect enables on the first usable frame. It disables only after a
// grace period has passed since activation, so a short run of bad frames
// while the device initializes does not make it flap.
package activation

import (
	"sync"
	"time"
)

// DefaultGracePeriod is how long after activation unusable frames are ignored.
const DefaultGracePeriod = 1000 * time.Millisecond

// State is the effect activation state.
type State int

const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// Transition is the result of evaluating a frame.
type Transition int

const (
	None Transition = iota
	Activated
	Deactivated
)

func (t Transition) String() string {
	switch t {
	case Activated:
		return "activated"
	case Deactivated:
		return "deactivated"
	default:
		return "none"
	}
}

// Snapshot is a copy of the machine state.
type Snapshot struct {
	State       State     `json:"-"`
	Enabled     bool      `json:"enabled"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
}

// Machine is the Disabled/Enabled state machine.
type Machine struct {
	grace time.Duration

	mu          sync.Mutex
	state       State
	activatedAt time.Time
}

// NewMachine returns a Machine in the Disabled state. A non-positive grace
// uses DefaultGracePeriod.
func NewMachine(grace time.Duration) *Machine {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Machine{grace: grace}
}

// Evaluate applies one processing pass. frameSaysEnabled is true only for a
// usable frame.
func (m *Machine) Evaluate(frameSaysEnabled bool, now time.Time) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case frameSaysEnabled && m.state == Disabled:
		m.state = Enabled
		m.activatedAt = now
		return Activated
	case !frameSaysEnabled && m.state == Enabled && now.Sub(m.activatedAt) > m.grace:
		m.state = Disabled
		m.activatedAt = time.Time{}
		return Deactivated
	}
	return None
}

// Force sets the state directly, bypassing the grace period. It is used when
// the bridge shuts down or the user toggles the effect.
func (m *Machine) Force(enabled bool, now time.Time) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case enabled && m.state == Disabled:
		m.state = Enabled
		m.activatedAt = now
		return Activated
	case !enabled && m.state == Enabled:
		m.state = Disabled
		m.activatedAt = time.Time{}
		return Deactivated
	}
	return None
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Enabled: m.state == Enabled, ActivatedAt: m.activatedAt}
}
