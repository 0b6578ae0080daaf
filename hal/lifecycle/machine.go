// Package lifecycle holds the driver state machine every peripheral embeds.
// Drivers compose a *Machine rather than inheriting behaviour; the machine
// owns the transition table and the component-tagged logger, the driver owns
// the hardware side effects.
package lifecycle

import (
	"sync"

	"stampfly-hal-go/errcode"
	"stampfly-hal-go/x/logx"
)

type State uint8

const (
	Uninitialized State = iota
	Initializing
	Initialized
	Running
	Error
	Suspended
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Error:
		return "error"
	case Suspended:
		return "suspended"
	}
	return "?"
}

type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Machine is the shared lifecycle contract. All transitions are guarded;
// a call outside its required state fails with invalid_state and does not
// mutate the machine.
type Machine struct {
	mu       sync.Mutex
	state    State
	priority Priority
	name     string
	log      logx.Logger
}

func New(componentName string) *Machine {
	return &Machine{
		state:    Uninitialized,
		priority: PriorityNormal,
		name:     componentName,
		log:      logx.New(componentName),
	}
}

func (m *Machine) ComponentName() string { return m.name }
func (m *Machine) Log() logx.Logger      { return m.log }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Priority() Priority {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priority
}

func (m *Machine) SetPriority(p Priority) {
	m.mu.Lock()
	m.priority = p
	m.mu.Unlock()
}

// IsInitialized reports Initialized or Running.
func (m *Machine) IsInitialized() bool {
	s := m.State()
	return s == Initialized || s == Running
}

func (m *Machine) IsRunning() bool { return m.State() == Running }
func (m *Machine) HasError() bool  { return m.State() == Error }

func (m *Machine) set(s State) {
	old := m.state
	m.state = s
	m.log.Debugf("state %s -> %s", old, s)
}

// BeginInit starts initialization. Only legal from Uninitialized.
func (m *Machine) BeginInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Uninitialized {
		return errcode.InvalidState
	}
	m.set(Initializing)
	return nil
}

// FinishInit resolves an in-flight initialization: Initialized on nil,
// Error otherwise. The driver's error is passed through.
func (m *Machine) FinishInit(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Initializing {
		return errcode.InvalidState
	}
	if err != nil {
		m.set(Error)
		return err
	}
	m.set(Initialized)
	return nil
}

// RequireInitialized guards configure-class operations (Initialized or
// Running).
func (m *Machine) RequireInitialized() error {
	if !m.IsInitialized() {
		return errcode.InvalidState
	}
	return nil
}

// RequireRunning guards operational calls (reads, writes, transactions).
func (m *Machine) RequireRunning() error {
	if !m.IsRunning() {
		return errcode.InvalidState
	}
	return nil
}

// Start transitions Initialized -> Running.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Initialized {
		return errcode.InvalidState
	}
	m.set(Running)
	return nil
}

// Stop transitions to Suspended. Legal from any non-terminal state; the
// driver must disable its interrupts/outputs before calling.
func (m *Machine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Error {
		return errcode.InvalidState
	}
	m.set(Suspended)
	return nil
}

// Reset returns to Initialized after the driver cleared its secondary
// state. Illegal before first initialization and in Error.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Uninitialized || m.state == Initializing || m.state == Error {
		return errcode.InvalidState
	}
	m.set(Initialized)
	return nil
}

// Fail marks an unrecoverable failure. Reachable from any state; only
// destruction is valid afterwards.
func (m *Machine) Fail() {
	m.mu.Lock()
	m.set(Error)
	m.mu.Unlock()
}
