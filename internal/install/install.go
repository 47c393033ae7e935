// Package install tracks whether the application runs as an installed
// standalone app and whether the platform currently offers to install it.
package install

import (
	"context"
	"sync"

	apperrors "github.com/ecodex/offline/internal/errors"
	"github.com/ecodex/offline/internal/logging"
)

// State is the installation lifecycle state.
type State string

const (
	StateNotAvailable    State = "not-available"
	StatePromptAvailable State = "prompt-available"
	StateInstalled       State = "installed"
)

// Outcome is the user's answer to an install prompt.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDismissed Outcome = "dismissed"
)

// Prompt is the deferred platform install affordance. It can be shown once.
type Prompt interface {
	Show(ctx context.Context) (Outcome, error)
}

// PromptFunc adapts a function to Prompt.
type PromptFunc func(ctx context.Context) (Outcome, error)

// Show calls f(ctx).
func (f PromptFunc) Show(ctx context.Context) (Outcome, error) {
	return f(ctx)
}

// Listener receives state transitions.
type Listener func(state State, installed bool)

// Manager holds the install state. Platform adapters call PromptAvailable
// and Installed; the host calls PromptInstall.
type Manager struct {
	mu        sync.Mutex
	state     State
	prompt    Prompt
	nextID    int
	listeners map[int]Listener
}

// NewManager creates a Manager. standalone reports whether the process was
// launched as an installed app, which starts it in StateInstalled.
func NewManager(standalone bool) *Manager {
	state := StateNotAvailable
	if standalone {
		state = StateInstalled
	}
	return &Manager{
		state:     state,
		listeners: make(map[int]Listener),
	}
}

// CurrentState returns the current state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsInstalled reports whether the app is installed.
func (m *Manager) IsInstalled() bool {
	return m.CurrentState() == StateInstalled
}

// CanInstall reports whether an unused install prompt is held and the app
// is not yet installed.
func (m *Manager) CanInstall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompt != nil && m.state != StateInstalled
}

// Subscribe registers a listener and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// PromptAvailable records the platform's install affordance. It is ignored
// once the app is installed.
func (m *Manager) PromptAvailable(p Prompt) {
	m.mu.Lock()
	if m.state == StateInstalled {
		m.mu.Unlock()
		logging.Debug("Install prompt ignored, already installed", nil)
		return
	}
	m.prompt = p
	m.transitionLocked(StatePromptAvailable)
}

// Installed records the platform's report that the app was installed,
// from any state.
func (m *Manager) Installed() {
	m.mu.Lock()
	m.prompt = nil
	m.transitionLocked(StateInstalled)
}

// transitionLocked sets the state and, on change, notifies listeners after
// releasing m.mu. The caller must hold m.mu.
func (m *Manager) transitionLocked(next State) {
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	logging.Info("Install state changed", map[string]interface{}{"state": string(next)})

	installed := next == StateInstalled
	for _, l := range listeners {
		l(next, installed)
	}
}

// PromptInstall shows the held install prompt. It fails with
// PROMPT_UNAVAILABLE outside StatePromptAvailable. The prompt is consumed
// whatever the outcome. Acceptance does not change the state: only the
// platform's later Installed call does. A dismissal or failure returns the
// manager to StateNotAvailable.
func (m *Manager) PromptInstall(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	if m.state != StatePromptAvailable || m.prompt == nil {
		m.mu.Unlock()
		return "", apperrors.New(apperrors.ErrPromptUnavailable, "install prompt not available")
	}
	p := m.prompt
	m.prompt = nil
	m.mu.Unlock()

	outcome, err := p.Show(ctx)
	if err != nil {
		m.dropAffordance()
		return "", apperrors.Wrap(apperrors.ErrPromptUnavailable, "show install prompt", err)
	}

	logging.Info("Install prompt answered", map[string]interface{}{"outcome": string(outcome)})

	if outcome != OutcomeAccepted {
		m.dropAffordance()
	}
	return outcome, nil
}

func (m *Manager) dropAffordance() {
	m.mu.Lock()
	if m.state != StatePromptAvailable || m.prompt != nil {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(StateNotAvailable)
}
