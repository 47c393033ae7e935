// Package connectivity tracks whether the backend is reachable and tells
// subscribers about genuine online/offline transitions.
package connectivity

import (
	"sync"

	"github.com/ecodex/offline/internal/logging"
)

// Status is the textual connectivity state delivered to listeners.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// StatusOf maps a boolean state to its Status.
func StatusOf(online bool) Status {
	if online {
		return StatusOnline
	}
	return StatusOffline
}

// Listener receives connectivity transitions. Listeners run in no particular
// order and must not depend on each other.
type Listener func(status Status, isOnline bool)

// Monitor holds the process-wide connectivity flag.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]Listener
}

// NewMonitor creates a Monitor seeded with the platform's initial state.
func NewMonitor(initiallyOnline bool) *Monitor {
	return &Monitor{
		online:    initiallyOnline,
		listeners: make(map[int]Listener),
	}
}

// IsOnline returns the last observed state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener and returns a function that removes it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
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

// SetOnline feeds a platform signal into the monitor. Listeners are notified
// only when the state actually changes; they run on the calling goroutine
// after the lock is released.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	status := StatusOf(online)
	logging.Info("Connectivity changed", map[string]interface{}{"status": string(status)})

	for _, l := range listeners {
		l(status, online)
	}
}
