// Package connectivity tracks whether the Remote API is reachable.
package connectivity

import (
	"sync"

	"github.com/kimhsiao/fieldcount/backend/internal/logging"
)

// Listener receives every connectivity event.
type Listener func(online bool)

type subscription struct {
	id uint64
	fn Listener
}

// Monitor holds the current connectivity state and fans platform events out to listeners.
// Listeners run synchronously on the caller of Set, in subscription order, one event at a time.
// A listener must not call Set itself.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	nextID    uint64
	listeners []subscription

	// notifyMu serializes delivery so listeners observe events in arrival order.
	notifyMu sync.Mutex
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(initial bool) *Monitor {
	return &Monitor{online: initial}
}

// CurrentStatus reports whether the platform last said it was online.
func (m *Monitor) CurrentStatus() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn and returns a function removing it. The returned function is idempotent.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.listeners {
				if s.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// BecameOnline is the platform's online event.
func (m *Monitor) BecameOnline() {
	m.Set(true)
}

// BecameOffline is the platform's offline event.
func (m *Monitor) BecameOffline() {
	m.Set(false)
}

// Set records a platform event and notifies listeners.
// Repeated events with the same value are delivered too; the platform decides what to coalesce.
func (m *Monitor) Set(online bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	was := m.online
	m.online = online
	listeners := make([]subscription, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if was != online {
		logging.Info("Connectivity changed",
			map[string]interface{}{"was_online": was, "is_online": online})
	}

	for _, s := range listeners {
		s.fn(online)
	}
}

// Listeners returns the number of active subscriptions.
func (m *Monitor) Listeners() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}
