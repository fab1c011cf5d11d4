// Package connectivity tracks whether the remote side is reachable and
// notifies subscribers of online/offline transitions.
package connectivity

import (
	"sync"
)

// Monitor holds the current connectivity state.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: make(map[int]chan bool)}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state and notifies subscribers if it changed. It reports
// whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	for _, ch := range m.subs {
		notify(ch, online)
	}
	return true
}

// Subscribe returns a channel receiving the new state after each transition
// and a function that cancels the subscription. A slow subscriber only sees
// the latest state.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// notify replaces a pending unread state with the newest one. Callers hold m.mu.
func notify(ch chan bool, online bool) {
	select {
	case ch <- online:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}
