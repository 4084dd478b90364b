package realtime

import (
	"sync"

	"github.com/mouldrestoration/livesync/internal/presence"
)

// Snapshot is the read-only view handed to the rendering layer.
type Snapshot struct {
	IsConnected         bool             `json:"isConnected"`
	ConnectionState     State            `json:"connectionState"`
	OnlineUsers         []presence.Entry `json:"onlineUsers"`
	UnreadNotifications int              `json:"unreadNotifications"`
}

func (s Snapshot) equal(o Snapshot) bool {
	if s.IsConnected != o.IsConnected ||
		s.ConnectionState != o.ConnectionState ||
		s.UnreadNotifications != o.UnreadNotifications ||
		len(s.OnlineUsers) != len(o.OnlineUsers) {
		return false
	}
	for i := range s.OnlineUsers {
		if s.OnlineUsers[i] != o.OnlineUsers[i] {
			return false
		}
	}
	return true
}

func (s Snapshot) clone() Snapshot {
	users := make([]presence.Entry, len(s.OnlineUsers))
	copy(users, s.OnlineUsers)
	s.OnlineUsers = users
	return s
}

// refresh rebuilds the snapshot after an event and notifies watchers when
// it changed. Only called from the loop.
func (m *Manager) refresh() {
	next := Snapshot{
		IsConnected:         m.state == StateConnected,
		ConnectionState:     m.state,
		OnlineUsers:         m.presence.Snapshot(),
		UnreadNotifications: m.counter.Unread(),
	}
	if !m.config.Enabled {
		next = Snapshot{ConnectionState: StateDisconnected, OnlineUsers: []presence.Entry{}}
	}

	if prev := m.snapshot.Load(); prev != nil && prev.equal(next) {
		return
	}
	m.snapshot.Store(&next)

	m.metrics.PresenceUsers.Set(float64(len(next.OnlineUsers)))
	m.metrics.UnreadNotifications.Set(float64(next.UnreadNotifications))

	for _, ch := range m.watchers {
		offerLatest(ch, next.clone())
	}
}

// offerLatest replaces any unread snapshot in a one-slot channel.
func offerLatest(ch chan Snapshot, s Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Snapshot returns the latest snapshot. It never blocks on the loop.
func (m *Manager) Snapshot() Snapshot {
	return m.snapshot.Load().clone()
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool {
	return m.snapshot.Load().IsConnected
}

// ConnectionState returns the current connection state.
func (m *Manager) ConnectionState() State {
	return m.snapshot.Load().ConnectionState
}

// OnlineUsers returns the other users currently online.
func (m *Manager) OnlineUsers() []presence.Entry {
	return m.Snapshot().OnlineUsers
}

// UnreadNotifications returns the unread notification count.
func (m *Manager) UnreadNotifications() int {
	return m.snapshot.Load().UnreadNotifications
}

// Watch returns a channel receiving the current snapshot and every later
// change. A slow reader only sees the newest snapshot. The channel is
// closed by cancel or when the manager closes.
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	id := -1

	if !m.do(func() {
		id = m.nextWatcher
		m.nextWatcher++
		m.watchers[id] = ch
		ch <- m.snapshot.Load().clone()
	}) {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.do(func() {
				if _, ok := m.watchers[id]; ok {
					delete(m.watchers, id)
					close(ch)
				}
			})
		})
	}
	return ch, cancel
}
