package stream

import (
	"sync"
)

// Manager tracks the single live delivery channel per user. A reconnect
// replaces the previous channel: the old connection is closed so its
// endpoint loop stops before the new one starts draining.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection // userID -> connection
}

// NewManager creates an empty connection manager.
func NewManager() *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
	}
}

// Add installs the connection as the user's channel, closing any previous
// one.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.connections[conn.UserID]; ok {
		old.Close()
	}
	m.connections[conn.UserID] = conn
}

// Remove drops the connection if it is still the user's current channel.
// A connection that was already replaced leaves the replacement in place.
func (m *Manager) Remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.connections[conn.UserID]
	if !ok || current.ID != conn.ID {
		return
	}
	current.Close()
	delete(m.connections, conn.UserID)
}

// Get returns the user's current connection, if any.
func (m *Manager) Get(userID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[userID]
	return conn, ok
}

// HasConnection reports whether the user has a live channel.
func (m *Manager) HasConnection(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[userID]
	return ok && !conn.IsClosed()
}

// Count returns the number of live connections across all users.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, conn := range m.connections {
		if !conn.IsClosed() {
			count++
		}
	}
	return count
}

// CloseAll closes every channel, used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, conn := range m.connections {
		conn.Close()
		delete(m.connections, userID)
	}
}
