package dwp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/CorbanSy/PropDash-sub000/id"
)

// Connection is the state of one authenticated DWP session.
type Connection struct {
	ID       string
	Identity *Identity
	Codec    Codec

	// ProviderID is set when the identity is a provider. Offer methods
	// act on this provider only.
	ProviderID id.ProviderID

	ConnectedAt  time.Time
	LastActivity atomic.Value // time.Time

	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// NewConnection creates a connection with the given ID and identity.
func NewConnection(connID string, identity *Identity, codec Codec) *Connection {
	now := time.Now().UTC()
	c := &Connection{
		ID:            connID,
		Identity:      identity,
		Codec:         codec,
		ConnectedAt:   now,
		subscriptions: make(map[string]struct{}),
	}
	if pid, ok := identity.ProviderID(); ok {
		c.ProviderID = pid
	}
	c.LastActivity.Store(now)
	return c
}

// IsProvider reports whether the session belongs to a provider.
func (c *Connection) IsProvider() bool { return !c.ProviderID.IsNil() }

// Touch updates the last activity timestamp.
func (c *Connection) Touch() {
	c.LastActivity.Store(time.Now().UTC())
}

// Idle returns how long the connection has been silent.
func (c *Connection) Idle(now time.Time) time.Duration {
	last, _ := c.LastActivity.Load().(time.Time)
	return now.Sub(last)
}

// AddSubscription records a channel subscription.
func (c *Connection) AddSubscription(channel string) {
	c.mu.Lock()
	c.subscriptions[channel] = struct{}{}
	c.mu.Unlock()
}

// RemoveSubscription removes a channel subscription.
func (c *Connection) RemoveSubscription(channel string) {
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
}

// Subscriptions returns a copy of active subscription channels.
func (c *Connection) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// ConnectionManager tracks active DWP connections.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates an empty connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{conns: make(map[string]*Connection)}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters a connection.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mu.Lock()
	delete(cm.conns, connID)
	cm.mu.Unlock()
}

// Get returns a connection by ID.
func (cm *ConnectionManager) Get(connID string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.conns[connID]
	return c, ok
}

// Count returns the number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// ByProvider returns the live sessions of one provider. A provider may
// be signed in on more than one device.
func (cm *ConnectionManager) ByProvider(pid id.ProviderID) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []*Connection
	for _, c := range cm.conns {
		if c.ProviderID == pid {
			out = append(out, c)
		}
	}
	return out
}
