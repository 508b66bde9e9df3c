// Package connregistry tracks every currently open connection and its
// mutable authenticated claims.
package connregistry

import (
	"sync"
	"sync/atomic"

	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/internal/metrics"
)

// Sink is the outbound frame sink a connection exposes to the rest of the
// coordination core. Implementations must be safe to call concurrently
// with Close.
type Sink interface {
	// Send enqueues a frame for delivery. It must not block for long; a
	// slow or closed sink is treated as a failed send.
	Send(frame []byte) error
}

// Connection is a single realtime connection's registry-visible state. Id
// is a process-lifetime monotonic identifier.
type Connection struct {
	ID   uint64
	Sink Sink

	mu     sync.RWMutex
	claims domain.Claims
}

func (c *Connection) Claims() domain.Claims {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims
}

func (c *Connection) setClaims(cl domain.Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = cl
}

var nextID uint64

// Registry is the process-wide set of open connections, guarded by a
// read-mostly lock: inserts/removes are rare relative to subscriber
// fan-out iteration.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[uint64]*Connection)}
}

// Insert registers a new connection with the given initial claims and
// sink, returning the Connection handle the caller should retain.
func (r *Registry) Insert(sink Sink, claims domain.Claims) *Connection {
	conn := &Connection{
		ID:     atomic.AddUint64(&nextID, 1),
		Sink:   sink,
		claims: claims,
	}
	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()
	metrics.ConnectionsActive.Inc()
	return conn
}

// Remove unregisters conn. Idempotent.
func (r *Registry) Remove(conn *Connection) {
	r.mu.Lock()
	_, existed := r.conns[conn.ID]
	delete(r.conns, conn.ID)
	r.mu.Unlock()
	if existed {
		metrics.ConnectionsActive.Dec()
	}
}

// UpdateClaims replaces conn's claims, called by the Auth Gate on
// subsequent refreshes tied to this connection.
func (r *Registry) UpdateClaims(conn *Connection, claims domain.Claims) {
	conn.setClaims(claims)
}

// Len reports the number of currently registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
