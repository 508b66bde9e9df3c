package canvashub

import (
	"context"
	"sync"

	"github.com/canvaslink/canvaslink/internal/connregistry"
	"github.com/canvaslink/canvaslink/internal/metrics"
)

// Manager owns the process-wide set of Hubs, one per canvas_id, created
// lazily on first reference and kept resident for the process lifetime.
// A production hardening (not implemented here) would idle-evict empty
// hubs after a grace period.
type Manager struct {
	events EventStore
	store  ModerationStore
	onFail FailureHook

	mu   sync.RWMutex
	hubs map[string]*Hub
}

// NewManager builds a Manager backed by events and store. onFail may be
// nil.
func NewManager(events EventStore, store ModerationStore, onFail FailureHook) *Manager {
	return &Manager{
		events: events,
		store:  store,
		onFail: onFail,
		hubs:   make(map[string]*Hub),
	}
}

// Get returns the Hub for canvasID, creating and loading it from the
// Credential Store if this is the first reference. Returns
// domain.ErrNotFound if the canvas does not exist.
func (m *Manager) Get(ctx context.Context, canvasID string) (*Hub, error) {
	m.mu.RLock()
	h, ok := m.hubs[canvasID]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.hubs[canvasID]; ok {
		return h, nil
	}

	canvas, err := m.store.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	h = &Hub{
		canvasID:    canvasID,
		events:      m.events,
		store:       m.store,
		onFail:      m.onFail,
		moderated:   canvas.Moderated,
		subscribers: make(map[uint64]*connregistry.Connection),
	}
	m.hubs[canvasID] = h
	metrics.HubsActive.Set(float64(len(m.hubs)))
	return h, nil
}

// UnsubscribeAll removes conn from every hub the Manager has ever
// created, for use on connection close.
func (m *Manager) UnsubscribeAll(conn *connregistry.Connection) {
	m.mu.RLock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		hubs = append(hubs, h)
	}
	m.mu.RUnlock()

	for _, h := range hubs {
		h.Unsubscribe(conn)
	}
}

// Len reports the number of resident hubs, for diagnostics.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hubs)
}
