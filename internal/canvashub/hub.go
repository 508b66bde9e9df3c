// Package canvashub implements the per-canvas broadcast domain: the
// append-and-fan-out pipeline anchored on the event log store, guarded by
// the moderation policy and each connection's live permission claims.
//
// This generalizes Newcanva/handler.go's CanvasServiceHandler (a client
// map + mutex, a history slice + mutex, and a buffered broadcast channel)
// from one global canvas to one Hub per canvas_id: the in-memory history
// slice becomes the durable event log store, and a permission/moderation
// gate is interposed in front of every append.
package canvashub

import (
	"context"
	"fmt"
	"sync"

	"github.com/canvaslink/canvaslink/internal/connregistry"
	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/internal/metrics"
	"github.com/canvaslink/canvaslink/internal/wire"
	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// EventStore is the slice of the Event Log Store a Hub needs.
type EventStore interface {
	Append(canvasID string, record []byte) error
	Replay(canvasID string) ([][]byte, error)
}

// ModerationStore is the slice of the Credential Store a Hub needs to
// load a canvas's starting moderation state and persist toggles.
type ModerationStore interface {
	GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error)
	SetModerated(ctx context.Context, canvasID string, moderated bool) error
}

// FailureHook is called when a send to a subscriber fails. The caller
// (normally cmd/server's wiring) treats the connection as disconnected:
// removes it from every hub and from the Connection Registry.
type FailureHook func(conn *connregistry.Connection)

// Hub is the broadcast + persistence coordinator for one canvas. Created
// lazily on first reference and kept resident for the process lifetime
// by the owning Manager.
type Hub struct {
	canvasID string
	events   EventStore
	store    ModerationStore
	onFail   FailureHook

	mu          sync.Mutex
	moderated   bool
	subscribers map[uint64]*connregistry.Connection
}

// Subscribe admits conn to the canvas if its claims grant at least read
// access, streaming the historical log, moderation state, and the
// caller's own permission level before adding it to the live subscriber
// set. All three preamble messages are sent before Subscribe returns, so
// no live event can race ahead of them.
func (h *Hub) Subscribe(conn *connregistry.Connection) error {
	level := conn.Claims().PermissionFor(h.canvasID)
	if !domain.CanRead(level) {
		return domain.ErrForbidden
	}

	records, err := h.events.Replay(h.canvasID)
	if err != nil {
		return fmt.Errorf("%w: replay: %v", domain.ErrStorage, err)
	}

	h.mu.Lock()
	moderated := h.moderated
	h.mu.Unlock()

	if err := h.sendFrame(conn, wire.Events(h.canvasID, records)); err != nil {
		return err
	}
	if err := h.sendFrame(conn, wire.ModerationState(h.canvasID, moderated)); err != nil {
		return err
	}
	if err := h.sendFrame(conn, wire.YourPermission(h.canvasID, string(level))); err != nil {
		return err
	}

	h.mu.Lock()
	h.subscribers[conn.ID] = conn
	h.mu.Unlock()
	return nil
}

// Moderated reports the hub's current moderation flag.
func (h *Hub) Moderated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moderated
}

// Unsubscribe removes conn from the subscriber set. Idempotent.
func (h *Hub) Unsubscribe(conn *connregistry.Connection) {
	h.mu.Lock()
	delete(h.subscribers, conn.ID)
	h.mu.Unlock()
}

// AppendAndBroadcast authorizes, persists, and fans out event on behalf
// of conn. Authorization precedes persistence: a rejected event is never
// appended. An append failure is fatal for this call only; the event is
// not broadcast, the hub remains available for the next attempt, and the
// originator is notified with an error frame rather than a close.
func (h *Hub) AppendAndBroadcast(conn *connregistry.Connection, event []byte) error {
	level := conn.Claims().PermissionFor(h.canvasID)
	if !domain.CanWrite(level) {
		metrics.EventsRejected.WithLabelValues("forbidden").Inc()
		return domain.ErrForbidden
	}

	h.mu.Lock()
	moderated := h.moderated
	if moderated && !domain.CanBypassModeration(level) {
		h.mu.Unlock()
		metrics.EventsRejected.WithLabelValues("moderated").Inc()
		return domain.ErrForbidden
	}

	if err := h.events.Append(h.canvasID, event); err != nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: append: %v", domain.ErrStorage, err)
	}

	subs := h.snapshotLocked()
	h.mu.Unlock()
	metrics.EventsAppended.WithLabelValues(h.canvasID).Inc()

	frame := wire.Events(h.canvasID, [][]byte{event})
	h.broadcast(subs, frame)
	return nil
}

// SetModerated toggles the canvas's moderation flag, persists it, and
// broadcasts the new state. Allowed only for conn's current permission
// level if it can moderate; a toggle to the already-current value is a
// no-op with no broadcast. A CS write failure reverts the in-memory flag
// before returning.
func (h *Hub) SetModerated(ctx context.Context, conn *connregistry.Connection, newValue bool) error {
	level := conn.Claims().PermissionFor(h.canvasID)
	if !domain.CanModerate(level) {
		return domain.ErrForbidden
	}

	h.mu.Lock()
	if h.moderated == newValue {
		h.mu.Unlock()
		return nil
	}
	prev := h.moderated
	h.moderated = newValue
	subs := h.snapshotLocked()
	h.mu.Unlock()

	if err := h.store.SetModerated(ctx, h.canvasID, newValue); err != nil {
		h.mu.Lock()
		h.moderated = prev
		h.mu.Unlock()
		return fmt.Errorf("%w: persist moderated: %v", domain.ErrStorage, err)
	}

	h.broadcast(subs, wire.ModerationState(h.canvasID, newValue))
	return nil
}

// snapshotLocked must be called with h.mu held. It returns a copy of the
// subscriber set so fan-out sends happen lock-free.
func (h *Hub) snapshotLocked() []*connregistry.Connection {
	subs := make([]*connregistry.Connection, 0, len(h.subscribers))
	for _, c := range h.subscribers {
		subs = append(subs, c)
	}
	return subs
}

func (h *Hub) broadcast(subs []*connregistry.Connection, frame wire.ServerFrame) {
	data, err := frame.Marshal()
	if err != nil {
		fwlog.Errorf("canvashub: marshal frame for %s: %v", h.canvasID, err)
		return
	}
	for _, conn := range subs {
		if err := conn.Sink.Send(data); err != nil {
			fwlog.Debugf("canvashub: send to connection %d on %s failed, dropping: %v", conn.ID, h.canvasID, err)
			h.Unsubscribe(conn)
			if h.onFail != nil {
				h.onFail(conn)
			}
		}
	}
}

func (h *Hub) sendFrame(conn *connregistry.Connection, frame wire.ServerFrame) error {
	data, err := frame.Marshal()
	if err != nil {
		return fmt.Errorf("%w: marshal preamble: %v", domain.ErrStorage, err)
	}
	if err := conn.Sink.Send(data); err != nil {
		return fmt.Errorf("%w: send preamble: %v", domain.ErrStorage, err)
	}
	return nil
}
