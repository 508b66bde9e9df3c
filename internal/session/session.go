// Package session implements the Session Protocol: the per-connection
// frame grammar and state machine (Authenticated -> Subscribed{S} ->
// Closing) that dispatches inbound frames against the Canvas Hub and the
// Connection Registry. One Session exists per live connection, and its
// HandleFrame calls are always made from that connection's single
// read loop, so the subscribed-canvas set needs no lock of its own.
package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/canvaslink/canvaslink/internal/authgate"
	"github.com/canvaslink/canvaslink/internal/canvashub"
	"github.com/canvaslink/canvaslink/internal/connregistry"
	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/internal/wire"
	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// ErrHardExpired is returned by HandleFrame when the connection's claims
// have passed hard_exp. The caller must close the connection; no further
// frame on this socket can succeed.
var ErrHardExpired = domain.ErrHardExpired

// Session is one connection's frame dispatch loop state.
type Session struct {
	conn     *connregistry.Connection
	registry *connregistry.Registry
	hubs     *canvashub.Manager
	gate     *authgate.Gate

	subscribed map[string]struct{}
}

// New builds a Session for an already-registered conn.
func New(conn *connregistry.Connection, registry *connregistry.Registry, hubs *canvashub.Manager, gate *authgate.Gate) *Session {
	return &Session{
		conn:       conn,
		registry:   registry,
		hubs:       hubs,
		gate:       gate,
		subscribed: make(map[string]struct{}),
	}
}

// HandleFrame parses and dispatches one inbound frame. Unknown frames,
// malformed JSON, and frames targeting a canvas the connection has not
// subscribed to (for toggle/publish) are logged and discarded; the
// connection is not closed. HandleFrame only returns an error when the
// connection itself must be closed (hard expiry).
func (s *Session) HandleFrame(ctx context.Context, raw []byte) error {
	var frame wire.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		fwlog.Warnf("session: malformed frame on connection %d: %v", s.conn.ID, err)
		return nil
	}

	switch {
	case frame.Command == wire.CommandRegister:
		return s.handleRegister(ctx, frame.CanvasID)
	case frame.Command == wire.CommandUnregister:
		s.handleUnregister(frame.CanvasID)
		return nil
	case frame.Command == wire.CommandToggleMod:
		return s.handleToggleModerated(ctx, frame.CanvasID)
	case len(frame.EventsForCanvas) > 0:
		return s.handleEvents(ctx, frame.CanvasID, frame.EventsForCanvas)
	default:
		fwlog.Warnf("session: unrecognized frame on connection %d: %s", s.conn.ID, raw)
		return nil
	}
}

func (s *Session) handleRegister(ctx context.Context, canvasID string) error {
	if canvasID == "" {
		fwlog.Warnf("session: registerForCanvas missing canvasId on connection %d", s.conn.ID)
		return nil
	}

	if err := s.refreshClaims(ctx); err != nil {
		return err
	}

	hub, err := s.hubs.Get(ctx, canvasID)
	if err != nil {
		s.sendErr(canvasID, "canvas not found")
		return nil
	}

	if err := hub.Subscribe(s.conn); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			s.sendErr(canvasID, "permission denied")
			return nil
		}
		fwlog.Warnf("session: subscribe %s for connection %d: %v", canvasID, s.conn.ID, err)
		s.sendErr(canvasID, "subscribe failed")
		return nil
	}

	s.subscribed[canvasID] = struct{}{}
	return nil
}

func (s *Session) handleUnregister(canvasID string) {
	if canvasID == "" {
		return
	}
	delete(s.subscribed, canvasID)

	hub, err := s.hubs.Get(context.Background(), canvasID)
	if err != nil {
		return
	}
	hub.Unsubscribe(s.conn)
}

func (s *Session) handleToggleModerated(ctx context.Context, canvasID string) error {
	if !s.isSubscribed(canvasID) {
		fwlog.Warnf("session: toggleModerated on unsubscribed canvas %s from connection %d", canvasID, s.conn.ID)
		return nil
	}

	if err := s.refreshClaims(ctx); err != nil {
		return err
	}

	hub, err := s.hubs.Get(ctx, canvasID)
	if err != nil {
		s.sendErr(canvasID, "canvas not found")
		return nil
	}

	if err := hub.SetModerated(ctx, s.conn, !hub.Moderated()); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			fwlog.Debugf("session: toggleModerated denied for connection %d on %s", s.conn.ID, canvasID)
			return nil
		}
		fwlog.Warnf("session: toggleModerated %s for connection %d: %v", canvasID, s.conn.ID, err)
	}
	return nil
}

func (s *Session) handleEvents(ctx context.Context, canvasID string, events []json.RawMessage) error {
	if canvasID == "" {
		fwlog.Warnf("session: eventsForCanvas missing canvasId on connection %d", s.conn.ID)
		return nil
	}
	if !s.isSubscribed(canvasID) {
		fwlog.Warnf("session: events for unsubscribed canvas %s from connection %d", canvasID, s.conn.ID)
		return nil
	}

	hub, err := s.hubs.Get(ctx, canvasID)
	if err != nil {
		s.sendErr(canvasID, "canvas not found")
		return nil
	}

	for _, event := range events {
		if err := hub.AppendAndBroadcast(s.conn, []byte(event)); err != nil {
			if errors.Is(err, domain.ErrForbidden) {
				fwlog.Debugf("session: event denied for connection %d on %s", s.conn.ID, canvasID)
				continue
			}
			fwlog.Warnf("session: append_and_broadcast %s for connection %d: %v", canvasID, s.conn.ID, err)
			s.sendErr(canvasID, "event rejected")
		}
	}
	return nil
}

// refreshClaims applies the Auth Gate's lazy-refresh step and installs
// any refreshed claims on the connection record.
func (s *Session) refreshClaims(ctx context.Context) error {
	fresh, refreshed, err := s.gate.RefreshConnectionClaims(ctx, s.conn.Claims())
	if err != nil {
		if errors.Is(err, domain.ErrHardExpired) {
			return ErrHardExpired
		}
		fwlog.Warnf("session: refresh claims for connection %d: %v", s.conn.ID, err)
		return nil
	}
	if refreshed {
		s.registry.UpdateClaims(s.conn, fresh)
	}
	return nil
}

func (s *Session) isSubscribed(canvasID string) bool {
	_, ok := s.subscribed[canvasID]
	return ok
}

func (s *Session) sendErr(canvasID, message string) {
	frame := wire.Err(canvasID, message)
	data, err := frame.Marshal()
	if err != nil {
		return
	}
	if err := s.conn.Sink.Send(data); err != nil {
		fwlog.Debugf("session: send error frame to connection %d failed: %v", s.conn.ID, err)
	}
}

// Close tears down the connection: removed from every hub it ever
// subscribed to and from the Connection Registry. No final frames are
// emitted.
func (s *Session) Close() {
	s.hubs.UnsubscribeAll(s.conn)
	s.registry.Remove(s.conn)
}
