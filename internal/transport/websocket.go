// Package transport adapts the Session Protocol's frame dispatch loop to
// concrete wire transports. Two transports share one Session: a
// gorilla/websocket connection at /ws, and a WebTransport session at
// /webtransport/ws, following Newcanva/handler.go and Newcanva/main.go's
// dual WebSocket/WebTransport design — both join the same dispatch loop,
// only the read/write plumbing differs.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/canvaslink/canvaslink/internal/authgate"
	"github.com/canvaslink/canvaslink/internal/canvashub"
	"github.com/canvaslink/canvaslink/internal/connregistry"
	"github.com/canvaslink/canvaslink/internal/session"
	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	// Canvas sessions are joined from whatever origin the SPA frontend is
	// served from (out of scope here, per spec.md §1); CORS on the HTTP
	// surface polices browsers, not this check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink adapts a *websocket.Conn to connregistry.Sink. Gorilla forbids
// concurrent writers to one Conn, so every Send funnels through a single
// mutex rather than relying on the connection's own read goroutine.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close implements the optional closer FailureHook type-asserts for, so a
// subscriber drop also tears down its socket.
func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Server bundles the dependencies the upgrade endpoints need: the Auth
// Gate for upgrade-time validation, the Connection Registry, and the
// Canvas Hub manager every Session dispatches against.
type Server struct {
	gate     *authgate.Gate
	registry *connregistry.Registry
	hubs     *canvashub.Manager
}

// NewServer builds a transport Server.
func NewServer(gate *authgate.Gate, registry *connregistry.Registry, hubs *canvashub.Manager) *Server {
	return &Server{gate: gate, registry: registry, hubs: hubs}
}

// HandleWebSocket validates the upgrade per the Auth Gate's four ordered
// steps (spec.md §4.5), then upgrades and runs the connection's read loop
// until it closes. A refreshed credential from the upgrade-time check is
// attached to the 101 response's headers, since that is the only point at
// which this transport can still set a cookie.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, refreshedToken, err := s.gate.AuthenticateUpgrade(r)
	if err != nil {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	var responseHeader http.Header
	if refreshedToken != "" {
		responseHeader = http.Header{}
		cookie := &http.Cookie{
			Name:     authgate.CookieName,
			Value:    refreshedToken,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
		responseHeader.Add("Set-Cookie", cookie.String())
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		fwlog.Warnf("transport: websocket upgrade failed: %v", err)
		return
	}

	sink := &wsSink{conn: conn}
	connRec := s.registry.Insert(sink, claims)
	sess := session.New(connRec, s.registry, s.hubs, s.gate)
	defer sess.Close()
	defer sink.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := sess.HandleFrame(r.Context(), data); err != nil {
			fwlog.Debugf("transport: closing connection %d: %v", connRec.ID, err)
			return
		}
	}
}
