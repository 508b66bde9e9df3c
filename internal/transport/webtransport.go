package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/quic-go/webtransport-go"

	"github.com/canvaslink/canvaslink/internal/session"
	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// wtSink adapts a single outbound webtransport.Stream to
// connregistry.Sink, mirroring Newcanva/handler.go's one-output-stream-
// per-client design: every server->client frame for a connection is
// written to the same stream rather than opening one per message.
type wtSink struct {
	mu     sync.Mutex
	stream *webtransport.Stream
}

func (s *wtSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.stream.Write(frame)
	return err
}

func (s *wtSink) Close() error {
	return s.stream.Close()
}

// WTUpgrader is the slice of *webtransport.Server this package depends
// on, so cmd/server can wire it in only when HTTP/3 is configured.
type WTUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (*webtransport.Session, error)
}

// HandleWebTransport mirrors HandleWebSocket for clients that prefer
// HTTP/3: same Auth Gate validation, same Session dispatch, different
// read/write plumbing. The server opens one stream that carries every
// server->client frame; inbound frames arrive on streams the client
// opens, which are accepted and read one after another, matching the
// teacher's sessionWebTransportReader/sessionBroadcastWriter split.
func (s *Server) HandleWebTransport(wt WTUpgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _, err := s.gate.AuthenticateUpgrade(r)
		if err != nil {
			// WebTransport's handshake is itself an HTTP response; a
			// refreshed cookie has nowhere to go once the session
			// upgrades, so (unlike HandleWebSocket) we don't attempt to
			// set one here. The next lazy-refresh on a frame catches up.
			http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
			return
		}

		wtSession, err := wt.Upgrade(w, r)
		if err != nil {
			fwlog.Errorf("transport: webtransport upgrade failed: %v", err)
			http.Error(w, "webtransport upgrade failed", http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := wtSession.CloseWithError(0, "server closed"); err != nil {
				fwlog.Debugf("transport: webtransport session close: %v", err)
			}
		}()

		outputStream, err := wtSession.OpenStream()
		if err != nil {
			fwlog.Errorf("transport: open webtransport output stream: %v", err)
			return
		}
		defer outputStream.Close()

		sink := &wtSink{stream: outputStream}
		connRec := s.registry.Insert(sink, claims)
		sess := session.New(connRec, s.registry, s.hubs, s.gate)
		defer sess.Close()

		ctx := r.Context()
		for {
			stream, err := wtSession.AcceptStream(ctx)
			if err != nil {
				return
			}
			if readStream(ctx, stream, sess, connRec.ID) != nil {
				return
			}
		}
	}
}

// readStream decodes successive JSON frames from one inbound stream
// until it's exhausted, dispatching each to sess. Returns a non-nil
// error only when the whole connection (not just this stream) must be
// torn down, matching session.HandleFrame's ErrHardExpired contract.
func readStream(ctx context.Context, stream *webtransport.Stream, sess *session.Session, connID uint64) error {
	dec := json.NewDecoder(stream)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				fwlog.Debugf("transport: webtransport decode error on connection %d: %v", connID, err)
			}
			return nil
		}
		if err := sess.HandleFrame(ctx, raw); err != nil {
			return err
		}
	}
}
