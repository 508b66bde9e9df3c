// Package httpapi is the HTTP surface consumed by the coordination
// core's own clients: login/logout, the caller's own identity, and
// canvas/permission management. It is deliberately thin — it exists to
// get a signed bearer credential into a client's hands and to let
// canvas owners manage grants, not to be a general account service.
//
// Handler shape (explicit dependencies passed to New, request context
// carrying authenticated claims) follows
// VuteTech-bor/server/internal/api's handler conventions.
package httpapi

import (
	"context"
	"net/http"

	"github.com/canvaslink/canvaslink/internal/authgate"
	"github.com/canvaslink/canvaslink/internal/domain"
)

// CredentialStore is the slice of the Credential Store the HTTP surface
// needs.
type CredentialStore interface {
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	ListCanvasesVisibleTo(ctx context.Context, userID int64) ([]domain.Canvas, map[string]domain.Level, error)
	CreateCanvas(ctx context.Context, name string, ownerUserID int64) (*domain.Canvas, error)
	GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error)
	ListPermissions(ctx context.Context, canvasID string) (map[domain.Level][]domain.User, error)
	SetPermission(ctx context.Context, canvasID string, userID int64, level domain.Level) error
}

// TokenIssuer is the slice of the Token Service the HTTP surface needs
// to mint a bearer token after a successful login.
type TokenIssuer interface {
	Issue(ctx context.Context, userID int64) (string, domain.Claims, error)
}

// Server holds the dependencies behind every handler in this package.
type Server struct {
	store  CredentialStore
	tokens TokenIssuer
	gate   *authgate.Gate
}

// New builds a Server.
func New(store CredentialStore, tokens TokenIssuer, gate *authgate.Gate) *Server {
	return &Server{store: store, tokens: tokens, gate: gate}
}

// Routes registers every handler this package serves onto mux. Callers
// that also serve /ws and /metrics do so separately; this package owns
// only the /api/* JSON surface.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.Handle("GET /api/me", s.gate.Middleware(http.HandlerFunc(s.handleMe)))
	mux.Handle("GET /api/canvases/list", s.gate.Middleware(http.HandlerFunc(s.handleListCanvases)))
	mux.Handle("POST /api/canvases/create", s.gate.Middleware(http.HandlerFunc(s.handleCreateCanvas)))
	mux.Handle("GET /api/canvas/{id}/permissions", s.gate.Middleware(http.HandlerFunc(s.handleListPermissions)))
	mux.Handle("POST /api/canvas/{id}/permissions", s.gate.Middleware(http.HandlerFunc(s.handleSetPermission)))
}
