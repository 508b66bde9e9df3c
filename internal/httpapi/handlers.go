package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/canvaslink/canvaslink/internal/authgate"
	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid login request")
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		fwlog.Errorf("httpapi: authenticate: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	signed, _, err := s.tokens.Issue(r.Context(), user.UserID)
	if err != nil {
		fwlog.Errorf("httpapi: issue token for user %d: %v", user.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authgate.CookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, userResponse{UserID: user.UserID, Email: user.Email, DisplayName: user.DisplayName})
}

// handleLogout clears the auth cookie unconditionally; it does not
// require a valid session, so a client with an already-expired cookie
// can still log out cleanly.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authgate.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := authgate.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{UserID: claims.UserID, Email: claims.Email, DisplayName: claims.DisplayName})
}

type canvasResponse struct {
	CanvasID   string `json:"canvas_id"`
	Name       string `json:"name"`
	Moderated  bool   `json:"moderated"`
	Permission string `json:"permission"`
}

func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	claims, ok := authgate.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	canvases, levels, err := s.store.ListCanvasesVisibleTo(r.Context(), claims.UserID)
	if err != nil {
		fwlog.Errorf("httpapi: list canvases for user %d: %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]canvasResponse, 0, len(canvases))
	for _, c := range canvases {
		out = append(out, canvasResponse{
			CanvasID:   c.CanvasID,
			Name:       c.Name,
			Moderated:  c.Moderated,
			Permission: string(levels[c.CanvasID]),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type createCanvasRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	claims, ok := authgate.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createCanvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "canvas name is required")
		return
	}

	canvas, err := s.store.CreateCanvas(r.Context(), req.Name, claims.UserID)
	if err != nil {
		fwlog.Errorf("httpapi: create canvas for user %d: %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, canvasResponse{
		CanvasID:   canvas.CanvasID,
		Name:       canvas.Name,
		Moderated:  canvas.Moderated,
		Permission: string(domain.LevelOwner),
	})
}

type permissionHolder struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// allLevels fixes the key presence of the response map: every level is
// present (with an empty array, not omitted) even when nobody currently
// holds it, so a client doesn't need to special-case a missing key. Key
// order is encoding/json's sorted map order.
var allLevels = []domain.Level{
	domain.LevelRead, domain.LevelWrite, domain.LevelVerified,
	domain.LevelModerate, domain.LevelOwner, domain.LevelCoOwner,
}

// handleListPermissions requires at least read access: any subscriber
// can see who else can see and edit a canvas they themselves are on.
// Response shape per SPEC_FULL §6: {"R":[{user_id,display_name}],...},
// one key per permission level.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	claims, ok := authgate.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	canvasID := r.PathValue("id")

	if !domain.CanRead(claims.PermissionFor(canvasID)) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	grants, err := s.store.ListPermissions(r.Context(), canvasID)
	if err != nil {
		fwlog.Errorf("httpapi: list permissions for canvas %s: %v", canvasID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make(map[domain.Level][]permissionHolder, len(allLevels))
	for _, level := range allLevels {
		holders := make([]permissionHolder, 0, len(grants[level]))
		for _, u := range grants[level] {
			holders = append(holders, permissionHolder{UserID: u.UserID, DisplayName: u.DisplayName})
		}
		out[level] = holders
	}
	writeJSON(w, http.StatusOK, out)
}

type setPermissionRequest struct {
	UserID     int64  `json:"user_id"`
	Permission string `json:"permission"`
}

// handleSetPermission requires CanAdminister: only an owner or co-owner
// may grant, change, or revoke another user's access. A Permission of
// "" revokes the grant entirely.
func (s *Server) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	claims, ok := authgate.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	canvasID := r.PathValue("id")

	if !domain.CanAdminister(claims.PermissionFor(canvasID)) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req setPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	level := domain.Level(req.Permission)
	if level != domain.LevelNone && !level.Valid() {
		writeError(w, http.StatusBadRequest, "unrecognized permission level")
		return
	}

	if err := s.store.SetPermission(r.Context(), canvasID, req.UserID, level); err != nil {
		fwlog.Errorf("httpapi: set permission on canvas %s for user %d: %v", canvasID, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
