package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canvaslink/canvaslink/internal/authgate"
	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/internal/refreshregistry"
)

type fakeStore struct {
	users       map[string]*domain.User // keyed by email
	passwords   map[string]string       // keyed by email
	canvases    map[string]domain.Canvas
	levels      map[int64]map[string]domain.Level
	permissions map[string]map[domain.Level][]domain.User
	setErr      error
	lastSet     setPermissionRequest
	lastCanvas  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*domain.User),
		passwords:   make(map[string]string),
		canvases:    make(map[string]domain.Canvas),
		levels:      make(map[int64]map[string]domain.Level),
		permissions: make(map[string]map[domain.Level][]domain.User),
	}
}

func (f *fakeStore) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	u, ok := f.users[email]
	if !ok || f.passwords[email] != password {
		return nil, domain.ErrUnauthenticated
	}
	return u, nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	for _, u := range f.users {
		if u.UserID == userID {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListCanvasesVisibleTo(ctx context.Context, userID int64) ([]domain.Canvas, map[string]domain.Level, error) {
	levels := f.levels[userID]
	var out []domain.Canvas
	for canvasID := range levels {
		out = append(out, f.canvases[canvasID])
	}
	return out, levels, nil
}

func (f *fakeStore) CreateCanvas(ctx context.Context, name string, ownerUserID int64) (*domain.Canvas, error) {
	c := domain.Canvas{CanvasID: "new1", Name: name, OwnerUserID: ownerUserID}
	f.canvases[c.CanvasID] = c
	return &c, nil
}

func (f *fakeStore) GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error) {
	c, ok := f.canvases[canvasID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (f *fakeStore) ListPermissions(ctx context.Context, canvasID string) (map[domain.Level][]domain.User, error) {
	return f.permissions[canvasID], nil
}

func (f *fakeStore) SetPermission(ctx context.Context, canvasID string, userID int64, level domain.Level) error {
	f.lastCanvas = canvasID
	f.lastSet = setPermissionRequest{UserID: userID, Permission: string(level)}
	return f.setErr
}

type fakeTokens struct {
	signed string
	claims domain.Claims
	err    error
}

func (f *fakeTokens) Issue(ctx context.Context, userID int64) (string, domain.Claims, error) {
	return f.signed, f.claims, f.err
}

type fakeVerifier struct {
	claims domain.Claims
}

func (f *fakeVerifier) Verify(string) (domain.Claims, error) { return f.claims, nil }
func (f *fakeVerifier) Reissue(context.Context, domain.Claims) (string, domain.Claims, error) {
	return "", domain.Claims{}, nil
}

func newFixture(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.users["ada@example.com"] = &domain.User{UserID: 1, Email: "ada@example.com", DisplayName: "Ada"}
	store.passwords["ada@example.com"] = "correct-horse"

	tokens := &fakeTokens{signed: "signed-token", claims: domain.Claims{UserID: 1, Email: "ada@example.com", DisplayName: "Ada"}}
	gate := authgate.New(&fakeVerifier{claims: domain.Claims{
		UserID:        1,
		Email:         "ada@example.com",
		DisplayName:   "Ada",
		Permissions:   map[string]domain.Level{"c1": domain.LevelOwner},
		HardExp:       time.Now().Add(time.Hour),
		SoftReissueAt: time.Now().Add(time.Hour),
	}}, refreshregistry.New())

	return New(store, tokens, gate), store
}

func TestLoginSuccessSetsCookie(t *testing.T) {
	s, _ := newFixture(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	body, _ := json.Marshal(loginRequest{Email: "ada@example.com", Password: "correct-horse"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != authgate.CookieName || cookies[0].Value != "signed-token" {
		t.Fatalf("cookies = %v, want one auth_token=signed-token", cookies)
	}
}

func TestLoginWrongPasswordReturns401(t *testing.T) {
	s, _ := newFixture(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	body, _ := json.Marshal(loginRequest{Email: "ada@example.com", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMeRequiresAuth(t *testing.T) {
	s, _ := newFixture(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMeReturnsAuthenticatedIdentity(t *testing.T) {
	s, _ := newFixture(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: authgate.CookieName, Value: "valid"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.UserID != 1 || got.Email != "ada@example.com" {
		t.Fatalf("got %+v, want Ada's identity", got)
	}
}

func TestSetPermissionRequiresAdminister(t *testing.T) {
	s, store := newFixture(t)
	store.canvases["c2"] = domain.Canvas{CanvasID: "c2"}
	mux := http.NewServeMux()
	s.Routes(mux)

	body, _ := json.Marshal(setPermissionRequest{UserID: 2, Permission: "W"})
	req := httptest.NewRequest(http.MethodPost, "/api/canvas/c2/permissions", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: authgate.CookieName, Value: "valid"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d (no grant on c2)", rec.Code, http.StatusForbidden)
	}
}

func TestSetPermissionGrantsWhenAdministering(t *testing.T) {
	s, store := newFixture(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	body, _ := json.Marshal(setPermissionRequest{UserID: 2, Permission: "W"})
	req := httptest.NewRequest(http.MethodPost, "/api/canvas/c1/permissions", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: authgate.CookieName, Value: "valid"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusNoContent, rec.Body)
	}
	if store.lastCanvas != "c1" || store.lastSet.UserID != 2 || store.lastSet.Permission != "W" {
		t.Fatalf("store received %+v on canvas %q, want user 2 level W on c1", store.lastSet, store.lastCanvas)
	}
}

func TestSetPermissionRejectsUnknownLevel(t *testing.T) {
	s, _ := newFixture(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	body, _ := json.Marshal(setPermissionRequest{UserID: 2, Permission: "Z"})
	req := httptest.NewRequest(http.MethodPost, "/api/canvas/c1/permissions", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: authgate.CookieName, Value: "valid"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCreateCanvasReturnsOwnerPermission(t *testing.T) {
	s, _ := newFixture(t)
	mux := http.NewServeMux()
	s.Routes(mux)

	body, _ := json.Marshal(createCanvasRequest{Name: "sketch"})
	req := httptest.NewRequest(http.MethodPost, "/api/canvases/create", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: authgate.CookieName, Value: "valid"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusCreated, rec.Body)
	}
	var got canvasResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Permission != string(domain.LevelOwner) {
		t.Fatalf("got permission %q, want %q", got.Permission, domain.LevelOwner)
	}
}
