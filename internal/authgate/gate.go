// Package authgate is the request- and upgrade-time middleware applied
// uniformly to protected HTTP endpoints and the connection-upgrade
// endpoint: validate the bearer cookie, consult the Refresh Registry,
// and transparently reissue a soft-refreshed credential before the
// protected handler or the upgraded connection observes claims.
//
// Context-key wrapping follows
// VuteTech-bor/server/internal/api/middleware.go's AuthMiddleware/
// GetUserFromContext pattern.
package authgate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/internal/metrics"
	"github.com/canvaslink/canvaslink/internal/refreshregistry"
)

// CookieName is the auth cookie's name, per SPEC_FULL §6.
const CookieName = "auth_token"

// TokenVerifier is the slice of the Token Service the gate needs.
type TokenVerifier interface {
	Verify(tokenString string) (domain.Claims, error)
	Reissue(ctx context.Context, existing domain.Claims) (string, domain.Claims, error)
}

// Gate validates and transparently refreshes bearer credentials.
type Gate struct {
	tokens TokenVerifier
	rr     *refreshregistry.Registry
}

// New builds a Gate backed by tokens and rr.
func New(tokens TokenVerifier, rr *refreshregistry.Registry) *Gate {
	return &Gate{tokens: tokens, rr: rr}
}

type contextKey string

const claimsContextKey contextKey = "canvaslink.claims"

// ClaimsFromContext retrieves claims injected by Middleware or Authenticate.
func ClaimsFromContext(ctx context.Context) (domain.Claims, bool) {
	cl, ok := ctx.Value(claimsContextKey).(domain.Claims)
	return cl, ok
}

// Authenticate runs the four ordered steps against tokenString: extract
// (caller's job), verify, conditional reissue, return claims. Unlike the
// HTTP middleware, it does not write a Set-Cookie header itself; the
// caller decides how to deliver the refreshed token (HTTP response
// header for normal requests, the Connection record for upgrades).
//
// The returned refreshed string is non-empty only when a reissue
// happened.
func (g *Gate) Authenticate(ctx context.Context, tokenString string) (claims domain.Claims, refreshed string, err error) {
	if tokenString == "" {
		return domain.Claims{}, "", domain.ErrUnauthenticated
	}

	cl, err := g.tokens.Verify(tokenString)
	if err != nil {
		if errors.Is(err, domain.ErrHardExpired) || errors.Is(err, domain.ErrInvalidToken) {
			return domain.Claims{}, "", domain.ErrUnauthenticated
		}
		return domain.Claims{}, "", err
	}

	if time.Now().Before(cl.SoftReissueAt) && !g.rr.NeedsRefresh(cl.UserID, cl.IssuedAt) {
		return cl, "", nil
	}

	signed, fresh, err := g.tokens.Reissue(ctx, cl)
	if err != nil {
		return domain.Claims{}, "", err
	}
	g.rr.Clear(fresh.UserID, fresh.IssuedAt)
	metrics.TokenReissues.WithLabelValues(reissueTrigger(cl)).Inc()
	return fresh, signed, nil
}

// reissueTrigger reports whether a reissue was driven by the soft timer
// elapsing or by an explicit Refresh Registry mark, for the
// token_reissues_total metric's label.
func reissueTrigger(cl domain.Claims) string {
	if time.Now().Before(cl.SoftReissueAt) {
		return "refresh_registry"
	}
	return "soft_timer"
}

// Middleware wraps next with cookie extraction, Authenticate, and a
// Set-Cookie on the outbound response when a refresh happened. Ordering:
// the refresh completes and the Set-Cookie header is attached before
// next observes claims, so a permission change made moments earlier is
// visible to the very request that triggered the refresh.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		var tokenString string
		if err == nil {
			tokenString = cookie.Value
		}

		claims, refreshed, err := g.Authenticate(r.Context(), tokenString)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthenticated) {
				http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}

		if refreshed != "" {
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    refreshed,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RefreshConnectionClaims applies the same lazy-refresh policy as
// Authenticate's step 3, but operates directly on the already-trusted
// in-memory claims of a live connection rather than re-verifying a
// signed token string — the Session Protocol's "lazy-refresh claims"
// step before registerForCanvas/toggleModerated. Returns
// domain.ErrHardExpired if claims.HardExp has passed: the hub-level
// refresh path can never extend hard_exp, so the caller must reject the
// action and close the connection.
func (g *Gate) RefreshConnectionClaims(ctx context.Context, claims domain.Claims) (fresh domain.Claims, refreshed bool, err error) {
	now := time.Now()
	if now.After(claims.HardExp) {
		return domain.Claims{}, false, domain.ErrHardExpired
	}
	if now.Before(claims.SoftReissueAt) && !g.rr.NeedsRefresh(claims.UserID, claims.IssuedAt) {
		return claims, false, nil
	}

	_, fresh, err = g.tokens.Reissue(ctx, claims)
	if err != nil {
		return domain.Claims{}, false, err
	}
	g.rr.Clear(fresh.UserID, fresh.IssuedAt)
	metrics.TokenReissues.WithLabelValues(reissueTrigger(claims)).Inc()
	return fresh, true, nil
}

// AuthenticateUpgrade runs the same validation the HTTP middleware does,
// for use immediately before a connection upgrade (the upgrade path is a
// single handler, not middleware, so it calls this directly). The caller
// installs the returned claims on the new Connection record and, if
// refreshed is non-empty, should also set the cookie on the pre-upgrade
// response if the transport allows it.
func (g *Gate) AuthenticateUpgrade(r *http.Request) (claims domain.Claims, refreshed string, err error) {
	cookie, cerr := r.Cookie(CookieName)
	var tokenString string
	if cerr == nil {
		tokenString = cookie.Value
	}
	return g.Authenticate(r.Context(), tokenString)
}
