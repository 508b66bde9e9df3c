// Package cors configures the cross-origin policy shared by the HTTP API,
// the WebSocket upgrade endpoint, and the admin endpoints.
package cors

import (
	"net/http"

	"github.com/rs/cors"
)

// New builds the CORS middleware used by cmd/server. Any origin is
// allowed, but AllowCredentials is false, so browsers do not expose
// credentialed cross-origin responses: a page on another origin cannot
// use the auth_token cookie to read the authenticated endpoints.
func New() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	})
}
