package domain

import "errors"

// Error kinds surfaced across the coordination core, mapped to HTTP
// status codes and WebSocket handling policy at the edges (httpapi,
// session) rather than here.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrHardExpired     = errors.New("token hard expired")
	ErrInvalidToken    = errors.New("invalid token")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrStorage         = errors.New("storage error")
)
