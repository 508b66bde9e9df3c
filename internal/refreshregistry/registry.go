// Package refreshregistry tracks which users' tokens must be refreshed
// from the credential store before their next use.
package refreshregistry

import (
	"sync"
	"time"

	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// Registry is a bounded-size mapping user_id -> invalidation timestamp,
// guarded by a single short-held lock. An entry means any token for that
// user issued at or before the timestamp must be refreshed.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[int64]time.Time)}
}

// Mark sets or overwrites the invalidation timestamp for userID.
func (r *Registry) Mark(userID int64, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[userID] = t
}

// NeedsRefresh reports whether there is a mark at or after tokenIssuedAt
// for userID.
func (r *Registry) NeedsRefresh(userID int64, tokenIssuedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	mark, ok := r.entries[userID]
	if !ok {
		return false
	}
	return !mark.Before(tokenIssuedAt)
}

// Clear removes the entry for userID, but only if its timestamp is at or
// before upToT. This guards against a race where a new invalidation
// arrives while a refresh triggered by an older one is in flight.
func (r *Registry) Clear(userID int64, upToT time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mark, ok := r.entries[userID]
	if !ok {
		return
	}
	if !mark.After(upToT) {
		delete(r.entries, userID)
	}
}

// Sweep evicts entries older than olderThan. No token still in
// circulation can have been issued before that point once hardLifetime
// has elapsed, so these marks can never again be consulted.
func (r *Registry) Sweep(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for userID, mark := range r.entries {
		if mark.Before(olderThan) {
			delete(r.entries, userID)
			evicted++
		}
	}
	if evicted > 0 {
		fwlog.Debugf("refresh registry sweep evicted %d entries", evicted)
	}
	return evicted
}

// Len reports the current number of tracked entries, for diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
