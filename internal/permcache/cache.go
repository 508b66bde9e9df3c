// Package permcache is a short-TTL read-through cache in front of the
// Credential Store's GetPermissions/GetUser reads, the way
// pkg/storage/dragonfly.go caches file metadata: JSON-encoded values behind
// a redis.Cmdable, Set with a TTL, Get falling through to a miss.
//
// Caching never substitutes for RefreshRegistry-driven invalidation: a
// cache hit still obeys the soft-refresh and RR checks in the Auth Gate.
// The cache only avoids a round trip to Postgres on the common path.
package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canvaslink/canvaslink/internal/domain"
)

// ErrMiss is returned by Get when the key is absent from the cache.
var ErrMiss = errors.New("permcache: miss")

// Cache is a Redis-backed read-through cache for per-user permission maps
// and user records. A nil *Cache is valid and behaves as an always-miss
// cache, so the Credential Store can be built without Redis configured.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New builds a Cache against addr with the given entry TTL. Returns
// (nil, nil) if addr is empty, signalling the cache is disabled and the
// Credential Store should fall back to direct Postgres reads.
func New(addr string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("permcache: ping: %w", err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func permissionsKey(userID int64) string {
	return fmt.Sprintf("canvaslink:perms:%d", userID)
}

func userKey(userID int64) string {
	return fmt.Sprintf("canvaslink:user:%d", userID)
}

// GetPermissions returns the cached canvas_id -> level map for userID, or
// ErrMiss if absent or the cache is disabled.
func (c *Cache) GetPermissions(ctx context.Context, userID int64) (map[string]domain.Level, error) {
	if c == nil {
		return nil, ErrMiss
	}
	val, err := c.client.Get(ctx, permissionsKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: permcache get permissions: %v", domain.ErrStorage, err)
	}
	var perms map[string]domain.Level
	if err := json.Unmarshal([]byte(val), &perms); err != nil {
		return nil, fmt.Errorf("%w: permcache decode permissions: %v", domain.ErrStorage, err)
	}
	return perms, nil
}

// SetPermissions populates the cache for userID.
func (c *Cache) SetPermissions(ctx context.Context, userID int64, perms map[string]domain.Level) {
	if c == nil {
		return
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return
	}
	c.client.Set(ctx, permissionsKey(userID), data, c.ttl)
}

// InvalidatePermissions removes userID's cached permission map. Called
// synchronously by SetPermission and CreateCanvas before they return.
func (c *Cache) InvalidatePermissions(ctx context.Context, userID int64) {
	if c == nil {
		return
	}
	c.client.Del(ctx, permissionsKey(userID))
}

// GetUser returns the cached user record for userID, or ErrMiss.
func (c *Cache) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	if c == nil {
		return nil, ErrMiss
	}
	val, err := c.client.Get(ctx, userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: permcache get user: %v", domain.ErrStorage, err)
	}
	var u domain.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		return nil, fmt.Errorf("%w: permcache decode user: %v", domain.ErrStorage, err)
	}
	return &u, nil
}

// SetUser populates the cache for u.
func (c *Cache) SetUser(ctx context.Context, u *domain.User) {
	if c == nil {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	c.client.Set(ctx, userKey(u.UserID), data, c.ttl)
}
