package permcache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/canvaslink/canvaslink/internal/domain"
)

func TestGetPermissionsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := &Cache{client: client, ttl: 10 * time.Second}

	mock.ExpectGet(permissionsKey(7)).SetErr(redis.Nil)

	_, err := c.GetPermissions(context.Background(), 7)
	if err != ErrMiss {
		t.Fatalf("GetPermissions() error = %v, want ErrMiss", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestSetThenGetPermissionsHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := &Cache{client: client, ttl: 10 * time.Second}

	perms := map[string]domain.Level{"abc123": domain.LevelWrite}
	data, _ := json.Marshal(perms)

	mock.ExpectSet(permissionsKey(7), data, 10*time.Second).SetVal("OK")
	c.SetPermissions(context.Background(), 7, perms)

	mock.ExpectGet(permissionsKey(7)).SetVal(string(data))
	got, err := c.GetPermissions(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPermissions() error = %v", err)
	}
	if got["abc123"] != domain.LevelWrite {
		t.Fatalf("GetPermissions() = %v, want abc123:W", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestInvalidatePermissions(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := &Cache{client: client, ttl: 10 * time.Second}

	mock.ExpectDel(permissionsKey(7)).SetVal(1)
	c.InvalidatePermissions(context.Background(), 7)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestNilCacheIsAlwaysMiss(t *testing.T) {
	var c *Cache
	if _, err := c.GetPermissions(context.Background(), 1); err != ErrMiss {
		t.Fatalf("nil cache GetPermissions() error = %v, want ErrMiss", err)
	}
	if _, err := c.GetUser(context.Background(), 1); err != ErrMiss {
		t.Fatalf("nil cache GetUser() error = %v, want ErrMiss", err)
	}
	// Set/Invalidate on a nil cache must not panic.
	c.SetPermissions(context.Background(), 1, nil)
	c.InvalidatePermissions(context.Background(), 1)
}
