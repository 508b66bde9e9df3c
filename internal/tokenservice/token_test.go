package tokenservice

import (
	"context"
	"testing"
	"time"

	"github.com/canvaslink/canvaslink/internal/domain"
)

type fakeStore struct {
	user  domain.User
	perms map[string]domain.Level
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	u := f.user
	return &u, nil
}

func (f *fakeStore) GetPermissions(ctx context.Context, userID int64) (map[string]domain.Level, error) {
	out := make(map[string]domain.Level, len(f.perms))
	for k, v := range f.perms {
		out[k] = v
	}
	return out, nil
}

func newTestService(store *fakeStore) *Service {
	return New(Config{
		SigningKey:          []byte("test-signing-key"),
		TokenHardLifetime:   5 * time.Minute,
		SoftReissueInterval: 30 * time.Second,
	}, store)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	store := &fakeStore{
		user:  domain.User{UserID: 7, Email: "a@example.com", DisplayName: "A"},
		perms: map[string]domain.Level{"abc123": domain.LevelWrite},
	}
	svc := newTestService(store)

	signed, issued, err := svc.Issue(context.Background(), 7)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := svc.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got.UserID != issued.UserID || got.Email != issued.Email {
		t.Fatalf("Verify() = %+v, want %+v", got, issued)
	}
	if got.PermissionFor("abc123") != domain.LevelWrite {
		t.Fatalf("PermissionFor(abc123) = %v, want W", got.PermissionFor("abc123"))
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	store := &fakeStore{user: domain.User{UserID: 1}}
	svc := newTestService(store)

	other := New(Config{
		SigningKey:          []byte("different-key"),
		TokenHardLifetime:   5 * time.Minute,
		SoftReissueInterval: 30 * time.Second,
	}, store)

	signed, _, err := other.Issue(context.Background(), 1)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := svc.Verify(signed); err != domain.ErrInvalidToken {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsHardExpired(t *testing.T) {
	store := &fakeStore{user: domain.User{UserID: 1}}
	svc := New(Config{
		SigningKey:          []byte("test-signing-key"),
		TokenHardLifetime:   -time.Second, // already expired by the time it's issued
		SoftReissueInterval: 30 * time.Second,
	}, store)

	signed, _, err := svc.Issue(context.Background(), 1)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := svc.Verify(signed); err != domain.ErrHardExpired {
		t.Fatalf("Verify() error = %v, want ErrHardExpired", err)
	}
}

func TestReissuePreservesHardExpAndIdentity(t *testing.T) {
	store := &fakeStore{
		user:  domain.User{UserID: 7, Email: "a@example.com", DisplayName: "A"},
		perms: map[string]domain.Level{"abc123": domain.LevelWrite},
	}
	svc := newTestService(store)

	_, original, err := svc.Issue(context.Background(), 7)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	store.perms["abc123"] = domain.LevelRead

	_, fresh, err := svc.Reissue(context.Background(), original)
	if err != nil {
		t.Fatalf("Reissue() error = %v", err)
	}

	if !fresh.HardExp.Equal(original.HardExp) {
		t.Fatalf("Reissue() HardExp = %v, want unchanged %v", fresh.HardExp, original.HardExp)
	}
	if fresh.UserID != original.UserID || fresh.Email != original.Email {
		t.Fatalf("Reissue() changed identity fields: %+v vs %+v", fresh, original)
	}
	if fresh.PermissionFor("abc123") != domain.LevelRead {
		t.Fatalf("Reissue() PermissionFor(abc123) = %v, want R", fresh.PermissionFor("abc123"))
	}
	if !fresh.SoftReissueAt.After(original.SoftReissueAt.Add(-time.Millisecond)) {
		t.Fatalf("Reissue() did not advance SoftReissueAt")
	}
}
