// Package credentialstore is the authoritative persistent record of
// users, canvases, permission grants, and moderation flags, backed by
// PostgreSQL. It is the only component permitted to mutate RR's marks on
// a permission change.
package credentialstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/internal/permcache"
	"github.com/canvaslink/canvaslink/internal/refreshregistry"
	"github.com/canvaslink/canvaslink/pkg/util"
)

// Config holds Postgres connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Store is the Postgres-backed Credential Store. cache is optional: a nil
// *permcache.Cache makes every read fall through to Postgres directly.
type Store struct {
	db    *sql.DB
	rr    *refreshregistry.Registry
	cache *permcache.Cache
}

// Open connects to Postgres, pings it, and applies pending migrations.
// An unreachable database is fatal at startup, per SPEC_FULL §7.
func Open(cfg Config, rr *refreshregistry.Registry, cache *permcache.Cache) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("credentialstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("credentialstore: ping: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("credentialstore: migrate: %w", err)
	}
	return &Store{db: db, rr: rr, cache: cache}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetUser returns the user identified by userID, consulting the
// permission cache before falling through to Postgres.
func (s *Store) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	if u, err := s.cache.GetUser(ctx, userID); err == nil {
		return u, nil
	}

	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, display_name, created_at FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %v", domain.ErrStorage, err)
	}
	s.cache.SetUser(ctx, &u)
	return &u, nil
}

// GetPermissions returns the full canvas_id -> level map for userID,
// consulting the permission cache before falling through to Postgres. A
// cache hit still obeys every RR and soft-refresh check at the Auth Gate;
// this only avoids the round trip on the common path.
func (s *Store) GetPermissions(ctx context.Context, userID int64) (map[string]domain.Level, error) {
	if perms, err := s.cache.GetPermissions(ctx, userID); err == nil {
		return perms, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT canvas_id, level FROM permissions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get permissions: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	perms := make(map[string]domain.Level)
	for rows.Next() {
		var canvasID, level string
		if err := rows.Scan(&canvasID, &level); err != nil {
			return nil, fmt.Errorf("%w: scan permission: %v", domain.ErrStorage, err)
		}
		perms[canvasID] = domain.Level(level)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.cache.SetPermissions(ctx, userID, perms)
	return perms, nil
}

// SetPermission grants level to (userID, canvasID), or revokes the grant
// entirely when level is domain.LevelNone. Marks RR for userID in the
// same logical operation, after the write commits.
func (s *Store) SetPermission(ctx context.Context, canvasID string, userID int64, level domain.Level) error {
	var err error
	if level == domain.LevelNone {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM permissions WHERE user_id = $1 AND canvas_id = $2`, userID, canvasID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO permissions (user_id, canvas_id, level)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, canvas_id) DO UPDATE SET level = EXCLUDED.level`,
			userID, canvasID, string(level))
	}
	if err != nil {
		return fmt.Errorf("%w: set permission: %v", domain.ErrStorage, err)
	}

	s.cache.InvalidatePermissions(ctx, userID)
	s.rr.Mark(userID, time.Now())
	return nil
}

// ListAllCanvases returns every canvas in the store, for the canvasctl
// operator tool's unfiltered "canvases" listing — unlike
// ListCanvasesVisibleTo, this is not scoped to a caller's own grants.
func (s *Store) ListAllCanvases(ctx context.Context) ([]domain.Canvas, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT canvas_id, name, owner_user_id, moderated FROM canvases ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: list all canvases: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var canvases []domain.Canvas
	for rows.Next() {
		var c domain.Canvas
		if err := rows.Scan(&c.CanvasID, &c.Name, &c.OwnerUserID, &c.Moderated); err != nil {
			return nil, fmt.Errorf("%w: scan canvas: %v", domain.ErrStorage, err)
		}
		canvases = append(canvases, c)
	}
	return canvases, rows.Err()
}

// ListCanvasesVisibleTo returns every canvas userID holds any permission
// on, alongside that permission level.
func (s *Store) ListCanvasesVisibleTo(ctx context.Context, userID int64) ([]domain.Canvas, map[string]domain.Level, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.canvas_id, c.name, c.owner_user_id, c.moderated, c.event_file_path, p.level
		FROM canvases c
		JOIN permissions p ON p.canvas_id = c.canvas_id
		WHERE p.user_id = $1`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list canvases: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var canvases []domain.Canvas
	levels := make(map[string]domain.Level)
	for rows.Next() {
		var c domain.Canvas
		var eventFilePath, level string
		if err := rows.Scan(&c.CanvasID, &c.Name, &c.OwnerUserID, &c.Moderated, &eventFilePath, &level); err != nil {
			return nil, nil, fmt.Errorf("%w: scan canvas: %v", domain.ErrStorage, err)
		}
		canvases = append(canvases, c)
		levels[c.CanvasID] = domain.Level(level)
	}
	return canvases, levels, rows.Err()
}

// GetCanvas returns the canvas identified by canvasID.
func (s *Store) GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error) {
	var c domain.Canvas
	err := s.db.QueryRowContext(ctx,
		`SELECT canvas_id, name, owner_user_id, moderated FROM canvases WHERE canvas_id = $1`,
		canvasID,
	).Scan(&c.CanvasID, &c.Name, &c.OwnerUserID, &c.Moderated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get canvas: %v", domain.ErrStorage, err)
	}
	return &c, nil
}

// CreateCanvas creates a canvas owned by ownerUserID with a fresh short
// opaque ID, and grants the owner LevelOwner. Like SetPermission, it marks
// RR for the owner after the write commits.
func (s *Store) CreateCanvas(ctx context.Context, name string, ownerUserID int64) (*domain.Canvas, error) {
	canvasID := util.GenerateRandomString(6)
	eventFilePath := "canvases/" + canvasID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin create canvas: %v", domain.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO canvases (canvas_id, name, owner_user_id, moderated, event_file_path)
		VALUES ($1, $2, $3, FALSE, $4)`,
		canvasID, name, ownerUserID, eventFilePath); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: insert canvas: %v", domain.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO permissions (user_id, canvas_id, level) VALUES ($1, $2, $3)`,
		ownerUserID, canvasID, string(domain.LevelOwner)); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: grant owner: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit create canvas: %v", domain.ErrStorage, err)
	}

	s.cache.InvalidatePermissions(ctx, ownerUserID)
	s.rr.Mark(ownerUserID, time.Now())
	return &domain.Canvas{CanvasID: canvasID, Name: name, OwnerUserID: ownerUserID}, nil
}

// SetModerated updates canvasID's moderation flag.
func (s *Store) SetModerated(ctx context.Context, canvasID string, moderated bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE canvases SET moderated = $1 WHERE canvas_id = $2`, moderated, canvasID)
	if err != nil {
		return fmt.Errorf("%w: set moderated: %v", domain.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: set moderated rows affected: %v", domain.ErrStorage, err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPermissions returns every (user, level) grant on canvasID, for the
// permissions-listing HTTP endpoint.
func (s *Store) ListPermissions(ctx context.Context, canvasID string) (map[domain.Level][]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_id, u.email, u.display_name, u.created_at, p.level
		FROM permissions p
		JOIN users u ON u.user_id = p.user_id
		WHERE p.canvas_id = $1`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("%w: list permissions: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	out := make(map[domain.Level][]domain.User)
	for rows.Next() {
		var u domain.User
		var level string
		if err := rows.Scan(&u.UserID, &u.Email, &u.DisplayName, &u.CreatedAt, &level); err != nil {
			return nil, fmt.Errorf("%w: scan permission entry: %v", domain.ErrStorage, err)
		}
		out[domain.Level(level)] = append(out[domain.Level(level)], u)
	}
	return out, rows.Err()
}

// Authenticate verifies email/password against the stored bcrypt hash,
// following services/auth.go's Login. Returns domain.ErrUnauthenticated
// for both an unknown email and a mismatched password, so a caller can't
// distinguish the two from the error alone.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	var u domain.User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, display_name, password_hash, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&u.UserID, &u.Email, &u.DisplayName, &hash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("%w: authenticate: %v", domain.ErrStorage, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, domain.ErrUnauthenticated
	}
	return &u, nil
}

// CreateUser hashes password with bcrypt and inserts a new account,
// following services/auth.go's CreateUser. Returns domain.ErrConflict if
// email is already registered.
func (s *Store) CreateUser(ctx context.Context, email, displayName, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", domain.ErrStorage, err)
	}

	var u domain.User
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING user_id, email, display_name, created_at`,
		email, displayName, string(hash),
	).Scan(&u.UserID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("%w: create user: %v", domain.ErrStorage, err)
	}
	return &u, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the code lib/pq surfaces for a duplicate email.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
