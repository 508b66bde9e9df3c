// Package tokenservice issues, verifies, and re-issues bearer tokens that
// embed a user's current per-canvas permissions, following the
// Claims-embeds-RegisteredClaims and HMAC-method-assertion verify
// pattern services/auth.go uses for its own JWTs.
package tokenservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/canvaslink/canvaslink/internal/domain"
)

// CredentialReader is the slice of the credential store the token
// service needs: a fresh read of a user's identity and permissions.
type CredentialReader interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetPermissions(ctx context.Context, userID int64) (map[string]domain.Level, error)
}

// Config holds the Token Service's tunable lifetimes and signing key.
type Config struct {
	SigningKey          []byte
	TokenHardLifetime   time.Duration
	SoftReissueInterval time.Duration
}

// Service issues and verifies canvaslink bearer tokens.
type Service struct {
	cfg   Config
	store CredentialReader
}

// New constructs a Service backed by store.
func New(cfg Config, store CredentialReader) *Service {
	return &Service{cfg: cfg, store: store}
}

// claims is the on-wire JWT claims struct. SoftReissueAt is a private
// claim: it has no equivalent registered JWT field.
type claims struct {
	UserID        int64             `json:"user_id"`
	Email         string            `json:"email"`
	DisplayName   string            `json:"display_name"`
	Permissions   map[string]string `json:"permissions"`
	SoftReissueAt int64             `json:"soft_reissue_at"`
	jwt.RegisteredClaims
}

func toDomainClaims(c *claims) domain.Claims {
	perms := make(map[string]domain.Level, len(c.Permissions))
	for canvasID, level := range c.Permissions {
		perms[canvasID] = domain.Level(level)
	}

	var issuedAt, hardExp time.Time
	if c.IssuedAt != nil {
		issuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		hardExp = c.ExpiresAt.Time
	}

	return domain.Claims{
		UserID:        c.UserID,
		Email:         c.Email,
		DisplayName:   c.DisplayName,
		Permissions:   perms,
		IssuedAt:      issuedAt,
		HardExp:       hardExp,
		SoftReissueAt: time.Unix(c.SoftReissueAt, 0),
	}
}

func fromDomainClaims(cl domain.Claims) *claims {
	perms := make(map[string]string, len(cl.Permissions))
	for canvasID, level := range cl.Permissions {
		perms[canvasID] = string(level)
	}

	return &claims{
		UserID:        cl.UserID,
		Email:         cl.Email,
		DisplayName:   cl.DisplayName,
		Permissions:   perms,
		SoftReissueAt: cl.SoftReissueAt.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(cl.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cl.HardExp),
		},
	}
}

func (s *Service) sign(cl domain.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, fromDomainClaims(cl))
	return token.SignedString(s.cfg.SigningKey)
}

// Issue reads the user and their current permissions from the credential
// store, composes fresh claims, and returns a signed token string.
func (s *Service) Issue(ctx context.Context, userID int64) (string, domain.Claims, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", domain.Claims{}, fmt.Errorf("tokenservice: load user: %w", err)
	}
	perms, err := s.store.GetPermissions(ctx, userID)
	if err != nil {
		return "", domain.Claims{}, fmt.Errorf("tokenservice: load permissions: %w", err)
	}

	now := time.Now()
	cl := domain.Claims{
		UserID:        user.UserID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		Permissions:   perms,
		IssuedAt:      now,
		HardExp:       now.Add(s.cfg.TokenHardLifetime),
		SoftReissueAt: now.Add(s.cfg.SoftReissueInterval),
	}

	signed, err := s.sign(cl)
	if err != nil {
		return "", domain.Claims{}, fmt.Errorf("tokenservice: sign: %w", err)
	}
	return signed, cl, nil
}

// Verify parses and validates tokenString, returning domain.ErrHardExpired
// or domain.ErrInvalidToken on failure.
func (s *Service) Verify(tokenString string) (domain.Claims, error) {
	var parsed claims
	token, err := jwt.ParseWithClaims(tokenString, &parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.cfg.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Claims{}, domain.ErrHardExpired
		}
		return domain.Claims{}, domain.ErrInvalidToken
	}
	if !token.Valid {
		return domain.Claims{}, domain.ErrInvalidToken
	}

	return toDomainClaims(&parsed), nil
}

// Reissue preserves user_id, email, display_name, and hard_exp from the
// existing claims, refetches permissions from the credential store, and
// sets a fresh soft_reissue_at. It never extends hard_exp.
func (s *Service) Reissue(ctx context.Context, existing domain.Claims) (string, domain.Claims, error) {
	perms, err := s.store.GetPermissions(ctx, existing.UserID)
	if err != nil {
		return "", domain.Claims{}, fmt.Errorf("tokenservice: reload permissions: %w", err)
	}

	now := time.Now()
	fresh := domain.Claims{
		UserID:        existing.UserID,
		Email:         existing.Email,
		DisplayName:   existing.DisplayName,
		Permissions:   perms,
		IssuedAt:      now,
		HardExp:       existing.HardExp,
		SoftReissueAt: now.Add(s.cfg.SoftReissueInterval),
	}

	signed, err := s.sign(fresh)
	if err != nil {
		return "", domain.Claims{}, fmt.Errorf("tokenservice: sign: %w", err)
	}
	return signed, fresh, nil
}
