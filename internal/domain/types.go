// Package domain holds the shared entities and error kinds that flow
// between canvaslink's credential store, token service, auth gate, and
// canvas hub.
package domain

import "time"

// User is a registered account. UserID is a stable monotonic integer and
// is never re-assigned, even if the associated email changes.
type User struct {
	UserID      int64     `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Canvas is a shared drawing surface. CanvasID is an opaque short string
// (a human-pasted join code), not a database surrogate key.
type Canvas struct {
	CanvasID    string `json:"canvas_id"`
	Name        string `json:"name"`
	OwnerUserID int64  `json:"owner_user_id"`
	Moderated   bool   `json:"moderated"`
}

// Permission is one (user, canvas) -> level grant. Exactly one level may
// exist per pair; a revoke deletes the row rather than storing LevelNone.
type Permission struct {
	UserID   int64
	CanvasID string
	Level    Level
}

// Claims is the payload embedded in a signed bearer token and mirrored on
// a live connection.
type Claims struct {
	UserID        int64            `json:"user_id"`
	Email         string           `json:"email"`
	DisplayName   string           `json:"display_name"`
	Permissions   map[string]Level `json:"permissions"`
	IssuedAt      time.Time        `json:"issued_at"`
	HardExp       time.Time        `json:"hard_exp"`
	SoftReissueAt time.Time        `json:"soft_reissue_at"`
}

// PermissionFor returns the caller's level on canvasID, or LevelNone if
// absent.
func (c Claims) PermissionFor(canvasID string) Level {
	if c.Permissions == nil {
		return LevelNone
	}
	return c.Permissions[canvasID]
}

// EventRecord is an opaque JSON frame originating at a client. The
// coordination core never interprets its contents.
type EventRecord = []byte
