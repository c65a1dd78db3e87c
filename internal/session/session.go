package session

import (
	"context"
	"errors"
	"time"

	"schoolgate.org/internal/audit"
	"schoolgate.org/internal/identity"
)

var (
	// ErrInvalid covers every validation failure: bad signature, structural
	// expiry, and a missing or expired server-side record. Callers never
	// learn which one it was.
	ErrInvalid  = errors.New("session: expired or revoked")
	ErrNotFound = errors.New("session: not found")
)

// Session mirrors one issued token server-side. Deleting the row revokes the
// token even while its signature and expiry are still nominally valid.
type Session struct {
	ID         string
	IdentityID string
	Role       identity.Role
	Username   string
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastActive time.Time
	IP         string
	UserAgent  string
}

// Principal is the decoded result of a successful validation.
type Principal struct {
	IdentityID string
	Role       identity.Role
	Username   string
	SessionID  string
}

// ClientMeta carries optional request attribution stored with the session.
type ClientMeta struct {
	IP        string
	UserAgent string
	Device    string
	Browser   string
}

// Store persists session records. Create and Delete take the audit entry
// produced by the operation so implementations can commit both in one
// transaction; a session must never exist without its LOGIN entry.
type Store interface {
	Create(ctx context.Context, sess *Session, entry *audit.Entry) error
	Find(ctx context.Context, tokenHash string) (*Session, error)
	// Touch updates lastActive. Best-effort: lost updates under concurrent
	// validation of the same session are acceptable.
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, tokenHash string, entry *audit.Entry) (bool, error)
	// DeleteExpired is storage hygiene only; expiry is enforced on Validate.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
