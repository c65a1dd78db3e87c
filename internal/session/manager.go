package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"schoolgate.org/internal/audit"
	"schoolgate.org/internal/identity"
	"schoolgate.org/internal/ids"
	"schoolgate.org/internal/obs"
)

// CookieName is the browser cookie the token travels in.
const CookieName = "session-token"

// DefaultTTL is the absolute session lifetime unless configured otherwise.
const DefaultTTL = 24 * time.Hour

// Manager issues, validates and revokes sessions. Every session is both a
// signed token (cheap signature check rejects forged or malformed tokens
// before any storage round trip) and a mirrored server-side record (deleting
// it revokes the token instantly). Neither half is sufficient alone.
type Manager struct {
	store  Store
	signer *TokenSigner
	audit  *audit.Recorder
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the absolute session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSecureCookies marks issued cookies Secure (production).
func WithSecureCookies(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithClock overrides the time source (test use).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewManager(store Store, signer *TokenSigner, recorder *audit.Recorder, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if signer == nil {
		return nil, errors.New("session: token signer is required")
	}
	if recorder == nil {
		return nil, errors.New("session: audit recorder is required")
	}
	m := &Manager{
		store:  store,
		signer: signer,
		audit:  recorder,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the configured absolute session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a token for the identity and persists the mirrored record
// together with its LOGIN audit entry. A failed audit write aborts issuance.
func (m *Manager) Issue(ctx context.Context, id *identity.Identity, meta ClientMeta) (*Session, string, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)

	token, err := m.signer.Sign(id, now, expiresAt)
	if err != nil {
		return nil, "", err
	}

	sess := &Session{
		ID:         ids.New(),
		IdentityID: id.ID,
		Role:       id.Role,
		Username:   id.Username,
		TokenHash:  HashToken(token),
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		LastActive: now,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}
	entry := &audit.Entry{
		ID:         ids.New(),
		ActorID:    id.ID,
		ActorRole:  id.Role,
		Action:     audit.ActionLogin,
		EntityType: "session",
		EntityID:   sess.ID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		OccurredAt: now,
	}
	if err := m.store.Create(ctx, sess, entry); err != nil {
		return nil, "", err
	}
	obs.SessionOpened()
	return sess, token, nil
}

// Validate checks signature and structural expiry first, then the mirrored
// record. The lastActive touch is fire-and-forget: a lost update under
// concurrent requests for the same session is not an error.
func (m *Manager) Validate(ctx context.Context, token string) (*Principal, error) {
	claims, err := m.signer.Parse(token)
	if err != nil {
		return nil, ErrInvalid
	}

	sess, err := m.store.Find(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	now := m.now().UTC()
	if !now.Before(sess.ExpiresAt) {
		return nil, ErrInvalid
	}

	_ = m.store.Touch(ctx, sess.ID, now)

	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return nil, ErrInvalid
	}
	return &Principal{
		IdentityID: sess.IdentityID,
		Role:       role,
		Username:   sess.Username,
		SessionID:  sess.ID,
	}, nil
}

// Destroy revokes the session behind the token and records the LOGOUT entry
// in the same transaction. Idempotent: a token with no record is a no-op.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	hash := HashToken(token)
	sess, err := m.store.Find(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	entry := &audit.Entry{
		ID:         ids.New(),
		ActorID:    sess.IdentityID,
		ActorRole:  sess.Role,
		Action:     audit.ActionLogout,
		EntityType: "session",
		EntityID:   sess.ID,
		OccurredAt: m.now().UTC(),
	}
	deleted, err := m.store.Delete(ctx, hash, entry)
	if err != nil {
		return err
	}
	if deleted {
		obs.SessionClosed()
	}
	return nil
}

// Sweep removes expired rows. Hygiene only: Validate already enforces expiry.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.now().UTC())
}

// SetCookie attaches the token as an HttpOnly, SameSite=Lax cookie whose
// Expires matches the session's absolute expiry.
func (m *Manager) SetCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie regardless of whether a record was
// found for it.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
