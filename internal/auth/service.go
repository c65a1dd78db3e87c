package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"schoolgate.org/internal/audit"
	"schoolgate.org/internal/identity"
	"schoolgate.org/internal/ids"
	"schoolgate.org/internal/lockout"
	"schoolgate.org/internal/obs"
	"schoolgate.org/internal/session"
)

// Service runs the login flow: lockout check, identity resolution, credential
// verification, session issuance. Failures feed the lockout guard and the
// audit trail.
type Service struct {
	resolver *identity.Resolver
	sessions *session.Manager
	guard    *lockout.Guard
	audit    *audit.Recorder
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source (test use).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(resolver *identity.Resolver, sessions *session.Manager, guard *lockout.Guard, recorder *audit.Recorder, opts ...Option) (*Service, error) {
	if resolver == nil || sessions == nil || guard == nil || recorder == nil {
		return nil, errors.New("auth: resolver, session manager, lockout guard and audit recorder are required")
	}
	s := &Service{
		resolver: resolver,
		sessions: sessions,
		guard:    guard,
		audit:    recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoginRequest is one credential submission.
type LoginRequest struct {
	Username string
	Password string
	RoleHint string
	Meta     session.ClientMeta
}

// LoginResult is returned on success; the token also travels as a cookie.
type LoginResult struct {
	Identity *identity.Identity
	Session  *session.Session
	Token    string
}

// Login authenticates the request. Errors: lockout.ErrLockedOut while the
// handle is cooling down (carries retry-after), ErrInvalidCredentials for an
// unknown handle or wrong password (carries remaining attempts), audit write
// failures verbatim.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	handle := strings.TrimSpace(req.Username)
	if handle == "" || req.Password == "" {
		obs.ObserveLogin("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	// Cool-down check runs before anything touches the credential path.
	if err := s.guard.Check(ctx, handle); err != nil {
		if errors.Is(err, lockout.ErrLockedOut) {
			obs.ObserveLogin("locked_out")
		}
		return nil, err
	}

	id, err := s.lookup(ctx, handle, req.RoleHint)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, s.failLogin(ctx, handle, req.Meta)
		}
		return nil, err
	}

	if err := VerifyPassword(id.PasswordHash, req.Password); err != nil {
		return nil, s.failLogin(ctx, handle, req.Meta)
	}

	if err := s.guard.RecordSuccess(ctx, handle); err != nil {
		return nil, err
	}
	sess, token, err := s.sessions.Issue(ctx, id, req.Meta)
	if err != nil {
		return nil, err
	}
	obs.ObserveLogin("success")
	return &LoginResult{Identity: id, Session: sess, Token: token}, nil
}

func (s *Service) lookup(ctx context.Context, handle, hint string) (*identity.Identity, error) {
	if role, err := identity.ParseRole(hint); err == nil {
		return s.resolver.ResolveWithHint(ctx, handle, role)
	}
	return s.resolver.Resolve(ctx, handle)
}

// failLogin records the LOGIN_FAILED entry and the lockout failure, then
// collapses the cause into the generic invalid-credentials result. An audit
// write failure aborts instead of letting the attempt go unrecorded.
func (s *Service) failLogin(ctx context.Context, handle string, meta session.ClientMeta) error {
	entry := &audit.Entry{
		ID:         ids.New(),
		Action:     audit.ActionLoginFailed,
		EntityType: "session",
		Changes:    map[string]any{"username": handle},
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		OccurredAt: s.now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		return err
	}

	st, err := s.guard.RecordFailure(ctx, handle)
	if err != nil {
		return err
	}
	obs.ObserveLogin("invalid_credentials")
	if st.Locked {
		obs.ObserveLockout()
		return &lockout.LockedOutError{RetryAfter: st.RetryAfter}
	}
	return &InvalidCredentialsError{RemainingAttempts: st.Remaining}
}

// Validate resolves a presented token into a principal.
func (s *Service) Validate(ctx context.Context, token string) (*session.Principal, error) {
	return s.sessions.Validate(ctx, token)
}

// Logout destroys the session behind the token. Idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Destroy(ctx, token)
}

// RecordMutation writes the audit entry for a permission-gated mutation
// performed by the CRUD layer. The entry must land or the mutation fails.
func (s *Service) RecordMutation(ctx context.Context, p session.Principal, action, entityType, entityID string, changes map[string]any, meta session.ClientMeta) error {
	return s.audit.Record(ctx, &audit.Entry{
		ID:         ids.New(),
		ActorID:    p.IdentityID,
		ActorRole:  p.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    changes,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		OccurredAt: s.now().UTC(),
	})
}
