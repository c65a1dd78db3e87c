package lockout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultThreshold is the number of consecutive failures that opens the
	// cool-down window.
	DefaultThreshold = 5
	// DefaultCooldown is how long a handle stays blocked once the threshold
	// is reached.
	DefaultCooldown = 5 * time.Minute
)

// ErrLockedOut marks a handle whose cool-down window is still open. Use
// errors.Is against it; the concrete error carries the remaining duration.
var ErrLockedOut = errors.New("lockout: cool-down active")

// LockedOutError reports how long the caller must wait before the next
// attempt is accepted. The duration is recomputed on every request.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("lockout: cool-down active, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedOutError) Is(target error) bool { return target == ErrLockedOut }

// State is the per-handle failure record. A zero State means OPEN with no
// failures. BlockedUntil set and in the future means COOLING_DOWN.
type State struct {
	Failures     int
	BlockedUntil time.Time
}

// Store persists lockout state server-side, keyed by login handle. A counter
// held by the client is trivially discarded, so the record lives here.
//
// Fail registers one failed attempt and returns the resulting state. The
// increment must be atomic in the store so concurrent failures are never
// lost; an elapsed cool-down window resets the counter to 1.
type Store interface {
	Get(ctx context.Context, handle string) (State, error)
	Put(ctx context.Context, handle string, st State) error
	Fail(ctx context.Context, handle string, now time.Time) (State, error)
	Clear(ctx context.Context, handle string) error
}

// Guard enforces the failed-attempt state machine for one logical clock.
type Guard struct {
	store     Store
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithThreshold overrides the failure threshold.
func WithThreshold(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithCooldown overrides the cool-down duration.
func WithCooldown(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// WithClock overrides the time source (test use).
func WithClock(fn func() time.Time) Option {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs before any credential verification. It returns a LockedOutError
// while the handle is cooling down; an elapsed window resets the record and
// lets the attempt proceed.
func (g *Guard) Check(ctx context.Context, handle string) error {
	handle = normalize(handle)
	st, err := g.store.Get(ctx, handle)
	if err != nil {
		return err
	}
	if st.BlockedUntil.IsZero() {
		return nil
	}
	now := g.now()
	if now.Before(st.BlockedUntil) {
		return &LockedOutError{RetryAfter: st.BlockedUntil.Sub(now)}
	}
	// Window elapsed: back to OPEN with the counter reset.
	if err := g.store.Clear(ctx, handle); err != nil {
		return err
	}
	return nil
}

// Status reports the outcome of a recorded failure.
type Status struct {
	// Remaining attempts before the cool-down opens; zero when locked.
	Remaining int
	// Locked is true when this failure triggered the transition.
	Locked bool
	// RetryAfter is the full cool-down duration when Locked.
	RetryAfter time.Duration
}

// RecordFailure increments the counter and opens the cool-down window once
// the threshold is reached. The increment happens inside the store, so two
// simultaneous failed attempts both count.
func (g *Guard) RecordFailure(ctx context.Context, handle string) (Status, error) {
	handle = normalize(handle)
	now := g.now()
	st, err := g.store.Fail(ctx, handle, now)
	if err != nil {
		return Status{}, err
	}
	if st.Failures >= g.threshold {
		st.BlockedUntil = now.Add(g.cooldown)
		if err := g.store.Put(ctx, handle, st); err != nil {
			return Status{}, err
		}
		return Status{Locked: true, RetryAfter: g.cooldown}, nil
	}
	return Status{Remaining: g.threshold - st.Failures}, nil
}

// RecordSuccess resets the handle to OPEN with a zero counter.
func (g *Guard) RecordSuccess(ctx context.Context, handle string) error {
	return g.store.Clear(ctx, normalize(handle))
}

func normalize(handle string) string {
	return strings.TrimSpace(strings.ToLower(handle))
}
