package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schoolgate.org/internal/identity"
	"schoolgate.org/internal/obs"
)

// Security-relevant actions recorded by this subsystem.
const (
	ActionLogin             = "LOGIN"
	ActionLoginFailed       = "LOGIN_FAILED"
	ActionLogout            = "LOGOUT"
	ActionUpdatePreferences = "UPDATE_PREFERENCES"
)

var ErrWriteFailed = errors.New("audit: write failed")

// Entry is one immutable record in the append-only trail. This subsystem
// exposes no update or delete operation for it.
type Entry struct {
	ID         string
	ActorID    string
	ActorRole  identity.Role
	Action     string
	EntityType string
	EntityID   string
	Changes    map[string]any
	IP         string
	UserAgent  string
	OccurredAt time.Time
}

// Store appends immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

// Recorder persists audit entries and mirrors each one as a structured log
// line. A failed append propagates to the caller so security-critical
// operations fail loudly instead of proceeding un-audited.
type Recorder struct {
	store Store
	now   func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source (test use).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry. The entry's timestamp is stamped here if unset.
func (r *Recorder) Record(ctx context.Context, entry *Entry) error {
	if entry == nil || strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrWriteFailed)
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	r.logLine(entry)
	return nil
}

func (r *Recorder) logLine(entry *Entry) {
	line := map[string]any{
		"ts":          entry.OccurredAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"action":      entry.Action,
		"actor_id":    entry.ActorID,
		"actor_role":  string(entry.ActorRole),
		"entity_type": entry.EntityType,
	}
	if entry.EntityID != "" {
		line["entity_id"] = entry.EntityID
	}
	if entry.IP != "" {
		line["ip"] = entry.IP
	}
	if len(entry.Changes) > 0 {
		line["changes"] = entry.Changes
	}
	obs.Emit(line)
}
