package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("identity: not found")
	ErrUnknownRole = errors.New("identity: unknown role")
)

// Role tags the partition an identity belongs to.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

// ResolutionOrder is the fixed order partitions are probed in when a login
// handle could exist in more than one of them. Handles are unique within a
// partition but not across partitions, so this order is what makes resolution
// deterministic.
var ResolutionOrder = []Role{RoleAdmin, RoleTeacher, RoleStudent, RoleParent}

// ParseRole normalizes a role string. Unknown values return ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	case RoleParent:
		return RoleParent, nil
	default:
		return "", ErrUnknownRole
	}
}

// Identity is a login-capable principal from one of the four partitions.
// The directory-management layer owns creation and deletion; this subsystem
// only reads.
type Identity struct {
	ID           string
	Role         Role
	Username     string
	Name         string
	Surname      string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store reads identities from one partition at a time.
type Store interface {
	FindByUsername(ctx context.Context, role Role, username string) (*Identity, error)
}

// Resolver locates an identity across the four partitions. All cross-partition
// probing lives here so callers never branch on tables themselves.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve probes each partition in ResolutionOrder and returns the first
// match. The error never reveals which partitions were probed.
func (r *Resolver) Resolve(ctx context.Context, username string) (*Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrNotFound
	}
	for _, role := range ResolutionOrder {
		id, err := r.store.FindByUsername(ctx, role, username)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return id, nil
	}
	return nil, ErrNotFound
}

// ResolveWithHint tries the hinted partition first and then falls back to the
// fixed order. A hint narrows nothing; it only reorders the first probe, so
// behavior stays deterministic whether or not the hint is right.
func (r *Resolver) ResolveWithHint(ctx context.Context, username string, hint Role) (*Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrNotFound
	}
	if _, err := ParseRole(string(hint)); err == nil {
		id, err := r.store.FindByUsername(ctx, hint, username)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	for _, role := range ResolutionOrder {
		if role == hint {
			continue
		}
		id, err := r.store.FindByUsername(ctx, role, username)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return id, nil
	}
	return nil, ErrNotFound
}
