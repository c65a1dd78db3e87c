package identity

import (
	"context"
	"testing"
)

type fakeStore struct {
	entries map[Role]map[string]*Identity
	probes  []Role
}

func (f *fakeStore) FindByUsername(_ context.Context, role Role, username string) (*Identity, error) {
	f.probes = append(f.probes, role)
	if id, ok := f.entries[role][username]; ok {
		return id, nil
	}
	return nil, ErrNotFound
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[Role]map[string]*Identity{
		RoleAdmin:   {"admin1": {ID: "a1", Role: RoleAdmin, Username: "admin1"}},
		RoleTeacher: {"teacher1": {ID: "t1", Role: RoleTeacher, Username: "teacher1"}},
		RoleStudent: {"student1": {ID: "s1", Role: RoleStudent, Username: "student1"}, "shared": {ID: "s2", Role: RoleStudent, Username: "shared"}},
		RoleParent:  {"parent1": {ID: "p1", Role: RoleParent, Username: "parent1"}, "shared": {ID: "p2", Role: RoleParent, Username: "shared"}},
	}}
}

func TestResolveProbesInFixedOrder(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	id, err := r.Resolve(context.Background(), "parent1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.Role != RoleParent || id.ID != "p1" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	want := []Role{RoleAdmin, RoleTeacher, RoleStudent, RoleParent}
	if len(store.probes) != len(want) {
		t.Fatalf("expected %d probes, got %v", len(want), store.probes)
	}
	for i, role := range want {
		if store.probes[i] != role {
			t.Fatalf("probe %d: expected %s, got %s", i, role, store.probes[i])
		}
	}
}

func TestResolveCrossPartitionCollisionIsDeterministic(t *testing.T) {
	r := NewResolver(newFakeStore())

	// "shared" exists in both the student and parent partitions; the student
	// partition comes first in the fixed order and must always win.
	id, err := r.Resolve(context.Background(), "shared")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.Role != RoleStudent {
		t.Fatalf("expected student partition to win, got %s", id.Role)
	}
}

func TestResolveUnknownHandle(t *testing.T) {
	r := NewResolver(newFakeStore())
	if _, err := r.Resolve(context.Background(), "nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "  "); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for blank handle, got %v", err)
	}
}

func TestResolveWithHintPrefersHintedPartition(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	id, err := r.ResolveWithHint(context.Background(), "shared", RoleParent)
	if err != nil {
		t.Fatalf("ResolveWithHint: %v", err)
	}
	if id.Role != RoleParent || id.ID != "p2" {
		t.Fatalf("expected hinted parent match, got %+v", id)
	}
	if store.probes[0] != RoleParent {
		t.Fatalf("expected first probe against hinted partition, got %s", store.probes[0])
	}
}

func TestResolveWithHintFallsBack(t *testing.T) {
	r := NewResolver(newFakeStore())

	// Wrong hint still resolves through the fixed order.
	id, err := r.ResolveWithHint(context.Background(), "teacher1", RoleStudent)
	if err != nil {
		t.Fatalf("ResolveWithHint: %v", err)
	}
	if id.Role != RoleTeacher {
		t.Fatalf("expected fallback to teacher partition, got %s", id.Role)
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole(" Teacher "); err != nil || role != RoleTeacher {
		t.Fatalf("ParseRole: role=%s err=%v", role, err)
	}
	if _, err := ParseRole("janitor"); err != ErrUnknownRole {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}
