package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"schoolgate.org/internal/audit"
	"schoolgate.org/internal/identity"
)

type memStore struct {
	byHash  map[string]*Session
	entries []*audit.Entry
	failing bool
}

func newMemStore() *memStore {
	return &memStore{byHash: make(map[string]*Session)}
}

func (m *memStore) Create(_ context.Context, sess *Session, entry *audit.Entry) error {
	if m.failing {
		return errors.New("storage down")
	}
	cp := *sess
	m.byHash[sess.TokenHash] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) Find(_ context.Context, tokenHash string) (*Session, error) {
	sess, ok := m.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) Touch(_ context.Context, id string, at time.Time) error {
	for _, sess := range m.byHash {
		if sess.ID == id {
			sess.LastActive = at
		}
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, tokenHash string, entry *audit.Entry) (bool, error) {
	if _, ok := m.byHash[tokenHash]; !ok {
		return false, nil
	}
	delete(m.byHash, tokenHash)
	m.entries = append(m.entries, entry)
	return true, nil
}

func (m *memStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for hash, sess := range m.byHash {
		if !before.Before(sess.ExpiresAt) {
			delete(m.byHash, hash)
			n++
		}
	}
	return n, nil
}

type auditSink struct{ entries []*audit.Entry }

func (a *auditSink) Append(_ context.Context, entry *audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func testManager(t *testing.T, store Store, clock *time.Time) *Manager {
	t.Helper()
	now := func() time.Time { return *clock }
	signer, err := NewTokenSigner("test-secret", now)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	m, err := NewManager(store, signer, audit.NewRecorder(&auditSink{}), WithClock(now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func teacherIdentity() *identity.Identity {
	return &identity.Identity{
		ID:       "t1",
		Role:     identity.RoleTeacher,
		Username: "teacher1",
		Name:     "Dana",
		Surname:  "Reyes",
	}
}

func TestIssueThenValidateRoundTrip(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := testManager(t, store, &clock)

	sess, token, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{IP: "10.1.1.5"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" || sess.ID == "" {
		t.Fatal("expected token and session id")
	}
	if !sess.ExpiresAt.Equal(clock.Add(DefaultTTL)) {
		t.Fatalf("unexpected expiry: %v", sess.ExpiresAt)
	}

	p, err := m.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.IdentityID != "t1" || p.Role != identity.RoleTeacher || p.SessionID != sess.ID {
		t.Fatalf("principal mismatch: %+v", p)
	}
}

func TestDestroyRevokesBeforeExpiry(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := testManager(t, store, &clock)

	_, token, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Destroy(context.Background(), token); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	// Signature and exp are still nominally valid; the record is gone.
	if _, err := m.Validate(context.Background(), token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid after destroy, got %v", err)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := testManager(t, store, &clock)

	_, token, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Destroy(context.Background(), token); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := m.Destroy(context.Background(), token); err != nil {
		t.Fatalf("second Destroy must not fail: %v", err)
	}
	if len(store.byHash) != 0 {
		t.Fatal("expected no remaining records")
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m := testManager(t, newMemStore(), &clock)

	_, token, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, pos := range []int{0, len(token) / 2, len(token) - 1} {
		b := []byte(token)
		if b[pos] == 'A' {
			b[pos] = 'B'
		} else {
			b[pos] = 'A'
		}
		if _, err := m.Validate(context.Background(), string(b)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("tampered byte %d accepted", pos)
		}
	}
}

func TestStaleRecordStillRejectedAfterExpiry(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := testManager(t, store, &clock)

	_, token, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Expiry passes but the sweep never ran; the record is still there.
	clock = clock.Add(DefaultTTL + time.Minute)
	if len(store.byHash) != 1 {
		t.Fatal("precondition: record should remain")
	}
	if _, err := m.Validate(context.Background(), token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for expired token, got %v", err)
	}
}

func TestValidateTouchesLastActive(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := testManager(t, store, &clock)

	sess, token, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = clock.Add(42 * time.Minute)
	if _, err := m.Validate(context.Background(), token); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	stored := store.byHash[sess.TokenHash]
	if !stored.LastActive.Equal(clock) {
		t.Fatalf("lastActive not touched: %v", stored.LastActive)
	}
}

func TestIssueAbortsWhenStoreFails(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.failing = true
	m := testManager(t, store, &clock)

	if _, _, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{}); err == nil {
		t.Fatal("expected error when session+audit write fails")
	}
	if len(store.entries) != 0 {
		t.Fatal("no audit entry may exist for a failed issuance")
	}
}

func TestIssueWritesLoginAuditAtomically(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := testManager(t, store, &clock)

	sess, _, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{IP: "10.1.1.5", UserAgent: "ua"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.Action != audit.ActionLogin || entry.EntityID != sess.ID || entry.ActorID != "t1" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := testManager(t, store, &clock)

	_, oldToken, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock = clock.Add(DefaultTTL + time.Hour)
	_, freshToken, err := m.Issue(context.Background(), teacherIdentity(), ClientMeta{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	n, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept row, got %d", n)
	}
	if _, ok := store.byHash[HashToken(oldToken)]; ok {
		t.Fatal("expired session survived sweep")
	}
	if _, ok := store.byHash[HashToken(freshToken)]; !ok {
		t.Fatal("live session removed by sweep")
	}
}

func TestCookieAttributes(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m := testManager(t, newMemStore(), &clock)

	rr := httptest.NewRecorder()
	expires := clock.Add(DefaultTTL)
	m.SetCookie(rr, "tok", expires)

	raw := rr.Header().Get("Set-Cookie")
	if !strings.HasPrefix(raw, CookieName+"=tok") {
		t.Fatalf("unexpected cookie: %s", raw)
	}
	for _, want := range []string{"HttpOnly", "SameSite=Lax", "Path=/"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("cookie missing %s: %s", want, raw)
		}
	}
	if strings.Contains(raw, "Secure") {
		t.Fatalf("Secure must be off outside production: %s", raw)
	}

	rr = httptest.NewRecorder()
	m.ClearCookie(rr)
	raw = rr.Header().Get("Set-Cookie")
	if !strings.Contains(raw, "Max-Age=0") {
		t.Fatalf("expected expired cookie, got %s", raw)
	}
}
