package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"schoolgate.org/internal/identity"
	"schoolgate.org/internal/obs"
)

type memStore struct {
	entries []*Entry
	err     error
}

func (m *memStore) Append(_ context.Context, entry *Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func TestRecordStampsTimestampAndLogs(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &memStore{}
	rec := NewRecorder(store, WithClock(func() time.Time { return fixed }))

	entry := &Entry{
		ActorID:    "t1",
		ActorRole:  identity.RoleTeacher,
		Action:     ActionLogin,
		EntityType: "session",
		IP:         "10.0.0.9",
	}
	if err := rec.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 stored entry, got %d", len(store.entries))
	}
	if !store.entries[0].OccurredAt.Equal(fixed) {
		t.Fatalf("timestamp not stamped: %v", store.entries[0].OccurredAt)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if line["type"] != "audit" || line["action"] != ActionLogin {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["actor_role"] != "teacher" {
		t.Fatalf("unexpected actor role: %v", line["actor_role"])
	}
}

func TestRecordPropagatesStoreFailure(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	rec := NewRecorder(store)

	err := rec.Record(context.Background(), &Entry{Action: ActionLogout})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	rec := NewRecorder(&memStore{})
	if err := rec.Record(context.Background(), &Entry{}); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
}
