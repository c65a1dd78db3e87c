package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"schoolgate.org/internal/audit"
	"schoolgate.org/internal/identity"
	"schoolgate.org/internal/lockout"
	"schoolgate.org/internal/session"
)

// Store backs the identity directory, session mirror, audit trail and
// lockout state with PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ identity.Store = (*Store)(nil)
	_ session.Store  = (*Store)(nil)
	_ audit.Store    = (*Store)(nil)
	_ lockout.Store  = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool (test use with sqlmock).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity during startup and readiness probes. Startup
// calls this once and aborts on failure; nothing here is lazily re-checked.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Identity directory ------------------------------------------------------

var partitionTables = map[identity.Role]string{
	identity.RoleAdmin:   "admins",
	identity.RoleTeacher: "teachers",
	identity.RoleStudent: "students",
	identity.RoleParent:  "parents",
}

func (s *Store) FindByUsername(ctx context.Context, role identity.Role, username string) (*identity.Identity, error) {
	table, ok := partitionTables[role]
	if !ok {
		return nil, identity.ErrUnknownRole
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`select id, username, name, surname, coalesce(email, ''), password_hash, created_at from %s where username=$1`, table),
		username)
	id := identity.Identity{Role: role}
	err := row.Scan(&id.ID, &id.Username, &id.Name, &id.Surname, &id.Email, &id.PasswordHash, &id.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Sessions ----------------------------------------------------------------

func (s *Store) Create(ctx context.Context, sess *session.Session, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into sessions(id, identity_id, role, username, token_hash, created_at, expires_at, last_active, ip, user_agent)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.IdentityID, string(sess.Role), sess.Username, sess.TokenHash,
		sess.CreatedAt, sess.ExpiresAt, sess.LastActive, sess.IP, sess.UserAgent,
	); err != nil {
		return err
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Find(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, identity_id, role, username, token_hash, created_at, expires_at, last_active, coalesce(ip, ''), coalesce(user_agent, '')
		from sessions where token_hash=$1`, tokenHash)
	var (
		sess session.Session
		role string
	)
	err := row.Scan(&sess.ID, &sess.IdentityID, &role, &sess.Username, &sess.TokenHash,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastActive, &sess.IP, &sess.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Role = identity.Role(role)
	return &sess, nil
}

func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update sessions set last_active=$2 where id=$1`, id, at)
	return err
}

func (s *Store) Delete(ctx context.Context, tokenHash string, entry *audit.Entry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from sessions where token_hash=$1`, tokenHash)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Lost a race with another logout; nothing to audit.
		return false, nil
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Audit trail -------------------------------------------------------------

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendAudit(ctx context.Context, db execer, entry *audit.Entry) error {
	changes, _ := json.Marshal(entry.Changes)
	_, err := db.ExecContext(ctx, `
		insert into audit_log(id, actor_id, actor_role, action, entity_type, entity_id, changes, ip, user_agent, occurred_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.ID, entry.ActorID, string(entry.ActorRole), entry.Action, entry.EntityType,
		entry.EntityID, changes, entry.IP, entry.UserAgent, entry.OccurredAt,
	)
	return err
}

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	return appendAudit(ctx, s.db, entry)
}

// Lockout state -----------------------------------------------------------

func (s *Store) Get(ctx context.Context, handle string) (lockout.State, error) {
	row := s.db.QueryRowContext(ctx,
		`select failures, blocked_until from login_lockouts where handle=$1`, handle)
	var (
		st      lockout.State
		blocked sql.NullTime
	)
	err := row.Scan(&st.Failures, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return lockout.State{}, nil
	}
	if err != nil {
		return lockout.State{}, err
	}
	if blocked.Valid {
		st.BlockedUntil = blocked.Time
	}
	return st, nil
}

func (s *Store) Put(ctx context.Context, handle string, st lockout.State) error {
	var blocked sql.NullTime
	if !st.BlockedUntil.IsZero() {
		blocked = sql.NullTime{Time: st.BlockedUntil, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into login_lockouts(handle, failures, blocked_until)
		values($1,$2,$3)
		on conflict (handle) do update set failures=excluded.failures, blocked_until=excluded.blocked_until`,
		handle, st.Failures, blocked,
	)
	return err
}

// Fail bumps the failure counter in a single upsert so concurrent failed
// attempts all land. An elapsed cool-down window restarts the count at 1.
func (s *Store) Fail(ctx context.Context, handle string, now time.Time) (lockout.State, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into login_lockouts(handle, failures, blocked_until)
		values($1, 1, null)
		on conflict (handle) do update set
			failures = case
				when login_lockouts.blocked_until is not null and login_lockouts.blocked_until <= $2 then 1
				else login_lockouts.failures + 1 end,
			blocked_until = case
				when login_lockouts.blocked_until is not null and login_lockouts.blocked_until <= $2 then null
				else login_lockouts.blocked_until end
		returning failures, blocked_until`,
		handle, now,
	)
	var (
		st      lockout.State
		blocked sql.NullTime
	)
	if err := row.Scan(&st.Failures, &blocked); err != nil {
		return lockout.State{}, err
	}
	if blocked.Valid {
		st.BlockedUntil = blocked.Time
	}
	return st, nil
}

func (s *Store) Clear(ctx context.Context, handle string) error {
	_, err := s.db.ExecContext(ctx, `delete from login_lockouts where handle=$1`, handle)
	return err
}
