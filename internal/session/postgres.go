package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"rollcall/internal/core"
)

// PostgresStore persists sessions in Postgres. Code uniqueness among active
// sessions is enforced by a partial unique index on (code) WHERE state =
// 'active', so the check-then-insert race resolves at the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert writes a new session row.
func (s *PostgresStore) Insert(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, class_id, subject_id, code, state, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.ID, sess.OwnerID, sess.ClassID, sess.SubjectID, sess.Code, string(sess.State), sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("code %s: %w", sess.Code, core.ErrCodeConflict)
		}
		return err
	}
	return nil
}

const sessionColumns = `id, owner_id, class_id, subject_id, code, state, created_at, expires_at`

// Get returns a session by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByCode returns the most recently created session carrying the code.
// Codes recycle across days; the newest row is the one a claimant means.
func (s *PostgresStore) GetByCode(ctx context.Context, code string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, code)
	return scanSession(row)
}

// SetState applies a guarded state transition.
func (s *PostgresStore) SetState(ctx context.Context, id string, from, to core.SessionState) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = $3 WHERE id = $1 AND state = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireDue persists expiry for every overdue active session.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = 'expired'
		WHERE state = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// OpenedSince reports whether the binding got a session at or after since.
func (s *PostgresStore) OpenedSince(ctx context.Context, ownerID, classID, subjectID string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE owner_id = $1 AND class_id = $2 AND subject_id = $3 AND created_at >= $4
		)
	`, ownerID, classID, subjectID, since).Scan(&exists)
	return exists, err
}

// ListForSubjectOn returns sessions for the subject created on the given
// UTC calendar day.
func (s *PostgresStore) ListForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]Session, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE subject_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`, subjectID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var sess Session
		var state string
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.ClassID, &sess.SubjectID, &sess.Code, &state, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
			return nil, err
		}
		sess.State = core.SessionState(state)
		res = append(res, sess)
	}
	return res, rows.Err()
}

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	var state string
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.ClassID, &sess.SubjectID, &sess.Code, &state, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, core.ErrNotFound
		}
		return Session{}, err
	}
	sess.State = core.SessionState(state)
	return sess, nil
}
