package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rollcall/internal/core"
)

// PostgresRepo persists attendance records in Postgres. The primary key on
// (session_id, claimant_id) makes the upsert race-safe: two concurrent marks
// for the same pair resolve to a single row, last write wins.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo creates a repo over an open connection pool.
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const upsertSQL = `
	INSERT INTO attendance_records (session_id, claimant_id, status, marked_at, marked_by)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (session_id, claimant_id) DO UPDATE SET
		status = EXCLUDED.status,
		marked_at = EXCLUDED.marked_at,
		marked_by = EXCLUDED.marked_by
`

// Upsert writes or overwrites the record for its (session, claimant) pair.
func (r *PostgresRepo) Upsert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, upsertSQL,
		rec.SessionID, rec.ClaimantID, string(rec.Status), rec.MarkedAt, rec.MarkedBy)
	return err
}

// UpsertBatch writes all records inside one transaction.
func (r *PostgresRepo) UpsertBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, upsertSQL,
			rec.SessionID, rec.ClaimantID, string(rec.Status), rec.MarkedAt, rec.MarkedBy); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", rec.SessionID, rec.ClaimantID, err)
		}
	}
	return tx.Commit()
}

// Get returns the record for a pair.
func (r *PostgresRepo) Get(ctx context.Context, sessionID, claimantID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, claimant_id, status, marked_at, marked_by
		FROM attendance_records
		WHERE session_id = $1 AND claimant_id = $2
	`, sessionID, claimantID)
	var rec Record
	var status string
	if err := row.Scan(&rec.SessionID, &rec.ClaimantID, &status, &rec.MarkedAt, &rec.MarkedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, core.ErrNotFound
		}
		return Record{}, err
	}
	rec.Status = core.AttendanceStatus(status)
	return rec, nil
}

// ListBySession returns every record for a session ordered by mark time.
func (r *PostgresRepo) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, claimant_id, status, marked_at, marked_by
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY marked_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.SessionID, &rec.ClaimantID, &status, &rec.MarkedAt, &rec.MarkedBy); err != nil {
			return nil, err
		}
		rec.Status = core.AttendanceStatus(status)
		res = append(res, rec)
	}
	return res, rows.Err()
}
