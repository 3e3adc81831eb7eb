package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/core"
)

// PostgresRepo persists requests in Postgres. Decisions apply through a
// single guarded UPDATE that derives the status from the flags as stored,
// so two racing approvers serialize on the row and never act on a stale
// view of each other's flag.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo creates a repo over an open connection pool.
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const requestColumns = `id, claimant_id, subject_id, class_id, teacher_id, admin_id, date, reason,
	teacher_approved, admin_approved, teacher_decided_at, admin_decided_at, status, created_at`

// Insert writes a new request row.
func (r *PostgresRepo) Insert(ctx context.Context, req Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO od_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, req.ID, req.ClaimantID, req.SubjectID, req.ClassID, req.TeacherID, req.AdminID,
		req.Date, req.Reason, req.TeacherApproved, req.AdminApproved,
		req.TeacherDecidedAt, req.AdminDecidedAt, string(req.Status), req.CreatedAt)
	return err
}

// Get returns a request by id.
func (r *PostgresRepo) Get(ctx context.Context, id string) (Request, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM od_requests WHERE id = $1`, id)
	req, err := scanRequest(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, core.ErrNotFound
		}
		return Request{}, err
	}
	return req, nil
}

// ApplyDecision sets the role's flag and timestamp and recomputes status in
// the same statement, guarded on the row still being pending. The CASE
// mirrors Derive in state.go.
func (r *PostgresRepo) ApplyDecision(ctx context.Context, id string, role core.ApproverRole, approve bool, at time.Time) (Request, bool, error) {
	var flagCol, tsCol, otherFlag string
	switch role {
	case core.RoleTeacher:
		flagCol, tsCol, otherFlag = "teacher_approved", "teacher_decided_at", "admin_approved"
	case core.RoleAdmin:
		flagCol, tsCol, otherFlag = "admin_approved", "admin_decided_at", "teacher_approved"
	default:
		return Request{}, false, fmt.Errorf("%w: unknown role %q", core.ErrValidation, role)
	}

	query := fmt.Sprintf(`
		UPDATE od_requests SET
			%s = $2,
			%s = $3,
			status = CASE
				WHEN NOT $2 THEN 'rejected'
				WHEN %s THEN 'approved'
				ELSE 'pending'
			END
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns, flagCol, tsCol, otherFlag)

	row := r.db.QueryRowContext(ctx, query, id, approve, at)
	req, err := scanRequest(row.Scan)
	if err == nil {
		return req, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Request{}, false, err
	}
	// No pending row matched: either unknown id or already terminal.
	req, gerr := r.Get(ctx, id)
	if gerr != nil {
		return Request{}, false, gerr
	}
	return req, false, nil
}

// ListForApprover returns requests where the approver holds either slot.
func (r *PostgresRepo) ListForApprover(ctx context.Context, approverID string) ([]Request, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM od_requests
		WHERE teacher_id = $1 OR admin_id = $1
		ORDER BY created_at DESC
	`, approverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Request
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func scanRequest(scan func(...any) error) (Request, error) {
	var req Request
	var status string
	err := scan(&req.ID, &req.ClaimantID, &req.SubjectID, &req.ClassID, &req.TeacherID, &req.AdminID,
		&req.Date, &req.Reason, &req.TeacherApproved, &req.AdminApproved,
		&req.TeacherDecidedAt, &req.AdminDecidedAt, &status, &req.CreatedAt)
	if err != nil {
		return Request{}, err
	}
	req.Status = core.RequestStatus(status)
	return req, nil
}
