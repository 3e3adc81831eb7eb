package approval

import (
	"context"
	"time"

	"rollcall/internal/core"
)

// Request is an exceptional-absence ("on-duty") request awaiting two
// independent approvals. TeacherID and AdminID are the designated approvers;
// nobody else may decide.
type Request struct {
	ID               string
	ClaimantID       string
	SubjectID        string
	ClassID          string
	TeacherID        string
	AdminID          string
	Date             time.Time
	Reason           string
	TeacherApproved  bool
	AdminApproved    bool
	TeacherDecidedAt *time.Time
	AdminDecidedAt   *time.Time
	Status           core.RequestStatus
	CreatedAt        time.Time
}

// Decision is one approver's verdict.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// Valid returns true for a supported decision.
func (d Decision) Valid() bool {
	return d == Approve || d == Reject
}

// Repo persists requests. ApplyDecision must be guarded so concurrent
// decisions cannot both act on a stale view of the other flag.
type Repo interface {
	Insert(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, error)
	// ApplyDecision sets the role's flag and timestamp and derives the new
	// status from the flags as stored, atomically and only while the row is
	// still pending. applied=false means the request was already terminal
	// (or raced to terminal); the returned request reflects stored state.
	ApplyDecision(ctx context.Context, id string, role core.ApproverRole, approve bool, at time.Time) (Request, bool, error)
	ListForApprover(ctx context.Context, approverID string) ([]Request, error)
}
