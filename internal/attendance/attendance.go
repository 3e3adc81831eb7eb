package attendance

import (
	"context"
	"time"

	"rollcall/internal/core"
)

// Record is one claimant's attendance against one session. The pair
// (SessionID, ClaimantID) is the identity; marking is an upsert, never an
// append.
type Record struct {
	SessionID  string
	ClaimantID string
	Status     core.AttendanceStatus
	MarkedAt   time.Time
	MarkedBy   string
}

// Repo persists attendance records under the (session, claimant) unique key.
type Repo interface {
	Upsert(ctx context.Context, rec Record) error
	// UpsertBatch writes all records in one transaction: either every
	// record lands or none do, so a failed reconcile pass is retryable
	// rather than silently partial.
	UpsertBatch(ctx context.Context, recs []Record) error
	Get(ctx context.Context, sessionID, claimantID string) (Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
}
