package attendance

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/core"
	"rollcall/internal/metrics"
	"rollcall/internal/session"
)

// reconcileMarker identifies records written by on-duty reconciliation.
const reconcileMarker = "onduty-reconcile"

// SessionGate is the slice of the session service the recorder needs: the
// authoritative is-it-active-right-now check and the subject/day fan-out.
type SessionGate interface {
	Active(ctx context.Context, id string) (session.Session, error)
	SessionsForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]session.Session, error)
}

// Service records attendance. Marking re-validates the session at call time;
// an earlier lookup or a client-side countdown is never trusted.
type Service struct {
	repo    Repo
	gate    SessionGate
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService builds an attendance recorder.
func NewService(repo Repo, gate SessionGate, m *metrics.Metrics) *Service {
	return &Service{repo: repo, gate: gate, metrics: m, now: time.Now}
}

// Mark upserts a record for (sessionID, claimantID). The session must be
// active at this instant; core.ErrSessionNotActive otherwise. Re-submission
// with the same pair updates the existing record, so retries are safe.
func (s *Service) Mark(ctx context.Context, sessionID, claimantID string, status core.AttendanceStatus, markedBy string) (Record, error) {
	if sessionID == "" || claimantID == "" {
		return Record{}, fmt.Errorf("%w: session and claimant required", core.ErrValidation)
	}
	if !status.Valid() {
		return Record{}, fmt.Errorf("%w: unknown status %q", core.ErrValidation, status)
	}
	if _, err := s.gate.Active(ctx, sessionID); err != nil {
		return Record{}, err
	}
	rec := Record{
		SessionID:  sessionID,
		ClaimantID: claimantID,
		Status:     status,
		MarkedAt:   s.now().UTC(),
		MarkedBy:   markedBy,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return Record{}, err
	}
	s.metrics.Marked(string(status))
	return rec, nil
}

// ReconcileOnDuty upserts an on-duty record for the claimant against every
// session of the subject on the given day, in one transaction. Zero matching
// sessions is a successful no-op, not an error.
func (s *Service) ReconcileOnDuty(ctx context.Context, claimantID, subjectID string, day time.Time) (int, error) {
	if claimantID == "" || subjectID == "" {
		return 0, fmt.Errorf("%w: claimant and subject required", core.ErrValidation)
	}
	sessions, err := s.gate.SessionsForSubjectOn(ctx, subjectID, day)
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	recs := make([]Record, 0, len(sessions))
	for _, sess := range sessions {
		recs = append(recs, Record{
			SessionID:  sess.ID,
			ClaimantID: claimantID,
			Status:     core.StatusOnDuty,
			MarkedAt:   now,
			MarkedBy:   reconcileMarker,
		})
	}
	if err := s.repo.UpsertBatch(ctx, recs); err != nil {
		return 0, fmt.Errorf("reconcile onduty for %s/%s: %w", claimantID, subjectID, err)
	}
	s.metrics.ReconciledN(len(recs))
	return len(recs), nil
}

// Get returns the record for a (session, claimant) pair.
func (s *Service) Get(ctx context.Context, sessionID, claimantID string) (Record, error) {
	return s.repo.Get(ctx, sessionID, claimantID)
}

// ListBySession returns every record for a session.
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return s.repo.ListBySession(ctx, sessionID)
}
