package approval

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/core"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
)

// Reconciler is the attendance-side hook run when a request reaches
// Approved: it retroactively rewrites that day's records to on-duty.
type Reconciler interface {
	ReconcileOnDuty(ctx context.Context, claimantID, subjectID string, day time.Time) (int, error)
}

// Service runs the dual-approval workflow. Terminal states are sticky;
// repeating a decision against a terminal request reports the stored state
// instead of erroring, so flaky callers can retry freely.
type Service struct {
	repo       Repo
	reconciler Reconciler
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService builds the workflow service. notifier may be nil.
func NewService(repo Repo, reconciler Reconciler, notifier notify.Notifier, m *metrics.Metrics) *Service {
	return &Service{repo: repo, reconciler: reconciler, notifier: notifier, metrics: m, now: time.Now}
}

// FileParams carries a claimant's new request.
type FileParams struct {
	ClaimantID string
	SubjectID  string
	ClassID    string
	TeacherID  string
	AdminID    string
	Date       time.Time
	Reason     string
}

// File creates a pending request with its two designated approvers.
func (s *Service) File(ctx context.Context, p FileParams) (Request, error) {
	if p.ClaimantID == "" || p.SubjectID == "" || p.TeacherID == "" || p.AdminID == "" {
		return Request{}, fmt.Errorf("%w: claimant, subject and both approvers required", core.ErrValidation)
	}
	if p.Date.IsZero() {
		return Request{}, fmt.Errorf("%w: date required", core.ErrValidation)
	}
	req := Request{
		ID:         uuid.NewString(),
		ClaimantID: p.ClaimantID,
		SubjectID:  p.SubjectID,
		ClassID:    p.ClassID,
		TeacherID:  p.TeacherID,
		AdminID:    p.AdminID,
		Date:       p.Date.UTC(),
		Reason:     p.Reason,
		Status:     core.RequestPending,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Insert(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// RecordApproval applies one approver's decision. The approver must hold the
// role's designated slot on the request. A reject is immediately terminal
// regardless of the other flag; an approve completing the pair transitions
// to Approved and triggers on-duty reconciliation. Decisions against a
// terminal request are no-ops reporting the stored state.
func (s *Service) RecordApproval(ctx context.Context, requestID string, role core.ApproverRole, approverID string, decision Decision) (Request, error) {
	if !role.Valid() {
		return Request{}, fmt.Errorf("%w: unknown role %q", core.ErrValidation, role)
	}
	if !decision.Valid() {
		return Request{}, fmt.Errorf("%w: unknown decision %q", core.ErrValidation, decision)
	}
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.DesignatedApprover(role) != approverID {
		return Request{}, fmt.Errorf("%w: %s is not the designated %s approver", core.ErrUnauthorized, approverID, role)
	}
	if req.Status.Terminal() {
		return req, nil
	}

	updated, applied, err := s.repo.ApplyDecision(ctx, requestID, role, decision == Approve, s.now().UTC())
	if err != nil {
		return Request{}, err
	}
	if !applied {
		// Lost the race to a concurrent terminal transition.
		return updated, nil
	}
	s.metrics.Approval(string(role), string(updated.Status))

	switch updated.Status {
	case core.RequestApproved:
		if n, rerr := s.reconciler.ReconcileOnDuty(ctx, updated.ClaimantID, updated.SubjectID, updated.Date); rerr != nil {
			// The approval stands; reconciliation is retryable because the
			// batch either fully applied or not at all.
			log.Printf("request %s approved but reconcile failed: %v", updated.ID, rerr)
		} else {
			log.Printf("request %s approved, %d session(s) reconciled", updated.ID, n)
		}
		notify.Dispatch(s.notifier, updated.ClaimantID, "Your on-duty request for "+updated.Date.Format("2006-01-02")+" was approved")
	case core.RequestRejected:
		notify.Dispatch(s.notifier, updated.ClaimantID, "Your on-duty request for "+updated.Date.Format("2006-01-02")+" was rejected")
	}
	return updated, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

// ListForApprover returns requests where the approver holds either slot.
func (s *Service) ListForApprover(ctx context.Context, approverID string) ([]Request, error) {
	return s.repo.ListForApprover(ctx, approverID)
}
