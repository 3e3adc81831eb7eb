package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/core"
)

type fakeReconciler struct {
	calls int32
	fail  bool

	mu   sync.Mutex
	last [3]string // claimant, subject, date
}

func (f *fakeReconciler) ReconcileOnDuty(_ context.Context, claimantID, subjectID string, day time.Time) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.last = [3]string{claimantID, subjectID, day.Format("2006-01-02")}
	f.mu.Unlock()
	if f.fail {
		return 0, errors.New("db down")
	}
	return 2, nil
}

func newTestService() (*Service, *MemoryRepo, *fakeReconciler) {
	repo := NewMemoryRepo()
	rec := &fakeReconciler{}
	return NewService(repo, rec, nil, nil), repo, rec
}

func fileRequest(t *testing.T, svc *Service) Request {
	t.Helper()
	req, err := svc.File(context.Background(), FileParams{
		ClaimantID: "stu-1",
		SubjectID:  "math",
		ClassID:    "c1",
		TeacherID:  "teach-1",
		AdminID:    "admin-1",
		Date:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Reason:     "sports meet",
	})
	require.NoError(t, err)
	require.Equal(t, core.RequestPending, req.Status)
	return req
}

func TestDerive(t *testing.T) {
	cases := []struct {
		name                     string
		teacher, admin, rejected bool
		want                     core.RequestStatus
	}{
		{"none", false, false, false, core.RequestPending},
		{"teacher only", true, false, false, core.RequestPending},
		{"admin only", false, true, false, core.RequestPending},
		{"both", true, true, false, core.RequestApproved},
		{"rejected wins over both", true, true, true, core.RequestRejected},
		{"rejected alone", false, false, true, core.RequestRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Derive(tc.teacher, tc.admin, tc.rejected))
		})
	}
}

func TestFileValidates(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.File(context.Background(), FileParams{ClaimantID: "stu-1"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestBothApprovalsReachApprovedAndReconcile(t *testing.T) {
	svc, _, rec := newTestService()
	ctx := context.Background()
	req := fileRequest(t, svc)

	got, err := svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "teach-1", Approve)
	require.NoError(t, err)
	assert.Equal(t, core.RequestPending, got.Status)
	assert.True(t, got.TeacherApproved)
	assert.NotNil(t, got.TeacherDecidedAt)
	assert.Zero(t, atomic.LoadInt32(&rec.calls), "no reconcile until both approve")

	got, err = svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Approve)
	require.NoError(t, err)
	assert.Equal(t, core.RequestApproved, got.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.calls))
	assert.Equal(t, [3]string{"stu-1", "math", "2026-03-02"}, rec.last)
}

func TestAdminFirstIsSymmetric(t *testing.T) {
	svc, _, rec := newTestService()
	ctx := context.Background()
	req := fileRequest(t, svc)

	got, err := svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Approve)
	require.NoError(t, err)
	assert.Equal(t, core.RequestPending, got.Status)

	got, err = svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "teach-1", Approve)
	require.NoError(t, err)
	assert.Equal(t, core.RequestApproved, got.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.calls))
}

func TestRejectIsTerminalAndNotOverridable(t *testing.T) {
	svc, _, rec := newTestService()
	ctx := context.Background()
	req := fileRequest(t, svc)

	got, err := svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "teach-1", Reject)
	require.NoError(t, err)
	assert.Equal(t, core.RequestRejected, got.Status)

	// The other approver's later approval is a no-op reporting Rejected.
	got, err = svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Approve)
	require.NoError(t, err)
	assert.Equal(t, core.RequestRejected, got.Status)
	assert.False(t, got.AdminApproved, "flags untouched after terminal")
	assert.Nil(t, got.AdminDecidedAt)
	assert.Zero(t, atomic.LoadInt32(&rec.calls))
}

func TestRejectAfterOneApproval(t *testing.T) {
	svc, _, rec := newTestService()
	ctx := context.Background()
	req := fileRequest(t, svc)

	_, err := svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "teach-1", Approve)
	require.NoError(t, err)
	got, err := svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Reject)
	require.NoError(t, err)
	assert.Equal(t, core.RequestRejected, got.Status)
	assert.Zero(t, atomic.LoadInt32(&rec.calls))
}

func TestUnauthorizedApprover(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	req := fileRequest(t, svc)

	_, err := svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "impostor", Approve)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// Role/approver pairing matters: the admin cannot fill the teacher slot.
	_, err = svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "admin-1", Approve)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	got, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RequestPending, got.Status)
}

func TestApprovalIdempotentOnTerminal(t *testing.T) {
	svc, _, rec := newTestService()
	ctx := context.Background()
	req := fileRequest(t, svc)

	_, err := svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "teach-1", Approve)
	require.NoError(t, err)
	_, err = svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Approve)
	require.NoError(t, err)

	// Retried approval reports Approved without a second reconcile.
	got, err := svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Approve)
	require.NoError(t, err)
	assert.Equal(t, core.RequestApproved, got.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.calls))
}

func TestApprovedStandsWhenReconcileFails(t *testing.T) {
	svc, _, rec := newTestService()
	rec.fail = true
	ctx := context.Background()
	req := fileRequest(t, svc)

	_, err := svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "teach-1", Approve)
	require.NoError(t, err)
	got, err := svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Approve)
	require.NoError(t, err, "reconcile failure must not surface as an approval error")
	assert.Equal(t, core.RequestApproved, got.Status)
}

func TestUnknownRequest(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.RecordApproval(context.Background(), "nope", core.RoleTeacher, "teach-1", Approve)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConcurrentApprovalsReconcileOnce(t *testing.T) {
	svc, _, rec := newTestService()
	ctx := context.Background()
	req := fileRequest(t, svc)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.RecordApproval(ctx, req.ID, core.RoleTeacher, "teach-1", Approve)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := svc.RecordApproval(ctx, req.ID, core.RoleAdmin, "admin-1", Approve)
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RequestApproved, got.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.calls), "exactly one approval observes the completed pair")
}
