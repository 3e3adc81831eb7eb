package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/core"
	"rollcall/internal/session"
)

// fixture wires a recorder against real session + memory stores so expiry
// semantics flow through the same code paths as production.
type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	sessions *session.Service
	clock    *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	sessions := session.NewService(session.NewMemoryStore(), 0, nil)
	sessions.SetNow(clock.Now)
	repo := NewMemoryRepo()
	svc := NewService(repo, sessions, nil)
	svc.now = clock.Now
	return &fixture{svc: svc, repo: repo, sessions: sessions, clock: clock}
}

func (f *fixture) openSession(t *testing.T, subjectID string, dur time.Duration) session.Session {
	t.Helper()
	sess, err := f.sessions.Open(context.Background(), "t1", "c1", subjectID, dur)
	require.NoError(t, err)
	return sess
}

func TestMarkValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Mark(ctx, "", "stu-1", core.StatusPresent, "stu-1")
	assert.ErrorIs(t, err, core.ErrValidation)

	sess := f.openSession(t, "s1", 5*time.Minute)
	_, err = f.svc.Mark(ctx, sess.ID, "stu-1", core.AttendanceStatus("bogus"), "stu-1")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestMarkIsIdempotentUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.openSession(t, "s1", 5*time.Minute)

	_, err := f.svc.Mark(ctx, sess.ID, "stu-1", core.StatusPresent, "stu-1")
	require.NoError(t, err)
	_, err = f.svc.Mark(ctx, sess.ID, "stu-1", core.StatusLate, "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.repo.Count(), "repeated marks never add rows")
	rec, err := f.svc.Get(ctx, sess.ID, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusLate, rec.Status)
	assert.Equal(t, "teacher-1", rec.MarkedBy)
}

func TestMarkRejectsExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.openSession(t, "s1", 5*time.Minute)

	_, err := f.svc.Mark(ctx, sess.ID, "stu-1", core.StatusPresent, "stu-1")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.Mark(ctx, sess.ID, "stu-2", core.StatusPresent, "stu-2")
	assert.ErrorIs(t, err, core.ErrSessionNotActive)
	assert.Equal(t, 1, f.repo.Count(), "record count unchanged after rejection")
}

func TestMarkRejectsUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Mark(context.Background(), "no-such", "stu-1", core.StatusPresent, "stu-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMarkRejectsClosedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.openSession(t, "s1", 5*time.Minute)

	_, err := f.sessions.Close(ctx, sess.ID, core.SessionCompleted)
	require.NoError(t, err)

	_, err = f.svc.Mark(ctx, sess.ID, "stu-1", core.StatusPresent, "stu-1")
	assert.ErrorIs(t, err, core.ErrSessionNotActive)
}

func TestReconcileOnDutyTouchesEverySessionThatDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.openSession(t, "math", 5*time.Minute)
	f.clock.Advance(2 * time.Hour)
	second := f.openSession(t, "math", 5*time.Minute)
	f.openSession(t, "physics", 5*time.Minute)

	// Prior present mark gets overridden by the reconcile.
	_, err := f.svc.Mark(ctx, second.ID, "stu-1", core.StatusPresent, "stu-1")
	require.NoError(t, err)

	n, err := f.svc.ReconcileOnDuty(ctx, "stu-1", "math", f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{first.ID, second.ID} {
		rec, err := f.svc.Get(ctx, id, "stu-1")
		require.NoError(t, err)
		assert.Equal(t, core.StatusOnDuty, rec.Status)
		assert.Equal(t, reconcileMarker, rec.MarkedBy)
	}
}

func TestReconcileOnDutyZeroSessionsIsNotAnError(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.ReconcileOnDuty(context.Background(), "stu-1", "math", f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentMarksLeaveOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.openSession(t, "s1", 5*time.Minute)

	statuses := []core.AttendanceStatus{core.StatusPresent, core.StatusLate}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Mark(ctx, sess.ID, "stu-1", statuses[i%2], "stu-1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.repo.Count(), "one surviving record whichever write wins")
	rec, err := f.svc.Get(ctx, sess.ID, "stu-1")
	require.NoError(t, err)
	assert.Contains(t, statuses, rec.Status)
}
