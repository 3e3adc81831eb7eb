package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/session"
)

// Monday 2026-03-02 09:00 UTC.
var scanTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newRunner(t *testing.T, bindings []Binding) (*Runner, *session.Service) {
	t.Helper()
	sessions := session.NewService(session.NewMemoryStore(), 0, nil)
	sessions.SetNow(func() time.Time { return scanTime })
	r := NewRunner(&StaticBindings{Bindings: bindings}, sessions, nil, 4*time.Minute, 7*time.Minute, 10*time.Minute, nil)
	r.SetNow(func() time.Time { return scanTime })
	return r, sessions
}

func binding(start string) Binding {
	return Binding{
		OwnerID:     "teach-1",
		ClassID:     "c1",
		SubjectID:   "math",
		DayOfWeek:   time.Monday,
		StartTime:   start,
		AutoEnabled: true,
	}
}

func TestFiresInsideWindow(t *testing.T) {
	r, sessions := newRunner(t, []Binding{binding("09:05")})
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
	assert.Empty(t, report.Errors)

	recent, err := sessions.OpenedRecently(context.Background(), "teach-1", "c1", "math", time.Minute)
	require.NoError(t, err)
	assert.True(t, recent, "session exists for the binding")
}

func TestWindowBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		start string
		fired int
	}{
		{"right now", "09:00", 1},
		{"edge of window excluded", "09:07", 0},
		{"just inside", "09:06", 1},
		{"already past", "08:59", 0},
		{"far future", "11:00", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newRunner(t, []Binding{binding(tc.start)})
			report, err := r.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.fired, report.Fired)
		})
	}
}

func TestSecondScanInsideDedupWindowFiresOnce(t *testing.T) {
	r, _ := newRunner(t, []Binding{binding("09:05")})
	ctx := context.Background()

	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)

	report, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fired, "dedup suppresses the second fire")
	assert.Equal(t, 1, report.Skipped)
}

func TestDifferentDaySkipped(t *testing.T) {
	b := binding("09:05")
	b.DayOfWeek = time.Tuesday
	r, _ := newRunner(t, []Binding{b})
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestDisabledBindingIgnored(t *testing.T) {
	b := binding("09:05")
	b.AutoEnabled = false
	r, _ := newRunner(t, []Binding{b})
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Zero(t, report.Fired)
}

func TestCandidateFailureDoesNotAbortBatch(t *testing.T) {
	bad := binding("not-a-time")
	good := binding("09:05")
	good.ClassID = "c2"
	r, _ := newRunner(t, []Binding{bad, good})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err, "per-candidate failures never fail the scan")
	assert.Equal(t, 1, report.Fired, "remaining candidates still processed")
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "c1", report.Errors[0].Binding.ClassID)
}

func TestOpenerFailureCollected(t *testing.T) {
	sessions := &failingOpener{}
	r := NewRunner(&StaticBindings{Bindings: []Binding{binding("09:05")}}, sessions, nil, 4*time.Minute, 7*time.Minute, 10*time.Minute, nil)
	r.SetNow(func() time.Time { return scanTime })

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fired)
	require.Len(t, report.Errors, 1)
	assert.ErrorContains(t, report.Errors[0].Err, "store down")
}

type failingOpener struct{}

func (f *failingOpener) Open(context.Context, string, string, string, time.Duration) (session.Session, error) {
	return session.Session{}, errors.New("store down")
}

func (f *failingOpener) OpenedRecently(context.Context, string, string, string, time.Duration) (bool, error) {
	return false, nil
}
