package trigger

import (
	"context"
	"fmt"
	"log"
	"time"

	"rollcall/internal/metrics"
	"rollcall/internal/notify"
	"rollcall/internal/session"
)

// Binding is one recurring teacher/class/subject meeting slot. Read-only
// input: the engine never mutates bindings.
type Binding struct {
	OwnerID     string
	ClassID     string
	SubjectID   string
	DayOfWeek   time.Weekday
	StartTime   string // "15:04", institution-local wall clock in UTC
	AutoEnabled bool
}

// BindingSource lists auto-enabled bindings for a weekday.
type BindingSource interface {
	ListForDay(ctx context.Context, day time.Weekday) ([]Binding, error)
}

// SessionOpener is the slice of the session service the trigger uses.
type SessionOpener interface {
	Open(ctx context.Context, ownerID, classID, subjectID string, duration time.Duration) (session.Session, error)
	OpenedRecently(ctx context.Context, ownerID, classID, subjectID string, window time.Duration) (bool, error)
}

// CandidateError records a single binding's failure without aborting the
// scan.
type CandidateError struct {
	Binding Binding
	Err     error
}

// Report summarizes one scan. Partial failure is normal: Errors holds the
// candidates that failed while the rest proceeded.
type Report struct {
	Scanned int
	Fired   int
	Skipped int
	Errors  []CandidateError
}

// Runner opens sessions for recurring bindings whose start time falls inside
// a forward-looking window. The window must exceed the polling interval so a
// missed tick drops no binding; the dedup window is the sole defense against
// double-firing across overlapping scans.
type Runner struct {
	bindings  BindingSource
	sessions  SessionOpener
	notifier  notify.Notifier
	duration  time.Duration
	lookAhead time.Duration
	dedup     time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewRunner builds a trigger runner. duration is the auto-session length.
func NewRunner(bindings BindingSource, sessions SessionOpener, notifier notify.Notifier, duration, lookAhead, dedup time.Duration, m *metrics.Metrics) *Runner {
	return &Runner{
		bindings:  bindings,
		sessions:  sessions,
		notifier:  notifier,
		duration:  duration,
		lookAhead: lookAhead,
		dedup:     dedup,
		metrics:   m,
		now:       time.Now,
	}
}

// SetNow overrides the runner clock for tests.
func (r *Runner) SetNow(now func() time.Time) {
	r.now = now
}

// RunOnce performs a single scan. It returns an error only when the binding
// list itself cannot be read; per-candidate failures land in the report.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	now := r.now().UTC()
	candidates, err := r.bindings.ListForDay(ctx, now.Weekday())
	if err != nil {
		return Report{}, fmt.Errorf("list bindings: %w", err)
	}

	var report Report
	for _, b := range candidates {
		if !b.AutoEnabled {
			continue
		}
		report.Scanned++

		due, err := dueWithin(b.StartTime, now, r.lookAhead)
		if err != nil {
			report.Errors = append(report.Errors, CandidateError{Binding: b, Err: err})
			continue
		}
		if !due {
			continue
		}

		recent, err := r.sessions.OpenedRecently(ctx, b.OwnerID, b.ClassID, b.SubjectID, r.dedup)
		if err != nil {
			report.Errors = append(report.Errors, CandidateError{Binding: b, Err: fmt.Errorf("dedup check: %w", err)})
			continue
		}
		if recent {
			report.Skipped++
			continue
		}

		sess, err := r.sessions.Open(ctx, b.OwnerID, b.ClassID, b.SubjectID, r.duration)
		if err != nil {
			report.Errors = append(report.Errors, CandidateError{Binding: b, Err: fmt.Errorf("open session: %w", err)})
			continue
		}
		report.Fired++
		notify.Dispatch(r.notifier, b.OwnerID, fmt.Sprintf("Session %s opened for class %s / subject %s", sess.Code, b.ClassID, b.SubjectID))
	}

	r.metrics.TriggerRun(report.Fired, len(report.Errors))
	return report, nil
}

// Run loops RunOnce on the interval until the context ends.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil {
				log.Printf("trigger scan failed: %v", err)
				continue
			}
			if report.Fired > 0 || len(report.Errors) > 0 {
				log.Printf("trigger scan: %d scanned, %d fired, %d skipped, %d errors",
					report.Scanned, report.Fired, report.Skipped, len(report.Errors))
			}
			for _, ce := range report.Errors {
				log.Printf("trigger candidate %s/%s/%s: %v", ce.Binding.OwnerID, ce.Binding.ClassID, ce.Binding.SubjectID, ce.Err)
			}
		}
	}
}

// dueWithin reports whether the wall-clock start time falls in [now,
// now+window). The window opens at now exactly, biased to fire early rather
// than late.
func dueWithin(startTime string, now time.Time, window time.Duration) (bool, error) {
	t, err := time.Parse("15:04", startTime)
	if err != nil {
		return false, fmt.Errorf("bad start time %q: %w", startTime, err)
	}
	startAt := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	delta := startAt.Sub(now)
	return delta >= 0 && delta < window, nil
}
