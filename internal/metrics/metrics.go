package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification engine. All recording
// helpers are nil-safe so services can run without metrics in tests.
type Metrics struct {
	SessionsOpened  prometheus.Counter
	SessionsExpired prometheus.Counter

	ChallengesIssued prometheus.Counter
	ChallengeVerify  *prometheus.CounterVec

	AttendanceMarked  *prometheus.CounterVec
	OnDutyReconciled  prometheus.Counter
	ApprovalDecisions *prometheus.CounterVec

	TriggerRuns   prometheus.Counter
	TriggerFired  prometheus.Counter
	TriggerErrors prometheus.Counter
}

// New registers and returns all engine metrics.
func New() *Metrics {
	return &Metrics{
		SessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sessions_opened_total",
			Help: "Attendance sessions opened, manual and triggered",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sessions_expired_total",
			Help: "Sessions transitioned to expired, lazily or by sweep",
		}),
		ChallengesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_challenges_issued_total",
			Help: "Identity challenges issued",
		}),
		ChallengeVerify: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_challenge_verifications_total",
			Help: "Challenge verification attempts by outcome",
		}, []string{"outcome"}), // ok, expired, mismatch, notfound
		AttendanceMarked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_attendance_marked_total",
			Help: "Attendance records written by status",
		}, []string{"status"}),
		OnDutyReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_onduty_reconciled_total",
			Help: "Sessions touched by on-duty reconciliation",
		}),
		ApprovalDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_approval_decisions_total",
			Help: "Approval decisions recorded by role and resulting status",
		}, []string{"role", "status"}),
		TriggerRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_trigger_runs_total",
			Help: "Scheduled trigger scans executed",
		}),
		TriggerFired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_trigger_sessions_fired_total",
			Help: "Sessions opened by the scheduled trigger",
		}),
		TriggerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_trigger_candidate_errors_total",
			Help: "Per-candidate trigger failures",
		}),
	}
}

// SessionOpened records a session creation.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsOpened.Inc()
	}
}

// SessionExpiredN records n expiry transitions.
func (m *Metrics) SessionExpiredN(n int) {
	if m != nil && n > 0 {
		m.SessionsExpired.Add(float64(n))
	}
}

// ChallengeIssued records an issued challenge.
func (m *Metrics) ChallengeIssued() {
	if m != nil {
		m.ChallengesIssued.Inc()
	}
}

// ChallengeVerified records a verification attempt outcome.
func (m *Metrics) ChallengeVerified(outcome string) {
	if m != nil {
		m.ChallengeVerify.WithLabelValues(outcome).Inc()
	}
}

// Marked records an attendance write.
func (m *Metrics) Marked(status string) {
	if m != nil {
		m.AttendanceMarked.WithLabelValues(status).Inc()
	}
}

// ReconciledN records sessions touched by a reconcile pass.
func (m *Metrics) ReconciledN(n int) {
	if m != nil && n > 0 {
		m.OnDutyReconciled.Add(float64(n))
	}
}

// Approval records a decision and the status it produced.
func (m *Metrics) Approval(role, status string) {
	if m != nil {
		m.ApprovalDecisions.WithLabelValues(role, status).Inc()
	}
}

// TriggerRun records one scan with its fired and error counts.
func (m *Metrics) TriggerRun(fired, errs int) {
	if m == nil {
		return
	}
	m.TriggerRuns.Inc()
	if fired > 0 {
		m.TriggerFired.Add(float64(fired))
	}
	if errs > 0 {
		m.TriggerErrors.Add(float64(errs))
	}
}
