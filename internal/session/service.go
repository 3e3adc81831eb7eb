package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/core"
	"rollcall/internal/metrics"
)

// openRetries bounds the collision retry loop on session codes.
const openRetries = 5

// Service owns the session lifecycle: opening, code lookup, closing and
// expiry. Expiry is authoritative at every read; the sweep only persists it
// eagerly for reporting.
type Service struct {
	store       Store
	maxDuration time.Duration
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewService creates a session service. maxDuration caps requested session
// lengths; zero disables the cap.
func NewService(store Store, maxDuration time.Duration, m *metrics.Metrics) *Service {
	return &Service{store: store, maxDuration: maxDuration, metrics: m, now: time.Now}
}

// SetNow overrides the service clock. Tests use it to drive expiry.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// Open creates an active session with a code unique among currently active
// sessions, retrying on collision.
func (s *Service) Open(ctx context.Context, ownerID, classID, subjectID string, duration time.Duration) (Session, error) {
	if ownerID == "" || classID == "" || subjectID == "" {
		return Session{}, fmt.Errorf("%w: owner, class and subject required", core.ErrValidation)
	}
	if duration <= 0 {
		return Session{}, core.ErrInvalidDuration
	}
	if s.maxDuration > 0 && duration > s.maxDuration {
		duration = s.maxDuration
	}

	now := s.now().UTC()
	var lastErr error
	for attempt := 0; attempt < openRetries; attempt++ {
		code, err := NewCode()
		if err != nil {
			return Session{}, fmt.Errorf("generate code: %w", err)
		}
		sess := Session{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			ClassID:   classID,
			SubjectID: subjectID,
			Code:      code,
			State:     core.SessionActive,
			CreatedAt: now,
			ExpiresAt: now.Add(duration),
		}
		if err := s.store.Insert(ctx, sess); err != nil {
			if errors.Is(err, core.ErrCodeConflict) {
				lastErr = err
				continue
			}
			return Session{}, err
		}
		s.metrics.SessionOpened()
		return sess, nil
	}
	return Session{}, fmt.Errorf("open session: code space exhausted after %d attempts: %w", openRetries, lastErr)
}

// Get returns a session by id with expiry evaluated at read time.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return s.applyLazyExpiry(ctx, sess), nil
}

// LookupByCode resolves a claimant-supplied code. An unknown code returns
// core.ErrNotFound; a known code whose session is terminal or past its
// deadline returns the session alongside core.ErrSessionNotActive so the
// caller can tell "never existed" from "existed but closed".
func (s *Service) LookupByCode(ctx context.Context, code string) (Session, error) {
	sess, err := s.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Session{}, err
	}
	sess = s.applyLazyExpiry(ctx, sess)
	if sess.State != core.SessionActive {
		return sess, core.ErrSessionNotActive
	}
	return sess, nil
}

// Active returns the session only if it accepts marks right now. This is the
// authoritative re-check the recorder performs at marking time.
func (s *Service) Active(ctx context.Context, id string) (Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.State != core.SessionActive {
		return sess, core.ErrSessionNotActive
	}
	return sess, nil
}

// Close transitions a session to a terminal state. Closing an already
// terminal session is a no-op that returns the current state.
func (s *Service) Close(ctx context.Context, id string, to core.SessionState) (Session, error) {
	if !to.Terminal() {
		return Session{}, fmt.Errorf("%w: close target must be terminal", core.ErrValidation)
	}
	applied, err := s.store.SetState(ctx, id, core.SessionActive, to)
	if err != nil {
		return Session{}, err
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if applied && to == core.SessionExpired {
		s.metrics.SessionExpiredN(1)
	}
	return sess, nil
}

// SweepExpired eagerly persists expiry for every overdue active session.
// Correctness never depends on this running; reads enforce expiry anyway.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.metrics.SessionExpiredN(n)
	return n, nil
}

// OpenedRecently reports whether the binding already got a session inside
// the dedup window. Used by the scheduled trigger to suppress double-firing.
func (s *Service) OpenedRecently(ctx context.Context, ownerID, classID, subjectID string, window time.Duration) (bool, error) {
	return s.store.OpenedSince(ctx, ownerID, classID, subjectID, s.now().UTC().Add(-window))
}

// SessionsForSubjectOn lists sessions for a subject on a calendar day, used
// by on-duty reconciliation.
func (s *Service) SessionsForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]Session, error) {
	return s.store.ListForSubjectOn(ctx, subjectID, day)
}

// applyLazyExpiry downgrades an overdue active session to expired in the
// returned value and best-effort persists the transition.
func (s *Service) applyLazyExpiry(ctx context.Context, sess Session) Session {
	if sess.State != core.SessionActive || s.now().UTC().Before(sess.ExpiresAt) {
		return sess
	}
	applied, err := s.store.SetState(ctx, sess.ID, core.SessionActive, core.SessionExpired)
	if err != nil {
		log.Printf("session %s: persisting lazy expiry failed: %v", sess.ID, err)
	} else if applied {
		s.metrics.SessionExpiredN(1)
	}
	sess.State = core.SessionExpired
	return sess
}
