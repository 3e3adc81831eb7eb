package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rollcall/internal/core"
)

// MemoryStore keeps sessions in a mutex-guarded map. It backs tests and the
// single-process dev mode; production uses PostgresStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Insert adds a session, rejecting codes held by another active session.
func (s *MemoryStore) Insert(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.State == core.SessionActive && existing.Code == sess.Code {
			return fmt.Errorf("code %s: %w", sess.Code, core.ErrCodeConflict)
		}
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Get returns a session by id.
func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, core.ErrNotFound
	}
	return sess, nil
}

// GetByCode returns the newest session with the code.
func (s *MemoryStore) GetByCode(_ context.Context, code string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best Session
	found := false
	for _, sess := range s.sessions {
		if sess.Code != code {
			continue
		}
		if !found || sess.CreatedAt.After(best.CreatedAt) {
			best = sess
			found = true
		}
	}
	if !found {
		return Session{}, core.ErrNotFound
	}
	return best, nil
}

// SetState applies a guarded transition.
func (s *MemoryStore) SetState(_ context.Context, id string, from, to core.SessionState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.State != from {
		return false, nil
	}
	sess.State = to
	s.sessions[id] = sess
	return true, nil
}

// ExpireDue marks overdue active sessions expired.
func (s *MemoryStore) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.State == core.SessionActive && !now.Before(sess.ExpiresAt) {
			sess.State = core.SessionExpired
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

// OpenedSince reports whether the binding got a session at or after since.
func (s *MemoryStore) OpenedSince(_ context.Context, ownerID, classID, subjectID string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID && sess.ClassID == classID && sess.SubjectID == subjectID && !sess.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// ListForSubjectOn returns sessions for the subject on the UTC day.
func (s *MemoryStore) ListForSubjectOn(_ context.Context, subjectID string, day time.Time) ([]Session, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Session
	for _, sess := range s.sessions {
		if sess.SubjectID == subjectID && !sess.CreatedAt.Before(start) && sess.CreatedAt.Before(end) {
			res = append(res, sess)
		}
	}
	return res, nil
}
