package challenge

import (
	"context"
	"sync"
	"time"

	"rollcall/internal/core"
)

// MemoryStore is the process-scoped primary challenge store. Verify checks
// and consumes under one lock so two concurrent redemptions of the same code
// cannot both succeed.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]Challenge)}
}

// Put stores the challenge, superseding any prior one for the key.
func (s *MemoryStore) Put(_ context.Context, ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.ClaimantKey] = ch
	return nil
}

// Verify compares and consumes on match. Expired entries are dropped on
// sight; a mismatch leaves the challenge in place.
func (s *MemoryStore) Verify(_ context.Context, claimantKey, code string, now time.Time) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[claimantKey]
	if !ok {
		return Challenge{}, core.ErrNotFound
	}
	if !now.Before(ch.ExpiresAt) {
		delete(s.challenges, claimantKey)
		return Challenge{}, core.ErrChallengeExpired
	}
	if ch.Code != code {
		return Challenge{}, core.ErrChallengeMismatch
	}
	delete(s.challenges, claimantKey)
	return ch, nil
}

// Delete removes any challenge for the key.
func (s *MemoryStore) Delete(_ context.Context, claimantKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, claimantKey)
	return nil
}
