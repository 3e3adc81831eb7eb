package challenge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rollcall/internal/core"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
)

// Service issues and verifies identity challenges. The primary store is
// volatile and process-scoped; the optional fallback is a durable safety net
// consulted only when the primary misses. The two are not kept in sync
// proactively.
type Service struct {
	primary  Store
	fallback Store
	notifier notify.Notifier
	ttl      time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService builds a challenge service. fallback and notifier may be nil.
func NewService(primary, fallback Store, notifier notify.Notifier, ttl time.Duration, m *metrics.Metrics) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		notifier: notifier,
		ttl:      ttl,
		metrics:  m,
		now:      time.Now,
	}
}

// Issue generates a fresh challenge for the claimant, superseding any prior
// unconsumed one, and dispatches the code out-of-band fire-and-forget.
func (s *Service) Issue(ctx context.Context, claimantKey, sessionID string) (Challenge, error) {
	key := NormalizeKey(claimantKey)
	if key == "" {
		return Challenge{}, fmt.Errorf("%w: claimant key required", core.ErrValidation)
	}
	code, err := NewCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge code: %w", err)
	}
	now := s.now().UTC()
	ch := Challenge{
		ClaimantKey: key,
		SessionID:   sessionID,
		Code:        code,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.primary.Put(ctx, ch); err != nil {
		return Challenge{}, err
	}
	if s.fallback != nil {
		if err := s.fallback.Put(ctx, ch); err != nil {
			log.Printf("challenge fallback write for %s failed: %v", key, err)
		}
	}
	s.metrics.ChallengeIssued()
	notify.Dispatch(s.notifier, key, "Your verification code is "+code)
	return ch, nil
}

// Verify redeems a challenge. Codes are compared as strings; a successful
// match consumes the challenge in the same step, so a replay of the code
// fails with core.ErrNotFound. The fallback is tried only on a primary miss,
// and a primary hit evicts any stale fallback copy so it cannot be replayed
// after a restart.
func (s *Service) Verify(ctx context.Context, claimantKey, code string) (Challenge, error) {
	key := NormalizeKey(claimantKey)
	if key == "" || code == "" {
		s.metrics.ChallengeVerified("invalid")
		return Challenge{}, fmt.Errorf("%w: claimant key and code required", core.ErrValidation)
	}
	now := s.now().UTC()
	ch, err := s.primary.Verify(ctx, key, code, now)
	if err == nil {
		s.evictFallback(ctx, key)
		s.metrics.ChallengeVerified("ok")
		return ch, nil
	}
	if errors.Is(err, core.ErrNotFound) && s.fallback != nil {
		if ch, ferr := s.fallback.Verify(ctx, key, code, now); ferr == nil {
			s.metrics.ChallengeVerified("ok")
			return ch, nil
		} else if !errors.Is(ferr, core.ErrNotFound) {
			err = ferr
		}
	}
	s.metrics.ChallengeVerified(outcomeLabel(err))
	return Challenge{}, err
}

func (s *Service) evictFallback(ctx context.Context, key string) {
	if s.fallback == nil {
		return
	}
	if err := s.fallback.Delete(ctx, key); err != nil {
		log.Printf("challenge fallback evict for %s failed: %v", key, err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, core.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, core.ErrChallengeMismatch):
		return "mismatch"
	case errors.Is(err, core.ErrNotFound):
		return "notfound"
	default:
		return "error"
	}
}
