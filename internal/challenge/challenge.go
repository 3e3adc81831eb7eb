package challenge

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Challenge is a single-use numeric code binding a claimant to a session.
type Challenge struct {
	ClaimantKey string
	SessionID   string
	Code        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Store holds at most one authoritative challenge per claimant key. Put
// overwrites any prior challenge for the key; Verify compares the supplied
// code and consumes the challenge atomically with a successful match.
type Store interface {
	Put(ctx context.Context, ch Challenge) error
	// Verify returns the consumed challenge on success. Errors:
	// core.ErrNotFound, core.ErrChallengeExpired, core.ErrChallengeMismatch.
	// A mismatch does not consume the challenge.
	Verify(ctx context.Context, claimantKey, code string, now time.Time) (Challenge, error)
	Delete(ctx context.Context, claimantKey string) error
}

// CodeWidth is the fixed OTP width. Codes are compared as strings so leading
// zeros survive.
const CodeWidth = 6

// NewCode returns a zero-padded random numeric code.
func NewCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeWidth; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeWidth, n), nil
}

// NormalizeKey canonicalizes claimant identities (email-style keys) so the
// same person cannot hold parallel challenges under case variants.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
