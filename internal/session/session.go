package session

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"rollcall/internal/core"
)

// Session is one open attendance window for a class meeting.
type Session struct {
	ID        string
	OwnerID   string
	ClassID   string
	SubjectID string
	Code      string
	State     core.SessionState
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ActiveAt reports whether the session accepts marks at the given instant.
// Expiry is evaluated here, never trusted from the persisted state alone.
func (s Session) ActiveAt(now time.Time) bool {
	return s.State == core.SessionActive && now.Before(s.ExpiresAt)
}

// Store persists sessions. Insert must fail with core.ErrCodeConflict when
// the code collides with another active session.
type Store interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	GetByCode(ctx context.Context, code string) (Session, error)
	// SetState transitions id from one state to another and reports whether
	// the transition applied. A false return means the session was not in
	// the from state, which callers treat as "already terminal".
	SetState(ctx context.Context, id string, from, to core.SessionState) (bool, error)
	// ExpireDue marks every active session past its deadline as expired and
	// returns how many rows changed.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	// OpenedSince reports whether a session for the binding was created at
	// or after the given instant, in any state.
	OpenedSince(ctx context.Context, ownerID, classID, subjectID string, since time.Time) (bool, error)
	// ListForSubjectOn returns every session for the subject whose meeting
	// window falls on the given calendar day.
	ListForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]Session, error)
}

// codeAlphabet omits 0/O, 1/I/L and similar glyphs so codes survive being
// read off a projector and typed by hand.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed session code width.
const CodeLength = 6

// NewCode returns a random human-typeable session code.
func NewCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode canonicalizes caller-supplied codes before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
