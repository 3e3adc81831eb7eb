package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/core"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store, 15*time.Minute, nil)
	svc.now = clock.Now
	return svc, store, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestOpenRejectsInvalidDuration(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Open(context.Background(), "t1", "c1", "s1", 0)
	assert.ErrorIs(t, err, core.ErrInvalidDuration)
	_, err = svc.Open(context.Background(), "t1", "c1", "s1", -time.Minute)
	assert.ErrorIs(t, err, core.ErrInvalidDuration)
}

func TestOpenRejectsMissingIdentifiers(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Open(context.Background(), "", "c1", "s1", time.Minute)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestOpenClampsDuration(t *testing.T) {
	svc, _, clock := newTestService(t)
	sess, err := svc.Open(context.Background(), "t1", "c1", "s1", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), sess.ExpiresAt)
}

func TestOpenGeneratesTypeableCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess, err := svc.Open(context.Background(), "t1", "c1", "s1", 4*time.Minute)
	require.NoError(t, err)
	assert.Len(t, sess.Code, CodeLength)
	for _, r := range sess.Code {
		assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected rune %q", r)
	}
	assert.Equal(t, core.SessionActive, sess.State)
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))
}

func TestLookupByCodeDistinguishesUnknownFromClosed(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Open(ctx, "t1", "c1", "s1", 4*time.Minute)
	require.NoError(t, err)

	_, err = svc.LookupByCode(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, core.ErrNotFound)

	got, err := svc.LookupByCode(ctx, strings.ToLower(sess.Code))
	require.NoError(t, err, "lookup must normalize case")
	assert.Equal(t, sess.ID, got.ID)

	clock.Advance(5 * time.Minute)
	got, err = svc.LookupByCode(ctx, sess.Code)
	assert.ErrorIs(t, err, core.ErrSessionNotActive)
	assert.Equal(t, sess.ID, got.ID, "closed lookup still identifies the session")
}

func TestLazyExpiryIsAuthoritativeAndSticky(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Open(ctx, "t1", "c1", "s1", 4*time.Minute)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExpired, got.State)

	// The read persisted the transition.
	raw, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExpired, raw.State)

	// Terminal states never revert.
	clock.Advance(-10 * time.Minute)
	got, err = svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExpired, got.State)
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Open(ctx, "t1", "c1", "s1", 4*time.Minute)
	require.NoError(t, err)

	got, err := svc.Close(ctx, sess.ID, core.SessionCompleted)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, got.State)

	got, err = svc.Close(ctx, sess.ID, core.SessionExpired)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, got.State, "terminal state survives a second close")
}

func TestCloseRejectsNonTerminalTarget(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Close(context.Background(), "whatever", core.SessionActive)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestOpenRetriesOnCodeCollision(t *testing.T) {
	store := &collidingStore{Store: NewMemoryStore(), failures: 3}
	svc := NewService(store, 0, nil)
	sess, err := svc.Open(context.Background(), "t1", "c1", "s1", 4*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Code)
	assert.Equal(t, 4, store.inserts, "three collisions then one success")
}

func TestOpenGivesUpAfterRetryBudget(t *testing.T) {
	store := &collidingStore{Store: NewMemoryStore(), failures: 100}
	svc := NewService(store, 0, nil)
	_, err := svc.Open(context.Background(), "t1", "c1", "s1", 4*time.Minute)
	assert.ErrorIs(t, err, core.ErrCodeConflict)
}

// collidingStore fails the first n Inserts with a code conflict.
type collidingStore struct {
	Store
	failures int
	inserts  int
}

func (s *collidingStore) Insert(ctx context.Context, sess Session) error {
	s.inserts++
	if s.inserts <= s.failures {
		return core.ErrCodeConflict
	}
	return s.Store.Insert(ctx, sess)
}

func TestSweepExpired(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	a, err := svc.Open(ctx, "t1", "c1", "s1", 2*time.Minute)
	require.NoError(t, err)
	b, err := svc.Open(ctx, "t1", "c2", "s2", 10*time.Minute)
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionExpired, got.State)
	got, err = svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, got.State)
}

func TestOpenedRecently(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, "t1", "c1", "s1", 4*time.Minute)
	require.NoError(t, err)

	recent, err := svc.OpenedRecently(ctx, "t1", "c1", "s1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = svc.OpenedRecently(ctx, "t1", "c1", "s2", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, recent)

	clock.Advance(11 * time.Minute)
	recent, err = svc.OpenedRecently(ctx, "t1", "c1", "s1", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, recent)
}
