package challenge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/core"
)

// RedisStore is the durable fallback for unconsumed challenges. It is only
// consulted when the in-process primary misses, e.g. after a restart. Redis
// key TTL handles expiry, so an expired fallback entry reads as not found.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a fallback store with the given key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rollcall:challenge:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// consumeScript compares the stored code and deletes the key on match, all
// inside redis so two concurrent verifications cannot both redeem.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local code = string.match(v, '^([^|]*)')
if code == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return v
end
return ''
`)

// Put stores the challenge with a TTL matching its deadline.
func (s *RedisStore) Put(ctx context.Context, ch Challenge) error {
	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: challenge already expired", core.ErrValidation)
	}
	val := strings.Join([]string{ch.Code, ch.SessionID, strconv.FormatInt(ch.IssuedAt.Unix(), 10), strconv.FormatInt(ch.ExpiresAt.Unix(), 10)}, "|")
	return s.client.Set(ctx, s.prefix+ch.ClaimantKey, val, ttl).Err()
}

// Verify runs the compare-and-delete script. Expired keys were evicted by
// redis, so they surface as core.ErrNotFound.
func (s *RedisStore) Verify(ctx context.Context, claimantKey, code string, _ time.Time) (Challenge, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + claimantKey}, code).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Challenge{}, core.ErrNotFound
		}
		return Challenge{}, err
	}
	val, ok := res.(string)
	if !ok {
		return Challenge{}, core.ErrNotFound
	}
	if val == "" {
		return Challenge{}, core.ErrChallengeMismatch
	}
	return parseValue(claimantKey, val)
}

// Delete removes the fallback copy for the key.
func (s *RedisStore) Delete(ctx context.Context, claimantKey string) error {
	return s.client.Del(ctx, s.prefix+claimantKey).Err()
}

func parseValue(claimantKey, val string) (Challenge, error) {
	parts := strings.SplitN(val, "|", 4)
	if len(parts) != 4 {
		return Challenge{}, fmt.Errorf("malformed challenge value for %s", claimantKey)
	}
	issued, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Challenge{}, fmt.Errorf("malformed challenge timestamp for %s: %w", claimantKey, err)
	}
	expires, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Challenge{}, fmt.Errorf("malformed challenge deadline for %s: %w", claimantKey, err)
	}
	return Challenge{
		ClaimantKey: claimantKey,
		SessionID:   parts[1],
		Code:        parts[0],
		IssuedAt:    time.Unix(issued, 0).UTC(),
		ExpiresAt:   time.Unix(expires, 0).UTC(),
	}, nil
}
