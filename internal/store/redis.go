package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the client used for the challenge fallback store and the
// notification queue. Timeouts are short: redis sits on the hot verify
// path and a hung call there would stall attendance marking.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client for addr. Connectivity is not checked here;
// callers degrade per operation instead of failing startup.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaxRetries:   1,
	})
	return &Redis{Client: client}
}

// Healthy reports whether redis answers a ping.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
