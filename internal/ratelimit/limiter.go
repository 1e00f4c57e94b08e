// Package ratelimit implements a per-client sliding-window rate limiter
// backed by a shared Redis sorted set, so multiple gateway instances
// enforce one combined budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rate:"

// Limiter allows at most MaxRequests per client within a sliding
// Window. Each request is recorded as a timestamped member of
// rate:<id>; members older than the window are pruned on every check.
//
// Redis being down must never take the gateway down with it, so every
// Redis failure is logged and treated as "allowed".
type Limiter struct {
	rdb         redis.Cmdable
	MaxRequests int
	Window      time.Duration

	now func() time.Time
}

// NewLimiter returns a limiter over the given Redis client.
func NewLimiter(rdb redis.Cmdable, maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:         rdb,
		MaxRequests: maxRequests,
		Window:      window,
		now:         time.Now,
	}
}

func (l *Limiter) key(id string) string { return keyPrefix + id }

// allowScript prunes, checks, and records in one atomic step so
// concurrent callers can never admit past the budget.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// Allow reports whether the client identified by id may proceed, and
// records the request when it may. Fails open on Redis errors.
func (l *Limiter) Allow(ctx context.Context, id string) bool {
	now := l.now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	admitted, err := allowScript.Run(ctx, l.rdb, []string{l.key(id)},
		formatScore(now.Add(-l.Window)),
		l.MaxRequests,
		formatScore(now),
		member,
		l.Window.Milliseconds(),
	).Int()
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "error", err, "client", id)
		return true
	}
	return admitted == 1
}

// Remaining returns how many requests the client has left in the
// current window. Returns the full budget on Redis errors.
func (l *Limiter) Remaining(ctx context.Context, id string) int {
	cutoff := l.now().Add(-l.Window)
	key := l.key(id)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.MaxRequests
	}

	remaining := l.MaxRequests - int(card.Val())
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func scoreOf(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatScore(t time.Time) string {
	return strconv.FormatFloat(scoreOf(t), 'f', -1, 64)
}
