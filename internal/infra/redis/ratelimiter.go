package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	limiterKeyPrefix         = "mandate:ratelimit"
	backoffStep              = 20 * time.Millisecond
	backoffMax               = 100 * time.Millisecond
	window                   = time.Second
)

// takeToken counts calls for KEYS[1] and returns 1 while the count stays within ARGV[1].
// The key lives for ARGV[2] milliseconds, one window.
var takeToken = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if n <= tonumber(ARGV[1]) then
  return 1
end
return 0
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter shares an outbound call budget across every process talking to the provider.
// Budgets are counted per scope in fixed one-second windows.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int64
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	l := &RedisRateLimiter{client: client, limit: limitPerSec, now: nowFn, sleep: sleepFn}
	if l.limit <= 0 {
		l.limit = defaultLimitPerSec
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepWithContext
	}
	return l, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	key, err := r.windowKey(scope, r.now())
	if err != nil {
		return false, err
	}

	taken, err := takeToken.Run(ctx, r.client, []string{key}, r.limit, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return taken == 1, nil
}

// Wait blocks until scope has budget in the current window or ctx ends. Each retry sleeps a
// little longer, never past the start of the next window.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	for attempt := 1; ; attempt++ {
		allowed, err := r.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, r.retryDelay(attempt)); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) retryDelay(attempt int) time.Duration {
	now := r.now()
	untilNextWindow := now.Truncate(window).Add(window).Sub(now)
	return min(time.Duration(attempt)*backoffStep, backoffMax, untilNextWindow)
}

func (r *RedisRateLimiter) windowKey(scope string, at time.Time) (string, error) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return "", fmt.Errorf("rate limit scope is required")
	}
	return fmt.Sprintf("%s:%s:%d", limiterKeyPrefix, scope, at.UTC().Unix()), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
