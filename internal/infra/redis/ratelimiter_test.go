package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(rdb, 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	want := []bool{true, true, false}
	for i, w := range want {
		allowed, err := limiter.Allow(context.Background(), "status")
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		if allowed != w {
			t.Fatalf("Allow() #%d = %v, want %v", i+1, allowed, w)
		}
	}

	now = now.Add(time.Second)
	allowed, err := limiter.Allow(context.Background(), "status")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next window should allow the call")
	}
}

func TestRedisRateLimiterScopesAreIndependent(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	for _, scope := range []string{"status", "account"} {
		allowed, err := limiter.Allow(context.Background(), scope)
		if err != nil {
			t.Fatalf("Allow(%s) error = %v", scope, err)
		}
		if !allowed {
			t.Fatalf("%s should be allowed on first request", scope)
		}
	}

	allowed, err := limiter.Allow(context.Background(), " STATUS ")
	if err != nil {
		t.Fatalf("Allow(status) error = %v", err)
	}
	if allowed {
		t.Fatal("normalized scope should share the status budget")
	}
}

func TestRedisRateLimiterAllowRequiresScope(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)
	limiter, err := NewRedisRateLimiter(rdb, 1)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("Allow() with blank scope should fail")
	}
}

func TestRedisRateLimiterWait(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	var sleeps []time.Duration
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			if len(sleeps) == 2 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "status"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "status"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}

	if len(sleeps) != 2 {
		t.Fatalf("sleep calls = %d, want 2", len(sleeps))
	}
	if sleeps[0] != backoffStep || sleeps[1] != 2*backoffStep {
		t.Fatalf("sleeps = %v, want [%v %v]", sleeps, backoffStep, 2*backoffStep)
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "status"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "status")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRedisRateLimiterRetryDelayStopsAtNextWindow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_400, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	tests := []struct {
		name    string
		offset  time.Duration
		attempt int
		want    time.Duration
	}{
		{name: "first retry", attempt: 1, want: backoffStep},
		{name: "capped by max", attempt: 50, want: backoffMax},
		{name: "capped by window end", offset: 990 * time.Millisecond, attempt: 3, want: 10 * time.Millisecond},
	}

	for _, tt := range tests {
		got := newRetryDelay(limiter, now.Add(tt.offset), tt.attempt)
		if got != tt.want {
			t.Fatalf("%s: retryDelay = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func newRetryDelay(l *RedisRateLimiter, at time.Time, attempt int) time.Duration {
	clone := *l
	clone.now = func() time.Time { return at }
	return clone.retryDelay(attempt)
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb, mr
}
