package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mandate-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	guardKeyPrefix  = "mandate:inflight"
	defaultGuardTTL = time.Minute
)

// releaseScript deletes the guard only if it still carries the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSessionGuard ensures at most one polling session per mandate id across processes.
type RedisSessionGuard struct {
	client   *goredis.Client
	ttl      time.Duration
	newToken func() string
}

func NewRedisSessionGuard(client *goredis.Client, ttl time.Duration) (*RedisSessionGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisSessionGuard{client: client, ttl: ttl, newToken: uuid.NewString}, nil
}

// Acquire claims mandateID and returns a release func. It fails with
// domain.ErrResolutionInFlight while another holder owns the claim.
func (g *RedisSessionGuard) Acquire(ctx context.Context, mandateID domain.MandateID) (func(), error) {
	key := guardKeyPrefix + ":" + mandateID.String()
	token := g.newToken()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session guard: %w", err)
	}
	if !ok {
		return nil, domain.ErrResolutionInFlight
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the ttl reclaims the key if redis is unreachable here
		_ = releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err()
	}, nil
}
