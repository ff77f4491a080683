package ratelimit

import "context"

// RateLimiter caps outbound calls per scope (for example "status" or "account").
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
