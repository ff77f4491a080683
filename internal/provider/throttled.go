package provider

import (
	"context"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/ratelimit"
	"go.uber.org/zap"
)

const StatusRateLimitScope = "status"

// ThrottledFetcher waits for shared rate limit budget before delegating a status fetch.
// Limiter failures are logged and the fetch proceeds unthrottled.
type ThrottledFetcher struct {
	next    StatusFetcher
	limiter ratelimit.RateLimiter
	logger  *zap.Logger
}

func NewThrottledFetcher(next StatusFetcher, limiter ratelimit.RateLimiter, logger *zap.Logger) *ThrottledFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThrottledFetcher{next: next, limiter: limiter, logger: logger}
}

func (f *ThrottledFetcher) Fetch(ctx context.Context, mandateID domain.MandateID) domain.StatusCheckResult {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, StatusRateLimitScope); err != nil {
			if ctx.Err() != nil {
				return domain.NewRetryableResult(domain.ErrorClassUnknown, "canceled while waiting for rate limit budget")
			}
			f.logger.Warn("rate limiter unavailable, fetching without throttle",
				zap.String("mandateId", mandateID.String()),
				zap.Error(err),
			)
		}
	}

	return f.next.Fetch(ctx, mandateID)
}
