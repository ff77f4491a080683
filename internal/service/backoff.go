package service

import (
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

const (
	defaultMaxAttempts       = 3
	defaultDeadline          = 5 * time.Second
	defaultStabilization     = time.Second
	defaultRateLimitCooldown = 5 * time.Second
	defaultRetryStep         = 2 * time.Second
	defaultDNSRetryStep      = 5 * time.Second
)

// DelayFunc returns the wait that follows the given 1-based attempt.
type DelayFunc func(attempt int) time.Duration

func FixedDelay(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

func LinearDelay(step time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return step * time.Duration(attempt)
	}
}

// BackoffPolicy picks the delay between attempts from the error class of the last result.
type BackoffPolicy struct {
	ByClass map[domain.ErrorClass]DelayFunc
	// Default covers classes missing from ByClass.
	Default DelayFunc
	// Pending is used after a successful fetch whose status is not terminal yet.
	Pending DelayFunc
}

// NewBackoffPolicy builds the standard table: a fixed cooldown for RATE_LIMITED,
// dnsStep*attempt for DNS_FAILURE and step*attempt for everything else.
func NewBackoffPolicy(rateLimitCooldown, dnsStep, step time.Duration) BackoffPolicy {
	return BackoffPolicy{
		ByClass: map[domain.ErrorClass]DelayFunc{
			domain.ErrorClassRateLimited: FixedDelay(rateLimitCooldown),
			domain.ErrorClassDNSFailure:  LinearDelay(dnsStep),
		},
		Default: LinearDelay(step),
		Pending: LinearDelay(step),
	}
}

func DefaultBackoffPolicy() BackoffPolicy {
	return NewBackoffPolicy(defaultRateLimitCooldown, defaultDNSRetryStep, defaultRetryStep)
}

func (p BackoffPolicy) Delay(class domain.ErrorClass, attempt int) time.Duration {
	if fn, ok := p.ByClass[class]; ok && fn != nil {
		return nonNegative(fn(attempt))
	}
	if p.Default != nil {
		return nonNegative(p.Default(attempt))
	}
	return 0
}

func (p BackoffPolicy) PendingDelay(attempt int) time.Duration {
	if p.Pending != nil {
		return nonNegative(p.Pending(attempt))
	}
	return p.Delay(domain.ErrorClassNone, attempt)
}

// Policy bounds one polling session.
type Policy struct {
	MaxAttempts   int
	Deadline      time.Duration
	Stabilization time.Duration
	Backoff       BackoffPolicy
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   defaultMaxAttempts,
		Deadline:      defaultDeadline,
		Stabilization: defaultStabilization,
		Backoff:       DefaultBackoffPolicy(),
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Deadline <= 0 {
		p.Deadline = defaultDeadline
	}
	if p.Stabilization < 0 {
		p.Stabilization = 0
	}
	if p.Backoff.ByClass == nil && p.Backoff.Default == nil && p.Backoff.Pending == nil {
		p.Backoff = DefaultBackoffPolicy()
	}
	return p
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
