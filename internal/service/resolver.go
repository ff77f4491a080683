package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	"github.com/kursadbilgin/mandate-engine/internal/provider"
	"go.uber.org/zap"
)

const deadlineMessage = "status could not be confirmed within the time limit"

// Resolver polls the status endpoint for one mandate until a terminal state,
// a permanent failure, the attempt cap, or the deadline.
type Resolver struct {
	fetcher provider.StatusFetcher
	policy  Policy
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewResolver(fetcher provider.StatusFetcher, policy Policy, logger *zap.Logger) (*Resolver, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("status fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		fetcher: fetcher,
		policy:  policy.normalized(),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepWithContext,
	}, nil
}

func (r *Resolver) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *Resolver) Policy() Policy {
	return r.policy
}

// pollingSession is the per-resolution state. It lives for exactly one Resolve call.
type pollingSession struct {
	mandateID    domain.MandateID
	attemptsMade int
	start        time.Time
	deadline     time.Time
	lastResult   *domain.StatusCheckResult
	state        domain.LifecycleState
}

func (s *pollingSession) record(result domain.StatusCheckResult) {
	s.attemptsMade++
	s.lastResult = &result
	if result.IsSuccess() {
		s.state = s.state.Advance(domain.InterpretRawStatus(result.RawStatus))
	}
}

func (s *pollingSession) outcome(state domain.LifecycleState, reason domain.OutcomeReason, message string, at time.Time) domain.ResolutionOutcome {
	return domain.ResolutionOutcome{
		FinalState: state,
		MandateID:  s.mandateID,
		Message:    message,
		Reason:     reason,
		Attempts:   s.attemptsMade,
		Timestamp:  at.UTC(),
	}
}

// Resolve runs one polling session and always yields a terminal outcome, unless ctx itself
// is canceled first; then it returns ctx's error and no outcome.
func (r *Resolver) Resolve(ctx context.Context, mandateID domain.MandateID) (domain.ResolutionOutcome, error) {
	if err := mandateID.Validate(); err != nil {
		return domain.ResolutionOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ResolutionOutcome{}, err
	}

	start := r.now()
	session := &pollingSession{
		mandateID: mandateID,
		start:     start,
		deadline:  start.Add(r.policy.Deadline),
		state:     domain.StateProcessing,
	}

	logger := observability.WithContextLogger(r.logger, observability.WithMandateID(ctx, mandateID.String()))

	r.metrics.IncResolutionInFlight()
	defer r.metrics.DecResolutionInFlight()

	sessionCtx, cancel := context.WithTimeout(ctx, r.policy.Deadline)
	defer cancel()

	outcome, err := r.poll(sessionCtx, session, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("mandate resolution canceled",
				zap.Int("attempts", session.attemptsMade),
				zap.Error(ctx.Err()),
			)
			return domain.ResolutionOutcome{}, ctx.Err()
		}
		outcome = r.deadlineOutcome(session)
	}

	r.metrics.ObserveResolution(outcome.FinalState.String(), outcome.Reason.String(), r.now().Sub(start))
	logger.Info("mandate resolved",
		zap.String("finalState", outcome.FinalState.String()),
		zap.String("reason", outcome.Reason.String()),
		zap.Int("attempts", outcome.Attempts),
		zap.Duration("elapsed", r.now().Sub(start)),
	)

	return outcome, nil
}

// poll returns an error only when ctx ends; the caller decides between deadline and cancellation.
func (r *Resolver) poll(ctx context.Context, s *pollingSession, logger *zap.Logger) (domain.ResolutionOutcome, error) {
	if !r.fitsBeforeDeadline(s, r.policy.Stabilization) {
		return r.deadlineOutcome(s), nil
	}
	if err := r.sleep(ctx, r.policy.Stabilization); err != nil {
		return domain.ResolutionOutcome{}, err
	}

	maxAttempts := r.policy.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := r.fetch(ctx, s.mandateID)
		if err != nil {
			return domain.ResolutionOutcome{}, err
		}
		s.record(result)

		var (
			backoff time.Duration
			final   *domain.ResolutionOutcome
		)
		switch {
		case result.IsSuccess() && s.state.IsTerminal():
			o := s.outcome(s.state, domain.ReasonStatus, statusMessage(s.state, result), r.now())
			final = &o
		case result.IsSuccess():
			backoff = r.policy.Backoff.PendingDelay(attempt)
		case result.IsPermanent():
			o := s.outcome(domain.StateFailed, domain.ReasonPermanentError, failureMessage(result), r.now())
			final = &o
		default:
			backoff = r.policy.Backoff.Delay(result.ErrorClass, attempt)
		}

		// no point waiting out a backoff that ends past the deadline
		if final == nil && attempt < maxAttempts && !r.fitsBeforeDeadline(s, backoff) {
			o := r.deadlineOutcome(s)
			final = &o
		}
		if final != nil || attempt == maxAttempts {
			backoff = 0
		}
		r.observeAttempt(logger, attempt, result, s.state, backoff)

		if final != nil {
			return *final, nil
		}
		if attempt == maxAttempts {
			break
		}

		r.metrics.ObserveBackoff(result.ErrorClass.String(), backoff)
		if err := r.sleep(ctx, backoff); err != nil {
			return domain.ResolutionOutcome{}, err
		}
	}

	return s.outcome(s.state.ForceTerminal(), domain.ReasonRetryExhausted, exhaustedMessage(s), r.now()), nil
}

// fitsBeforeDeadline reports whether waiting d still leaves time for another attempt.
func (r *Resolver) fitsBeforeDeadline(s *pollingSession, d time.Duration) bool {
	return d <= 0 || d < s.deadline.Sub(r.now())
}

// deadlineOutcome forces the session terminal, keeping the last failure's guidance in the message.
func (r *Resolver) deadlineOutcome(s *pollingSession) domain.ResolutionOutcome {
	msg := deadlineMessage
	if s.lastResult != nil && !s.lastResult.IsSuccess() {
		msg = fmt.Sprintf("%s: %s", deadlineMessage, failureMessage(*s.lastResult))
	}
	return s.outcome(s.state.ForceTerminal(), domain.ReasonDeadlineExceeded, msg, r.now())
}

// fetch runs one attempt but stops waiting as soon as ctx ends, even if the fetcher ignores ctx.
// A result that arrives after ctx ended is discarded unclassified.
func (r *Resolver) fetch(ctx context.Context, mandateID domain.MandateID) (domain.StatusCheckResult, error) {
	done := make(chan domain.StatusCheckResult, 1)
	go func() {
		done <- r.fetcher.Fetch(ctx, mandateID)
	}()

	select {
	case result := <-done:
		if err := ctx.Err(); err != nil {
			return domain.StatusCheckResult{}, err
		}
		return result, nil
	case <-ctx.Done():
		return domain.StatusCheckResult{}, ctx.Err()
	}
}

func (r *Resolver) observeAttempt(
	logger *zap.Logger,
	attempt int,
	result domain.StatusCheckResult,
	state domain.LifecycleState,
	backoff time.Duration,
) {
	httpStatus := 0
	if result.HTTPStatusCode != nil {
		httpStatus = *result.HTTPStatusCode
	}

	fields := []zap.Field{
		zap.Int("attempt", attempt),
		zap.Int("maxAttempts", r.policy.MaxAttempts),
		zap.String("result", string(result.Kind)),
		zap.String("errorClass", result.ErrorClass.String()),
		zap.Int("httpStatus", httpStatus),
		zap.Duration("latency", result.Latency),
		zap.Duration("backoff", backoff),
		zap.String("state", state.String()),
	}

	if result.IsSuccess() {
		logger.Info("status check attempt", append(fields, zap.String("rawStatus", result.RawStatus))...)
	} else {
		logger.Warn("status check attempt failed", append(fields, zap.String("detail", result.Detail))...)
	}

	r.metrics.ObserveStatusAttempt(string(result.Kind), result.ErrorClass.String(), result.Latency)
}

func statusMessage(state domain.LifecycleState, result domain.StatusCheckResult) string {
	if msg := strings.TrimSpace(result.Message); msg != "" {
		return msg
	}
	return "mandate " + strings.ToLower(state.String())
}

func failureMessage(result domain.StatusCheckResult) string {
	msg := result.ErrorClass.UserMessage()
	if detail := strings.TrimSpace(result.Detail); detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, detail)
	}
	return msg
}

func exhaustedMessage(s *pollingSession) string {
	if s.lastResult == nil {
		return fmt.Sprintf("no status after %d attempts", s.attemptsMade)
	}
	if s.lastResult.IsSuccess() {
		return fmt.Sprintf("mandate still %s after %d attempts: %s",
			strings.ToLower(s.state.String()), s.attemptsMade, s.lastResult.Message)
	}
	return fmt.Sprintf("failed to get status after %d attempts: %s", s.attemptsMade, failureMessage(*s.lastResult))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
