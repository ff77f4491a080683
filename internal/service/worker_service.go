package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	"github.com/kursadbilgin/mandate-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	// inFlightRequeueDelay spaces out redeliveries of a mandate another session holds.
	inFlightRequeueDelay = time.Second
)

// WorkerService resolves mandates requested over the queue and publishes their outcomes.
type WorkerService struct {
	consumer    queue.Consumer
	resolver    StatusResolver
	guard       SessionGuard
	outcomes    OutcomeSink
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewWorkerService(
	consumer queue.Consumer,
	resolver StatusResolver,
	guard SessionGuard,
	outcomes OutcomeSink,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if outcomes == nil {
		return nil, fmt.Errorf("outcome sink is required")
	}
	if guard == nil {
		guard = NewLocalSessionGuard()
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		resolver:    resolver,
		guard:       guard,
		outcomes:    outcomes,
		logger:      logger,
		concurrency: concurrency,
		sleep:       sleepWithContext,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs concurrency consumers spread over the work queues and blocks until ctx is canceled
// or one of them fails.
func (s *WorkerService) Start(ctx context.Context) error {
	queues := queue.WorkQueueNames()
	if len(queues) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range s.concurrency {
		name := queues[i%len(queues)]
		log := s.logger.With(zap.Int("workerId", i+1), zap.String("queue", name))
		g.Go(func() error { return s.consume(gctx, name, log) })
	}
	return g.Wait()
}

func (s *WorkerService) consume(ctx context.Context, name string, log *zap.Logger) error {
	log.Info("resolve worker started")
	if err := s.consumer.Consume(ctx, name, s.processRequest); err != nil {
		log.Error("resolve worker failed", zap.Error(err))
		return err
	}
	log.Info("resolve worker stopped")
	return nil
}

func (s *WorkerService) processRequest(ctx context.Context, req queue.ResolveRequest) error {
	if req.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, req.CorrelationID)
	}
	logger := observability.WithContextLogger(s.logger, ctx)

	mandateID, err := domain.ParseMandateID(req.MandateID)
	if err != nil {
		logger.Warn("dropping resolve request with invalid mandate id", zap.Error(err))
		return nil
	}
	ctx = observability.WithMandateID(ctx, mandateID.String())

	release, err := s.guard.Acquire(ctx, mandateID)
	switch {
	case errors.Is(err, domain.ErrResolutionInFlight):
		// the holder may be an API session that gets abandoned without publishing, so requeue
		observability.WithContextLogger(s.logger, ctx).Info("mandate resolution already in flight, requeueing",
			zap.Duration("delay", inFlightRequeueDelay),
		)
		if err := s.sleep(ctx, inFlightRequeueDelay); err != nil {
			return err
		}
		return fmt.Errorf("mandate resolution requeued: %w", domain.ErrResolutionInFlight)
	case err != nil:
		return fmt.Errorf("failed to acquire session guard: %w", err)
	}
	defer release()

	outcome, err := s.resolver.Resolve(ctx, mandateID)
	if err != nil {
		return fmt.Errorf("mandate resolution interrupted: %w", err)
	}

	err = s.outcomes.PublishOutcome(ctx, outcome)
	s.metrics.IncOutcomePublished(publishResult(err))
	if err != nil {
		return fmt.Errorf("failed to publish mandate outcome: %w", err)
	}
	return nil
}

func publishResult(err error) string {
	if err != nil {
		return "error"
	}
	return "published"
}
