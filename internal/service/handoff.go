package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	"github.com/kursadbilgin/mandate-engine/internal/repository"
	"go.uber.org/zap"
)

const sinkTimeout = 5 * time.Second

// StatusResolver is the part of Resolver the hand-off depends on.
type StatusResolver interface {
	Resolve(ctx context.Context, mandateID domain.MandateID) (domain.ResolutionOutcome, error)
}

// SessionGuard admits one polling session per mandate id at a time.
// Acquire returns domain.ErrResolutionInFlight while another session holds the id.
type SessionGuard interface {
	Acquire(ctx context.Context, mandateID domain.MandateID) (release func(), err error)
}

// OutcomeSink receives every delivered outcome, e.g. to publish it downstream.
type OutcomeSink interface {
	PublishOutcome(ctx context.Context, outcome domain.ResolutionOutcome) error
}

type HandoffConfig struct {
	// Dwell delays delivery after the outcome is known. Zero delivers immediately.
	Dwell time.Duration
}

// Handoff owns the pending marker and delivers each resolution's outcome exactly once.
type Handoff struct {
	resolver StatusResolver
	markers  repository.MarkerStore
	guard    SessionGuard
	sink     OutcomeSink
	dwell    time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewHandoff(
	resolver StatusResolver,
	markers repository.MarkerStore,
	guard SessionGuard,
	cfg HandoffConfig,
	logger *zap.Logger,
) (*Handoff, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if markers == nil {
		return nil, fmt.Errorf("marker store is required")
	}
	if guard == nil {
		guard = NewLocalSessionGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handoff{
		resolver: resolver,
		markers:  markers,
		guard:    guard,
		dwell:    max(cfg.Dwell, 0),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepWithContext,
	}, nil
}

func (h *Handoff) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

func (h *Handoff) SetOutcomeSink(sink OutcomeSink) {
	if h == nil {
		return
	}
	h.sink = sink
}

// Begin records mandateID as pending under key, replacing any earlier marker.
func (h *Handoff) Begin(ctx context.Context, key string, mandateID domain.MandateID) (*domain.PendingMarker, error) {
	marker := domain.PendingMarker{
		Key:       domain.NormalizeMarkerKey(key),
		MandateID: mandateID,
		CreatedAt: h.now().UTC(),
	}
	if err := marker.Validate(); err != nil {
		return nil, err
	}
	if err := h.markers.Put(ctx, marker); err != nil {
		return nil, fmt.Errorf("failed to store pending marker: %w", err)
	}

	h.logger.Info("pending mandate recorded",
		zap.String("markerKey", marker.Key),
		zap.String("mandateId", mandateID.String()),
	)
	return &marker, nil
}

// Pending returns the marker stored under key without consuming it.
func (h *Handoff) Pending(ctx context.Context, key string) (*domain.PendingMarker, error) {
	marker, err := h.markers.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoPendingMandate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending marker: %w", err)
	}
	return marker, nil
}

// Resume consumes the marker under key and dispatches its mandate. The marker is gone
// before anything else is awaited, so a second Resume for the same key finds nothing.
func (h *Handoff) Resume(ctx context.Context, key string) (<-chan domain.ResolutionOutcome, error) {
	marker, err := h.markers.Consume(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		h.metrics.IncMarkerConsumed("empty")
		return nil, domain.ErrNoPendingMandate
	}
	if err != nil {
		h.metrics.IncMarkerConsumed("error")
		return nil, fmt.Errorf("failed to consume pending marker: %w", err)
	}
	h.metrics.IncMarkerConsumed("consumed")

	h.logger.Info("pending mandate consumed",
		zap.String("markerKey", marker.Key),
		zap.String("mandateId", marker.MandateID.String()),
	)

	ch, err := h.Dispatch(ctx, marker.MandateID)
	if err != nil && !errors.Is(err, domain.ErrResolutionInFlight) {
		// nothing is resolving this mandate, so the marker must survive for a later Resume
		h.restoreMarker(ctx, *marker, err)
	}
	return ch, err
}

func (h *Handoff) restoreMarker(ctx context.Context, marker domain.PendingMarker, cause error) {
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if err := h.markers.Put(putCtx, marker); err != nil {
		h.metrics.IncMarkerConsumed("lost")
		h.logger.Error("pending marker lost after failed dispatch",
			zap.String("markerKey", marker.Key),
			zap.String("mandateId", marker.MandateID.String()),
			zap.NamedError("dispatchError", cause),
			zap.Error(err),
		)
		return
	}
	h.metrics.IncMarkerConsumed("restored")
	h.logger.Warn("pending marker restored after failed dispatch",
		zap.String("markerKey", marker.Key),
		zap.String("mandateId", marker.MandateID.String()),
		zap.Error(cause),
	)
}

// Dispatch starts a resolution and returns a channel that yields exactly one outcome and is
// then closed. If ctx is canceled first the channel is closed without a value.
func (h *Handoff) Dispatch(ctx context.Context, mandateID domain.MandateID) (<-chan domain.ResolutionOutcome, error) {
	if err := mandateID.Validate(); err != nil {
		return nil, err
	}

	release, err := h.guard.Acquire(ctx, mandateID)
	if err != nil {
		if errors.Is(err, domain.ErrResolutionInFlight) {
			h.logger.Warn("mandate resolution already in flight",
				zap.String("mandateId", mandateID.String()),
			)
		}
		return nil, err
	}

	out := make(chan domain.ResolutionOutcome, 1)
	d := &delivery{ch: out}

	go func() {
		defer d.finish()

		outcome, err := h.resolver.Resolve(ctx, mandateID)
		if err == nil {
			err = h.sleep(ctx, h.dwell)
		}
		release()

		if err != nil {
			h.logger.Info("mandate resolution abandoned",
				zap.String("mandateId", mandateID.String()),
				zap.Error(err),
			)
			return
		}

		if d.send(outcome) {
			h.notifySink(ctx, outcome)
		}
	}()

	return out, nil
}

// Await blocks for the outcome of a Dispatch or Resume channel.
func Await(ctx context.Context, ch <-chan domain.ResolutionOutcome) (domain.ResolutionOutcome, error) {
	select {
	case outcome, ok := <-ch:
		if !ok {
			if err := ctx.Err(); err != nil {
				return domain.ResolutionOutcome{}, err
			}
			return domain.ResolutionOutcome{}, context.Canceled
		}
		return outcome, nil
	case <-ctx.Done():
		return domain.ResolutionOutcome{}, ctx.Err()
	}
}

func (h *Handoff) notifySink(ctx context.Context, outcome domain.ResolutionOutcome) {
	if h.sink == nil {
		return
	}

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if err := h.sink.PublishOutcome(sinkCtx, outcome); err != nil {
		h.metrics.IncOutcomePublished("error")
		h.logger.Error("failed to publish mandate outcome",
			zap.String("mandateId", outcome.MandateID.String()),
			zap.Error(err),
		)
		return
	}
	h.metrics.IncOutcomePublished("published")
}

// delivery is a one-shot send on a buffered channel.
type delivery struct {
	ch         chan domain.ResolutionOutcome
	sendOnce   sync.Once
	finishOnce sync.Once
}

func (d *delivery) send(outcome domain.ResolutionOutcome) (sent bool) {
	d.sendOnce.Do(func() {
		d.ch <- outcome
		sent = true
	})
	return sent
}

func (d *delivery) finish() {
	d.finishOnce.Do(func() {
		close(d.ch)
	})
}
