package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	"github.com/kursadbilgin/mandate-engine/internal/queue"
	"go.uber.org/zap"
)

func newTestWorker(t *testing.T, resolver StatusResolver, guard SessionGuard, sink OutcomeSink) (*WorkerService, *sleepRecorder) {
	t.Helper()

	w, err := NewWorkerService(&fakeConsumer{}, resolver, guard, sink, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	w.SetMetrics(observability.NewMetrics())

	rec := &sleepRecorder{}
	w.sleep = rec.sleep
	return w, rec
}

func TestWorkerProcessRequest(t *testing.T) {
	t.Parallel()

	errResolve := errors.New("resolution interrupted")
	errPublish := errors.New("broker down")

	tests := []struct {
		name          string
		req           queue.ResolveRequest
		resolveErr    error
		publishErr    error
		holdGuard     bool
		wantErr       error
		wantPublished int
		wantResolved  int
	}{
		{
			name:          "resolves and publishes",
			req:           queue.ResolveRequest{MandateID: string(testMandateID), CorrelationID: "corr-1"},
			wantPublished: 1,
			wantResolved:  1,
		},
		{
			name: "invalid mandate id is acked",
			req:  queue.ResolveRequest{MandateID: "   "},
		},
		{
			name:      "in-flight mandate is requeued",
			req:       queue.ResolveRequest{MandateID: string(testMandateID)},
			holdGuard: true,
			wantErr:   domain.ErrResolutionInFlight,
		},
		{
			name:         "resolver error requeues",
			req:          queue.ResolveRequest{MandateID: string(testMandateID)},
			resolveErr:   errResolve,
			wantErr:      errResolve,
			wantResolved: 1,
		},
		{
			name:          "publish error requeues",
			req:           queue.ResolveRequest{MandateID: string(testMandateID)},
			publishErr:    errPublish,
			wantErr:       errPublish,
			wantPublished: 1,
			wantResolved:  1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				mu            sync.Mutex
				resolved      int
				correlationID string
			)
			resolver := &fakeResolver{resolveFn: func(ctx context.Context, id domain.MandateID) (domain.ResolutionOutcome, error) {
				mu.Lock()
				resolved++
				correlationID, _ = observability.CorrelationIDFromContext(ctx)
				mu.Unlock()
				if tt.resolveErr != nil {
					return domain.ResolutionOutcome{}, tt.resolveErr
				}
				return (&fakeResolver{}).Resolve(ctx, id)
			}}
			sink := &fakeOutcomeSink{publishFn: func(context.Context, domain.ResolutionOutcome) error {
				return tt.publishErr
			}}
			guard := NewLocalSessionGuard()
			if tt.holdGuard {
				release, err := guard.Acquire(context.Background(), testMandateID)
				if err != nil {
					t.Fatalf("Acquire() error = %v", err)
				}
				defer release()
			}

			w, sleeps := newTestWorker(t, resolver, guard, sink)
			err := w.processRequest(context.Background(), tt.req)

			if tt.wantErr == nil && err != nil {
				t.Fatalf("processRequest() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("processRequest() error = %v, want %v", err, tt.wantErr)
			}
			if got := len(sink.Published()); got != tt.wantPublished {
				t.Fatalf("published = %d, want %d", got, tt.wantPublished)
			}
			if tt.holdGuard {
				assertDelays(t, sleeps.Delays(), inFlightRequeueDelay)
			} else if n := len(sleeps.Delays()); n != 0 {
				t.Fatalf("sleeps = %d, want none", n)
			}

			mu.Lock()
			defer mu.Unlock()
			if resolved != tt.wantResolved {
				t.Fatalf("resolved = %d, want %d", resolved, tt.wantResolved)
			}
			if tt.req.CorrelationID != "" && correlationID != tt.req.CorrelationID {
				t.Fatalf("correlation id = %q, want %q", correlationID, tt.req.CorrelationID)
			}
		})
	}
}

func TestWorkerReleasesGuardAfterProcessing(t *testing.T) {
	t.Parallel()

	guard := NewLocalSessionGuard()
	w, _ := newTestWorker(t, &fakeResolver{}, guard, &fakeOutcomeSink{})

	req := queue.ResolveRequest{MandateID: string(testMandateID)}
	if err := w.processRequest(context.Background(), req); err != nil {
		t.Fatalf("processRequest() error = %v", err)
	}

	release, err := guard.Acquire(context.Background(), testMandateID)
	if err != nil {
		t.Fatalf("guard still held after processing: %v", err)
	}
	release()
}

func TestWorkerStart(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		queues []string
	)
	consumer := &fakeConsumer{consumeFn: func(ctx context.Context, queueName string, handler queue.RequestHandler) error {
		mu.Lock()
		queues = append(queues, queueName)
		mu.Unlock()
		return handler(ctx, queue.ResolveRequest{MandateID: string(testMandateID)})
	}}
	sink := &fakeOutcomeSink{}

	w, err := NewWorkerService(consumer, &fakeResolver{}, nil, sink, 2, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queues) != 2 {
		t.Fatalf("consumers started = %d, want 2", len(queues))
	}
	for _, q := range queues {
		if q != queue.ResolveQueue {
			t.Fatalf("consumed queue %q, want %q", q, queue.ResolveQueue)
		}
	}
}

func TestWorkerStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	errConsume := errors.New("channel closed")
	consumer := &fakeConsumer{consumeFn: func(context.Context, string, queue.RequestHandler) error {
		return errConsume
	}}

	w, err := NewWorkerService(consumer, &fakeResolver{}, nil, &fakeOutcomeSink{}, 1, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := w.Start(context.Background()); !errors.Is(err, errConsume) {
		t.Fatalf("Start() error = %v, want %v", err, errConsume)
	}
}

func TestNewWorkerServiceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWorkerService(nil, &fakeResolver{}, nil, &fakeOutcomeSink{}, 1, nil); err == nil {
		t.Fatal("expected error for nil consumer")
	}
	if _, err := NewWorkerService(&fakeConsumer{}, nil, nil, &fakeOutcomeSink{}, 1, nil); err == nil {
		t.Fatal("expected error for nil resolver")
	}
	if _, err := NewWorkerService(&fakeConsumer{}, &fakeResolver{}, nil, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil outcome sink")
	}

	w, err := NewWorkerService(&fakeConsumer{}, &fakeResolver{}, nil, &fakeOutcomeSink{}, 0, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	if w.concurrency != minWorkerConcurrency {
		t.Fatalf("concurrency = %d, want %d", w.concurrency, minWorkerConcurrency)
	}
}
