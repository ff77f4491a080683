package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/queue"
	"github.com/kursadbilgin/mandate-engine/internal/repository"
)

// fakeFetcher replays results in order and repeats the last one once the script runs out.
type fakeFetcher struct {
	mu      sync.Mutex
	results []domain.StatusCheckResult
	fetchFn func(ctx context.Context, id domain.MandateID) domain.StatusCheckResult
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, id domain.MandateID) domain.StatusCheckResult {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.fetchFn != nil {
		return f.fetchFn(ctx, id)
	}
	if len(f.results) == 0 {
		return domain.NewSuccessResult("PENDING", "")
	}
	if call > len(f.results) {
		return f.results[len(f.results)-1]
	}
	return f.results[call-1]
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClock only moves when a recorded sleep advances it.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// sleepRecorder stands in for the real sleep so backoff can be asserted without waiting.
// With a clock set, every recorded delay also advances that clock.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	clock  *fakeClock
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.clock != nil {
		s.clock.Advance(d)
	}
	return nil
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fakeMarkerStore struct {
	mu        sync.Mutex
	markers   map[string]domain.PendingMarker
	putFn     func(ctx context.Context, marker domain.PendingMarker) error
	consumeFn func(ctx context.Context, key string) (*domain.PendingMarker, error)
}

var _ repository.MarkerStore = (*fakeMarkerStore)(nil)

func newFakeMarkerStore() *fakeMarkerStore {
	return &fakeMarkerStore{markers: make(map[string]domain.PendingMarker)}
}

func (f *fakeMarkerStore) Put(ctx context.Context, marker domain.PendingMarker) error {
	if f.putFn != nil {
		return f.putFn(ctx, marker)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers[marker.Key] = marker
	return nil
}

func (f *fakeMarkerStore) Get(_ context.Context, key string) (*domain.PendingMarker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markers[domain.NormalizeMarkerKey(key)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (f *fakeMarkerStore) Consume(ctx context.Context, key string) (*domain.PendingMarker, error) {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key = domain.NormalizeMarkerKey(key)
	m, ok := f.markers[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(f.markers, key)
	return &m, nil
}

func (f *fakeMarkerStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.markers, domain.NormalizeMarkerKey(key))
	return nil
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, id domain.MandateID) (domain.ResolutionOutcome, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, id domain.MandateID) (domain.ResolutionOutcome, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, id)
	}
	return domain.ResolutionOutcome{
		FinalState: domain.StateSuccess,
		MandateID:  id,
		Message:    "Mandate is active",
		Reason:     domain.ReasonStatus,
		Attempts:   1,
		Timestamp:  time.Unix(1_700_000_000, 0).UTC(),
	}, nil
}

type fakeOutcomeSink struct {
	mu        sync.Mutex
	published []domain.ResolutionOutcome
	publishFn func(ctx context.Context, outcome domain.ResolutionOutcome) error
}

func (f *fakeOutcomeSink) PublishOutcome(ctx context.Context, outcome domain.ResolutionOutcome) error {
	f.mu.Lock()
	f.published = append(f.published, outcome)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, outcome)
	}
	return nil
}

func (f *fakeOutcomeSink) Published() []domain.ResolutionOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ResolutionOutcome(nil), f.published...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.RequestHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.RequestHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func intPtr(v int) *int { return &v }

type guardFunc func(ctx context.Context, id domain.MandateID) (func(), error)

func (f guardFunc) Acquire(ctx context.Context, id domain.MandateID) (func(), error) {
	return f(ctx, id)
}
