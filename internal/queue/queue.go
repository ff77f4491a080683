package queue

import (
	"context"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

const (
	// ResolveQueue carries background resolution requests.
	ResolveQueue = "mandate.resolve"
	// OutcomeQueue receives every delivered resolution outcome.
	OutcomeQueue = "mandate.outcomes"
)

// Publisher publishes resolution requests and outcomes.
type Publisher interface {
	PublishResolveRequest(ctx context.Context, req ResolveRequest) error
	PublishOutcome(ctx context.Context, outcome domain.ResolutionOutcome) error
	Close() error
}

// RequestHandler handles a consumed resolve request. A non-nil error requeues the message.
type RequestHandler func(ctx context.Context, req ResolveRequest) error

// Consumer consumes resolve requests from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler RequestHandler) error
	Close() error
}

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.mandate.resolve.
func DLQName(queue string) string {
	return "dlq." + queue
}

// WorkQueueNames returns the queues workers consume from.
func WorkQueueNames() []string {
	return []string{ResolveQueue}
}

// DLQNames returns the dead-letter queues of all work queues.
func DLQNames() []string {
	work := WorkQueueNames()
	queues := make([]string, 0, len(work))
	for _, name := range work {
		queues = append(queues, DLQName(name))
	}
	return queues
}
