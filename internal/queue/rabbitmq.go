package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "mandate.dlx"
	connectionName   = "mandate-engine"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second
)

// queueSpec is one durable queue of the mandate topology.
type queueSpec struct {
	name       string
	deadLetter bool
}

func topology() []queueSpec {
	specs := make([]queueSpec, 0, len(WorkQueueNames())+1)
	for _, name := range WorkQueueNames() {
		specs = append(specs, queueSpec{name: name, deadLetter: true})
	}
	return append(specs, queueSpec{name: OutcomeQueue})
}

// RabbitMQ shares one AMQP connection between publishers and consumers. A dropped connection
// is redialed lazily with exponential backoff and the topology is declared once per connection.
type RabbitMQ struct {
	url string

	mu       sync.RWMutex
	dialMu   sync.Mutex
	conn     *amqp.Connection
	declared *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn, r.declared = nil, nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Connected reports whether the current connection is open.
func (r *RabbitMQ) Connected() bool {
	if r == nil {
		return false
	}
	conn := r.current()
	return conn != nil && !conn.IsClosed()
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// channel opens a channel on a live connection, redialing once if the connection died
// between the liveness check and the open.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	var lastErr error
	for range 2 {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err == nil {
			return ch, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to open rabbitmq channel: %w", lastErr)
}

// connection returns an open connection whose topology has been declared.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn, declared := r.conn, r.declared
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() && conn == declared {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	conn = r.current()
	if conn == nil || conn.IsClosed() {
		var err error
		if conn, err = r.dial(ctx); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	declared = r.declared
	r.mu.RUnlock()
	if declared == conn {
		return conn, nil
	}

	if err := declareTopology(conn); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.conn, r.declared = conn, conn
	r.mu.Unlock()

	return conn, nil
}

func (r *RabbitMQ) dial(ctx context.Context) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)
	cfg := amqp.Config{
		Properties: props,
		Dial:       amqp.DefaultDial(dialTimeout),
	}

	wait := reconnectBackoff
	for {
		conn, err := amqp.DialConfig(r.url, cfg)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			return conn, nil
		}

		if !sleepOrDone(ctx, wait) {
			return nil, fmt.Errorf("rabbitmq dial canceled after %v: %w", err, ctx.Err())
		}
		wait = nextBackoff(wait)
	}
}

func declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open topology channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, spec := range topology() {
		var args amqp.Table
		if spec.deadLetter {
			dlq := DLQName(spec.name)
			if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
				return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
			}
			if err := ch.QueueBind(dlq, spec.name, dlxExchangeName, false, nil); err != nil {
				return fmt.Errorf("failed to bind dlq %q: %w", dlq, err)
			}
			args = amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": spec.name,
			}
		}

		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.name, err)
		}
	}

	return nil
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxBackoff)
}

// sleepOrDone waits for d and reports false if ctx ended first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
