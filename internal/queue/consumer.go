package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer feeds resolve requests to a handler. Each Consume call owns one channel.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

// Consume blocks until ctx is canceled, resubscribing with backoff whenever the channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler RequestHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("resolve consumer interrupted, resubscribing",
			zap.String("queue", queue),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if !sleepOrDone(ctx, wait) {
			break
		}
		wait = nextBackoff(wait)
	}
	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler RequestHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery settles one delivery: malformed payloads go to the DLQ, handler errors are
// requeued and everything else is acked. Only a failed settle is returned.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler RequestHandler) error {
	req, err := decodeResolveRequest(d)
	if err != nil {
		c.logger.Warn("dead-lettering resolve request",
			zap.String("messageId", d.MessageId),
			zap.String("routingKey", d.RoutingKey),
			zap.Error(err),
		)
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to reject delivery: %w", err)
		}
		return nil
	}

	if err := handler(ctx, req); err != nil {
		c.logger.Warn("requeueing resolve request",
			zap.String("mandateId", req.MandateID),
			zap.String("correlationId", req.CorrelationID),
			zap.Error(err),
		)
		if err := d.Nack(false, true); err != nil {
			return fmt.Errorf("failed to nack delivery: %w", err)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}
	return nil
}

func decodeResolveRequest(d amqp.Delivery) (ResolveRequest, error) {
	var req ResolveRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return ResolveRequest{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := req.Validate(); err != nil {
		return ResolveRequest{}, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = d.CorrelationId
	}
	return req, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
