package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) PublishResolveRequest(ctx context.Context, req ResolveRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid resolve request: %w", err)
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = p.now().UTC()
	}
	return p.publish(ctx, ResolveQueue, req.MandateID, req.CorrelationID, req)
}

// PublishOutcome lets the publisher act as the hand-off's outcome sink.
func (p *RabbitMQPublisher) PublishOutcome(ctx context.Context, outcome domain.ResolutionOutcome) error {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := NewOutcomeMessage(outcome, correlationID)
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid outcome message: %w", err)
	}
	return p.publish(ctx, OutcomeQueue, msg.MandateID, msg.CorrelationID, msg)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue, messageID, correlationID string, body any) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		MessageId:     messageID,
		CorrelationId: correlationID,
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
