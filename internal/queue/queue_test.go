package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 1 || work[0] != "mandate.resolve" {
		t.Fatalf("WorkQueueNames = %v, want [mandate.resolve]", work)
	}

	dlq := DLQNames()
	if len(dlq) != 1 || dlq[0] != "dlq.mandate.resolve" {
		t.Fatalf("DLQNames = %v, want [dlq.mandate.resolve]", dlq)
	}

	if OutcomeQueue != "mandate.outcomes" {
		t.Fatalf("OutcomeQueue = %s", OutcomeQueue)
	}
}

func TestResolveRequestValidate(t *testing.T) {
	if err := (ResolveRequest{MandateID: "M1"}).Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if err := (ResolveRequest{MandateID: "  "}).Validate(); err == nil {
		t.Fatal("expected error for blank mandate id")
	}
}

func TestNewOutcomeMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := NewOutcomeMessage(domain.ResolutionOutcome{
		FinalState: domain.StateSuccess,
		MandateID:  "M1",
		Message:    "Mandate is active",
		Reason:     domain.ReasonStatus,
		Attempts:   2,
		Timestamp:  ts,
	}, "corr-1")

	want := OutcomeMessage{
		MandateID:     "M1",
		FinalState:    "SUCCESS",
		Message:       "Mandate is active",
		Reason:        "status",
		Attempts:      2,
		Timestamp:     ts,
		CorrelationID: "corr-1",
	}
	if msg != want {
		t.Fatalf("NewOutcomeMessage() = %+v, want %+v", msg, want)
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestOutcomeMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     OutcomeMessage
		wantErr bool
	}{
		{name: "failed is terminal", msg: OutcomeMessage{MandateID: "M1", FinalState: "FAILED"}},
		{name: "missing mandate", msg: OutcomeMessage{FinalState: "SUCCESS"}, wantErr: true},
		{name: "non terminal", msg: OutcomeMessage{MandateID: "M1", FinalState: "PENDING"}, wantErr: true},
		{name: "unknown state", msg: OutcomeMessage{MandateID: "M1", FinalState: "REVOKED"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type recordingAcknowledger struct {
	acked    int
	nacked   int
	requeued bool
	rejected int
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

func (a *recordingAcknowledger) Reject(uint64, bool) error {
	a.rejected++
	return nil
}

func TestRabbitMQConsumerHandleDelivery(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		handlerErr   error
		wantHandled  bool
		wantAcked    int
		wantNacked   int
		wantRejected int
	}{
		{name: "valid request is acked", body: `{"mandateId":"M1"}`, wantHandled: true, wantAcked: 1},
		{name: "handler error is requeued", body: `{"mandateId":"M1"}`, handlerErr: errors.New("publish failed"), wantHandled: true, wantNacked: 1},
		{name: "invalid json is rejected", body: `{`, wantRejected: 1},
		{name: "missing mandate is rejected", body: `{"mandateId":""}`, wantRejected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &recordingAcknowledger{}
			delivery := amqp.Delivery{
				Acknowledger:  ack,
				Body:          []byte(tt.body),
				CorrelationId: "corr-from-header",
			}

			var got *ResolveRequest
			handler := func(_ context.Context, req ResolveRequest) error {
				got = &req
				return tt.handlerErr
			}

			c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
			if err := c.handleDelivery(context.Background(), delivery, handler); err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if (got != nil) != tt.wantHandled {
				t.Fatalf("handler called = %v, want %v", got != nil, tt.wantHandled)
			}
			if got != nil && got.CorrelationID != "corr-from-header" {
				t.Fatalf("CorrelationID = %q, want header fallback", got.CorrelationID)
			}
			if ack.acked != tt.wantAcked || ack.nacked != tt.wantNacked || ack.rejected != tt.wantRejected {
				t.Fatalf("ack/nack/reject = %d/%d/%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tt.wantAcked, tt.wantNacked, tt.wantRejected)
			}
			if tt.wantNacked > 0 && !ack.requeued {
				t.Fatal("nack should requeue")
			}
		})
	}
}

func TestRabbitMQPublisherNotInitialized(t *testing.T) {
	var p *RabbitMQPublisher
	if err := p.publish(context.Background(), ResolveQueue, "M1", "", ResolveRequest{MandateID: "M1"}); err == nil {
		t.Fatal("expected error for nil publisher")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() on nil publisher error = %v", err)
	}

	if err := NewRabbitMQPublisher(nil).PublishResolveRequest(context.Background(), ResolveRequest{}); err == nil {
		t.Fatal("expected validation error for empty request")
	}
}

func TestTopologyDeadLettersWorkQueuesOnly(t *testing.T) {
	got := map[string]bool{}
	for _, spec := range topology() {
		got[spec.name] = spec.deadLetter
	}

	if dl, ok := got[ResolveQueue]; !ok || !dl {
		t.Fatalf("%s missing or without dead-letter: %v", ResolveQueue, got)
	}
	if dl, ok := got[OutcomeQueue]; !ok || dl {
		t.Fatalf("%s missing or dead-lettered: %v", OutcomeQueue, got)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %v", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Fatalf("nextBackoff(20s) = %v, want %v", got, maxBackoff)
	}
}

func TestSleepOrDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepOrDone(ctx, time.Hour) {
		t.Fatal("sleepOrDone should report false on a canceled context")
	}
	if !sleepOrDone(context.Background(), time.Millisecond) {
		t.Fatal("sleepOrDone should report true after the delay")
	}
}
