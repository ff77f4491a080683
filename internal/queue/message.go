package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

// ResolveRequest asks a worker to resolve one mandate in the background.
type ResolveRequest struct {
	MandateID     string    `json:"mandateId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	RequestedAt   time.Time `json:"requestedAt"`
}

func (m ResolveRequest) Validate() error {
	if strings.TrimSpace(m.MandateID) == "" {
		return fmt.Errorf("mandateId is required")
	}
	return nil
}

// OutcomeMessage is the broker payload for a delivered resolution outcome.
type OutcomeMessage struct {
	MandateID     string    `json:"mandateId"`
	FinalState    string    `json:"finalState"`
	Message       string    `json:"message"`
	Reason        string    `json:"reason"`
	Attempts      int       `json:"attempts"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func NewOutcomeMessage(outcome domain.ResolutionOutcome, correlationID string) OutcomeMessage {
	return OutcomeMessage{
		MandateID:     outcome.MandateID.String(),
		FinalState:    outcome.FinalState.String(),
		Message:       outcome.Message,
		Reason:        outcome.Reason.String(),
		Attempts:      outcome.Attempts,
		Timestamp:     outcome.Timestamp,
		CorrelationID: correlationID,
	}
}

func (m OutcomeMessage) Validate() error {
	if strings.TrimSpace(m.MandateID) == "" {
		return fmt.Errorf("mandateId is required")
	}
	state, err := domain.ParseLifecycleState(m.FinalState)
	if err != nil {
		return err
	}
	if !state.IsTerminal() {
		return fmt.Errorf("finalState %q is not terminal", m.FinalState)
	}
	return nil
}
