package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MandateID is the opaque backend identifier of a mandate.
type MandateID string

func (id MandateID) String() string { return string(id) }

func (id MandateID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("%w: mandate id is required", ErrValidation)
	}
	return nil
}

func ParseMandateID(s string) (MandateID, error) {
	id := MandateID(strings.TrimSpace(s))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// NewMandateID returns a 32 character upper-case hex id, e.g. 79A329A004C74810988D2190C777520B.
func NewMandateID() MandateID {
	return MandateID(strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")))
}

// LifecycleState is the canonical mandate state.
type LifecycleState string

const (
	StatePending    LifecycleState = "PENDING"
	StateProcessing LifecycleState = "PROCESSING"
	StateSuccess    LifecycleState = "SUCCESS"
	StateFailed     LifecycleState = "FAILED"
)

func (s LifecycleState) String() string { return string(s) }

func (s LifecycleState) IsValid() bool {
	switch s {
	case StatePending, StateProcessing, StateSuccess, StateFailed:
		return true
	}
	return false
}

func (s LifecycleState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

func ParseLifecycleState(s string) (LifecycleState, error) {
	st := LifecycleState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid lifecycle state %q", ErrValidation, s)
	}
	return st, nil
}

// InterpretRawStatus maps a backend status token onto the lifecycle.
// Unknown or empty tokens are PROCESSING.
func InterpretRawStatus(raw string) LifecycleState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "COMPLETED":
		return StateSuccess
	case "FAILED", "FAILURE", "ERROR":
		return StateFailed
	case "PENDING", "INITIATED":
		return StatePending
	default:
		return StateProcessing
	}
}

// Advance moves to next unless s is already terminal.
func (s LifecycleState) Advance(next LifecycleState) LifecycleState {
	if s.IsTerminal() || !next.IsValid() {
		return s
	}
	return next
}

// ForceTerminal closes a non-terminal state as FAILED.
func (s LifecycleState) ForceTerminal() LifecycleState {
	if s.IsTerminal() {
		return s
	}
	return StateFailed
}
