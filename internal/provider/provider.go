package provider

import (
	"context"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

// StatusFetcher performs one mandate status round-trip and classifies the result.
// Implementations never return errors; failures are encoded in the result.
type StatusFetcher interface {
	Fetch(ctx context.Context, mandateID domain.MandateID) domain.StatusCheckResult
}

// AccountFetcher resolves the bank account linked to a mobile number.
type AccountFetcher interface {
	Lookup(ctx context.Context, mobileNumber string) (*domain.AccountDetails, error)
}
