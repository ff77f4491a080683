package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// ErrNoPendingMandate is returned when a resume finds no pending marker.
	ErrNoPendingMandate = errors.New("no pending mandate")

	// ErrResolutionInFlight is returned when a resolution for the same mandate id is already running.
	ErrResolutionInFlight = errors.New("mandate resolution already in flight")
)
