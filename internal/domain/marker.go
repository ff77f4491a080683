package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMarkerKey scopes the pending marker when the caller does not supply one.
const DefaultMarkerKey = "default"

// PendingMarker records a mandate whose status must be resolved when the user returns.
type PendingMarker struct {
	Key       string
	MandateID MandateID
	CreatedAt time.Time
}

func (m PendingMarker) Validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return fmt.Errorf("%w: marker key is required", ErrValidation)
	}
	return m.MandateID.Validate()
}

// NormalizeMarkerKey trims a caller supplied key and falls back to DefaultMarkerKey.
func NormalizeMarkerKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return DefaultMarkerKey
	}
	return key
}
