package repository

import (
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

// PendingMarkerModel is the persistence model for the pending_markers table.
type PendingMarkerModel struct {
	Key       string           `gorm:"type:varchar(128);primaryKey"`
	MandateID domain.MandateID `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time        `gorm:"type:timestamptz;not null"`
	ExpiresAt *time.Time       `gorm:"type:timestamptz"`
}

func (PendingMarkerModel) TableName() string {
	return "pending_markers"
}

func markerModelFromDomain(m *domain.PendingMarker, expiresAt *time.Time) *PendingMarkerModel {
	if m == nil {
		return nil
	}

	return &PendingMarkerModel{
		Key:       m.Key,
		MandateID: m.MandateID,
		CreatedAt: m.CreatedAt,
		ExpiresAt: expiresAt,
	}
}

func markerModelToDomain(m *PendingMarkerModel) *domain.PendingMarker {
	if m == nil {
		return nil
	}

	return &domain.PendingMarker{
		Key:       m.Key,
		MandateID: m.MandateID,
		CreatedAt: m.CreatedAt,
	}
}

func (m *PendingMarkerModel) expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}
