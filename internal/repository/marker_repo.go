package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarkerStore keeps at most one pending marker per key.
// Get and Consume return domain.ErrNotFound when no live marker exists.
type MarkerStore interface {
	Put(ctx context.Context, marker domain.PendingMarker) error
	Get(ctx context.Context, key string) (*domain.PendingMarker, error)
	// Consume reads and removes the marker in one step, so concurrent resumes see it at most once.
	Consume(ctx context.Context, key string) (*domain.PendingMarker, error)
	Remove(ctx context.Context, key string) error
}

var _ MarkerStore = (*GormMarkerRepo)(nil)

type GormMarkerRepo struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewGormMarkerRepo returns a postgres backed store. A non-positive ttl keeps markers until consumed.
func NewGormMarkerRepo(db *gorm.DB, ttl time.Duration) *GormMarkerRepo {
	return &GormMarkerRepo{db: db, ttl: ttl, now: time.Now}
}

func (r *GormMarkerRepo) Put(ctx context.Context, marker domain.PendingMarker) error {
	if err := marker.Validate(); err != nil {
		return err
	}

	now := r.now().UTC()
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = now
	}

	var expiresAt *time.Time
	if r.ttl > 0 {
		t := now.Add(r.ttl)
		expiresAt = &t
	}

	model := markerModelFromDomain(&marker, expiresAt)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"mandate_id", "created_at", "expires_at"}),
		}).
		Create(model).Error
}

func (r *GormMarkerRepo) Get(ctx context.Context, key string) (*domain.PendingMarker, error) {
	var model PendingMarkerModel
	err := r.db.WithContext(ctx).First(&model, "key = ?", domain.NormalizeMarkerKey(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if model.expired(r.now()) {
		return nil, domain.ErrNotFound
	}

	return markerModelToDomain(&model), nil
}

func (r *GormMarkerRepo) Consume(ctx context.Context, key string) (*domain.PendingMarker, error) {
	var models []PendingMarkerModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("key = ?", domain.NormalizeMarkerKey(key)).
		Delete(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 || models[0].expired(r.now()) {
		return nil, domain.ErrNotFound
	}

	return markerModelToDomain(&models[0]), nil
}

func (r *GormMarkerRepo) Remove(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).
		Where("key = ?", domain.NormalizeMarkerKey(key)).
		Delete(&PendingMarkerModel{}).Error
}

// PurgeExpired deletes markers whose ttl has passed and reports how many were removed.
func (r *GormMarkerRepo) PurgeExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", r.now().UTC()).
		Delete(&PendingMarkerModel{})
	return result.RowsAffected, result.Error
}
