package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addPendingMarkersExpiryIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_pending_markers_expiry_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_pending_markers_expires_at ON pending_markers (expires_at) WHERE expires_at IS NOT NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_pending_markers_expires_at`).Error
		},
	}
}
