package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mandate-engine/internal/repository"
	"gorm.io/gorm"
)

func createPendingMarkersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_pending_markers",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.PendingMarkerModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PendingMarkerModel{})
		},
	}
}
