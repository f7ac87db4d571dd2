package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"gorm.io/gorm"
)

func createAuditLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_audit_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AuditLogModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_audit_logs_event ON audit_logs (event_id, created_at) WHERE event_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_audit_logs_type_created ON audit_logs (type, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AuditLogModel{})
		},
	}
}
