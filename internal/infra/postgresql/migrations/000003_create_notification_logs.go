package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"gorm.io/gorm"
)

func createNotificationLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_notification_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationLogModel{}); err != nil {
				return err
			}
			// One sent row per (event, kind, offset); confirmations have a NULL offset.
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_logs_sent_once ON notification_logs (event_id, kind, COALESCE(offset_minutes, -1)) WHERE status = 'sent'`,
				`CREATE INDEX IF NOT EXISTS idx_notification_logs_event ON notification_logs (event_id, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationLogModel{})
		},
	}
}
