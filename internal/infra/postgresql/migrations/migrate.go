package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, All()).Migrate()
}

// All returns the ordered migration list.
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createUsersTable(),
		createEventsTable(),
		createNotificationLogsTable(),
		createAuditLogsTable(),
	}
}

func execAll(tx *gorm.DB, statements []string) error {
	for _, sql := range statements {
		if err := tx.Exec(sql).Error; err != nil {
			return err
		}
	}
	return nil
}
