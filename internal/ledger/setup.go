package ledger

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/taxibcn/reten/internal/db"
)

// Migrate prepares the Postgres schema for GormStore.
func Migrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, "reten"); err != nil {
		return fmt.Errorf("ensure schema reten: %w", err)
	}

	if err := d.AutoMigrate(&PresenceRecord{}); err != nil {
		return fmt.Errorf("auto-migrate presence records: %w", err)
	}

	// At most one open interval per device.
	if err := d.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS presence_records_one_open
		ON reten.presence_records (device_id) WHERE exited_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create presence_records_one_open: %w", err)
	}
	return nil
}
