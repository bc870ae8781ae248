package geofence

import (
	"context"
	"fmt"
	"log"

	"github.com/taxibcn/reten/internal/db"
	"github.com/taxibcn/reten/internal/events"
	"github.com/taxibcn/reten/internal/ledger"
)

// OpenStore picks the ledger backend: Postgres when databaseURL is set,
// otherwise the SQLite file at sqlitePath. The returned func releases it.
func OpenStore(databaseURL, sqlitePath string) (ledger.Store, func() error, error) {
	if databaseURL != "" {
		gdb, err := db.Connect(databaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := ledger.Migrate(gdb); err != nil {
			return nil, nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("get sql.DB: %w", err)
		}
		return ledger.NewGormStore(gdb), sqlDB.Close, nil
	}

	sqlDB, err := db.OpenSQLite(sqlitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite ledger %s: %w", sqlitePath, err)
	}
	log.Printf("[geofence] using SQLite ledger at %s", sqlitePath)
	return ledger.NewSQLiteStore(sqlDB), sqlDB.Close, nil
}

// NewPublisher returns a Kafka publisher, or a no-op one without brokers.
func NewPublisher(brokers []string, topic string) events.Publisher {
	if len(brokers) == 0 {
		return events.Nop{}
	}
	log.Printf("[geofence] publishing presence events to %s", topic)
	return events.NewKafkaPublisher(brokers, topic)
}

// Ping checks that the ledger answers.
func Ping(ctx context.Context, s ledger.Store) error {
	_, err := s.OpenCounts(ctx, []string{"_"})
	return err
}
