package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// GormStore keeps the ledger in Postgres. The partial unique index created by
// Migrate guarantees a single open record per device.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *GormStore) Enter(ctx context.Context, rec PresenceRecord) (Transition, error) {
	var tr Transition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open PresenceRecord
		err := tx.Where("device_id = ? AND exited_at IS NULL", rec.DeviceID).Take(&open).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case open.Zone == rec.Zone:
			tr = Transition{Record: open, Resumed: true}
			return nil
		default:
			exitAt := later(rec.EnteredAt, open.EnteredAt)
			res := tx.Model(&PresenceRecord{}).
				Where("id = ? AND exited_at IS NULL", open.ID).
				Update("exited_at", exitAt)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return ErrConflict
			}
			open.ExitedAt = &exitAt
			tr.Exited = &open
		}

		if err := tx.Create(&rec).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrConflict
			}
			return err
		}
		tr.Record = rec
		return nil
	})
	if err != nil {
		return Transition{}, err
	}
	return tr, nil
}

func (s *GormStore) Exit(ctx context.Context, deviceID, zone string, at time.Time) (PresenceRecord, error) {
	var rec PresenceRecord
	res := s.db.WithContext(ctx).Raw(`
		UPDATE reten.presence_records SET exited_at = GREATEST(?, entered_at)
		WHERE id = (
			SELECT id FROM reten.presence_records
			WHERE device_id = ? AND zone = ? AND exited_at IS NULL
			ORDER BY entered_at DESC LIMIT 1
		) AND exited_at IS NULL
		RETURNING *
	`, at, deviceID, zone).Scan(&rec)
	if res.Error != nil {
		return PresenceRecord{}, res.Error
	}
	if res.RowsAffected == 0 {
		return PresenceRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *GormStore) LatestEntry(ctx context.Context, deviceID string) (time.Time, error) {
	var rec PresenceRecord
	err := s.db.WithContext(ctx).
		Select("entered_at").
		Where("device_id = ?", deviceID).
		Order("entered_at DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return rec.EnteredAt.UTC(), nil
}

func (s *GormStore) OpenRecord(ctx context.Context, deviceID string) (PresenceRecord, error) {
	var rec PresenceRecord
	err := s.db.WithContext(ctx).Where("device_id = ? AND exited_at IS NULL", deviceID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PresenceRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *GormStore) OpenCounts(ctx context.Context, zones []string) (map[string]int64, error) {
	var rows []struct {
		Zone  string
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&PresenceRecord{}).
		Select("zone, COUNT(*) AS count").
		Where("exited_at IS NULL AND zone = ANY(?)", pq.Array(zones)).
		Group("zone").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Zone] = r.Count
	}
	return counts, nil
}

func (s *GormStore) ClosedSince(ctx context.Context, zones []string, since time.Time) ([]PresenceRecord, error) {
	var recs []PresenceRecord
	err := s.db.WithContext(ctx).
		Where("zone = ANY(?) AND exited_at IS NOT NULL AND entered_at >= ?", pq.Array(zones), since).
		Order("entered_at").
		Find(&recs).Error
	return recs, err
}
