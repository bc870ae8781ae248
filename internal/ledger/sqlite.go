package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore keeps the ledger in a local SQLite file. Timestamps are stored as
// Unix nanoseconds. The *sql.DB must have the presence_records migration
// applied (see db.OpenSQLite).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteColumns = `id, device_id, zone, entered_at, exited_at, latitude, longitude`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (PresenceRecord, error) {
	var (
		rec     PresenceRecord
		entered int64
		exited  sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.DeviceID, &rec.Zone, &entered, &exited, &rec.Latitude, &rec.Longitude); err != nil {
		return PresenceRecord{}, err
	}
	rec.EnteredAt = time.Unix(0, entered).UTC()
	if exited.Valid {
		t := time.Unix(0, exited.Int64).UTC()
		rec.ExitedAt = &t
	}
	return rec, nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) &&
		(se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func (s *SQLiteStore) Enter(ctx context.Context, rec PresenceRecord) (tr Transition, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	open, err := scanSQLiteRecord(tx.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM presence_records WHERE device_id = ? AND exited_at IS NULL`,
		rec.DeviceID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Transition{}, fmt.Errorf("load open record: %w", err)
	case open.Zone == rec.Zone:
		if err = tx.Commit(); err != nil {
			return Transition{}, err
		}
		return Transition{Record: open, Resumed: true}, nil
	default:
		exitAt := later(rec.EnteredAt, open.EnteredAt)
		res, err := tx.ExecContext(ctx,
			`UPDATE presence_records SET exited_at = ? WHERE id = ? AND exited_at IS NULL`,
			exitAt.UnixNano(), open.ID)
		if err != nil {
			return Transition{}, fmt.Errorf("close previous record: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return Transition{}, ErrConflict
		}
		open.ExitedAt = &exitAt
		tr.Exited = &open
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO presence_records (`+sqliteColumns+`) VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		rec.ID, rec.DeviceID, rec.Zone, rec.EnteredAt.UnixNano(), rec.Latitude, rec.Longitude)
	if err != nil {
		if isSQLiteUnique(err) {
			return Transition{}, ErrConflict
		}
		return Transition{}, fmt.Errorf("insert record: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return Transition{}, err
	}

	tr.Record = rec
	return tr, nil
}

func (s *SQLiteStore) Exit(ctx context.Context, deviceID, zone string, at time.Time) (PresenceRecord, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, `
		UPDATE presence_records SET exited_at = MAX(?, entered_at)
		WHERE id = (
			SELECT id FROM presence_records
			WHERE device_id = ? AND zone = ? AND exited_at IS NULL
			ORDER BY entered_at DESC LIMIT 1
		) AND exited_at IS NULL
		RETURNING `+sqliteColumns,
		at.UnixNano(), deviceID, zone))
	if errors.Is(err, sql.ErrNoRows) {
		return PresenceRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) LatestEntry(ctx context.Context, deviceID string) (time.Time, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(entered_at) FROM presence_records WHERE device_id = ?`, deviceID).Scan(&latest)
	if err != nil {
		return time.Time{}, err
	}
	if !latest.Valid {
		return time.Time{}, ErrNotFound
	}
	return time.Unix(0, latest.Int64).UTC(), nil
}

func (s *SQLiteStore) OpenRecord(ctx context.Context, deviceID string) (PresenceRecord, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM presence_records WHERE device_id = ? AND exited_at IS NULL`,
		deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return PresenceRecord{}, ErrNotFound
	}
	return rec, err
}

func inPlaceholders(zones []string) (string, []any) {
	args := make([]any, len(zones))
	for i, z := range zones {
		args[i] = z
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(zones)), ", "), args
}

func (s *SQLiteStore) OpenCounts(ctx context.Context, zones []string) (map[string]int64, error) {
	ph, args := inPlaceholders(zones)
	rows, err := s.db.QueryContext(ctx,
		`SELECT zone, COUNT(*) FROM presence_records
		WHERE exited_at IS NULL AND zone IN (`+ph+`) GROUP BY zone`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64, len(zones))
	for rows.Next() {
		var (
			zone string
			n    int64
		)
		if err := rows.Scan(&zone, &n); err != nil {
			return nil, err
		}
		counts[zone] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) ClosedSince(ctx context.Context, zones []string, since time.Time) ([]PresenceRecord, error) {
	ph, args := inPlaceholders(zones)
	args = append(args, since.UnixNano())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM presence_records
		WHERE zone IN (`+ph+`) AND exited_at IS NOT NULL AND entered_at >= ?
		ORDER BY entered_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PresenceRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
