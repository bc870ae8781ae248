package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	var n int
	require.NoError(t, second.QueryRow(`SELECT COUNT(*) FROM presence_records`).Scan(&n))
	require.Zero(t, n)
}

func TestOneOpenRecordPerDevice(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	insert := `INSERT INTO presence_records (id, device_id, zone, entered_at, exited_at, latitude, longitude)
		VALUES (?, 'dev', ?, 1, ?, 41.3, 2.07)`
	_, err = db.Exec(insert, "a", "T1", 5)
	require.NoError(t, err)
	_, err = db.Exec(insert, "b", "T1", nil)
	require.NoError(t, err)
	_, err = db.Exec(insert, "c", "T2", nil)
	require.Error(t, err)
}
