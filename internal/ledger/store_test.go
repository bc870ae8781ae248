package ledger_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxibcn/reten/internal/db"
	"github.com/taxibcn/reten/internal/ledger"
	"github.com/taxibcn/reten/internal/zones"
)

var (
	t0      = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	airport = zones.Point{Lat: 41.2930, Lng: 2.0535}
)

// stores yields every Store implementation available in this environment.
// Postgres runs only when DATABASE_URL is set.
func stores(t *testing.T) map[string]ledger.Store {
	t.Helper()

	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	out := map[string]ledger.Store{"sqlite": ledger.NewSQLiteStore(sqlDB)}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		gdb, err := db.Connect(dsn)
		require.NoError(t, err)
		require.NoError(t, ledger.Migrate(gdb))
		out["postgres"] = ledger.NewGormStore(gdb)
	}
	return out
}

func newDevice() string { return uuid.NewString() }

// zoneNames are unique per test so runs against a shared database don't see
// each other's records.
func zoneNames(n int) []string {
	prefix := uuid.NewString()[:8]
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + "-Z" + string(rune('A'+i))
	}
	return out
}

func openCount(t *testing.T, s ledger.Store, device string) int {
	t.Helper()
	_, err := s.OpenRecord(context.Background(), device)
	if err == ledger.ErrNotFound {
		return 0
	}
	require.NoError(t, err)
	return 1
}

func TestStores(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("EnterMovesBetweenZones", func(t *testing.T) { testEnterMoves(t, s) })
			t.Run("EnterSameZoneResumes", func(t *testing.T) { testEnterResumes(t, s) })
			t.Run("ExitIsIdempotent", func(t *testing.T) { testExitIdempotent(t, s) })
			t.Run("ExitClampsToEntry", func(t *testing.T) { testExitClamp(t, s) })
			t.Run("ConcurrentEntriesKeepOneOpen", func(t *testing.T) { testConcurrentEntries(t, s) })
			t.Run("LatestEntry", func(t *testing.T) { testLatestEntry(t, s) })
			t.Run("Snapshot", func(t *testing.T) { testSnapshot(t, s) })
		})
	}
}

func testEnterMoves(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	l := ledger.New(s, zones.Barcelona, 0)
	dev := newDevice()
	zs := zoneNames(2)

	first, err := l.RecordEntry(ctx, dev, zs[0], airport, t0)
	require.NoError(t, err)
	assert.False(t, first.Resumed)
	assert.Nil(t, first.Exited)

	second, err := l.RecordEntry(ctx, dev, zs[1], airport, t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, second.Exited)
	assert.Equal(t, first.Record.ID, second.Exited.ID)
	assert.Equal(t, 10*time.Minute, second.Exited.Dwell())
	assert.Equal(t, zs[1], second.Record.Zone)

	cur, err := l.Current(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, second.Record.ID, cur.ID)
	assert.Equal(t, 1, openCount(t, s, dev))
}

func testEnterResumes(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	l := ledger.New(s, zones.Barcelona, 0)
	dev := newDevice()
	zs := zoneNames(1)

	first, err := l.RecordEntry(ctx, dev, zs[0], airport, t0)
	require.NoError(t, err)

	again, err := l.RecordEntry(ctx, dev, zs[0], airport, t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Record.ID, again.Record.ID)
	assert.True(t, again.Record.EnteredAt.Equal(t0))

	counts, err := s.OpenCounts(ctx, zs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[zs[0]])
}

func testExitIdempotent(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	l := ledger.New(s, zones.Barcelona, 0)
	dev := newDevice()
	zs := zoneNames(2)

	_, err := l.RecordEntry(ctx, dev, zs[0], airport, t0)
	require.NoError(t, err)

	// Exiting a zone the device is not in leaves the open record alone.
	_, err = l.RecordExit(ctx, dev, zs[1], t0.Add(time.Minute))
	require.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, 1, openCount(t, s, dev))

	rec, err := l.RecordExit(ctx, dev, zs[0], t0.Add(20*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, rec.ExitedAt)
	assert.Equal(t, 20*time.Minute, rec.Dwell())

	_, err = l.RecordExit(ctx, dev, zs[0], t0.Add(21*time.Minute))
	require.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, 0, openCount(t, s, dev))
}

func testExitClamp(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	l := ledger.New(s, zones.Barcelona, 0)
	dev := newDevice()
	zs := zoneNames(1)

	_, err := l.RecordEntry(ctx, dev, zs[0], airport, t0)
	require.NoError(t, err)

	rec, err := l.RecordExit(ctx, dev, zs[0], t0.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, rec.ExitedAt)
	assert.True(t, rec.ExitedAt.Equal(t0))
	assert.Zero(t, rec.Dwell())
}

func testConcurrentEntries(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	l := ledger.New(s, zones.Barcelona, 0)
	dev := newDevice()
	zs := zoneNames(3)

	var wg sync.WaitGroup
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at := t0.Add(time.Duration(i) * time.Second)
			if i%4 == 3 {
				_, _ = l.RecordExit(ctx, dev, zs[i%3], at)
				return
			}
			_, _ = l.RecordEntry(ctx, dev, zs[i%3], airport, at)
		}()
	}
	wg.Wait()

	counts, err := s.OpenCounts(ctx, zs)
	require.NoError(t, err)
	var open int64
	for _, n := range counts {
		open += n
	}
	assert.LessOrEqual(t, open, int64(1))
}

func testLatestEntry(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	l := ledger.New(s, zones.Barcelona, 0)
	dev := newDevice()
	zs := zoneNames(2)

	_, err := l.LatestEntry(ctx, dev)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.RecordEntry(ctx, dev, zs[0], airport, t0)
	require.NoError(t, err)
	_, err = l.RecordEntry(ctx, dev, zs[1], airport, t0.Add(7*time.Minute))
	require.NoError(t, err)

	latest, err := l.LatestEntry(ctx, dev)
	require.NoError(t, err)
	assert.True(t, latest.Equal(t0.Add(7*time.Minute)), "latest %s", latest)
}

func testSnapshot(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	l := ledger.New(s, zones.Barcelona, 3)
	zs := zoneNames(2)
	now := t0.Add(3 * time.Hour)

	// Completed waits of 10, 20 and 40 minutes inside the window.
	for i, dwell := range []time.Duration{10, 20, 40} {
		dev := newDevice()
		in := now.Add(-time.Hour - time.Duration(i)*time.Minute)
		_, err := l.RecordEntry(ctx, dev, zs[0], airport, in)
		require.NoError(t, err)
		_, err = l.RecordExit(ctx, dev, zs[0], in.Add(dwell*time.Minute))
		require.NoError(t, err)
	}
	// Entered before the window: ignored by the statistics.
	old := newDevice()
	_, err := l.RecordEntry(ctx, old, zs[0], airport, now.Add(-3*time.Hour))
	require.NoError(t, err)
	_, err = l.RecordExit(ctx, old, zs[0], now.Add(-2*time.Hour-30*time.Minute))
	require.NoError(t, err)

	// Two taxis still waiting, one of them since before the window.
	_, err = l.RecordEntry(ctx, newDevice(), zs[0], airport, now.Add(-5*time.Minute))
	require.NoError(t, err)
	_, err = l.RecordEntry(ctx, newDevice(), zs[0], airport, now.Add(-4*time.Hour))
	require.NoError(t, err)

	// One completed wait in the second zone is not enough for statistics.
	dev := newDevice()
	_, err = l.RecordEntry(ctx, dev, zs[1], airport, now.Add(-30*time.Minute))
	require.NoError(t, err)
	_, err = l.RecordExit(ctx, dev, zs[1], now.Add(-15*time.Minute))
	require.NoError(t, err)

	snaps, err := l.SnapshotAll(ctx, zs, 2*time.Hour, now)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	busy := snaps[0]
	assert.Equal(t, zs[0], busy.Zone)
	assert.Equal(t, int64(2), busy.ActiveCount)
	assert.Equal(t, 3, busy.CompletedCount)
	assert.True(t, busy.HasRealData)
	require.NotNil(t, busy.AverageDwellMinutes)
	assert.InDelta(t, 70.0/3, *busy.AverageDwellMinutes, 1e-9)
	require.NotNil(t, busy.MedianDwellMinutes)
	assert.InDelta(t, 20, *busy.MedianDwellMinutes, 1e-9)
	assert.Equal(t, 120.0, busy.WindowMinutes)

	quiet := snaps[1]
	assert.Equal(t, int64(0), quiet.ActiveCount)
	assert.Equal(t, 1, quiet.CompletedCount)
	assert.False(t, quiet.HasRealData)
	assert.Nil(t, quiet.AverageDwellMinutes)
	assert.Nil(t, quiet.MedianDwellMinutes)

	one, err := l.Snapshot(ctx, zs[1], 2*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, quiet, one)
}
