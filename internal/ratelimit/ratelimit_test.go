package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxibcn/reten/internal/ledger"
)

type fakeSource struct {
	last time.Time
	err  error
}

func (f fakeSource) LatestEntry(context.Context, string) (time.Time, error) {
	return f.last, f.err
}

func TestCheck(t *testing.T) {
	last := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		elapsed   time.Duration
		allowed   bool
		remaining int
	}{
		{"just entered", 0, false, 300},
		{"4m59s", 4*time.Minute + 59*time.Second, false, 1},
		{"4m30.2s rounds up", 4*time.Minute + 30*time.Second + 200*time.Millisecond, false, 30},
		{"exactly five minutes", 5 * time.Minute, true, 0},
		{"5m01s", 5*time.Minute + time.Second, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(fakeSource{last: last}, DefaultCooldown)
			d, err := l.Check(context.Background(), "dev", last.Add(tt.elapsed))
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.remaining, d.RemainingSeconds())
		})
	}
}

func TestCheckWithoutHistory(t *testing.T) {
	l := New(fakeSource{err: ledger.ErrNotFound}, DefaultCooldown)
	d, err := l.Check(context.Background(), "dev", time.Now())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckStorageFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	l := New(fakeSource{err: boom}, DefaultCooldown)
	_, err := l.Check(context.Background(), "dev", time.Now())
	require.ErrorIs(t, err, boom)
}

func TestDefaultCooldown(t *testing.T) {
	assert.Equal(t, DefaultCooldown, New(fakeSource{}, 0).Cooldown())
}
