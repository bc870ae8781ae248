package location

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxibcn/reten/internal/zones"
)

const stream = "$GPGSV,3,1,11,10,63,137,17,07,61,098,15,05,59,290,20,08,54,157,30*70\r\n" +
	"garbage\r\n" +
	"$GPGGA,092750.000,4117.5800,N,00203.2100,E,1,8,1.03,61.7,M,55.2,M,,*61\r\n" +
	"$GNRMC,092751.000,A,4118.2220,N,00204.1100,E,0.02,31.66,140325,,,A*41\r\n"

func TestGPSKeepsLatestFix(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	g := NewGPS(strings.NewReader(stream), slogtest.Make(t, nil), clock)
	require.NoError(t, g.Run(ctx))

	p, err := g.CurrentLocation(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 41.3037, p.Lat, 1e-9)
	assert.InDelta(t, 2.0685, p.Lng, 1e-9)
}

func TestGPSWaitsForFreshFix(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pr, pw := io.Pipe()
	clock := quartz.NewMock(t)
	g := NewGPS(pr, slogtest.Make(t, nil), clock)

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	got := make(chan zones.Point, 1)
	go func() {
		p, err := g.CurrentLocation(ctx)
		assert.NoError(t, err)
		got <- p
	}()

	_, err := io.WriteString(pw, "$GPGGA,092750.000,4117.5800,N,00203.2100,E,1,8,1.03,61.7,M,55.2,M,,*61\r\n")
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.InDelta(t, 41.293, p.Lat, 1e-9)
	case <-ctx.Done():
		t.Fatal("timed out waiting for a fix")
	}

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}

func TestGPSStaleFixTimesOut(t *testing.T) {
	clock := quartz.NewMock(t)
	g := NewGPS(strings.NewReader(stream), slogtest.Make(t, nil), clock)
	require.NoError(t, g.Run(context.Background()))

	clock.Advance(DefaultMaxFixAge + time.Second).MustWait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.CurrentLocation(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatic(t *testing.T) {
	p, err := Static{Point: zones.Point{Lat: 41.38, Lng: 2.14}}.CurrentLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, zones.Point{Lat: 41.38, Lng: 2.14}, p)
}
