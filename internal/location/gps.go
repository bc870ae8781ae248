package location

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"go.bug.st/serial"
	"golang.org/x/time/rate"

	"github.com/taxibcn/reten/internal/zones"
)

// DefaultMaxFixAge is how old the last fix may be before CurrentLocation waits
// for a new one.
const DefaultMaxFixAge = 30 * time.Second

// OpenSerial opens an NMEA receiver (8N1).
func OpenSerial(port string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(port, mode)
}

// GPS keeps the latest fix read from an NMEA stream.
type GPS struct {
	r      io.Reader
	logger slog.Logger
	clock  quartz.Clock
	maxAge time.Duration
	// noisy throttles logging of malformed sentences.
	noisy rate.Sometimes

	mu      sync.Mutex
	fix     zones.Point
	fixAt   time.Time
	updated chan struct{}
}

func NewGPS(r io.Reader, logger slog.Logger, clock quartz.Clock) *GPS {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &GPS{
		r:       r,
		logger:  logger,
		clock:   clock,
		maxAge:  DefaultMaxFixAge,
		noisy:   rate.Sometimes{First: 1, Interval: time.Minute},
		updated: make(chan struct{}),
	}
}

// Run reads sentences until the stream ends or ctx is done. Close the
// underlying reader to stop a blocked read.
func (g *GPS) Run(ctx context.Context) error {
	sc := bufio.NewScanner(g.r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		p, ok, err := ParseSentence(sc.Text())
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if err != nil {
			g.noisy.Do(func() {
				g.logger.Debug(ctx, "malformed nmea sentence", slog.Error(err))
			})
			continue
		}
		if ok {
			g.update(p)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

func (g *GPS) update(p zones.Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fix = p
	g.fixAt = g.clock.Now()
	close(g.updated)
	g.updated = make(chan struct{})
}

// CurrentLocation returns the latest fix, waiting for a new one when it is
// stale.
func (g *GPS) CurrentLocation(ctx context.Context) (zones.Point, error) {
	for {
		g.mu.Lock()
		if !g.fixAt.IsZero() && g.clock.Since(g.fixAt) <= g.maxAge {
			p := g.fix
			g.mu.Unlock()
			return p, nil
		}
		wait := g.updated
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return zones.Point{}, ctx.Err()
		case <-wait:
		}
	}
}

// Static always reports the same position.
type Static struct {
	Point zones.Point
}

func (s Static) CurrentLocation(context.Context) (zones.Point, error) {
	return s.Point, nil
}
