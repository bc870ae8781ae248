// Package tracker samples the device location on a fixed cadence and keeps a
// best-effort mirror of the zone the server last placed the device in.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/taxibcn/reten/internal/zones"
)

const (
	DefaultInterval         = 5 * time.Minute
	DefaultMinForceInterval = 30 * time.Second
	DefaultLocateTimeout    = 15 * time.Second

	subscriberBuffer = 8
)

var ErrAlreadyRunning = errors.New("tracker already running")

// LocationProvider yields the current position of the device.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (zones.Point, error)
}

// Observation is the server's answer to a location check. Zone is empty when
// the device is outside every zone. Throttled answers carry no information.
type Observation struct {
	Zone      string
	Throttled bool
}

// Geofence is the server side of the tracker.
type Geofence interface {
	Check(ctx context.Context, deviceID string, p zones.Point) (Observation, error)
	Exit(ctx context.Context, deviceID, zone string) error
}

// ZoneChange is delivered to subscribers when the mirrored zone changes. An
// empty zone means outside every zone.
type ZoneChange struct {
	From string
	To   string
	At   time.Time
}

type Status struct {
	Running   bool
	Zone      string
	LastCheck time.Time
}

type Option func(*Tracker)

func WithClock(c quartz.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

func WithLocateTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.locateTimeout = d }
}

func WithMinForceInterval(d time.Duration) Option {
	return func(t *Tracker) { t.minForce = d }
}

// Tracker runs check cycles while started. Cycles never overlap, and a cycle
// still in flight when Stop is called has its result discarded.
type Tracker struct {
	deviceID      string
	locator       LocationProvider
	geofence      Geofence
	logger        slog.Logger
	clock         quartz.Clock
	interval      time.Duration
	locateTimeout time.Duration
	minForce      time.Duration

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	generation uint64
	busy       bool
	lastZone   string
	lastCheck  time.Time
	subs       map[int]chan ZoneChange
	nextSub    int
}

func New(deviceID string, locator LocationProvider, geofence Geofence, logger slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		deviceID:      deviceID,
		locator:       locator,
		geofence:      geofence,
		logger:        logger,
		clock:         quartz.NewReal(),
		interval:      DefaultInterval,
		locateTimeout: DefaultLocateTimeout,
		minForce:      DefaultMinForceInterval,
		subs:          make(map[int]chan ZoneChange),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins periodic checks. The first check runs one interval after
// Start.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.clock.TickerFunc(ctx, t.interval, func() error {
		t.cycle(ctx, false)
		return nil
	}, "tracker")

	t.logger.Info(ctx, "auto tracking started", slog.F("interval", t.interval))
	return nil
}

// Stop cancels the ticker and forgets the mirrored zone. Stopping a stopped
// tracker is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.cancel()
	t.cancel = nil
	t.running = false
	t.generation++
	t.busy = false
	t.lastZone = ""
	t.logger.Info(context.Background(), "auto tracking stopped")
}

// ForceCheck runs a check now, whether or not the tracker is started, unless
// one ran within the minimum force interval or one is in flight; then it
// returns the mirrored zone and false.
func (t *Tracker) ForceCheck(ctx context.Context) (string, bool) {
	return t.cycle(ctx, true)
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{Running: t.running, Zone: t.lastZone, LastCheck: t.lastCheck}
}

// Subscribe registers for zone changes. Slow subscribers lose the oldest
// pending change. The returned func unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan ZoneChange, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan ZoneChange, subscriberBuffer)
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

func (t *Tracker) cycle(ctx context.Context, force bool) (string, bool) {
	t.mu.Lock()
	if (!t.running && !force) || t.busy {
		zone := t.lastZone
		t.mu.Unlock()
		return zone, false
	}
	now := t.clock.Now()
	if force && !t.lastCheck.IsZero() && now.Sub(t.lastCheck) < t.minForce {
		zone := t.lastZone
		t.mu.Unlock()
		return zone, false
	}
	t.busy = true
	t.lastCheck = now
	gen := t.generation
	prev := t.lastZone
	t.mu.Unlock()

	zone, ok := t.observe(ctx)

	if ok && prev != "" && zone == "" && t.current(gen) {
		if err := t.geofence.Exit(ctx, t.deviceID, prev); err != nil {
			t.logger.Warn(ctx, "zone exit failed", slog.F("zone", prev), slog.Error(err))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		return t.lastZone, false
	}
	t.busy = false
	if !ok || zone == prev {
		return t.lastZone, true
	}

	t.lastZone = zone
	t.notifyLocked(ZoneChange{From: prev, To: zone, At: t.clock.Now()})
	t.logger.Info(ctx, "zone changed", slog.F("from", prev), slog.F("to", zone))
	return zone, true
}

// observe locates the device and asks the server where it is. ok is false
// when the cycle learned nothing.
func (t *Tracker) observe(ctx context.Context) (zone string, ok bool) {
	lctx, cancel := context.WithTimeout(ctx, t.locateTimeout)
	p, err := t.locator.CurrentLocation(lctx)
	cancel()
	if err != nil {
		t.logger.Debug(ctx, "location unavailable", slog.Error(err))
		return "", false
	}

	obs, err := t.geofence.Check(ctx, t.deviceID, p)
	if err != nil {
		t.logger.Warn(ctx, "geofence check failed", slog.Error(err))
		return "", false
	}
	if obs.Throttled {
		t.logger.Debug(ctx, "geofence check throttled")
		return "", false
	}
	return obs.Zone, true
}

func (t *Tracker) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.generation
}

func (t *Tracker) notifyLocked(ev ZoneChange) {
	for _, ch := range t.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
