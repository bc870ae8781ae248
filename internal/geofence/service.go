// Package geofence answers location checks from taxis and keeps the presence
// ledger in step with them.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/taxibcn/reten/internal/events"
	"github.com/taxibcn/reten/internal/ledger"
	"github.com/taxibcn/reten/internal/ratelimit"
	"github.com/taxibcn/reten/internal/spatial"
	"github.com/taxibcn/reten/internal/zones"
)

const DefaultWindow = 2 * time.Hour

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownZone  = errors.New("unknown zone")
)

type Options struct {
	// Tolerance is the buffer around zone edges in degrees.
	Tolerance float64
	// Window is the default trailing window of occupancy statistics.
	Window    time.Duration
	Clock     quartz.Clock
	Publisher events.Publisher
	Metrics   *Metrics
}

type Service struct {
	registry  *zones.Registry
	ledger    *ledger.Ledger
	limiter   *ratelimit.Limiter
	logger    slog.Logger
	tolerance float64
	window    time.Duration
	clock     quartz.Clock
	pub       events.Publisher
	metrics   *Metrics
}

func NewService(reg *zones.Registry, l *ledger.Ledger, lim *ratelimit.Limiter, logger slog.Logger, opts Options) *Service {
	if opts.Tolerance <= 0 {
		opts.Tolerance = spatial.DefaultTolerance
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	return &Service{
		registry:  reg,
		ledger:    l,
		limiter:   lim,
		logger:    logger,
		tolerance: opts.Tolerance,
		window:    opts.Window,
		clock:     opts.Clock,
		pub:       opts.Publisher,
		metrics:   opts.Metrics,
	}
}

func (s *Service) Zones() []zones.Zone { return s.registry.All() }

func (s *Service) Window() time.Duration { return s.window }

// CheckAndRegister classifies the sample and, for ActionRegister, records the
// device's entry into the matched zone. Any other action, an empty one
// included, is a query and persists nothing. A sample outside every zone never
// closes an open record; exits are explicit.
func (s *Service) CheckAndRegister(ctx context.Context, req CheckRequest) (CheckResult, error) {
	res, err := s.check(ctx, req)
	s.metrics.observeCheck(res.Outcome, err)
	return res, err
}

func (s *Service) check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	p := zones.Point{Lat: req.Lat, Lng: req.Lng}
	if err := s.ledger.Validate(req.DeviceID, p); err != nil {
		return CheckResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	zone, ok := spatial.Classify(p, s.registry, s.tolerance)
	if !ok {
		return CheckResult{Outcome: OutcomeNoZone}, nil
	}
	if req.Action != ActionRegister {
		return CheckResult{Outcome: OutcomeDetected, Zone: zone}, nil
	}

	now := s.clock.Now()
	decision, err := s.limiter.Check(ctx, req.DeviceID, now)
	if err != nil {
		return CheckResult{}, err
	}
	if !decision.Allowed {
		return CheckResult{Outcome: OutcomeRateLimited, Zone: zone, RetryAfter: decision.Remaining}, nil
	}

	tr, err := s.ledger.RecordEntry(ctx, req.DeviceID, zone, p, now)
	if err != nil {
		return CheckResult{}, err
	}

	if tr.Resumed {
		return CheckResult{Outcome: OutcomeResumed, Zone: zone, Record: tr.Record}, nil
	}

	var evs []events.Event
	if tr.Exited != nil {
		evs = append(evs, events.Event{Type: events.Exited, DeviceID: req.DeviceID, Zone: tr.Exited.Zone, At: *tr.Exited.ExitedAt})
		s.logger.Info(ctx, "implicit exit",
			slog.F("device_id", req.DeviceID),
			slog.F("zone", tr.Exited.Zone),
			slog.F("dwell", tr.Exited.Dwell()),
		)
	}
	evs = append(evs, events.Event{Type: events.Entered, DeviceID: req.DeviceID, Zone: zone, At: tr.Record.EnteredAt})
	s.publish(ctx, evs...)

	s.logger.Info(ctx, "entry registered", slog.F("device_id", req.DeviceID), slog.F("zone", zone))
	return CheckResult{Outcome: OutcomeConfirmed, Zone: zone, Record: tr.Record}, nil
}

// RegisterExit closes the device's open record in zone. It reports whether a
// record was closed; exiting when nothing is open is not an error.
func (s *Service) RegisterExit(ctx context.Context, deviceID, zone string) (bool, error) {
	if err := ledger.ValidateDeviceID(deviceID); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if _, ok := s.registry.Lookup(zone); !ok {
		return false, fmt.Errorf("%w: %w %q", ErrInvalidInput, ErrUnknownZone, zone)
	}

	rec, err := s.ledger.RecordExit(ctx, deviceID, zone, s.clock.Now())
	if errors.Is(err, ledger.ErrNotFound) {
		s.metrics.observeExit(false, nil)
		return false, nil
	}
	s.metrics.observeExit(err == nil, err)
	if err != nil {
		return false, err
	}

	s.publish(ctx, events.Event{Type: events.Exited, DeviceID: deviceID, Zone: zone, At: *rec.ExitedAt})
	s.logger.Info(ctx, "exit registered",
		slog.F("device_id", deviceID),
		slog.F("zone", zone),
		slog.F("dwell", rec.Dwell()),
	)
	return true, nil
}

// Occupancy returns a snapshot of every zone in registry order. A zero window
// selects the default.
func (s *Service) Occupancy(ctx context.Context, window time.Duration) ([]ledger.Snapshot, error) {
	if window <= 0 {
		window = s.window
	}
	return s.ledger.SnapshotAll(ctx, s.registry.Names(), window, s.clock.Now())
}

func (s *Service) ZoneOccupancy(ctx context.Context, zone string, window time.Duration) (ledger.Snapshot, error) {
	if _, ok := s.registry.Lookup(zone); !ok {
		return ledger.Snapshot{}, fmt.Errorf("%w %q", ErrUnknownZone, zone)
	}
	if window <= 0 {
		window = s.window
	}
	return s.ledger.Snapshot(ctx, zone, window, s.clock.Now())
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.pub.Publish(ctx, evs...); err != nil {
		s.logger.Warn(ctx, "publish presence events", slog.Error(err))
	}
}
