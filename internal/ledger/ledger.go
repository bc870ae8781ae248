package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/taxibcn/reten/internal/zones"
)

const (
	// MinDeviceIDLength matches the length of a textual UUID.
	MinDeviceIDLength = 36
	maxDeviceIDLength = 128

	// DefaultMinDwellSamples is how many completed waits a zone needs before
	// its dwell statistics are reported.
	DefaultMinDwellSamples = 3

	enterAttempts = 3
)

// Ledger owns the lifecycle of presence records and derives occupancy from
// them.
type Ledger struct {
	store      Store
	envelope   zones.Envelope
	minSamples int
}

// New builds a ledger that rejects samples outside envelope.
func New(store Store, envelope zones.Envelope, minDwellSamples int) *Ledger {
	if minDwellSamples <= 0 {
		minDwellSamples = DefaultMinDwellSamples
	}
	return &Ledger{store: store, envelope: envelope, minSamples: minDwellSamples}
}

// ValidateDeviceID checks the opaque client handle.
func ValidateDeviceID(deviceID string) error {
	if len(deviceID) < MinDeviceIDLength {
		return &ValidationError{Field: "deviceId", Message: fmt.Sprintf("must be at least %d characters", MinDeviceIDLength)}
	}
	if len(deviceID) > maxDeviceIDLength {
		return &ValidationError{Field: "deviceId", Message: fmt.Sprintf("must be at most %d characters", maxDeviceIDLength)}
	}
	if strings.IndexFunc(deviceID, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) >= 0 {
		return &ValidationError{Field: "deviceId", Message: "contains whitespace or control characters"}
	}
	return nil
}

// Validate rejects a malformed device or a sample outside the region envelope.
func (l *Ledger) Validate(deviceID string, p zones.Point) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if !l.envelope.Contains(p) {
		return &ValidationError{Field: "location", Message: "outside the service area"}
	}
	return nil
}

// RecordEntry registers the device in zone at now.
func (l *Ledger) RecordEntry(ctx context.Context, deviceID, zone string, p zones.Point, now time.Time) (Transition, error) {
	if err := l.Validate(deviceID, p); err != nil {
		return Transition{}, err
	}
	if strings.TrimSpace(zone) == "" {
		return Transition{}, &ValidationError{Field: "zona", Message: "required"}
	}

	rec := PresenceRecord{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Zone:      zone,
		EnteredAt: now.UTC(),
		Latitude:  p.Lat,
		Longitude: p.Lng,
	}

	var err error
	for range enterAttempts {
		var tr Transition
		tr, err = l.store.Enter(ctx, rec)
		if err == nil {
			return tr, nil
		}
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	return Transition{}, fmt.Errorf("record entry: %w", err)
}

// RecordExit closes the device's open record in zone. Exiting when nothing is
// open returns ErrNotFound, which callers treat as an already applied exit.
func (l *Ledger) RecordExit(ctx context.Context, deviceID, zone string, now time.Time) (PresenceRecord, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return PresenceRecord{}, err
	}
	if strings.TrimSpace(zone) == "" {
		return PresenceRecord{}, &ValidationError{Field: "zona", Message: "required"}
	}

	rec, err := l.store.Exit(ctx, deviceID, zone, now.UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PresenceRecord{}, ErrNotFound
		}
		return PresenceRecord{}, fmt.Errorf("record exit: %w", err)
	}
	return rec, nil
}

// LatestEntry returns when the device last entered any zone.
func (l *Ledger) LatestEntry(ctx context.Context, deviceID string) (time.Time, error) {
	t, err := l.store.LatestEntry(ctx, deviceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return time.Time{}, fmt.Errorf("latest entry: %w", err)
	}
	return t, err
}

// Current returns the device's open record.
func (l *Ledger) Current(ctx context.Context, deviceID string) (PresenceRecord, error) {
	rec, err := l.store.OpenRecord(ctx, deviceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return PresenceRecord{}, fmt.Errorf("current presence: %w", err)
	}
	return rec, err
}

// Snapshot computes the occupancy of one zone over the trailing window.
func (l *Ledger) Snapshot(ctx context.Context, zone string, window time.Duration, now time.Time) (Snapshot, error) {
	snaps, err := l.SnapshotAll(ctx, []string{zone}, window, now)
	if err != nil {
		return Snapshot{}, err
	}
	return snaps[0], nil
}

// SnapshotAll computes the occupancy of each zone, in the given order.
func (l *Ledger) SnapshotAll(ctx context.Context, zoneNames []string, window time.Duration, now time.Time) ([]Snapshot, error) {
	if len(zoneNames) == 0 {
		return []Snapshot{}, nil
	}

	counts, err := l.store.OpenCounts(ctx, zoneNames)
	if err != nil {
		return nil, fmt.Errorf("count open records: %w", err)
	}
	closed, err := l.store.ClosedSince(ctx, zoneNames, now.Add(-window).UTC())
	if err != nil {
		return nil, fmt.Errorf("list closed records: %w", err)
	}

	dwells := make(map[string][]float64, len(zoneNames))
	for _, rec := range closed {
		dwells[rec.Zone] = append(dwells[rec.Zone], rec.Dwell().Minutes())
	}

	out := make([]Snapshot, 0, len(zoneNames))
	for _, z := range zoneNames {
		s := Snapshot{
			Zone:           z,
			ActiveCount:    counts[z],
			CompletedCount: len(dwells[z]),
			WindowMinutes:  window.Minutes(),
		}
		if len(dwells[z]) >= l.minSamples {
			mean, median := dwellStats(dwells[z])
			s.AverageDwellMinutes = &mean
			s.MedianDwellMinutes = &median
			s.HasRealData = true
		}
		out = append(out, s)
	}
	return out, nil
}
