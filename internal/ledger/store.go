package ledger

import (
	"context"
	"time"
)

// Store persists presence records. Implementations must make Enter and Exit
// atomic and must reject a second open record for the same device.
type Store interface {
	// Enter opens rec for its device. An open record of the device in the same
	// zone is returned with Resumed set and nothing is written; an open record
	// in another zone is closed at rec.EnteredAt first. A concurrent writer
	// winning the race yields ErrConflict.
	Enter(ctx context.Context, rec PresenceRecord) (Transition, error)
	// Exit closes the latest open record of the device in zone, no earlier than
	// its entry time. ErrNotFound when nothing is open.
	Exit(ctx context.Context, deviceID, zone string, at time.Time) (PresenceRecord, error)
	// LatestEntry is the newest EnteredAt of the device. ErrNotFound when the
	// device has no records.
	LatestEntry(ctx context.Context, deviceID string) (time.Time, error)
	// OpenRecord returns the device's open record. ErrNotFound when absent.
	OpenRecord(ctx context.Context, deviceID string) (PresenceRecord, error)
	// OpenCounts counts open records per zone. Zones without any are omitted.
	OpenCounts(ctx context.Context, zones []string) (map[string]int64, error)
	// ClosedSince lists closed records of the zones entered at or after since.
	ClosedSince(ctx context.Context, zones []string, since time.Time) ([]PresenceRecord, error)
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
