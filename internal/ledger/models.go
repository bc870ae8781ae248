package ledger

import (
	"errors"
	"time"
)

// PresenceRecord is one occupancy interval of a device in a zone. A nil
// ExitedAt means the device is still present.
type PresenceRecord struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	DeviceID  string     `gorm:"not null;index:idx_presence_device_entered,priority:1" json:"device_id"`
	Zone      string     `gorm:"not null;index:idx_presence_zone_entered,priority:1" json:"zona"`
	EnteredAt time.Time  `gorm:"not null;index:idx_presence_device_entered,priority:2;index:idx_presence_zone_entered,priority:2" json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at"`
	Latitude  float64    `gorm:"not null" json:"lat"`
	Longitude float64    `gorm:"not null" json:"lng"`
}

func (PresenceRecord) TableName() string { return "reten.presence_records" }

// Open reports whether the device is still present.
func (r PresenceRecord) Open() bool { return r.ExitedAt == nil }

// Dwell is the length of a closed interval.
func (r PresenceRecord) Dwell() time.Duration {
	if r.ExitedAt == nil {
		return 0
	}
	return r.ExitedAt.Sub(r.EnteredAt)
}

// Transition describes what an entry did to a device's presence.
type Transition struct {
	// Record is the device's open record after the entry.
	Record PresenceRecord
	// Resumed is set when the device was already present in the zone and no
	// new record was created.
	Resumed bool
	// Exited is the record closed because the device moved to another zone.
	Exited *PresenceRecord
}

// Snapshot is the live occupancy of a zone. It is derived on every read.
type Snapshot struct {
	Zone                string   `json:"zona"`
	ActiveCount         int64    `json:"active_count"`
	CompletedCount      int      `json:"completed_count"`
	AverageDwellMinutes *float64 `json:"average_dwell_minutes"`
	MedianDwellMinutes  *float64 `json:"median_dwell_minutes"`
	HasRealData         bool     `json:"has_real_data"`
	WindowMinutes       float64  `json:"window_minutes"`
}

var (
	ErrNotFound = errors.New("presence record not found")
	ErrConflict = errors.New("concurrent presence update")
)

// ValidationError rejects malformed input before any storage work.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}
