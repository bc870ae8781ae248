package geofence

import (
	"time"

	"github.com/taxibcn/reten/internal/ledger"
)

type Action string

const (
	// ActionRegister records an entry into the matched zone.
	ActionRegister Action = "register"
	// ActionQuery only classifies, as does any action other than register.
	ActionQuery Action = "query"
)

type Outcome int

const (
	OutcomeNoZone Outcome = iota
	OutcomeConfirmed
	OutcomeResumed
	OutcomeDetected
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoZone:
		return "no_zone"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeResumed:
		return "resumed"
	case OutcomeDetected:
		return "detected"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

type CheckRequest struct {
	DeviceID string
	Lat      float64
	Lng      float64
	Action   Action
}

type CheckResult struct {
	Outcome Outcome
	Zone    string
	// RetryAfter is set for OutcomeRateLimited.
	RetryAfter time.Duration
	// Record is the open record for OutcomeConfirmed and OutcomeResumed.
	Record ledger.PresenceRecord
}

// --- HTTP DTOs ---

type checkRequestIn struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Action   string   `json:"action"`
	DeviceID string   `json:"deviceId"`
}

type checkResponse struct {
	Success           bool    `json:"success"`
	Zona              *string `json:"zona"`
	Message           string  `json:"message,omitempty"`
	RetryAfterSeconds int     `json:"retryAfterSeconds,omitempty"`
}

type exitRequestIn struct {
	DeviceID string `json:"deviceId"`
	Zona     string `json:"zona"`
}

type exitResponse struct {
	Success bool   `json:"success"`
	Closed  bool   `json:"closed"`
	Message string `json:"message,omitempty"`
}

type ZoneOut struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	Polygons [][][2]float64 `json:"polygons"`
}

type occupancyResponse struct {
	WindowMinutes float64           `json:"window_minutes"`
	Zones         []ledger.Snapshot `json:"zones"`
}
