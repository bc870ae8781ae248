package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/taxibcn/reten/internal/geofence"
	"github.com/taxibcn/reten/internal/ledger"
	"github.com/taxibcn/reten/internal/ratelimit"
	"github.com/taxibcn/reten/internal/spatial"
	"github.com/taxibcn/reten/internal/zones"
)

var (
	ErrInvalidEnvelope  = errors.New("bounding box is empty")
	ErrInvalidTolerance = errors.New("zone tolerance must be positive")
	ErrMissingTopic     = errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
)

// DefaultKafkaTopic carries presence entry and exit events.
const DefaultKafkaTopic = "reten.presence"

// Config holds the server configuration.
type Config struct {
	Port string

	// DatabaseURL selects the Postgres ledger. Empty falls back to SQLite.
	DatabaseURL string
	SQLitePath  string

	// ZonesFile overrides the embedded Barcelona zones.
	ZonesFile string
	Tolerance float64
	Envelope  zones.Envelope

	EntryCooldown   time.Duration
	Window          time.Duration
	MinDwellSamples int

	CORSOrigins     []string
	ChecksPerMinute int

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel string
}

// LoadFromEnv loads the server configuration from environment variables.
//
// Environment variables:
//   - PORT (default: 5050)
//   - DATABASE_URL: Postgres DSN; empty uses LEDGER_SQLITE_PATH (default: reten.db)
//   - ZONES_FILE: zone YAML (default: embedded Barcelona zones)
//   - ZONE_TOLERANCE_DEG (default: 0.001)
//   - BBOX_MIN_LAT, BBOX_MAX_LAT, BBOX_MIN_LNG, BBOX_MAX_LNG (default: Barcelona)
//   - ENTRY_COOLDOWN (default: 5m)
//   - OCCUPANCY_WINDOW (default: 2h)
//   - MIN_DWELL_SAMPLES (default: 3)
//   - CORS_ORIGINS: comma separated allow-list
//   - CHECK_RATE_PER_MINUTE: per-IP limit on /geofence/check (default: 60, 0 disables)
//   - KAFKA_BROKERS: comma separated; empty disables presence events
//   - KAFKA_TOPIC (default: reten.presence)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
func LoadFromEnv() (Config, error) {
	c := Config{
		Port:         envOr("PORT", "5050"),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:   envOr("LEDGER_SQLITE_PATH", "reten.db"),
		ZonesFile:    strings.TrimSpace(os.Getenv("ZONES_FILE")),
		CORSOrigins:  splitList(os.Getenv("CORS_ORIGINS")),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   envOr("KAFKA_TOPIC", DefaultKafkaTopic),
		LogLevel:     strings.ToLower(envOr("LOG_LEVEL", "info")),
	}

	var errs []error
	c.Tolerance = parseFloat("ZONE_TOLERANCE_DEG", spatial.DefaultTolerance, &errs)
	c.Envelope = zones.Envelope{
		MinLat: parseFloat("BBOX_MIN_LAT", zones.Barcelona.MinLat, &errs),
		MaxLat: parseFloat("BBOX_MAX_LAT", zones.Barcelona.MaxLat, &errs),
		MinLng: parseFloat("BBOX_MIN_LNG", zones.Barcelona.MinLng, &errs),
		MaxLng: parseFloat("BBOX_MAX_LNG", zones.Barcelona.MaxLng, &errs),
	}
	c.EntryCooldown = parseDuration("ENTRY_COOLDOWN", ratelimit.DefaultCooldown, &errs)
	c.Window = parseDuration("OCCUPANCY_WINDOW", geofence.DefaultWindow, &errs)
	c.MinDwellSamples = parseInt("MIN_DWELL_SAMPLES", ledger.DefaultMinDwellSamples, &errs)
	c.ChecksPerMinute = parseInt("CHECK_RATE_PER_MINUTE", 60, &errs)

	return c, errors.Join(errs...)
}

// Validate checks the values LoadFromEnv could parse but not judge.
func (c Config) Validate() error {
	if c.Tolerance <= 0 {
		return ErrInvalidTolerance
	}
	if c.Envelope.MinLat >= c.Envelope.MaxLat || c.Envelope.MinLng >= c.Envelope.MaxLng {
		return ErrInvalidEnvelope
	}
	if c.EntryCooldown <= 0 {
		return fmt.Errorf("ENTRY_COOLDOWN must be positive, got %s", c.EntryCooldown)
	}
	if c.Window <= 0 {
		return fmt.Errorf("OCCUPANCY_WINDOW must be positive, got %s", c.Window)
	}
	if c.MinDwellSamples < 1 {
		return fmt.Errorf("MIN_DWELL_SAMPLES must be at least 1, got %d", c.MinDwellSamples)
	}
	if c.ChecksPerMinute < 0 {
		return fmt.Errorf("CHECK_RATE_PER_MINUTE must not be negative, got %d", c.ChecksPerMinute)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return ErrMissingTopic
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloat(key string, def float64, errs *[]error) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func parseInt(key string, def int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func parseDuration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}
