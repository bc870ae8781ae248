package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxibcn/reten/internal/zones"
)

var allKeys = []string{
	"PORT", "DATABASE_URL", "LEDGER_SQLITE_PATH", "ZONES_FILE", "ZONE_TOLERANCE_DEG",
	"BBOX_MIN_LAT", "BBOX_MAX_LAT", "BBOX_MIN_LNG", "BBOX_MAX_LNG",
	"ENTRY_COOLDOWN", "OCCUPANCY_WINDOW", "MIN_DWELL_SAMPLES", "CORS_ORIGINS",
	"CHECK_RATE_PER_MINUTE", "KAFKA_BROKERS", "KAFKA_TOPIC", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	c, err := LoadFromEnv()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "5050", c.Port)
	assert.Empty(t, c.DatabaseURL)
	assert.Equal(t, "reten.db", c.SQLitePath)
	assert.Equal(t, 0.001, c.Tolerance)
	assert.Equal(t, zones.Barcelona, c.Envelope)
	assert.Equal(t, 5*time.Minute, c.EntryCooldown)
	assert.Equal(t, 2*time.Hour, c.Window)
	assert.Equal(t, 3, c.MinDwellSamples)
	assert.Equal(t, 60, c.ChecksPerMinute)
	assert.Empty(t, c.KafkaBrokers)
	assert.Equal(t, DefaultKafkaTopic, c.KafkaTopic)
	assert.Equal(t, "info", c.LogLevel)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ENTRY_COOLDOWN", "90s")
	t.Setenv("ZONE_TOLERANCE_DEG", "0.002")
	t.Setenv("LOG_LEVEL", "DEBUG")

	c, err := LoadFromEnv()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 90*time.Second, c.EntryCooldown)
	assert.Equal(t, 0.002, c.Tolerance)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoadFromEnvReportsEveryBadValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENTRY_COOLDOWN", "soon")
	t.Setenv("MIN_DWELL_SAMPLES", "three")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENTRY_COOLDOWN")
	assert.Contains(t, err.Error(), "MIN_DWELL_SAMPLES")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := LoadFromEnv()
	require.NoError(t, err)

	c := base
	c.Envelope.MinLat = c.Envelope.MaxLat
	assert.True(t, errors.Is(c.Validate(), ErrInvalidEnvelope))

	c = base
	c.Tolerance = 0
	assert.True(t, errors.Is(c.Validate(), ErrInvalidTolerance))

	c = base
	c.KafkaBrokers = []string{"k:9092"}
	c.KafkaTopic = ""
	assert.True(t, errors.Is(c.Validate(), ErrMissingTopic))

	c = base
	c.LogLevel = "loud"
	assert.Error(t, c.Validate())
}
