package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, StorageModeMemory, c.Storage.Mode)
	assert.Equal(t, 60*time.Second, c.Scheduler.PollInterval)
	assert.Equal(t, 5, c.Scheduler.BatchSize)
	assert.Equal(t, 3, c.Queue.MaxAttempts)
	assert.Equal(t, 15*time.Minute, c.Queue.BackoffMax)
	assert.Equal(t, 1024, c.Store.CompressionThreshold)
	assert.Equal(t, 14, c.Detector.MinPoints)
	assert.Equal(t, 5, c.Scorer.DailyCap)
	assert.Equal(t, "balanced", c.Detector.Mode)
}

func TestParseKeepsExplicitValues(t *testing.T) {
	c, err := Parse([]byte(`
environment: prod
scheduler:
  batch_size: 8
store:
  compression: lz4
`))
	require.NoError(t, err)
	assert.Equal(t, 8, c.Scheduler.BatchSize)
	assert.Equal(t, "lz4", c.Store.Compression)
}

func TestValidatePersistentRequiresBackends(t *testing.T) {
	_, err := Parse([]byte("environment: prod\nstorage:\n  mode: persistent\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.dsn")
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	_, err := Parse([]byte("environment: prod\ndetector:\n  mode: reckless\n"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	env := map[string]string{
		"REDIS_ADDR":    "cache:6380",
		"KAFKA_BROKERS": "k1:9092,k2:9092",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestParseKeepsExplicitFalse(t *testing.T) {
	c, err := Parse([]byte("environment: test\nmetrics:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, c.Metrics.Enabled)

	c, err = Parse([]byte("environment: test\n"))
	require.NoError(t, err)
	assert.True(t, c.Metrics.Enabled)
}
