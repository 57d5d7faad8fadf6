package sagaflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	raw := []byte(`
default_step_timeout: 2s
compensation_timeout: 10s
event_buffer: 128
log_level: debug
retry:
  max_attempts: 5
  base_delay: 50ms
  multiplier: 1.5
  max_delay: 2s
redis:
  addr: localhost:6379
  db: 2
  key_prefix: "orders:audit"
  ttl: 24h
`)
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.DefaultStepTimeout)
	assert.Equal(t, 10*time.Second, cfg.CompensationTimeout)
	assert.Equal(t, 128, cfg.EventBuffer)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 1.5, cfg.Retry.Multiplier)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)

	require.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "orders:audit", cfg.Redis.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.DefaultStepTimeout)
	assert.Equal(t, defaultCompensationTimeout, cfg.CompensationTimeout)
	assert.Equal(t, defaultEventBuffer, cfg.EventBuffer)
	assert.Equal(t, DefaultRetryPolicy(), cfg.Retry)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
	assert.False(t, cfg.Redis.Enabled())
}

func TestParseConfigRejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       `retry: [`,
		"bad log level":  `log_level: shout`,
		"bad multiplier": "retry:\n  max_attempts: 3\n  base_delay: 1ms\n  multiplier: 0.1\n  max_delay: 1s",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sagaflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, cfg.Level())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOrchestratorConfigConversion(t *testing.T) {
	cfg, err := ParseConfig([]byte("event_buffer: 16\n"))
	require.NoError(t, err)

	logger := zerolog.Nop()
	oc := cfg.OrchestratorConfig(&logger)
	assert.Equal(t, 16, oc.EventBuffer)
	assert.Equal(t, cfg.Retry, oc.DefaultRetry)
	assert.Nil(t, oc.PersistenceSink)
}
