package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 5, config.Engine.MaxConcurrentJobs)
	assert.Equal(t, 1000, config.Engine.QueueHighWater)
	assert.Equal(t, 800, config.Engine.QueueLowWater)
	assert.Equal(t, "1s", config.Scheduler.TickInterval)
	assert.Equal(t, 2.0, config.RateLimit.DefaultDelaySeconds)
	assert.Equal(t, 300.0, config.RateLimit.MaxDelaySeconds)
	assert.Equal(t, 2.0, config.RateLimit.BackoffMultiplier)
	assert.Equal(t, "rule_based", config.Normalizer.Mode)
	assert.Empty(t, config.Auth.Secret)
}

func TestDefaultConfigValidates(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())
}

func TestLoadFromFile_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "laboro.toml")

	content := `
environment = "production"

[server]
port = 9090
host = "0.0.0.0"

[engine]
max_concurrent_jobs = 8
graceful_timeout = "45s"

[rate_limit]
default_delay_seconds = 5.0

[auth]
secret = "test-secret"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 8, config.Engine.MaxConcurrentJobs)
	assert.Equal(t, "45s", config.Engine.GracefulTimeout)
	assert.Equal(t, 5.0, config.RateLimit.DefaultDelaySeconds)
	assert.Equal(t, "test-secret", config.Auth.Secret)

	// Values not in the file keep defaults
	assert.Equal(t, 1000, config.Engine.QueueHighWater)
	assert.Equal(t, "1s", config.Scheduler.TickInterval)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/laboro.toml")
	assert.Error(t, err)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte("[server]\nport = 9001\n"), 0644))
	require.NoError(t, os.WriteFile(override, []byte("[server]\nport = 9002\n"), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)
	assert.Equal(t, 9002, config.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "12")
	t.Setenv("DEFAULT_RATE_LIMIT_DELAY_S", "7.5")
	t.Setenv("SCHEDULER_TICK_MS", "250")
	t.Setenv("HEARTBEAT_INTERVAL_S", "15")
	t.Setenv("GRACEFUL_SHUTDOWN_TIMEOUT_S", "60")
	t.Setenv("AUTH_SECRET", "env-secret")
	t.Setenv("LOG_LEVEL", "debug")

	dir := t.TempDir()
	path := filepath.Join(dir, "laboro.toml")
	require.NoError(t, os.WriteFile(path, []byte("environment = \"development\"\n"), 0644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 12, config.Engine.MaxConcurrentJobs)
	assert.Equal(t, 7.5, config.RateLimit.DefaultDelaySeconds)
	assert.Equal(t, "250ms", config.Scheduler.TickInterval)
	assert.Equal(t, "15s", config.Engine.HeartbeatInterval)
	assert.Equal(t, "60s", config.Engine.GracefulTimeout)
	assert.Equal(t, "env-secret", config.Auth.Secret)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestEnvOverrides_RequestTimeout(t *testing.T) {
	t.Setenv("DEFAULT_REQUEST_TIMEOUT_S", "45")

	config := NewDefaultConfig()
	applyEnvOverrides(config)

	assert.Equal(t, 45, config.Fetcher.TimeoutSeconds)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrent jobs", func(c *Config) { c.Engine.MaxConcurrentJobs = 0 }},
		{"low water above high water", func(c *Config) { c.Engine.QueueLowWater = 2000 }},
		{"backoff multiplier below one", func(c *Config) { c.RateLimit.BackoffMultiplier = 0.5 }},
		{"max delay below default", func(c *Config) { c.RateLimit.MaxDelaySeconds = 1.0 }},
		{"unknown normalizer mode", func(c *Config) { c.Normalizer.Mode = "psychic" }},
		{"bad tick interval", func(c *Config) { c.Scheduler.TickInterval = "not-a-duration" }},
		{"bad graceful timeout", func(c *Config) { c.Engine.GracefulTimeout = "soonish" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 9999, "10.0.0.1")

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "10.0.0.1", config.Server.Host)
}

func TestDuration_Fallback(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
}

func TestSecondsDuration(t *testing.T) {
	assert.Equal(t, 2500*time.Millisecond, SecondsDuration(2.5))
	assert.Equal(t, 30*time.Second, SecondsDuration(30))
}

func TestIsProduction(t *testing.T) {
	config := NewDefaultConfig()
	assert.False(t, config.IsProduction())

	config.Environment = "production"
	assert.True(t, config.IsProduction())

	config.Environment = "PRODUCTION"
	assert.True(t, config.IsProduction())
}
