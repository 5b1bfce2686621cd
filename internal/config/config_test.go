package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Scheduler.Threads)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.IdleGCPeriod)
	assert.Equal(t, 64, cfg.Scheduler.NonBlockingPollEvery)

	assert.Equal(t, "0.0.0.0", cfg.Diag.Host)
	assert.Equal(t, 8181, cfg.Diag.Port)
	assert.Equal(t, 10*time.Second, cfg.Diag.ReadTimeout)

	assert.False(t, cfg.Bridge.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Bridge.Addr)
	assert.Equal(t, 20, cfg.Bridge.PoolSize)
	assert.Equal(t, "coprocrt", cfg.Bridge.StreamPrefix)

	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
scheduler:
  threads: 4

diag:
  host: "127.0.0.1"
  port: 9090

bridge:
  enabled: true
  addr: "custom-redis:6380"
  password: "secret"

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scheduler.Threads)
	assert.Equal(t, "127.0.0.1", cfg.Diag.Host)
	assert.Equal(t, 9090, cfg.Diag.Port)
	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "custom-redis:6380", cfg.Bridge.Addr)
	assert.Equal(t, "secret", cfg.Bridge.Password)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestSchedulerConfig_Fields(t *testing.T) {
	cfg := SchedulerConfig{Threads: 8, IdleGCPeriod: 5 * time.Second, NonBlockingPollEvery: 32}
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 5*time.Second, cfg.IdleGCPeriod)
	assert.Equal(t, 32, cfg.NonBlockingPollEvery)
}

func TestBridgeConfig_Fields(t *testing.T) {
	cfg := BridgeConfig{
		Enabled:      true,
		Addr:         "redis:6379",
		Password:     "pass",
		DB:           1,
		PoolSize:     50,
		StreamPrefix: "myapp",
	}
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, "pass", cfg.Password)
	assert.Equal(t, 1, cfg.DB)
	assert.Equal(t, "myapp", cfg.StreamPrefix)
}
