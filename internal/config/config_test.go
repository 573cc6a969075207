package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.App.Port)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.Queues.BatchSize)
	assert.Equal(t, "kafka", cfg.Events.Driver)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
app:
  port: 9000
events:
  driver: memory
queues:
  notifications_url: https://sqs.local/notifications
  poll_interval_seconds: 5
  batch_size: 50
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("APP_QUEUES_EMAILS_URL", "https://sqs.local/emails")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, "https://sqs.local/notifications", cfg.Queues.NotificationsURL)
	assert.Equal(t, "https://sqs.local/emails", cfg.Queues.EmailsURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.Queues.BatchSize, "sqs caps a receive at 10")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("APP_EVENTS_DRIVER", "carrier-pigeon")
	_, err := Load("")
	require.Error(t, err)
}
