package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomqueue/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: queue.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "roomqueue", cfg.App.Name)
	assert.Equal(t, models.DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, models.DefaultInitialRetryDelay, cfg.Queue.InitialRetryDelay())
	assert.Equal(t, models.DefaultMaxRetryDelay, cfg.Queue.MaxRetryDelay())
	assert.Equal(t, 10*time.Second, cfg.Queue.PollInterval())
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, "/health", cfg.Remote.HealthPath)
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout())
	assert.Equal(t, "exports", cfg.Exports.Path)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  name: booking-queue
  environment: test
database:
  path: queue.db
queue:
  max_attempts: 3
  initial_retry_delay_ms: 500
  max_retry_delay_ms: 60000
  sync_interval_sec: 30
remote:
  base_url: https://backend.example.com
  client_id: queue-client
  client_secret: shhh
  token_url: https://auth.example.com/token
api:
  enabled: true
  port: 9000
  rate_limit:
    rps: 2.5
    burst: 10
rooms:
  - id: room-101
    name: Small
    capacity: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "booking-queue", cfg.App.Name)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.InitialRetryDelay())
	assert.Equal(t, 30*time.Second, cfg.Queue.SyncInterval())
	assert.Equal(t, 9000, cfg.API.Port)
	assert.True(t, cfg.API.Auth.Enabled, "auth defaults on when the API is enabled")
	assert.Equal(t, 2.5, cfg.API.RateLimit.RPS)
	require.Len(t, cfg.Rooms, 1)
	assert.Equal(t, "room-101", cfg.Rooms[0].ID)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_QUEUE_DB_PATH", "/tmp/queue.db")

	path := writeConfig(t, `
database:
  path: ${TEST_QUEUE_DB_PATH}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/queue.db", cfg.Database.Path)
}

func TestLoadValidation(t *testing.T) {
	// Neither database nor redis configured.
	path := writeConfig(t, `
app:
  name: broken
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "database.path or redis.address")

	// Duplicate room ids.
	path = writeConfig(t, `
database:
  path: queue.db
rooms:
  - id: room-101
    name: A
  - id: room-101
    name: B
`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "duplicate room id")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRooms(t *testing.T) {
	assert.NoError(t, ValidateRooms(nil))
	assert.NoError(t, ValidateRooms([]models.Room{{ID: "a"}, {ID: "b"}}))
	assert.Error(t, ValidateRooms([]models.Room{{Name: "no id"}}))
	assert.Error(t, ValidateRooms([]models.Room{{ID: "a"}, {ID: "a"}}))
}
