package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "rxdao-service", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 200*time.Millisecond, cfg.Database.Query.Slow.Threshold)
	assert.Equal(t, 1000, cfg.Database.Query.Log.MaxLength)
	assert.Equal(t, DefaultBufferSize, cfg.DAO.Buffer.Size)
	assert.False(t, cfg.DAO.Debug)
	assert.Zero(t, cfg.DAO.Scheduler.Workers)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, TelemetryStdout, cfg.Telemetry.Endpoint)
	assert.Equal(t, TelemetryHTTP, cfg.Telemetry.Protocol)
	assert.InDelta(t, 1.0, cfg.Telemetry.Trace.Sample.Rate, 0)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.Metrics.Interval)
	assert.False(t, IsDatabaseConfigured(&cfg.Database))
	assert.NotNil(t, cfg.Koanf())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
app:
  name: users
database:
  type: postgresql
  host: localhost
  port: 5432
  database: app
  query:
    slow:
      threshold: 50ms
dao:
  debug: true
  buffer:
    size: 10
  scheduler:
    workers: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "users", cfg.App.Name)
	assert.Equal(t, PostgreSQL, cfg.Database.Type)
	assert.Equal(t, 50*time.Millisecond, cfg.Database.Query.Slow.Threshold)
	assert.True(t, cfg.DAO.Debug)
	assert.Equal(t, 10, cfg.DAO.Buffer.Size)
	assert.Equal(t, 4, cfg.DAO.Scheduler.Workers)
	assert.Equal(t, int32(25), cfg.Database.Pool.Max.Connections)
	assert.Equal(t, 30*time.Minute, cfg.Database.Pool.Lifetime.Max)
}

func TestLoadEnvironmentOverridesYAML(t *testing.T) {
	path := writeYAML(t, "dao:\n  buffer:\n    size: 10\n")
	t.Setenv("DAO_BUFFER_SIZE", "42")
	t.Setenv("DAO_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.DAO.Buffer.Size)
	assert.True(t, cfg.DAO.Debug)
}

func TestLoadRejectsInvalidBufferSize(t *testing.T) {
	path := writeYAML(t, "dao:\n  buffer:\n    size: -1\n")

	_, err := Load(path)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "invalid", cfgErr.Category)
	assert.Equal(t, "dao.buffer.size", cfgErr.Field)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeYAML(t, "dao: [unterminated\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to load")
}
