// ABOUTME: Tests for configuration loading
// ABOUTME: Covers YAML parsing, env expansion, duration parsing, defaults, validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9090"
database:
  path: "/var/lib/relay/relay.db"
provider:
  url: "http://localhost:7777"
  command: ["coven-provider", "serve"]
  startup_timeout: "30s"
workspaces:
  cleanup_interval: "15m"
  max_idle_age: "6h"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "/var/lib/relay/relay.db", cfg.Database.Path)
	assert.Equal(t, "http://localhost:7777", cfg.Provider.URL)
	assert.Equal(t, []string{"coven-provider", "serve"}, cfg.Provider.Command)
	assert.Equal(t, 30*time.Second, cfg.Provider.StartupTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Workspaces.CleanupInterval)
	assert.Equal(t, 6*time.Hour, cfg.Workspaces.MaxIdleAge)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "info"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultCleanupInterval, cfg.Workspaces.CleanupInterval)
	assert.Equal(t, DefaultMaxIdleAge, cfg.Workspaces.MaxIdleAge)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAY_DB_PATH", "/tmp/custom.db")

	path := writeConfig(t, `
database:
  path: "${RELAY_DB_PATH}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
workspaces:
  max_idle_age: "half a day"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_idle_age")
}

func TestLoad_RejectsNegativeDuration(t *testing.T) {
	path := writeConfig(t, `
workspaces:
  cleanup_interval: "-5m"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "cleanup_interval must not be negative")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/relay.yaml")
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultCleanupInterval, cfg.Workspaces.CleanupInterval)
	assert.Equal(t, DefaultMaxIdleAge, cfg.Workspaces.MaxIdleAge)
}
