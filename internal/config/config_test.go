// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Uses temp files to exercise the full Load path

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
	path := filepath.Join(t.TempDir(), "arbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/arbiter.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, DefaultStateTTL, cfg.State.DefaultTTL)
	assert.Equal(t, DefaultMaxConnectionsPerUser, cfg.Channel.MaxConnectionsPerUser)
	assert.Equal(t, DefaultJobRetention, cfg.Jobs.Retention)
	assert.Equal(t, DefaultCleanupSchedule, cfg.Jobs.CleanupSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
state:
  default_ttl: "2h"
channel:
  idle_connection_timeout: "10m"
  min_chunk_delay: "25ms"
  stream_timeout: "90s"
jobs:
  retention: "48h"
database:
  path: "/tmp/arbiter.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.State.DefaultTTL)
	assert.Equal(t, 10*time.Minute, cfg.Channel.IdleConnectionTimeout)
	assert.Equal(t, 25*time.Millisecond, cfg.Channel.MinChunkDelay)
	assert.Equal(t, 90*time.Second, cfg.Channel.StreamTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Jobs.Retention)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
state:
  default_ttl: "four hours"
database:
  path: "/tmp/arbiter.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_ttl")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("ARBITER_TEST_REDIS", "redis.internal:6379")

	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
state:
  backend: redis
  redis:
    addr: "${ARBITER_TEST_REDIS}"
database:
  path: "/tmp/arbiter.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", cfg.State.Redis.Addr)
}

func TestLoad_RedisRequiresAddr(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
state:
  backend: redis
database:
  path: "/tmp/arbiter.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state.redis.addr")
}

func TestLoad_UnknownBackend(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
state:
  backend: memcached
database:
  path: "/tmp/arbiter.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state.backend")
}

func TestLoad_AuthRequiresSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
mcp:
  require_auth: true
database:
  path: "/tmp/arbiter.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
