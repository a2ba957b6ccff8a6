package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatmatch-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Notify.Driver)
	assert.Equal(t, 5*time.Second, cfg.Match.StaleLockTimeout)
	assert.Equal(t, 10*time.Second, cfg.Match.LockBackstop)
	assert.Equal(t, 15*time.Second, cfg.Match.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Match.HeartbeatTimeout)
	assert.Equal(t, 10*time.Second, cfg.Match.HeartbeatSweepInterval)
	assert.Equal(t, 60*time.Second, cfg.Match.StaleSweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.Match.MaxSearchAge)
	assert.Equal(t, 2*time.Minute, cfg.Match.HandoffTimeout)
	assert.True(t, cfg.Match.Transactional)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  mode: release
jwt:
  secret: s3cret
database:
  driver: sqlite
  dsn: "file::memory:"
notify:
  driver: nats
match:
  maxSearchAge: 2m
  transactional: false
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "nats", cfg.Notify.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Match.MaxSearchAge)
	assert.False(t, cfg.Match.Transactional)
	assert.Equal(t, 30*time.Second, cfg.Match.HeartbeatTimeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHATMATCH_REDIS_ADDR", "redis.internal:6380")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadReleaseModeRequiresSecret(t *testing.T) {
	_, err := config.Load(writeConfig(t, "server:\n  mode: release\n"))
	assert.ErrorContains(t, err, "jwt.secret")

	t.Setenv("CHATMATCH_JWT_SECRET", "from-env")
	cfg, err := config.Load(writeConfig(t, "server:\n  mode: release\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)

	cfg, err = config.Load(writeConfig(t, "server:\n  mode: debug\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.JWT.Secret)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"unknown database driver": "database:\n  driver: oracle\n",
		"unknown notify driver":   "notify:\n  driver: kafka\n",
		"timeout below interval":  "match:\n  heartbeatTimeout: 10s\n",
		"backstop below timeout":  "match:\n  lockBackstop: 1s\n",
		"zero handoff timeout":    "match:\n  handoffTimeout: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
