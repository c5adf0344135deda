package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reinsurance-engine/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "`+testSecret+`"
sweeper:
  interval: 10m
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "underwriting.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.Interval)
	assert.True(t, cfg.Sweeper.Enabled)
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
auth:
  jwt_secret: "`+testSecret+`"
`)
	t.Setenv("UNDERWRITING_SERVER_ADDR", ":7000")
	t.Setenv("UNDERWRITING_REDIS_ADDR", "redis:6380")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "short"
`)

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestValidate_AdminCredentialsTogether(t *testing.T) {
	cfg := config.Config{
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth: config.AuthConfig{
			JWTSecret:  testSecret,
			AccessTTL:  time.Minute,
			RefreshTTL: time.Hour,
			AdminEmail: "admin@example.com",
		},
	}
	assert.Error(t, cfg.Validate())

	cfg.Auth.AdminPassword = "changeme"
	assert.NoError(t, cfg.Validate())
}
