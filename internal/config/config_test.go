package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omborsaas/go-session-client/internal/config"
)

func TestNewDefaults(t *testing.T) {
	cfg := config.New()
	require.Equal(t, "http://localhost:8000/api/v1", cfg.APIBaseURL)
	require.Equal(t, "super-admin", cfg.OperatorBasePath)
	require.Equal(t, "./data/session.json", cfg.StateFile)
	require.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	require.Equal(t, 30*time.Second, cfg.GatePollInterval)
}

func TestNewEnvOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/api/v1")
	t.Setenv("SESSION_STATE_FILE", "/var/lib/app/session.json")
	t.Setenv("IDLE_TIMEOUT", "10m")
	t.Setenv("GATE_POLL_INTERVAL", "5s")

	cfg := config.New()
	require.Equal(t, "https://api.example.com/api/v1", cfg.APIBaseURL)
	require.Equal(t, "/var/lib/app/session.json", cfg.StateFile)
	require.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	require.Equal(t, 5*time.Second, cfg.GatePollInterval)
}

func TestNewIgnoresBadDuration(t *testing.T) {
	t.Setenv("IDLE_TIMEOUT", "not-a-duration")
	cfg := config.New()
	require.Equal(t, 30*time.Minute, cfg.IdleTimeout)
}

func TestLoadYAMLWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
api_base_url: https://file.example.com/api/v1
operator_base_path: ops
idle_timeout: 20m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("API_BASE_URL", "https://env.example.com/api/v1")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://env.example.com/api/v1", cfg.APIBaseURL, "env wins over the file")
	require.Equal(t, "ops", cfg.OperatorBasePath)
	require.Equal(t, 20*time.Minute, cfg.IdleTimeout)
	require.Equal(t, 30*time.Second, cfg.GatePollInterval, "unset values keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("SOME_TEST_VAR", "value")
	require.Equal(t, "value", config.GetEnv("SOME_TEST_VAR", "default"))
	require.Equal(t, "default", config.GetEnv("SOME_OTHER_TEST_VAR", "default"))
}
