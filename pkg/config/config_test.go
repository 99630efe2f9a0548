package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no ./configs file is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadClientDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 10, cfg.MaxRedirects)
	assert.Empty(t, cfg.AuthToken)
}

func TestLoadClientEnv(t *testing.T) {
	inTempDir(t)
	t.Setenv("TOXOTIS_AUTH_TOKEN", "AQIC5wM2LY")
	t.Setenv("TOXOTIS_POLL_INTERVAL", "250ms")
	t.Setenv("TOXOTIS_MAX_RETRIES", "5")

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "AQIC5wM2LY", cfg.AuthToken)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoadClientRejectsZeroInterval(t *testing.T) {
	inTempDir(t)
	t.Setenv("TOXOTIS_POLL_INTERVAL", "0s")

	_, err := LoadClient()
	assert.Error(t, err)
}

func TestLoadMonitorFromFile(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	file := `listen_addr: ":9999"
redis_url: "redis://localhost:6379/2"
poll_interval: 2s
algorithms:
  mlr: http://opentox.ntua.gr:8080/algorithm/mlr
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(file), 0o644))
	t.Setenv("TOXOTIS_MONITOR_DATABASE_URL", "postgres://toxotis@localhost/toxotis")

	cfg, err := LoadMonitor()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisURL)
	assert.Equal(t, "postgres://toxotis@localhost/toxotis", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "http://opentox.ntua.gr:8080/algorithm/mlr", cfg.Algorithms["mlr"])
}
