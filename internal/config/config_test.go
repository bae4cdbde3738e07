package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml in the temp dir
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "hackscraper.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.FetchTimeout())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.StoreTimeout())
	assert.Equal(t, 30*24*time.Hour, cfg.Scheduler.Frequency())
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.PollInterval())
	assert.Equal(t, "generic", cfg.Reconcile.DefaultStrategy)
	assert.Contains(t, cfg.Fetch.UserAgent, "Hackscraper/0.1")
	assert.Equal(t, 2, cfg.Fetch.MaxRetries)
	assert.InDelta(t, 1.0, cfg.Fetch.RatePerHost, 0.001)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(1024), cfg.Anthropic.MaxTokens)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/hackathons
log:
  level: debug
  format: console
scheduler:
  concurrency: 8
  frequency_hours: 24
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/hackathons", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Frequency())
	// Defaults still apply for unset values
	assert.Equal(t, 180, cfg.Scheduler.FetchTimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("HACKSCRAPER_STORE_DRIVER", "postgres")
	t.Setenv("HACKSCRAPER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("HACKSCRAPER_SCHEDULER_FETCH_TIMEOUT_SECS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.FetchTimeout())
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the loaded defaults for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "test.db"
	cfg.Scheduler = SchedulerConfig{
		Concurrency:      4,
		FetchTimeoutSecs: 180,
		StoreTimeoutSecs: 30,
		FrequencyHours:   720,
		PollIntervalMins: 10,
	}
	cfg.Reconcile.DefaultStrategy = "generic"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""
	cfg.Reconcile.DefaultStrategy = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "reconcile.default_strategy is required")
}

func TestValidateSchedulerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Scheduler.Concurrency = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.concurrency must be between 1 and 64")

	cfg.Scheduler.Concurrency = 65
	assert.Error(t, cfg.Validate("run"))

	cfg.Scheduler.Concurrency = 64
	assert.NoError(t, cfg.Validate("run"))

	cfg.Scheduler.FetchTimeoutSecs = 0
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler timeouts")

	cfg.Scheduler.FetchTimeoutSecs = 180
	cfg.Scheduler.FrequencyHours = 0
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "frequency_hours")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	// Port only matters for the daemon
	assert.NoError(t, cfg.Validate("run"))

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	cfg.Server.Port = 9090
	cfg.Scheduler.PollIntervalMins = 0
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval_mins")
}
