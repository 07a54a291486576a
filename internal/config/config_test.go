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
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "opportunity.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "5m", cfg.Anthropic.CacheTTL)
	assert.Equal(t, 90, cfg.Planner.TimeoutSecs)
	assert.Equal(t, 90*time.Second, cfg.Planner.Timeout())
	assert.Equal(t, 6, cfg.Planner.IncludedDrivers)
	assert.Equal(t, 8, cfg.Planner.DetailDrivers)
	assert.InDelta(t, 1.0, cfg.Reconcile.InvestmentPct, 0.001)
	assert.InDelta(t, 500.0, cfg.Reconcile.MonthlyLift, 0.001)
	assert.InDelta(t, 5.0, cfg.Reconcile.ROIPoints, 0.001)
	assert.InDelta(t, 1000.0, cfg.Reconcile.ImplausibleROIPct, 0.001)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.InDelta(t, 0.25, cfg.Monitoring.ErrorRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/plans
log:
  level: debug
  format: console
planner:
  timeout_secs: 30
reconcile:
  monthly_lift: 250
pricing:
  anthropic:
    custom-model:
      input: 2
      output: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/plans", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 30, cfg.Planner.TimeoutSecs)
	assert.InDelta(t, 250.0, cfg.Reconcile.MonthlyLift, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, 5.0, cfg.Reconcile.ROIPoints, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)

	rates := cfg.Pricing.Rates()
	require.Contains(t, rates.Anthropic, "custom-model")
	assert.InDelta(t, 8.0, rates.Anthropic["custom-model"].Output, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: memory
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("OPPORTUNITY_STORE_DRIVER", "sqlite")
	t.Setenv("OPPORTUNITY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("OPPORTUNITY_SERVER_PORT", "3000")
	t.Setenv("OPPORTUNITY_ANTHROPIC_KEY", "sk-ant-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-env", cfg.Anthropic.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestPolicyAndBreaker(t *testing.T) {
	r := RetryConfig{MaxAttempts: 4, InitialBackoffMs: 250, MaxBackoffMs: 2000, Multiplier: 3, Jitter: 0.1}
	p := r.Policy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 2*time.Second, p.MaxBackoff)
	assert.InDelta(t, 3.0, p.Multiplier, 0.001)
	assert.InDelta(t, 0.1, p.JitterFraction, 0.001)

	c := CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 10, HalfOpenProbes: 3}
	b := c.Breaker()
	assert.Equal(t, 2, b.FailureThreshold)
	assert.Equal(t, 10*time.Second, b.ResetTimeout)
	assert.Equal(t, 3, b.HalfOpenMaxProbes)
}

func TestPricingRatesDefault(t *testing.T) {
	rates := PricingConfig{}.Rates()
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5")
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "test.db"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Anthropic.Model = "claude-sonnet-4-5"
	cfg.Anthropic.MaxTokens = 4096
	cfg.Planner.TimeoutSecs = 90
	cfg.Planner.IncludedDrivers = 6
	cfg.Planner.DetailDrivers = 8
	cfg.Planner.MaxConcurrent = 4
	cfg.Retry.MaxAttempts = 3
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("plan"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Server.Port = 0
	cfg.Retry.MaxAttempts = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "retry.max_attempts must be between 1 and 10")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/plans"
	assert.NoError(t, cfg.Validate("status"))
}

func TestValidateUnsupportedDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("plan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql" is not supported`)
}

func TestValidateOfflineCommands(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate("payload"))
	assert.NoError(t, cfg.Validate("recover"))

	cfg.Planner.DetailDrivers = 3
	err := cfg.Validate("payload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planner.detail_drivers")
}

func TestValidateThresholds(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.ErrorRateThreshold = 1.5

	err := cfg.Validate("stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error_rate_threshold")

	cfg.Monitoring.ErrorRateThreshold = 0.2
	cfg.Reconcile.MonthlyLift = -1
	err = cfg.Validate("stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile tolerances must be >= 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
