package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/opportunity-planner/internal/cost"
	"github.com/sells-group/opportunity-planner/internal/reconcile"
	"github.com/sells-group/opportunity-planner/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig          `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig      `yaml:"anthropic" mapstructure:"anthropic"`
	Planner    PlannerConfig        `yaml:"planner" mapstructure:"planner"`
	Reconcile  reconcile.Tolerances `yaml:"reconcile" mapstructure:"reconcile"`
	Retry      RetryConfig          `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig        `yaml:"circuit" mapstructure:"circuit"`
	Pricing    PricingConfig        `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig         `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig     `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig            `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheTTL  string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// PlannerConfig configures job processing.
type PlannerConfig struct {
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
	IncludedDrivers int     `yaml:"included_drivers" mapstructure:"included_drivers"`
	DetailDrivers   int     `yaml:"detail_drivers" mapstructure:"detail_drivers"`
	MaxConcurrent   int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// Timeout returns the per-job upstream deadline.
func (p PlannerConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// RetryConfig configures upstream retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
}

// Policy converts the config section into a resilience.RetryConfig.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Multiplier:     r.Multiplier,
		JitterFraction: r.Jitter,
	}
}

// CircuitConfig configures the upstream circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	HalfOpenProbes   int `yaml:"half_open_probes" mapstructure:"half_open_probes"`
}

// Breaker converts the config section into a resilience.CircuitBreakerConfig.
func (c CircuitConfig) Breaker() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold:  c.FailureThreshold,
		ResetTimeout:      time.Duration(c.ResetTimeoutSecs) * time.Second,
		HalfOpenMaxProbes: c.HalfOpenProbes,
	}
}

// PricingConfig holds per-model pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Rates returns the configured rates, or the built-in defaults when none are set.
func (p PricingConfig) Rates() cost.Rates {
	if len(p.Anthropic) == 0 {
		return cost.DefaultRates()
	}
	rates := cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(p.Anthropic))}
	for name, m := range p.Anthropic {
		rates.Anthropic[name] = cost.ModelRate{
			Input:         m.Input,
			Output:        m.Output,
			CacheWriteMul: m.CacheWriteMul,
			CacheReadMul:  m.CacheReadMul,
		}
	}
	return rates
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// MonitoringConfig configures job health alerting.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRateThreshold    float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	FallbackRateThreshold float64 `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold"`
	CostThresholdUSD      float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	MinJobs               int     `yaml:"min_jobs" mapstructure:"min_jobs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OPPORTUNITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	tol := reconcile.DefaultTolerances()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "opportunity.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("planner.timeout_secs", 90)
	v.SetDefault("planner.rate_limit", 2.0)
	v.SetDefault("planner.burst", 4)
	v.SetDefault("planner.included_drivers", 6)
	v.SetDefault("planner.detail_drivers", 8)
	v.SetDefault("planner.max_concurrent", 4)
	v.SetDefault("reconcile.investment_pct", tol.InvestmentPct)
	v.SetDefault("reconcile.monthly_lift", tol.MonthlyLift)
	v.SetDefault("reconcile.roi_points", tol.ROIPoints)
	v.SetDefault("reconcile.implausible_roi_pct", tol.ImplausibleROIPct)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("circuit.half_open_probes", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.error_rate_threshold", 0.25)
	v.SetDefault("monitoring.fallback_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("monitoring.min_jobs", 10)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var supportedDrivers = map[string]bool{"memory": true, "sqlite": true, "postgres": true}

// Validate checks the settings a command needs before it runs.
func (c *Config) Validate(command string) error {
	var errs []string

	switch command {
	case "serve", "plan":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.Model == "" {
			errs = append(errs, "anthropic.model is required")
		}
		if c.Anthropic.MaxTokens <= 0 {
			errs = append(errs, "anthropic.max_tokens must be > 0")
		}
		if c.Planner.TimeoutSecs <= 0 {
			errs = append(errs, "planner.timeout_secs must be > 0")
		}
		if c.Planner.RateLimit < 0 {
			errs = append(errs, "planner.rate_limit must be >= 0")
		}
		if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
			errs = append(errs, "retry.max_attempts must be between 1 and 10")
		}
		errs = append(errs, c.validateStore()...)
		if command == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if command == "plan" && c.Planner.MaxConcurrent < 1 {
			errs = append(errs, "planner.max_concurrent must be >= 1")
		}
	case "status", "stats":
		errs = append(errs, c.validateStore()...)
		if c.Monitoring.ErrorRateThreshold < 0 || c.Monitoring.ErrorRateThreshold > 1 {
			errs = append(errs, "monitoring.error_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.FallbackRateThreshold < 0 || c.Monitoring.FallbackRateThreshold > 1 {
			errs = append(errs, "monitoring.fallback_rate_threshold must be between 0 and 1")
		}
	case "payload", "recover":
		if c.Planner.IncludedDrivers < 1 || c.Planner.DetailDrivers < c.Planner.IncludedDrivers {
			errs = append(errs, "planner.detail_drivers must be >= planner.included_drivers >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", command)
	}

	r := c.Reconcile
	if r.InvestmentPct < 0 || r.MonthlyLift < 0 || r.ROIPoints < 0 || r.ImplausibleROIPct < 0 {
		errs = append(errs, "reconcile tolerances must be >= 0")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	if !supportedDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, sqlite, postgres)", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for the postgres driver")
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, "store.sqlite_path is required for the sqlite driver")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
