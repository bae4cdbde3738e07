package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SchedulerConfig configures the due-source runner.
type SchedulerConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	StoreTimeoutSecs int `yaml:"store_timeout_secs" mapstructure:"store_timeout_secs"`
	FrequencyHours   int `yaml:"frequency_hours" mapstructure:"frequency_hours"`
	PollIntervalMins int `yaml:"poll_interval_mins" mapstructure:"poll_interval_mins"`
}

// FetchTimeout returns the per-source extraction deadline.
func (c SchedulerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// StoreTimeout returns the per-source reconciliation deadline.
func (c SchedulerConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSecs) * time.Second
}

// Frequency returns the interval between two runs of the same source.
func (c SchedulerConfig) Frequency() time.Duration {
	return time.Duration(c.FrequencyHours) * time.Hour
}

// PollInterval returns how often the daemon looks for due sources.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMins) * time.Minute
}

// ReconcileConfig configures how discovered sources are registered.
type ReconcileConfig struct {
	DefaultStrategy string `yaml:"default_strategy" mapstructure:"default_strategy"`
}

// FetchConfig configures outbound HTTP for extraction strategies.
type FetchConfig struct {
	UserAgent               string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs             int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries              int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost             float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	BurstPerHost            int     `yaml:"burst_per_host" mapstructure:"burst_per_host"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// AnthropicConfig holds Anthropic API settings for the LLM strategy.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxTextChars int    `yaml:"max_text_chars" mapstructure:"max_text_chars"`
}

// ServerConfig configures the operator API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("HACKSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hackscraper.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.fetch_timeout_secs", 180)
	v.SetDefault("scheduler.store_timeout_secs", 30)
	v.SetDefault("scheduler.frequency_hours", 24*30)
	v.SetDefault("scheduler.poll_interval_mins", 10)
	v.SetDefault("reconcile.default_strategy", "generic")
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36 Hackscraper/0.1")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.rate_per_host", 1.0)
	v.SetDefault("fetch.burst_per_host", 2)
	v.SetDefault("fetch.circuit_failure_threshold", 5)
	v.SetDefault("fetch.circuit_reset_secs", 300)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.max_text_chars", 20000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

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

// Validate checks the settings a command needs. Mode is "run" for one-shot
// and CLI commands or "serve" for the daemon, which also needs a listen port.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Scheduler.Concurrency < 1 || c.Scheduler.Concurrency > 64 {
		errs = append(errs, "scheduler.concurrency must be between 1 and 64")
	}
	if c.Scheduler.FetchTimeoutSecs < 1 || c.Scheduler.StoreTimeoutSecs < 1 {
		errs = append(errs, "scheduler timeouts must be > 0")
	}
	if c.Scheduler.FrequencyHours < 1 {
		errs = append(errs, "scheduler.frequency_hours must be > 0")
	}
	if c.Reconcile.DefaultStrategy == "" {
		errs = append(errs, "reconcile.default_strategy is required")
	}
	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Scheduler.PollIntervalMins < 1 {
			errs = append(errs, "scheduler.poll_interval_mins must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
