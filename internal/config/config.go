package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pulse-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToStart    bool          `mapstructure:"align_to_start"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// RetryConfig tunes bounded retry with exponential backoff.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// RateLimitConfig 描述滑动窗口限流参数。
type RateLimitConfig struct {
	MaxCalls int           `mapstructure:"max_calls"`
	Window   time.Duration `mapstructure:"window"`
}

// FeedConfig captures feed aggregator connectivity.
type FeedConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Platform        string        `mapstructure:"platform"`
	PageLimit       int           `mapstructure:"page_limit"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	BootstrapWindow time.Duration `mapstructure:"bootstrap_window"`
	UserAgent       string        `mapstructure:"user_agent"`
	Retry           RetryConfig   `mapstructure:"retry"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

// LLMConfig covers chat-completion scoring.
type LLMConfig struct {
	APIKey         string          `mapstructure:"api_key"`
	BaseURL        string          `mapstructure:"base_url"`
	Model          string          `mapstructure:"model"`
	Temperature    float64         `mapstructure:"temperature"`
	MaxTokens      int64           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	Retry          RetryConfig     `mapstructure:"retry"`
	Breaker        BreakerConfig   `mapstructure:"breaker"`
}

// DispatchConfig governs the alert dispatch cycle.
type DispatchConfig struct {
	BootstrapWindow time.Duration `mapstructure:"bootstrap_window"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	DeactivateAfter int           `mapstructure:"deactivate_after"`
	AlertRetention  time.Duration `mapstructure:"alert_retention"`
}

// AlertingConfig defines per-channel delivery parameters.
type AlertingConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BotToken          string        `mapstructure:"bot_token"`
	APIBase           string        `mapstructure:"api_base"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
}

// EmailConfig covers SMTP delivery.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SMSConfig covers the SMS gateway.
type SMSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	FromNumber     string        `mapstructure:"from_number"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	OutputDir     string `mapstructure:"output_dir"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PULSEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pulsewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_start", false)
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70756C73))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("feed.page_limit", 100)
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.bootstrap_window", "5m")
	v.SetDefault("feed.user_agent", "pulsewatcher/1.0")
	v.SetDefault("feed.retry.max_retries", 3)
	v.SetDefault("feed.retry.initial_delay", "1s")
	v.SetDefault("feed.retry.backoff_multiplier", 2.0)
	v.SetDefault("feed.breaker.failure_threshold", 5)
	v.SetDefault("feed.breaker.recovery_timeout", "60s")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 400)
	v.SetDefault("llm.request_timeout", "30s")
	v.SetDefault("llm.rate_limit.max_calls", 60)
	v.SetDefault("llm.rate_limit.window", "1m")
	v.SetDefault("llm.retry.max_retries", 2)
	v.SetDefault("llm.retry.initial_delay", "2s")
	v.SetDefault("llm.retry.backoff_multiplier", 2.0)
	v.SetDefault("llm.breaker.failure_threshold", 5)
	v.SetDefault("llm.breaker.recovery_timeout", "120s")

	v.SetDefault("dispatch.bootstrap_window", "5m")
	v.SetDefault("dispatch.send_timeout", "30s")
	v.SetDefault("dispatch.deactivate_after", 5)
	v.SetDefault("dispatch.alert_retention", "720h")

	v.SetDefault("alerting.rate_limit.max_calls", 30)
	v.SetDefault("alerting.rate_limit.window", "1m")
	v.SetDefault("alerting.retry.max_retries", 3)
	v.SetDefault("alerting.retry.initial_delay", "1s")
	v.SetDefault("alerting.retry.backoff_multiplier", 2.0)
	v.SetDefault("alerting.breaker.failure_threshold", 5)
	v.SetDefault("alerting.breaker.recovery_timeout", "60s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")
	v.SetDefault("alerting.telegram.messages_per_second", 25.0)
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.sms.enabled", false)
	v.SetDefault("alerting.sms.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.output_dir", ".")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Feed.PageLimit <= 0 {
		return fmt.Errorf("feed.page_limit must be greater than zero")
	}
	if c.LLM.RateLimit.MaxCalls < 0 {
		return fmt.Errorf("llm.rate_limit.max_calls cannot be negative")
	}
	if c.Alerting.RateLimit.MaxCalls < 0 {
		return fmt.Errorf("alerting.rate_limit.max_calls cannot be negative")
	}
	if c.Dispatch.DeactivateAfter <= 0 {
		return fmt.Errorf("dispatch.deactivate_after must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.Host == "" {
			return fmt.Errorf("alerting.email.host 必须配置")
		}
		if c.Alerting.Email.From == "" {
			return fmt.Errorf("alerting.email.from 必须配置")
		}
	}
	if c.Alerting.SMS.Enabled && c.Alerting.SMS.BaseURL == "" {
		return fmt.Errorf("alerting.sms.base_url 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
