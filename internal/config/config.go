package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Cyvadra/tv-alert-relay/internal/logging"
)

// Config represents the application configuration
type Config struct {
	App          AppConfig       `mapstructure:"app"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      logging.Config  `mapstructure:"logging"`
	Database     DatabaseConfig  `mapstructure:"database"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	Dispatch     DispatchConfig  `mapstructure:"dispatch"`
	Billing      BillingConfig   `mapstructure:"billing"`
	Telegram     TelegramConfig  `mapstructure:"telegram"`
	Discord      DiscordConfig   `mapstructure:"discord"`
	Email        EmailConfig     `mapstructure:"email"`
	Quotes       QuotesConfig    `mapstructure:"quotes"`
	Metrics      MetricsConfig   `mapstructure:"metrics"`
	AccountsFile string          `mapstructure:"accounts_file"`
}

// AppConfig holds general metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Timezone decides both the rate counter day boundary and rendered timestamps.
	Timezone  string `mapstructure:"timezone"`
	PublicURL string `mapstructure:"public_url"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogQueries   bool   `mapstructure:"log_queries"`
}

// RateLimitConfig selects the daily counter backend
type RateLimitConfig struct {
	Backend       string `mapstructure:"backend"` // memory, database, postgres
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// DispatchConfig tunes the channel fan-out
type DispatchConfig struct {
	ChannelTimeout time.Duration `mapstructure:"channel_timeout"`
}

// BillingConfig maps plan names to their daily alert limit
type BillingConfig struct {
	DefaultPlan string         `mapstructure:"default_plan"`
	Plans       map[string]int `mapstructure:"plans"`
}

// TelegramConfig represents the Telegram bot configuration
type TelegramConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Token       string        `mapstructure:"token"`
	APIURL      string        `mapstructure:"api_url"`
	Polling     bool          `mapstructure:"polling"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	SendRate    int           `mapstructure:"send_rate"`
	CodeTTL     time.Duration `mapstructure:"code_ttl"`
}

// DiscordConfig represents the Discord webhook configuration
type DiscordConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Username  string        `mapstructure:"username"`
	AvatarURL string        `mapstructure:"avatar_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// EmailConfig represents the transactional mail API configuration
type EmailConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	APIURL     string        `mapstructure:"api_url"`
	APIKey     string        `mapstructure:"api_key"`
	From       string        `mapstructure:"from"`
	FromName   string        `mapstructure:"from_name"`
	TemplateID string        `mapstructure:"template_id"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// QuotesConfig enables price enrichment from Binance futures
type QuotesConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Exchanges []string      `mapstructure:"exchanges"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MetricsConfig represents the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig builds configuration from file, environment, and defaults
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TVRELAY")
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
		return nil, fmt.Errorf("failed to parse config file: %w", err)
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
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tv-alert-relay")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("app.public_url", "http://localhost:8080")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tv-alert-relay.db")
	v.SetDefault("database.max_open_conns", 1)

	v.SetDefault("rate_limit.backend", "database")
	v.SetDefault("rate_limit.postgres_dsn", "")
	v.SetDefault("rate_limit.sweep_schedule", "@hourly")

	v.SetDefault("dispatch.channel_timeout", "10s")

	v.SetDefault("billing.default_plan", "free")
	v.SetDefault("billing.plans", map[string]int{"free": 7, "pro": 100})

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.polling", true)
	v.SetDefault("telegram.poll_timeout", "10s")
	v.SetDefault("telegram.send_timeout", "8s")
	v.SetDefault("telegram.send_rate", 25)
	v.SetDefault("telegram.code_ttl", "5m")

	v.SetDefault("discord.enabled", true)
	v.SetDefault("discord.username", "TradingView Alerts")
	v.SetDefault("discord.avatar_url", "https://s3.tradingview.com/userpics/6171439-HGYm_big.png")
	v.SetDefault("discord.timeout", "8s")

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.api_url", "https://api.sendgrid.com/v3/mail/send")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.template_id", "")
	v.SetDefault("email.from_name", "TradingAlerts")
	v.SetDefault("email.timeout", "10s")

	v.SetDefault("quotes.enabled", false)
	v.SetDefault("quotes.exchanges", []string{"BINANCE"})
	v.SetDefault("quotes.base_url", "")
	v.SetDefault("quotes.timeout", "2s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Keys without a meaningful default still need registering so env overrides reach Unmarshal.
	v.SetDefault("accounts_file", "")
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

// Validate performs basic sanity checks on the configuration values
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("app.timezone is invalid: %w", err)
	}
	switch c.RateLimit.Backend {
	case "memory", "database":
	case "postgres":
		if c.RateLimit.PostgresDSN == "" {
			return fmt.Errorf("rate_limit.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("rate_limit.backend %q is not supported", c.RateLimit.Backend)
	}
	if c.Dispatch.ChannelTimeout <= 0 {
		return fmt.Errorf("dispatch.channel_timeout must be greater than zero")
	}
	if len(c.Billing.Plans) == 0 {
		return fmt.Errorf("billing.plans must define at least one plan")
	}
	for plan, limit := range c.Billing.Plans {
		if limit < 0 {
			return fmt.Errorf("billing.plans.%s cannot be negative", plan)
		}
	}
	if _, ok := c.Billing.Plans[c.Billing.DefaultPlan]; !ok {
		return fmt.Errorf("billing.default_plan %q is not a known plan", c.Billing.DefaultPlan)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required when telegram is enabled")
	}
	if c.Email.Enabled {
		if c.Email.APIKey == "" {
			return fmt.Errorf("email.api_key is required when email is enabled")
		}
		if c.Email.From == "" {
			return fmt.Errorf("email.from is required when email is enabled")
		}
	}
	return nil
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.App.Timezone)
}

// ListenAddr returns the host:port the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
