package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Fees        FeesConfig        `mapstructure:"fees"`
	Proposal    ProposalConfig    `mapstructure:"proposal"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Sentiment   SentimentConfig   `mapstructure:"sentiment"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// HyperliquidConfig holds Hyperliquid API configuration
type HyperliquidConfig struct {
	InfoURL        string        `mapstructure:"info_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// WatchConfig holds watcher runtime configuration. Scoring thresholds
// and offsets live in the persisted watch state; these are the knobs
// that stay fixed for the process lifetime.
type WatchConfig struct {
	MaxAlertsPerHour     int           `mapstructure:"max_alerts_per_hour"`
	MetaRefreshInterval  time.Duration `mapstructure:"meta_refresh_interval"`
	PollIntervalFloor    time.Duration `mapstructure:"poll_interval_floor"`
	EvaluateNowLimit     int           `mapstructure:"evaluate_now_limit"`
	AutostartWhenEnabled bool          `mapstructure:"autostart_when_enabled"`
}

// FeesConfig holds the exchange fee rates used for estimates
type FeesConfig struct {
	TakerFee float64 `mapstructure:"taker_fee"`
	MakerFee float64 `mapstructure:"maker_fee"`
}

// ProposalConfig holds proposal lifecycle configuration
type ProposalConfig struct {
	ExpiryMinutes int           `mapstructure:"expiry_minutes"`
	SpamGuard     time.Duration `mapstructure:"spam_guard"`
}

// TelegramConfig holds Telegram notification and control configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	OwnerID        int64         `mapstructure:"owner_id"`
	AllowedChatID  string        `mapstructure:"allowed_chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	ControlPlane   bool          `mapstructure:"control_plane"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// SentimentConfig holds CoinGecko sentiment lookup configuration
type SentimentConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	CachePath string        `mapstructure:"cache_path"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds state persistence configuration
type StorageConfig struct {
	StatePath      string `mapstructure:"state_path"`
	WatchStatePath string `mapstructure:"watch_state_path"`
	ArchivePath    string `mapstructure:"archive_path"`
	DataDir        string `mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("FOMOCALC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file falls back to defaults and environment.
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Hyperliquid defaults
	v.SetDefault("hyperliquid.info_url", "https://api.hyperliquid.xyz/info")
	v.SetDefault("hyperliquid.timeout", "10s")
	v.SetDefault("hyperliquid.max_retries", 3)
	v.SetDefault("hyperliquid.retry_delay_base", "1s")

	// Watch defaults
	v.SetDefault("watch.max_alerts_per_hour", 10)
	v.SetDefault("watch.meta_refresh_interval", "60s")
	v.SetDefault("watch.poll_interval_floor", "2s")
	v.SetDefault("watch.evaluate_now_limit", 5)
	v.SetDefault("watch.autostart_when_enabled", true)

	// Fee defaults
	v.SetDefault("fees.taker_fee", 0.00045)
	v.SetDefault("fees.maker_fee", 0.00015)

	// Proposal defaults
	v.SetDefault("proposal.expiry_minutes", 15)
	v.SetDefault("proposal.spam_guard", "15s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.control_plane", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Sentiment defaults
	v.SetDefault("sentiment.api_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("sentiment.cache_path", "./data/coingecko-cache.json")
	v.SetDefault("sentiment.cache_ttl", "24h")
	v.SetDefault("sentiment.timeout", "15s")

	// Storage defaults
	v.SetDefault("storage.state_path", "./data/fomocalc-state.json")
	v.SetDefault("storage.watch_state_path", "./data/fomocalc-watch-state.json")
	v.SetDefault("storage.archive_path", "./data/fomocalc.db")
	v.SetDefault("storage.data_dir", "./data")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Hyperliquid config
	if c.Hyperliquid.InfoURL == "" {
		return fmt.Errorf("hyperliquid.info_url is required")
	}
	if c.Hyperliquid.Timeout < 1*time.Second {
		return fmt.Errorf("hyperliquid.timeout must be at least 1 second")
	}
	if c.Hyperliquid.MaxRetries < 1 {
		return fmt.Errorf("hyperliquid.max_retries must be at least 1")
	}

	// Validate Watch config
	if c.Watch.MaxAlertsPerHour < 1 {
		return fmt.Errorf("watch.max_alerts_per_hour must be at least 1")
	}
	if c.Watch.MetaRefreshInterval < 1*time.Second {
		return fmt.Errorf("watch.meta_refresh_interval must be at least 1 second")
	}
	if c.Watch.PollIntervalFloor < 1*time.Second {
		return fmt.Errorf("watch.poll_interval_floor must be at least 1 second")
	}
	if c.Watch.EvaluateNowLimit < 1 {
		return fmt.Errorf("watch.evaluate_now_limit must be at least 1")
	}

	// Validate fee config
	if c.Fees.TakerFee < 0 || c.Fees.TakerFee > 0.01 {
		return fmt.Errorf("fees.taker_fee must be between 0 and 0.01")
	}
	if c.Fees.MakerFee < 0 || c.Fees.MakerFee > 0.01 {
		return fmt.Errorf("fees.maker_fee must be between 0 and 0.01")
	}

	// Validate Proposal config
	if c.Proposal.ExpiryMinutes < 1 {
		return fmt.Errorf("proposal.expiry_minutes must be at least 1")
	}
	if c.Proposal.SpamGuard < 0 {
		return fmt.Errorf("proposal.spam_guard must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.ControlPlane && c.Telegram.Enabled && c.Telegram.OwnerID == 0 {
		return fmt.Errorf("telegram.owner_id is required when the control plane is enabled")
	}

	// Validate Sentiment config
	if c.Sentiment.APIURL == "" {
		return fmt.Errorf("sentiment.api_url is required")
	}
	if c.Sentiment.CacheTTL < 1*time.Minute {
		return fmt.Errorf("sentiment.cache_ttl must be at least 1 minute")
	}

	// Validate Storage config
	if c.Storage.StatePath == "" {
		return fmt.Errorf("storage.state_path is required")
	}
	if c.Storage.WatchStatePath == "" {
		return fmt.Errorf("storage.watch_state_path is required")
	}
	if c.Storage.ArchivePath == "" {
		return fmt.Errorf("storage.archive_path is required")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
