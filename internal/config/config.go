// Package config defines the bot's configuration and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by GABAGOOL_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Trading    TradingConfig    `toml:"trading"`
	Executor   ExecutorConfig   `toml:"executor"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int    `toml:"chain_id"`
}

// TradingConfig holds window selection and risk limit parameters.
type TradingConfig struct {
	// AssetClass selects the recurring series, e.g. "bitcoin".
	AssetClass string `toml:"asset_class"`
	// WindowDuration is the market window length.
	WindowDuration duration `toml:"window_duration"`
	// ClosingMargin is how long before window end new buying stops.
	ClosingMargin duration `toml:"closing_margin"`
	// DiscoveryInterval is the directory polling cadence.
	DiscoveryInterval duration `toml:"discovery_interval"`
	// MinRemaining skips windows discovered with less than this left.
	MinRemaining duration `toml:"min_remaining"`
	// QuoteStaleTimeout is how long a side may go quiet before its quotes
	// stop being trusted.
	QuoteStaleTimeout duration `toml:"quote_stale_timeout"`

	// MaxPairCost is the highest acceptable blended YES+NO cost per pair.
	MaxPairCost float64 `toml:"max_pair_cost"`
	// MaxTradeNotional caps the dollar size of a single order.
	MaxTradeNotional float64 `toml:"max_trade_notional"`
	// MaxTotalExposure caps cumulative spend per market window.
	MaxTotalExposure float64 `toml:"max_total_exposure"`
	// MinProfitTarget is the locked profit at which buying stops.
	MinProfitTarget float64 `toml:"min_profit_target"`
}

// ExecutorConfig holds order lifecycle parameters.
type ExecutorConfig struct {
	// ValidityWindow is how long a submitted price is trusted.
	ValidityWindow duration `toml:"validity_window"`
	// MaxSubmitRetries bounds retries of transient submission failures.
	MaxSubmitRetries int `toml:"max_submit_retries"`
	// RetryBackoff is the pause between submission retries.
	RetryBackoff duration `toml:"retry_backoff"`
}

// PostgresConfig holds journal database parameters. The journal is optional;
// disabled means in-process state only.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Optional.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for window archival. Optional.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveRetention duration `toml:"archive_retention"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible starting values. File
// and environment overrides are layered on top by Load.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:   137,
		},
		Trading: TradingConfig{
			AssetClass:        "bitcoin",
			WindowDuration:    duration{15 * time.Minute},
			ClosingMargin:     duration{30 * time.Second},
			DiscoveryInterval: duration{30 * time.Second},
			MinRemaining:      duration{2 * time.Minute},
			QuoteStaleTimeout: duration{5 * time.Second},
			MaxPairCost:       0.99,
			MaxTradeNotional:  50.0,
			MaxTotalExposure:  1000.0,
			MinProfitTarget:   1.0,
		},
		Executor: ExecutorConfig{
			ValidityWindow:   duration{1500 * time.Millisecond},
			MaxSubmitRetries: 3,
			RetryBackoff:     duration{200 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "updownbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "updownbot-data",
			ForcePathStyle:   true,
			ArchiveInterval:  duration{time.Hour},
			ArchiveRetention: duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"profit_locked", "order_rejected", "error"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	if c.Trading.AssetClass == "" {
		errs = append(errs, "trading: asset_class must not be empty")
	}
	if c.Trading.WindowDuration.Duration <= 0 {
		errs = append(errs, "trading: window_duration must be positive")
	}
	if c.Trading.QuoteStaleTimeout.Duration <= 0 {
		errs = append(errs, "trading: quote_stale_timeout must be positive")
	}
	if c.Trading.MaxPairCost <= 0 || c.Trading.MaxPairCost >= 1 {
		errs = append(errs, fmt.Sprintf("trading: max_pair_cost must be in (0, 1), got %v", c.Trading.MaxPairCost))
	}
	if c.Trading.MaxTradeNotional <= 0 {
		errs = append(errs, "trading: max_trade_notional must be > 0")
	}
	if c.Trading.MaxTotalExposure <= 0 {
		errs = append(errs, "trading: max_total_exposure must be > 0")
	}
	if c.Trading.MaxTradeNotional > c.Trading.MaxTotalExposure {
		errs = append(errs, "trading: max_trade_notional must not exceed max_total_exposure")
	}
	if c.Trading.MinProfitTarget < 0 {
		errs = append(errs, "trading: min_profit_target must be >= 0")
	}

	if c.Executor.ValidityWindow.Duration <= 0 {
		errs = append(errs, "executor: validity_window must be positive")
	}
	if c.Executor.MaxSubmitRetries < 0 {
		errs = append(errs, "executor: max_submit_retries must be >= 0")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires the postgres journal to be enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
