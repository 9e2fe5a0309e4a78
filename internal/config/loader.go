package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GABAGOOL_* environment variable overrides,
// validates the result, and returns the final Config. An empty path skips
// the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known GABAGOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setStr := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat64 := func(dst *float64, key string) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(dst *bool, key string) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(dst *duration, key string) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			dst.Duration = d
		}
	}
	setStringSlice := func(dst *[]string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	setStr(&cfg.LogLevel, "GABAGOOL_LOG_LEVEL")

	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "GABAGOOL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "GABAGOOL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "GABAGOOL_WALLET_KEY_PASSWORD")

	// Polymarket
	setStr(&cfg.Polymarket.ClobHost, "GABAGOOL_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "GABAGOOL_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "GABAGOOL_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "GABAGOOL_CHAIN_ID")

	// Trading
	setStr(&cfg.Trading.AssetClass, "GABAGOOL_ASSET_CLASS")
	setDuration(&cfg.Trading.WindowDuration, "GABAGOOL_WINDOW_DURATION")
	setDuration(&cfg.Trading.ClosingMargin, "GABAGOOL_CLOSING_MARGIN")
	setDuration(&cfg.Trading.DiscoveryInterval, "GABAGOOL_DISCOVERY_INTERVAL")
	setDuration(&cfg.Trading.MinRemaining, "GABAGOOL_MIN_REMAINING")
	setDuration(&cfg.Trading.QuoteStaleTimeout, "GABAGOOL_QUOTE_STALE_TIMEOUT")
	setFloat64(&cfg.Trading.MaxPairCost, "GABAGOOL_MAX_PAIR_COST")
	setFloat64(&cfg.Trading.MaxTradeNotional, "GABAGOOL_MAX_TRADE_NOTIONAL")
	setFloat64(&cfg.Trading.MaxTotalExposure, "GABAGOOL_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Trading.MinProfitTarget, "GABAGOOL_MIN_PROFIT_TARGET")

	// Executor
	setDuration(&cfg.Executor.ValidityWindow, "GABAGOOL_VALIDITY_WINDOW")
	setInt(&cfg.Executor.MaxSubmitRetries, "GABAGOOL_MAX_SUBMIT_RETRIES")
	setDuration(&cfg.Executor.RetryBackoff, "GABAGOOL_RETRY_BACKOFF")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "GABAGOOL_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "GABAGOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "GABAGOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GABAGOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GABAGOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GABAGOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GABAGOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GABAGOOL_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "GABAGOOL_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "GABAGOOL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GABAGOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GABAGOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GABAGOOL_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "GABAGOOL_REDIS_TLS_ENABLED")

	// S3
	setBool(&cfg.S3.Enabled, "GABAGOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GABAGOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GABAGOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "GABAGOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GABAGOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GABAGOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GABAGOOL_S3_USE_SSL")
	setDuration(&cfg.S3.ArchiveInterval, "GABAGOOL_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.ArchiveRetention, "GABAGOOL_S3_ARCHIVE_RETENTION")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "GABAGOOL_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GABAGOOL_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GABAGOOL_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GABAGOOL_NOTIFY_EVENTS")

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid environment overrides:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
