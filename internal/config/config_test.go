package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0000000000000000000000000000000000000000000000000000000000000001"

// validConfig is the defaults plus the one field Defaults cannot supply.
func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = testKey
	return cfg
}

func TestDefaults_ValidateWithWalletKey(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiresKeySource(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.EncryptedKeyPath = "/etc/updownbot/wallet.key.enc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "loud"
	cfg.Trading.MaxPairCost = 1.2
	cfg.Trading.MaxTradeNotional = 5000 // exceeds MaxTotalExposure
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "max_pair_cost")
	assert.Contains(t, err.Error(), "max_trade_notional")
}

func TestValidate_S3RequiresJournal(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres journal")

	cfg.Postgres.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[wallet]
private_key = "`+testKey+`"

[trading]
asset_class = "ethereum"
window_duration = "15m"
quote_stale_timeout = "10s"
max_pair_cost = 0.97

[executor]
validity_window = "2s"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ethereum", cfg.Trading.AssetClass)
	assert.Equal(t, 15*time.Minute, cfg.Trading.WindowDuration.Duration)
	assert.Equal(t, 10*time.Second, cfg.Trading.QuoteStaleTimeout.Duration)
	assert.InDelta(t, 0.97, cfg.Trading.MaxPairCost, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Executor.ValidityWindow.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.InDelta(t, 50.0, cfg.Trading.MaxTradeNotional, 1e-9)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[trading]
max_pair_cost = 0.97
`), 0o600))

	t.Setenv("GABAGOOL_WALLET_PRIVATE_KEY", testKey)
	t.Setenv("GABAGOOL_MAX_PAIR_COST", "0.95")
	t.Setenv("GABAGOOL_WINDOW_DURATION", "1h")
	t.Setenv("GABAGOOL_POSTGRES_ENABLED", "true")
	t.Setenv("GABAGOOL_POSTGRES_DSN", "postgres://u:p@db/updownbot")
	t.Setenv("GABAGOOL_NOTIFY_EVENTS", "profit_locked, error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
	assert.InDelta(t, 0.95, cfg.Trading.MaxPairCost, 1e-9)
	assert.Equal(t, time.Hour, cfg.Trading.WindowDuration.Duration)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "postgres://u:p@db/updownbot", cfg.Postgres.DSN)
	assert.Equal(t, []string{"profit_locked", "error"}, cfg.Notify.Events)
}

func TestLoad_BadEnvValueFails(t *testing.T) {
	t.Setenv("GABAGOOL_WALLET_PRIVATE_KEY", testKey)
	t.Setenv("GABAGOOL_MAX_PAIR_COST", "cheap")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GABAGOOL_MAX_PAIR_COST")
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Setenv("GABAGOOL_WALLET_PRIVATE_KEY", testKey)

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDuration_TextRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Wallet.KeyPassword)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Empty secrets stay empty so operators can tell what was configured.
	assert.Empty(t, red.Redis.Password)
	assert.Empty(t, red.Notify.DiscordWebhookURL)

	// The original is untouched.
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
}
