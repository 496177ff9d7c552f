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
// built-in defaults, applies POOLSETTLE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLSETTLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Driver, "POOLSETTLE_LEDGER_DRIVER")
	setStr(&cfg.Ledger.RPCURL, "POOLSETTLE_LEDGER_RPC_URL")
	setInt64(&cfg.Ledger.ChainID, "POOLSETTLE_LEDGER_CHAIN_ID")
	setStr(&cfg.Ledger.KeystoreDir, "POOLSETTLE_LEDGER_KEYSTORE_DIR")
	setBool(&cfg.Ledger.LightKDF, "POOLSETTLE_LEDGER_LIGHT_KDF")
	setStr(&cfg.Ledger.TokenAddress, "POOLSETTLE_LEDGER_TOKEN_ADDRESS")
	setStr(&cfg.Ledger.OracleFactoryAddress, "POOLSETTLE_LEDGER_ORACLE_FACTORY_ADDRESS")
	setStr(&cfg.Ledger.PredictionFactoryAddress, "POOLSETTLE_LEDGER_PREDICTION_FACTORY_ADDRESS")
	setDuration(&cfg.Ledger.CallTimeout, "POOLSETTLE_LEDGER_CALL_TIMEOUT")
	setDuration(&cfg.Ledger.PollInterval, "POOLSETTLE_LEDGER_POLL_INTERVAL")
	setUint64(&cfg.Ledger.GasLimit, "POOLSETTLE_LEDGER_GAS_LIMIT")

	// ── Operators ──
	setStr(&cfg.Operators.TokenOwner, "POOLSETTLE_OPERATORS_TOKEN_OWNER")
	setStr(&cfg.Operators.TokenOwnerPassword, "POOLSETTLE_OPERATORS_TOKEN_OWNER_PASSWORD")
	setStr(&cfg.Operators.OracleOperator, "POOLSETTLE_OPERATORS_ORACLE_OPERATOR")
	setStr(&cfg.Operators.OracleOperatorPassword, "POOLSETTLE_OPERATORS_ORACLE_OPERATOR_PASSWORD")
	setStr(&cfg.Operators.PredictionOperator, "POOLSETTLE_OPERATORS_PREDICTION_OPERATOR")
	setStr(&cfg.Operators.PredictionOperatorPassword, "POOLSETTLE_OPERATORS_PREDICTION_OPERATOR_PASSWORD")
	setStr(&cfg.Operators.DefaultOracle, "POOLSETTLE_OPERATORS_DEFAULT_ORACLE")
	setStr(&cfg.Operators.DefaultAccountPassword, "POOLSETTLE_OPERATORS_DEFAULT_ACCOUNT_PASSWORD")
	setStr(&cfg.Operators.VaultPath, "POOLSETTLE_OPERATORS_VAULT_PATH")
	setStr(&cfg.Operators.VaultPassword, "POOLSETTLE_OPERATORS_VAULT_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POOLSETTLE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POOLSETTLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POOLSETTLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLSETTLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLSETTLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLSETTLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLSETTLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLSETTLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLSETTLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLSETTLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLSETTLE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POOLSETTLE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POOLSETTLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLSETTLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLSETTLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLSETTLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLSETTLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLSETTLE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POOLSETTLE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POOLSETTLE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POOLSETTLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLSETTLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLSETTLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLSETTLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLSETTLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLSETTLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLSETTLE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POOLSETTLE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POOLSETTLE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "POOLSETTLE_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "POOLSETTLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLSETTLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POOLSETTLE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POOLSETTLE_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.LedgerRateLimit, "POOLSETTLE_SERVER_LEDGER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POOLSETTLE_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.ShutdownTimeout, "POOLSETTLE_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLSETTLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLSETTLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLSETTLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLSETTLE_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "POOLSETTLE_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLSETTLE_MODE")
	setStr(&cfg.LogLevel, "POOLSETTLE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
