// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLSETTLE_* environment variables.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Operators OperatorsConfig `toml:"operators"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// Ledger drivers.
const (
	DriverMemory   = "memory"
	DriverEthereum = "ethereum"
)

// LedgerConfig selects and configures the ledger backend. Contract
// addresses are required for the ethereum driver; the memory driver deploys
// its own.
type LedgerConfig struct {
	Driver                   string   `toml:"driver"`
	RPCURL                   string   `toml:"rpc_url"`
	ChainID                  int64    `toml:"chain_id"`
	KeystoreDir              string   `toml:"keystore_dir"`
	LightKDF                 bool     `toml:"light_kdf"`
	TokenAddress             string   `toml:"token_address"`
	OracleFactoryAddress     string   `toml:"oracle_factory_address"`
	PredictionFactoryAddress string   `toml:"prediction_factory_address"`
	CallTimeout              duration `toml:"call_timeout"`
	PollInterval             duration `toml:"poll_interval"`
	GasLimit                 uint64   `toml:"gas_limit"`
}

// OperatorsConfig names the accounts that sign privileged mutations.
// Passwords may be given inline or sealed in the vault at VaultPath.
type OperatorsConfig struct {
	TokenOwner                 string `toml:"token_owner"`
	TokenOwnerPassword         string `toml:"token_owner_password"`
	OracleOperator             string `toml:"oracle_operator"`
	OracleOperatorPassword     string `toml:"oracle_operator_password"`
	PredictionOperator         string `toml:"prediction_operator"`
	PredictionOperatorPassword string `toml:"prediction_operator_password"`
	DefaultOracle              string `toml:"default_oracle"`
	DefaultAccountPassword     string `toml:"default_account_password"`
	VaultPath                  string `toml:"vault_path"`
	VaultPassword              string `toml:"vault_password"`
}

// PostgresConfig holds the receipt journal connection parameters.
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

// RedisConfig holds Redis connection parameters. When disabled, locks and
// lifecycle signals stay in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the receipt journal archive.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. RateLimit is requests per
// RateWindow per client and LedgerRateLimit is ledger writes per
// RateWindow per client and contract; zero disables either.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	LedgerRateLimit int      `toml:"ledger_rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Driver:       DriverMemory,
			RPCURL:       "http://localhost:8545",
			ChainID:      1337,
			KeystoreDir:  "./data/keystore",
			CallTimeout:  duration{60 * time.Second},
			PollInterval: duration{time.Second},
			GasLimit:     3_000_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolsettle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "poolsettle",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolsettle-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			LedgerRateLimit: 30,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events:   []string{"ledger_fault"},
			Cooldown: duration{5 * time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	switch c.Ledger.Driver {
	case DriverMemory:
	case DriverEthereum:
		if c.Ledger.RPCURL == "" {
			errs = append(errs, "ledger: rpc_url must not be empty for the ethereum driver")
		}
		if c.Ledger.ChainID <= 0 {
			errs = append(errs, "ledger: chain_id must be positive")
		}
		if c.Ledger.KeystoreDir == "" {
			errs = append(errs, "ledger: keystore_dir must not be empty for the ethereum driver")
		}
		for name, addr := range map[string]string{
			"token_address":              c.Ledger.TokenAddress,
			"oracle_factory_address":     c.Ledger.OracleFactoryAddress,
			"prediction_factory_address": c.Ledger.PredictionFactoryAddress,
		} {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("ledger: %s %q is not a valid address", name, addr))
			}
		}
		for name, addr := range map[string]string{
			"token_owner":         c.Operators.TokenOwner,
			"oracle_operator":     c.Operators.OracleOperator,
			"prediction_operator": c.Operators.PredictionOperator,
		} {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("operators: %s %q is not a valid address", name, addr))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown driver %q (valid: memory, ethereum)", c.Ledger.Driver))
	}
	if c.Ledger.CallTimeout.Duration <= 0 {
		errs = append(errs, "ledger: call_timeout must be > 0")
	}
	if c.Ledger.PollInterval.Duration <= 0 {
		errs = append(errs, "ledger: poll_interval must be > 0")
	}

	// Operators
	if c.Operators.DefaultOracle != "" && !common.IsHexAddress(c.Operators.DefaultOracle) {
		errs = append(errs, fmt.Sprintf("operators: default_oracle %q is not a valid address", c.Operators.DefaultOracle))
	}
	if c.Operators.VaultPath != "" && c.Operators.VaultPassword == "" {
		errs = append(errs, "operators: vault_password is required when vault_path is set")
	}

	// Postgres
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Archive
	archiving := c.Archive.Enabled || mode == "archive"
	if archiving {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: postgres must be enabled")
		}
		if !c.S3.Enabled {
			errs = append(errs, "archive: s3 must be enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.LedgerRateLimit < 0 {
			errs = append(errs, "server: ledger_rate_limit must be >= 0")
		}
		if (c.Server.RateLimit > 0 || c.Server.LedgerRateLimit > 0) && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when a rate limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
