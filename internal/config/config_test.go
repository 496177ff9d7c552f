package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolsettle/internal/crypto"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeTOML(t, `
mode = "full"

[ledger]
driver = "memory"
call_timeout = "15s"

[server]
port = 9000
rate_limit = 10
rate_window = "30s"
`)
	t.Setenv("POOLSETTLE_SERVER_PORT", "9100")
	t.Setenv("POOLSETTLE_NOTIFY_EVENTS", "ledger_fault, archive_failed ,")
	t.Setenv("POOLSETTLE_LEDGER_GAS_LIMIT", "500000")
	t.Setenv("POOLSETTLE_SERVER_LEDGER_RATE_LIMIT", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 15*time.Second, cfg.Ledger.CallTimeout.Duration)
	assert.Equal(t, time.Second, cfg.Ledger.PollInterval.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, 10, cfg.Server.RateLimit)
	assert.Equal(t, 5, cfg.Server.LedgerRateLimit)
	assert.Equal(t, []string{"ledger_fault", "archive_failed"}, cfg.Notify.Events)
	assert.Equal(t, uint64(500000), cfg.Ledger.GasLimit)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeTOML(t, "[ledger]\ncall_timeout = \"soon\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_EthereumDriverNeedsAddresses(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.Driver = DriverEthereum
	cfg.Ledger.TokenAddress = "0x0000000000000000000000000000000000000001"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle_factory_address")
	assert.Contains(t, err.Error(), "prediction_factory_address")
	assert.Contains(t, err.Error(), "operators: token_owner")
	assert.NotContains(t, err.Error(), "token_address")
}

func TestValidate_ArchiveNeedsStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: postgres must be enabled")
	assert.Contains(t, err.Error(), "archive: s3 must be enabled")

	cfg.Postgres.Enabled = true
	cfg.S3.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestValidate_UnknownValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Ledger.Driver = "sqlite"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "trade"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), `unknown driver "sqlite"`)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Operators.TokenOwnerPassword = "owner-secret"
	cfg.Postgres.Password = "pg"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Operators.TokenOwnerPassword)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Empty(t, out.Operators.OracleOperatorPassword)
	assert.Equal(t, "owner-secret", cfg.Operators.TokenOwnerPassword)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "ledger_fault", cfg.Notify.Events[0])
}

func TestResolveOperatorSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	require.NoError(t, crypto.WriteCredentials(path, map[string]string{
		crypto.RoleTokenOwner:     "from-vault",
		crypto.RoleOracleOperator: "oracle-from-vault",
	}, "master", 1000))

	cfg := Defaults()
	cfg.Operators.VaultPath = path
	cfg.Operators.VaultPassword = "master"
	cfg.Operators.OracleOperatorPassword = "inline"

	require.NoError(t, ResolveOperatorSecrets(&cfg))
	assert.Equal(t, "from-vault", cfg.Operators.TokenOwnerPassword)
	assert.Equal(t, "inline", cfg.Operators.OracleOperatorPassword)
	assert.Empty(t, cfg.Operators.PredictionOperatorPassword)

	cfg.Operators.VaultPassword = "wrong"
	assert.ErrorIs(t, ResolveOperatorSecrets(&cfg), crypto.ErrWrongPassword)
}

func TestValidate_LedgerRateLimit(t *testing.T) {
	cfg := Defaults()
	cfg.Server.LedgerRateLimit = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger_rate_limit")

	cfg = Defaults()
	cfg.Server.RateLimit = 0
	cfg.Server.RateWindow.Duration = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_window")
}
