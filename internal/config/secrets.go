package config

import (
	"fmt"

	"github.com/alanyoungcy/poolsettle/internal/crypto"
)

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Operators.TokenOwnerPassword)
	redact(&out.Operators.OracleOperatorPassword)
	redact(&out.Operators.PredictionOperatorPassword)
	redact(&out.Operators.DefaultAccountPassword)
	redact(&out.Operators.VaultPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// ResolveOperatorSecrets fills empty operator passwords from the credential
// vault when one is configured. Inline passwords win over vault entries.
func ResolveOperatorSecrets(cfg *Config) error {
	ops := &cfg.Operators
	if ops.VaultPath == "" {
		return nil
	}
	creds, err := crypto.LoadCredentials(ops.VaultPath, ops.VaultPassword)
	if err != nil {
		return fmt.Errorf("config: open operator vault: %w", err)
	}
	fill := func(dst *string, role string) {
		if *dst == "" {
			*dst = creds[role]
		}
	}
	fill(&ops.TokenOwnerPassword, crypto.RoleTokenOwner)
	fill(&ops.OracleOperatorPassword, crypto.RoleOracleOperator)
	fill(&ops.PredictionOperatorPassword, crypto.RolePredictionOperator)
	fill(&ops.DefaultAccountPassword, crypto.RoleDefaultAccount)
	return nil
}
