package service

import (
	"fmt"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
	"github.com/alanyoungcy/poolsettle/internal/units"
)

// Identity is an account together with the credential that unlocks it.
type Identity struct {
	Address    string `json:"address"`
	Credential string `json:"-"`
}

// IsZero reports whether no address was supplied.
func (id Identity) IsZero() bool {
	return id.Address == ""
}

// or returns id when set, otherwise def.
func (id Identity) or(def Identity) Identity {
	if id.IsZero() {
		return def
	}
	return id
}

func (id Identity) signer() (ledger.Signer, error) {
	addr, err := units.ValidateAddress(id.Address)
	if err != nil {
		return ledger.Signer{}, err
	}
	return ledger.Signer{Address: addr, Credential: id.Credential}, nil
}

// Operators holds the configured operator accounts and defaults used when a
// caller does not name its own.
type Operators struct {
	TokenOwner         Identity
	OracleOperator     Identity
	PredictionOperator Identity
	// DefaultOracle is bound to predictions created without an oracle.
	DefaultOracle string
	// AccountCredential protects accounts created through CreateAccount.
	AccountCredential string
}

// Validate checks that every configured operator address is well formed.
func (o Operators) Validate() error {
	for role, id := range map[string]Identity{
		"token owner":         o.TokenOwner,
		"oracle operator":     o.OracleOperator,
		"prediction operator": o.PredictionOperator,
	} {
		if _, err := units.ValidateAddress(id.Address); err != nil {
			return fmt.Errorf("%s: %w", role, err)
		}
	}
	if o.DefaultOracle != "" {
		if _, err := units.ValidateAddress(o.DefaultOracle); err != nil {
			return fmt.Errorf("default oracle: %w", err)
		}
	}
	return nil
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidState, fmt.Sprintf(format, args...))
}
