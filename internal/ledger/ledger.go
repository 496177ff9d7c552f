// Package ledger submits calls to the append-only ledger and verifies that
// every confirmed mutation carries the event its caller expects.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// Contract names one of the ledger programs the engine talks to.
type Contract string

const (
	ContractToken             Contract = "token"
	ContractOracleFactory     Contract = "oracle_factory"
	ContractOracle            Contract = "oracle"
	ContractPredictionFactory Contract = "prediction_factory"
	ContractPrediction        Contract = "prediction"
)

// ErrReverted is returned by a Backend when the ledger rejected a mutation.
var ErrReverted = errors.New("transaction reverted")

// Addresses holds the deployed singleton programs.
type Addresses struct {
	Token             common.Address
	OracleFactory     common.Address
	PredictionFactory common.Address
}

// Signer is the account a mutation is submitted on behalf of.
type Signer struct {
	Address    common.Address
	Credential string
}

// Call describes a single mutation and the event that confirms it.
type Call struct {
	Contract Contract
	Address  common.Address
	Method   string
	Args     []any
	Event    string
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s).%s", c.Contract, c.Address.Hex(), c.Method)
}

// Backend is a ledger transport. Read performs a constant call and returns
// the decoded outputs. Transact signs, submits and waits for confirmation.
// A mutation that the ledger rejected yields either ErrReverted or a
// receipt without events.
type Backend interface {
	NewAccount(ctx context.Context, credential string) (common.Address, error)
	Read(ctx context.Context, contract Contract, at common.Address, method string, args ...any) ([]any, error)
	Transact(ctx context.Context, call Call, signer Signer) (domain.Receipt, error)
}

// ReceiptError reports a confirmed mutation whose receipt lacks the
// expected event.
type ReceiptError struct {
	Call    Call
	Receipt domain.Receipt
}

func (e *ReceiptError) Error() string {
	found := "none"
	if names := e.Receipt.EventNames(); len(names) > 0 {
		found = strings.Join(names, ", ")
	}
	return fmt.Sprintf("ledger: %s: expected event %s in tx %s, found %s",
		e.Call, e.Call.Event, e.Receipt.TxHash, found)
}

// Unwrap lets callers match the failure with errors.Is(err, domain.ErrUnexpected).
func (e *ReceiptError) Unwrap() error {
	return domain.ErrUnexpected
}
