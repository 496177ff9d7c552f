// Package memory is an in-process ledger that simulates the token, oracle
// and pool prediction programs. It backs local development and tests.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
)

// Backend holds all ledger state behind a single mutex. Mutations validate
// fully before changing state, so a reverted call leaves nothing behind.
type Backend struct {
	mu  sync.Mutex
	now func() time.Time

	nonce uint64
	block uint64

	credentials map[common.Address]string
	addresses   ledger.Addresses
	token       *token
	oracles     map[common.Address]*oracle
	predictions map[common.Address]*prediction

	// failNext makes the next mutation of the given method revert.
	failNext map[string]error
	// dropEvents strips events from receipts of the given method.
	dropEvents map[string]bool
}

var _ ledger.Backend = (*Backend)(nil)

// New deploys the token, oracle factory and prediction factory. The token
// is owned by tokenOwner, which must later be created with NewAccount or
// registered with AddAccount before it can sign.
func New(tokenOwner common.Address) *Backend {
	b := &Backend{
		now:         time.Now,
		credentials: make(map[common.Address]string),
		oracles:     make(map[common.Address]*oracle),
		predictions: make(map[common.Address]*prediction),
		failNext:    make(map[string]error),
		dropEvents:  make(map[string]bool),
	}
	deployer := common.HexToAddress("0x00000000000000000000000000000000000000de")
	b.addresses = ledger.Addresses{
		Token:             b.nextAddress(deployer),
		OracleFactory:     b.nextAddress(deployer),
		PredictionFactory: b.nextAddress(deployer),
	}
	b.token = newToken(tokenOwner)
	return b
}

// Addresses returns the deployed singleton programs.
func (b *Backend) Addresses() ledger.Addresses {
	return b.addresses
}

// SetClock replaces the time source used for voting windows.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// AddAccount registers an existing address with its credential.
func (b *Backend) AddAccount(addr common.Address, credential string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credentials[addr] = credential
}

// FailNext makes the next mutation of method revert with err.
func (b *Backend) FailNext(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[method] = err
}

// DropEvents makes receipts of method carry no events until reset.
func (b *Backend) DropEvents(method string, drop bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropEvents[method] = drop
}

// NewAccount creates a fresh address protected by credential.
func (b *Backend) NewAccount(ctx context.Context, credential string) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := b.nextAddress(common.HexToAddress("0x00000000000000000000000000000000000000ac"))
	b.credentials[addr] = credential
	return addr, nil
}

// Read dispatches a constant call.
func (b *Backend) Read(ctx context.Context, contract ledger.Contract, at common.Address, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch contract {
	case ledger.ContractToken:
		if at != b.addresses.Token {
			return nil, fmt.Errorf("memory: %w: no token at %s", domain.ErrNotFound, at.Hex())
		}
		return b.token.read(method, args)
	case ledger.ContractOracle:
		o, ok := b.oracles[at]
		if !ok {
			return nil, fmt.Errorf("memory: %w: no oracle at %s", domain.ErrNotFound, at.Hex())
		}
		return o.read(method, args)
	case ledger.ContractPrediction:
		p, ok := b.predictions[at]
		if !ok {
			return nil, fmt.Errorf("memory: %w: no prediction at %s", domain.ErrNotFound, at.Hex())
		}
		return p.read(method, args)
	default:
		return nil, fmt.Errorf("memory: %s has no readable method %s", contract, method)
	}
}

// Transact authenticates the signer, applies the mutation and returns a
// receipt carrying the emitted events.
func (b *Backend) Transact(ctx context.Context, call ledger.Call, signer ledger.Signer) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cred, ok := b.credentials[signer.Address]
	if !ok || cred != signer.Credential {
		return domain.Receipt{}, fmt.Errorf("memory: could not unlock %s: invalid credential", signer.Address.Hex())
	}
	if err, ok := b.failNext[call.Method]; ok {
		delete(b.failNext, call.Method)
		return domain.Receipt{}, fmt.Errorf("%w: %s: %w", ledger.ErrReverted, call, err)
	}

	events, err := b.apply(call, signer.Address)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %s: %w", ledger.ErrReverted, call, err)
	}

	b.block++
	b.nonce++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%d:%s:%s", b.nonce, signer.Address.Hex(), call)))
	if b.dropEvents[call.Method] {
		events = nil
	}
	return domain.Receipt{
		TxHash:      hash.Hex(),
		BlockNumber: b.block,
		Events:      events,
		ConfirmedAt: b.now().UTC(),
	}, nil
}

func (b *Backend) apply(call ledger.Call, sender common.Address) ([]domain.Event, error) {
	args := call.Args
	switch call.Contract {
	case ledger.ContractToken:
		if call.Address != b.addresses.Token {
			return nil, fmt.Errorf("no token at %s", call.Address.Hex())
		}
		return b.token.transact(call.Method, sender, args)

	case ledger.ContractOracleFactory:
		if call.Address != b.addresses.OracleFactory || call.Method != "createOracle" {
			return nil, fmt.Errorf("unknown oracle factory call %s", call.Method)
		}
		name, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		addr := b.nextAddress(b.addresses.OracleFactory)
		b.oracles[addr] = newOracle(name, sender)
		return []domain.Event{{Name: "OracleCreated", Values: map[string]any{
			"_creator": sender,
			"_oracle":  addr,
		}}}, nil

	case ledger.ContractOracle:
		o, ok := b.oracles[call.Address]
		if !ok {
			return nil, fmt.Errorf("no oracle at %s", call.Address.Hex())
		}
		return o.transact(call.Method, sender, args)

	case ledger.ContractPredictionFactory:
		if call.Address != b.addresses.PredictionFactory || call.Method != "createPoolPrediction" {
			return nil, fmt.Errorf("unknown prediction factory call %s", call.Method)
		}
		return b.createPrediction(sender, args)

	case ledger.ContractPrediction:
		p, ok := b.predictions[call.Address]
		if !ok {
			return nil, fmt.Errorf("no prediction at %s", call.Address.Hex())
		}
		return b.transactPrediction(p, call.Method, sender, args)
	}
	return nil, fmt.Errorf("unknown contract %q", call.Contract)
}

func (b *Backend) createPrediction(sender common.Address, args []any) ([]domain.Event, error) {
	oracleAddr, err := argAddress(args, 0)
	if err != nil {
		return nil, err
	}
	endTime, err := argBig(args, 1)
	if err != nil {
		return nil, err
	}
	votingEnd, err := argBig(args, 2)
	if err != nil {
		return nil, err
	}
	name, err := argString(args, 3)
	if err != nil {
		return nil, err
	}
	if votingEnd.Cmp(endTime) > 0 {
		return nil, fmt.Errorf("voting must end before the prediction ends")
	}
	addr := b.nextAddress(b.addresses.PredictionFactory)
	b.predictions[addr] = newPrediction(addr, name, sender, oracleAddr, endTime.Int64(), votingEnd.Int64())
	return []domain.Event{{Name: "PoolPredictionCreated", Values: map[string]any{
		"_creator":       sender,
		"_newPrediction": addr,
	}}}, nil
}

func (b *Backend) transactPrediction(p *prediction, method string, sender common.Address, args []any) ([]domain.Event, error) {
	switch method {
	case "addOutcome":
		name, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return p.addOutcome(sender, name)
	case "publish":
		return p.publish(sender)
	case "buyUnit":
		amount, err := argBig(args, 0)
		if err != nil {
			return nil, err
		}
		outcomeID, err := argBig(args, 1)
		if err != nil {
			return nil, err
		}
		return p.buyUnit(b.token, b.now().Unix(), sender, amount, outcomeID.Int64())
	case "resolve":
		o, ok := b.oracles[p.oracle]
		if !ok {
			return nil, fmt.Errorf("oracle %s does not exist", p.oracle.Hex())
		}
		return p.resolve(o, b.now().Unix(), sender)
	case "withdrawUnit":
		unitID, err := argBig(args, 0)
		if err != nil {
			return nil, err
		}
		return p.withdrawUnit(b.token, sender, unitID.Int64())
	}
	return nil, fmt.Errorf("unknown prediction method %s", method)
}

func (b *Backend) nextAddress(deployer common.Address) common.Address {
	b.nonce++
	return crypto.CreateAddress(deployer, b.nonce)
}

func argAddress(args []any, i int) (common.Address, error) {
	if i >= len(args) {
		return common.Address{}, fmt.Errorf("missing argument %d", i)
	}
	a, ok := args[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("argument %d: want address, got %T", i, args[i])
	}
	return a, nil
}

func argBig(args []any, i int) (*big.Int, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	v, ok := args[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %d: want uint256, got %T", i, args[i])
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("argument %d: negative uint256", i)
	}
	return v, nil
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: want string, got %T", i, args[i])
	}
	return s, nil
}
