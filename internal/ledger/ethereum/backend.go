// Package ethereum implements the ledger backend over an Ethereum JSON-RPC
// node, signing with a local encrypted keystore.
package ethereum

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
)

//go:embed abi/*.json
var abiFS embed.FS

// Config holds connection and signing parameters.
type Config struct {
	RPCURL       string
	ChainID      int64
	KeystoreDir  string
	LightKDF     bool
	GasLimit     uint64
	PollInterval time.Duration
}

// rpcClient is the subset of ethclient.Client the backend uses.
type rpcClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg geth.CallMsg, block *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg geth.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Close()
}

var _ rpcClient = (*ethclient.Client)(nil)

// Backend talks to the ledger through ethclient and signs with a keystore.
type Backend struct {
	client       rpcClient
	keys         *keystore.KeyStore
	abis         map[ledger.Contract]abi.ABI
	chainID      *big.Int
	gasLimit     uint64
	pollInterval time.Duration
	logger       *slog.Logger

	// Operator accounts are shared by concurrent requests; a signer holds
	// its lock from nonce lookup until the node has the transaction.
	mu      sync.Mutex
	signers map[common.Address]*sync.Mutex
}

var _ ledger.Backend = (*Backend)(nil)

// Dial connects to the node and opens the keystore.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	abis, err := loadABIs()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ethereum: dial %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("ethereum: chain id: %w", err)
		}
	}

	scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
	if cfg.LightKDF {
		scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	return &Backend{
		client:       client,
		keys:         keystore.NewKeyStore(cfg.KeystoreDir, scryptN, scryptP),
		abis:         abis,
		chainID:      chainID,
		gasLimit:     cfg.GasLimit,
		pollInterval: poll,
		logger:       logger.With(slog.String("component", "ethereum")),
	}, nil
}

// Ping checks that the node answers.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("ethereum: ping: %w", err)
	}
	return nil
}

// Close releases the RPC connection.
func (b *Backend) Close() {
	b.client.Close()
}

// NewAccount creates a keystore account encrypted with credential.
func (b *Backend) NewAccount(_ context.Context, credential string) (common.Address, error) {
	acct, err := b.keys.NewAccount(credential)
	if err != nil {
		return common.Address{}, fmt.Errorf("ethereum: new account: %w", err)
	}
	return acct.Address, nil
}

// Read packs a constant call, executes it against the latest block and
// unpacks the outputs.
func (b *Backend) Read(ctx context.Context, contract ledger.Contract, at common.Address, method string, args ...any) ([]any, error) {
	parsed, err := b.abiFor(contract)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ethereum: pack %s: %w", method, err)
	}
	raw, err := b.client.CallContract(ctx, geth.CallMsg{To: &at, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ethereum: call %s: %w", method, err)
	}
	// Calls to an address without code succeed with empty output.
	if len(raw) == 0 && len(parsed.Methods[method].Outputs) > 0 {
		return nil, fmt.Errorf("ethereum: %w: no %s contract at %s", domain.ErrNotFound, contract, at.Hex())
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("ethereum: unpack %s: %w", method, err)
	}
	return out, nil
}

// Transact signs and sends a legacy transaction, then polls for its receipt.
// A receipt with failed status is returned without events.
func (b *Backend) Transact(ctx context.Context, call ledger.Call, signer ledger.Signer) (domain.Receipt, error) {
	parsed, err := b.abiFor(call.Contract)
	if err != nil {
		return domain.Receipt{}, err
	}
	data, err := parsed.Pack(call.Method, call.Args...)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ethereum: pack %s: %w", call.Method, err)
	}
	if !b.keys.HasAddress(signer.Address) {
		return domain.Receipt{}, fmt.Errorf("ethereum: no key for %s", signer.Address.Hex())
	}

	signed, err := b.send(ctx, call, signer, data)
	if err != nil {
		return domain.Receipt{}, err
	}

	rcpt, err := b.waitMined(ctx, signed.Hash())
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt := domain.Receipt{
		TxHash:      rcpt.TxHash.Hex(),
		BlockNumber: rcpt.BlockNumber.Uint64(),
		ConfirmedAt: time.Now().UTC(),
	}
	if rcpt.Status == types.ReceiptStatusSuccessful {
		receipt.Events = b.decodeLogs(call.Contract, rcpt.Logs)
	}
	return receipt, nil
}

// send builds, signs and submits the transaction while holding the
// signer's lock, so no two transactions from one account share a nonce.
func (b *Backend) send(ctx context.Context, call ledger.Call, signer ledger.Signer, data []byte) (*types.Transaction, error) {
	unlock := b.lockSigner(signer.Address)
	defer unlock()

	nonce, err := b.client.PendingNonceAt(ctx, signer.Address)
	if err != nil {
		return nil, fmt.Errorf("ethereum: nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethereum: gas price: %w", err)
	}
	to := call.Address
	gas, err := b.client.EstimateGas(ctx, geth.CallMsg{From: signer.Address, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas for %s: %w", ledger.ErrReverted, call, err)
	}
	if b.gasLimit > 0 && gas > b.gasLimit {
		return nil, fmt.Errorf("ethereum: %s needs %d gas, limit is %d", call, gas, b.gasLimit)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := b.keys.SignTxWithPassphrase(accounts.Account{Address: signer.Address}, signer.Credential, tx, b.chainID)
	if err != nil {
		return nil, fmt.Errorf("ethereum: sign: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("ethereum: send: %w", err)
	}
	b.logger.Debug("transaction sent",
		slog.String("call", call.String()),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	return signed, nil
}

func (b *Backend) lockSigner(addr common.Address) func() {
	b.mu.Lock()
	if b.signers == nil {
		b.signers = make(map[common.Address]*sync.Mutex)
	}
	m, ok := b.signers[addr]
	if !ok {
		m = &sync.Mutex{}
		b.signers[addr] = m
	}
	b.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (b *Backend) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := b.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, geth.NotFound) {
			return nil, fmt.Errorf("ethereum: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ethereum: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *Backend) abiFor(contract ledger.Contract) (abi.ABI, error) {
	parsed, ok := b.abis[contract]
	if !ok {
		return abi.ABI{}, fmt.Errorf("ethereum: no ABI for contract %q", contract)
	}
	return parsed, nil
}
