package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/poolsettle/internal/cache/memory"
	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
	"github.com/alanyoungcy/poolsettle/internal/ledger/memory"
)

// journal counts verified receipts so tests can assert on ledger writes.
type journal struct {
	mu       sync.Mutex
	receipts []domain.Receipt
}

func (j *journal) Append(_ context.Context, r domain.Receipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.receipts = append(j.receipts, r)
	return nil
}

func (j *journal) List(context.Context, domain.ListOpts) ([]domain.ReceiptEntry, error) {
	return nil, nil
}

func (j *journal) ListBefore(context.Context, time.Time, int) ([]domain.ReceiptEntry, error) {
	return nil, nil
}

func (j *journal) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (j *journal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.receipts)
}

type harness struct {
	t           *testing.T
	ctx         context.Context
	backend     *memory.Backend
	journal     *journal
	bus         *cachemem.SignalBus
	ops         Operators
	accounts    *AccountService
	oracles     *OracleService
	predictions *PredictionService

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith routes service traffic through wrap(backend) when wrap is
// set. Bootstrap writes go to the memory backend directly.
func newHarnessWith(t *testing.T, wrap func(ledger.Backend) ledger.Backend) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokenOwner := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	backend := memory.New(tokenOwner)
	backend.AddAccount(tokenOwner, "owner-secret")

	h := &harness{
		t:       t,
		ctx:     ctx,
		backend: backend,
		journal: &journal{},
		bus:     cachemem.NewSignalBus(),
		now:     time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	backend.SetClock(h.clock)

	oracleOp, err := backend.NewAccount(ctx, "oracle-secret")
	require.NoError(t, err)
	predictionOp, err := backend.NewAccount(ctx, "prediction-secret")
	require.NoError(t, err)

	h.ops = Operators{
		TokenOwner:         Identity{Address: tokenOwner.Hex(), Credential: "owner-secret"},
		OracleOperator:     Identity{Address: oracleOp.Hex(), Credential: "oracle-secret"},
		PredictionOperator: Identity{Address: predictionOp.Hex(), Credential: "prediction-secret"},
		AccountCredential:  "account-secret",
	}

	var svcBackend ledger.Backend = backend
	if wrap != nil {
		svcBackend = wrap(backend)
	}
	client := ledger.NewClient(svcBackend, logger).WithJournal(h.journal)
	addrs := backend.Addresses()
	locks := cachemem.NewLockManager()

	oracle, err := NewOracleService(client, addrs, h.ops, logger).CreateOracle(ctx, Identity{}, "default oracle")
	require.NoError(t, err)
	h.ops.DefaultOracle = oracle.Address
	require.NoError(t, h.ops.Validate())

	h.accounts = NewAccountService(client, addrs, h.ops, locks, logger)
	h.oracles = NewOracleService(client, addrs, h.ops, logger)
	h.predictions = NewPredictionService(client, addrs, h.ops, h.accounts, h.oracles, locks, h.bus, logger).
		WithClock(h.clock).
		WithHistory(h.bus)
	return h
}

// failingBackend fails the nth mutation (1-based) of one method.
type failingBackend struct {
	ledger.Backend
	method string
	nth    int

	mu    sync.Mutex
	calls int
}

func (f *failingBackend) Transact(ctx context.Context, call ledger.Call, signer ledger.Signer) (domain.Receipt, error) {
	if call.Method == f.method {
		f.mu.Lock()
		f.calls++
		fail := f.calls == f.nth
		f.mu.Unlock()
		if fail {
			return domain.Receipt{}, fmt.Errorf("%w: %s call %d", ledger.ErrReverted, call.Method, f.nth)
		}
	}
	return f.Backend.Transact(ctx, call, signer)
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) account(amount int64) string {
	h.t.Helper()
	acct, err := h.accounts.CreateAccount(h.ctx, decimal.NewFromInt(amount))
	require.NoError(h.t, err)
	return acct.Address
}

func (h *harness) createRequest() CreateRequest {
	now := h.clock()
	return CreateRequest{
		HappensAt:    now.Add(2 * time.Hour).Format(time.RFC3339),
		VotingEndsAt: now.Add(time.Hour).Format(time.RFC3339),
		Name:         "Will it rain?",
		Type:         domain.PredictionTypePool,
		OutcomeNames: []string{"yes", "no"},
	}
}

// published creates a published yes/no prediction on the default oracle.
func (h *harness) published() string {
	h.t.Helper()
	res, err := h.predictions.CreatePrediction(h.ctx, h.createRequest())
	require.NoError(h.t, err)
	require.True(h.t, res.Published, res.PublishError)
	return res.Address
}

func (h *harness) balance(addr string) decimal.Decimal {
	h.t.Helper()
	bal, err := h.accounts.GetBalance(h.ctx, addr)
	require.NoError(h.t, err)
	return bal
}
