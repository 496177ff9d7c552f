package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// DefaultCallTimeout bounds every read and mutation when no timeout is configured.
const DefaultCallTimeout = 60 * time.Second

// Recorder observes ledger calls for metrics.
type Recorder interface {
	ObserveCall(kind string, contract Contract, method string, elapsed time.Duration, err error)
}

// Notifier receives alerts for unexpected ledger results.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Client wraps a Backend with receipt verification, deadlines, journaling
// and metrics.
type Client struct {
	backend  Backend
	timeout  time.Duration
	journal  domain.ReceiptStore
	recorder Recorder
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewClient creates a Client over the given backend.
func NewClient(backend Backend, logger *slog.Logger) *Client {
	return &Client{
		backend: backend,
		timeout: DefaultCallTimeout,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// WithTimeout sets the per-call deadline. Non-positive values are ignored.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithJournal appends every verified receipt to store.
func (c *Client) WithJournal(store domain.ReceiptStore) *Client {
	c.journal = store
	return c
}

// WithRecorder attaches a metrics recorder.
func (c *Client) WithRecorder(r Recorder) *Client {
	c.recorder = r
	return c
}

// WithNotifier attaches an alert sink for unexpected results.
func (c *Client) WithNotifier(n Notifier) *Client {
	c.notifier = n
	return c
}

// NewAccount creates a fresh ledger account protected by credential.
func (c *Client) NewAccount(ctx context.Context, credential string) (common.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	addr, err := c.backend.NewAccount(ctx, credential)
	c.observe("account", "", "newAccount", start, err)
	if err != nil {
		return common.Address{}, c.classify("new account", err)
	}
	return addr, nil
}

// Read performs a constant call against a contract.
func (c *Client) Read(ctx context.Context, contract Contract, at common.Address, method string, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.backend.Read(ctx, contract, at, method, args...)
	c.observe("read", contract, method, start, err)
	if err != nil {
		return nil, c.classify(fmt.Sprintf("%s(%s).%s", contract, at.Hex(), method), err)
	}
	return out, nil
}

// Mutate submits call signed by signer, waits for confirmation and checks
// that the receipt carries call.Event. The verified event is returned with
// the receipt.
func (c *Client) Mutate(ctx context.Context, call Call, signer Signer) (domain.Receipt, domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	receipt, err := c.backend.Transact(ctx, call, signer)
	if err != nil {
		err = c.classify(call.String(), err)
		if !errors.Is(err, domain.ErrUnexpected) {
			err = fmt.Errorf("%w: %w", domain.ErrUnexpected, err)
		}
		c.observe("mutate", call.Contract, call.Method, start, err)
		c.alert(ctx, call, err)
		return domain.Receipt{}, domain.Event{}, err
	}

	receipt.Contract = string(call.Contract)
	receipt.Address = call.Address.Hex()
	receipt.Method = call.Method
	if receipt.ConfirmedAt.IsZero() {
		receipt.ConfirmedAt = c.now().UTC()
	}

	ev, ok := receipt.Event(call.Event)
	if !ok {
		rerr := &ReceiptError{Call: call, Receipt: receipt}
		c.observe("mutate", call.Contract, call.Method, start, rerr)
		c.alert(ctx, call, rerr)
		return receipt, domain.Event{}, rerr
	}
	c.observe("mutate", call.Contract, call.Method, start, nil)

	c.logger.Info("ledger mutation confirmed",
		slog.String("call", call.String()),
		slog.String("tx", receipt.TxHash),
		slog.String("event", call.Event),
		slog.String("signer", signer.Address.Hex()),
	)

	if c.journal != nil {
		if jerr := c.journal.Append(context.WithoutCancel(ctx), receipt); jerr != nil {
			c.logger.Warn("failed to journal receipt",
				slog.String("tx", receipt.TxHash),
				slog.String("error", jerr.Error()),
			)
		}
	}
	return receipt, ev, nil
}

// classify converts an expired deadline into an unexpected ledger result.
func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s not confirmed within %s: %w", domain.ErrUnexpected, op, c.timeout, err)
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}

func (c *Client) observe(kind string, contract Contract, method string, start time.Time, err error) {
	if c.recorder != nil {
		c.recorder.ObserveCall(kind, contract, method, time.Since(start), err)
	}
}

func (c *Client) alert(ctx context.Context, call Call, err error) {
	c.logger.Error("ledger mutation failed",
		slog.String("call", call.String()),
		slog.String("expected_event", call.Event),
		slog.String("error", err.Error()),
	)
	if c.notifier == nil {
		return
	}
	if nerr := c.notifier.Notify(context.WithoutCancel(ctx), "ledger_fault", "Ledger mutation failed", err.Error()); nerr != nil {
		c.logger.Warn("failed to send ledger alert", slog.String("error", nerr.Error()))
	}
}
