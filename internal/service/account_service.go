package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
	"github.com/alanyoungcy/poolsettle/internal/units"
)

// AccountService issues, destroys and authorizes the fungible token.
type AccountService struct {
	ledger *ledger.Client
	token  common.Address
	ops    Operators
	locks  domain.LockManager
	logger *slog.Logger
}

// NewAccountService creates an AccountService with all required dependencies.
func NewAccountService(
	client *ledger.Client,
	addrs ledger.Addresses,
	ops Operators,
	locks domain.LockManager,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		ledger: client,
		token:  addrs.Token,
		ops:    ops,
		locks:  locks,
		logger: logger,
	}
}

// CreateAccount creates a ledger account and funds it with initialAmount
// tokens when that is positive.
func (s *AccountService) CreateAccount(ctx context.Context, initialAmount decimal.Decimal) (domain.Account, error) {
	if err := units.RequireNonNegative(initialAmount); err != nil {
		return domain.Account{}, err
	}

	addr, err := s.ledger.NewAccount(ctx, s.ops.AccountCredential)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: create account: %w", err)
	}
	s.logger.InfoContext(ctx, "account_service: account created", slog.String("address", addr.Hex()))

	if initialAmount.IsZero() {
		return domain.Account{Address: addr.Hex(), Balance: decimal.Zero}, nil
	}
	balance, err := s.IssueTokens(ctx, addr.Hex(), initialAmount)
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{Address: addr.Hex(), Balance: balance}, nil
}

// GetBalance returns the token balance of address in ether units.
func (s *AccountService) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := units.ValidateAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	return s.balance(ctx, addr)
}

func (s *AccountService) balance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	wei, err := s.ledger.BalanceOf(ctx, s.token, addr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account_service: balance of %s: %w", addr.Hex(), err)
	}
	return units.WeiToEther(wei), nil
}

// IssueTokens mints amount tokens to address and returns the new balance.
func (s *AccountService) IssueTokens(ctx context.Context, address string, amount decimal.Decimal) (decimal.Decimal, error) {
	addr, err := units.ValidateAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	if err := units.RequirePositive(amount); err != nil {
		return decimal.Zero, err
	}
	signer, err := s.ops.TokenOwner.signer()
	if err != nil {
		return decimal.Zero, fmt.Errorf("account_service: token owner: %w", err)
	}

	_, _, err = s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractToken,
		Address:  s.token,
		Method:   "issue",
		Args:     []any{addr, units.EtherToWei(amount)},
		Event:    "Issuance",
	}, signer)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account_service: issue %s to %s: %w", amount, addr.Hex(), err)
	}
	s.logger.InfoContext(ctx, "account_service: tokens issued",
		slog.String("address", addr.Hex()),
		slog.String("amount", amount.String()),
	)
	return s.balance(ctx, addr)
}

// DestroyTokens burns amount tokens from address and returns the new balance.
func (s *AccountService) DestroyTokens(ctx context.Context, address string, amount decimal.Decimal) (decimal.Decimal, error) {
	addr, err := units.ValidateAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	if err := units.RequirePositive(amount); err != nil {
		return decimal.Zero, err
	}
	current, err := s.balance(ctx, addr)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(current) {
		return decimal.Zero, invalidState("cannot destroy %s tokens, %s holds %s", amount, addr.Hex(), current)
	}
	if err := s.destroy(ctx, addr, amount); err != nil {
		return decimal.Zero, err
	}
	return s.balance(ctx, addr)
}

// DestroyAllTokens burns the full balance of address. A zero balance is
// left untouched.
func (s *AccountService) DestroyAllTokens(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := units.ValidateAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	current, err := s.balance(ctx, addr)
	if err != nil {
		return decimal.Zero, err
	}
	if current.IsZero() {
		return decimal.Zero, nil
	}
	if err := s.destroy(ctx, addr, current); err != nil {
		return decimal.Zero, err
	}
	return s.balance(ctx, addr)
}

func (s *AccountService) destroy(ctx context.Context, addr common.Address, amount decimal.Decimal) error {
	signer, err := s.ops.TokenOwner.signer()
	if err != nil {
		return fmt.Errorf("account_service: token owner: %w", err)
	}
	_, _, err = s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractToken,
		Address:  s.token,
		Method:   "destroy",
		Args:     []any{addr, units.EtherToWei(amount)},
		Event:    "Destruction",
	}, signer)
	if err != nil {
		return fmt.Errorf("account_service: destroy %s from %s: %w", amount, addr.Hex(), err)
	}
	s.logger.InfoContext(ctx, "account_service: tokens destroyed",
		slog.String("address", addr.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// GetAllowance returns how much spender may draw from owner.
func (s *AccountService) GetAllowance(ctx context.Context, owner, spender string) (domain.Allowance, error) {
	ownerAddr, err := units.ValidateAddress(owner)
	if err != nil {
		return domain.Allowance{}, err
	}
	spenderAddr, err := units.ValidateAddress(spender)
	if err != nil {
		return domain.Allowance{}, err
	}
	wei, err := s.ledger.Allowance(ctx, s.token, ownerAddr, spenderAddr)
	if err != nil {
		return domain.Allowance{}, fmt.Errorf("account_service: allowance: %w", err)
	}
	return domain.Allowance{
		Owner:   ownerAddr.Hex(),
		Spender: spenderAddr.Hex(),
		Amount:  units.WeiToEther(wei),
	}, nil
}

// ApproveSpender sets the allowance spender may draw from owner. Raising a
// non-zero allowance is rejected; setting the current value is a no-op.
// An empty credential falls back to the account default.
func (s *AccountService) ApproveSpender(ctx context.Context, owner, spender string, amount decimal.Decimal, credential string) error {
	ownerAddr, err := units.ValidateAddress(owner)
	if err != nil {
		return err
	}
	spenderAddr, err := units.ValidateAddress(spender)
	if err != nil {
		return err
	}
	if err := units.RequireNonNegative(amount); err != nil {
		return err
	}

	wei := units.EtherToWei(amount)
	current, err := s.ledger.Allowance(ctx, s.token, ownerAddr, spenderAddr)
	if err != nil {
		return fmt.Errorf("account_service: allowance: %w", err)
	}
	if wei.Sign() > 0 && current.Sign() > 0 {
		return invalidState("allowance of %s for %s is %s and must be reset to 0 first",
			ownerAddr.Hex(), spenderAddr.Hex(), units.WeiToEther(current))
	}
	if wei.Cmp(current) == 0 {
		return nil
	}

	if credential == "" {
		credential = s.ops.AccountCredential
	}
	_, _, err = s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractToken,
		Address:  s.token,
		Method:   "approve",
		Args:     []any{spenderAddr, wei},
		Event:    "Approval",
	}, ledger.Signer{Address: ownerAddr, Credential: credential})
	if err != nil {
		return fmt.Errorf("account_service: approve %s for %s: %w", amount, spenderAddr.Hex(), err)
	}
	s.logger.InfoContext(ctx, "account_service: spender approved",
		slog.String("owner", ownerAddr.Hex()),
		slog.String("spender", spenderAddr.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// SetAllowance replaces the allowance of spender with amount by resetting it
// to zero first. Calls for the same pair are serialized. If the final step
// fails the allowance is left at zero and a *PartialError is returned.
func (s *AccountService) SetAllowance(ctx context.Context, owner, spender string, amount decimal.Decimal, credential string) error {
	if _, err := units.ValidateAddress(owner); err != nil {
		return err
	}
	if _, err := units.ValidateAddress(spender); err != nil {
		return err
	}
	if err := units.RequireNonNegative(amount); err != nil {
		return err
	}

	return withLock(ctx, s.locks, lockKey("allowance", owner, spender), func() error {
		if err := s.ApproveSpender(ctx, owner, spender, decimal.Zero, credential); err != nil {
			return err
		}
		if amount.IsZero() {
			return nil
		}
		if err := s.ApproveSpender(ctx, owner, spender, amount, credential); err != nil {
			return &PartialError{Op: "set allowance", Completed: "allowance reset to 0", Err: err}
		}
		return nil
	})
}
