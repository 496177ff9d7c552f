package memory

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

type allowanceKey struct {
	owner, spender common.Address
}

type token struct {
	owner      common.Address
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func newToken(owner common.Address) *token {
	return &token{
		owner:      owner,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func (t *token) balance(addr common.Address) *big.Int {
	if v, ok := t.balances[addr]; ok {
		return v
	}
	return new(big.Int)
}

func (t *token) allowance(owner, spender common.Address) *big.Int {
	if v, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return v
	}
	return new(big.Int)
}

func (t *token) read(method string, args []any) ([]any, error) {
	switch method {
	case "balanceOf":
		owner, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return []any{new(big.Int).Set(t.balance(owner))}, nil
	case "allowance":
		owner, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		spender, err := argAddress(args, 1)
		if err != nil {
			return nil, err
		}
		return []any{new(big.Int).Set(t.allowance(owner, spender))}, nil
	case "totalSupply":
		return []any{new(big.Int).Set(t.supply)}, nil
	}
	return nil, fmt.Errorf("memory: token has no view %s", method)
}

func (t *token) transact(method string, sender common.Address, args []any) ([]domain.Event, error) {
	switch method {
	case "issue":
		to, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		amount, err := argBig(args, 1)
		if err != nil {
			return nil, err
		}
		if sender != t.owner {
			return nil, fmt.Errorf("only the token owner may issue")
		}
		t.balances[to] = new(big.Int).Add(t.balance(to), amount)
		t.supply.Add(t.supply, amount)
		return []domain.Event{
			{Name: "Issuance", Values: map[string]any{"_amount": new(big.Int).Set(amount)}},
			transferEvent(common.Address{}, to, amount),
		}, nil

	case "destroy":
		from, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		amount, err := argBig(args, 1)
		if err != nil {
			return nil, err
		}
		if sender != t.owner && sender != from {
			return nil, fmt.Errorf("only the token owner or holder may destroy")
		}
		bal := t.balance(from)
		if bal.Cmp(amount) < 0 {
			return nil, fmt.Errorf("destroy %s exceeds balance %s", amount, bal)
		}
		t.balances[from] = new(big.Int).Sub(bal, amount)
		t.supply.Sub(t.supply, amount)
		return []domain.Event{
			transferEvent(from, common.Address{}, amount),
			{Name: "Destruction", Values: map[string]any{"_amount": new(big.Int).Set(amount)}},
		}, nil

	case "approve":
		spender, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		value, err := argBig(args, 1)
		if err != nil {
			return nil, err
		}
		// a non-zero allowance may only be replaced after resetting it to zero
		if value.Sign() != 0 && t.allowance(sender, spender).Sign() != 0 {
			return nil, fmt.Errorf("allowance of %s for %s must be reset first", sender.Hex(), spender.Hex())
		}
		t.allowances[allowanceKey{sender, spender}] = new(big.Int).Set(value)
		return []domain.Event{{Name: "Approval", Values: map[string]any{
			"_owner":   sender,
			"_spender": spender,
			"_value":   new(big.Int).Set(value),
		}}}, nil
	}
	return nil, fmt.Errorf("memory: token has no method %s", method)
}

// transferFrom moves amount from owner to to, drawing on the allowance owner
// granted spender.
func (t *token) transferFrom(spender, owner, to common.Address, amount *big.Int) (domain.Event, error) {
	allowed := t.allowance(owner, spender)
	if allowed.Cmp(amount) < 0 {
		return domain.Event{}, fmt.Errorf("allowance %s below %s", allowed, amount)
	}
	bal := t.balance(owner)
	if bal.Cmp(amount) < 0 {
		return domain.Event{}, fmt.Errorf("balance %s below %s", bal, amount)
	}
	t.allowances[allowanceKey{owner, spender}] = new(big.Int).Sub(allowed, amount)
	t.balances[owner] = new(big.Int).Sub(bal, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return transferEvent(owner, to, amount), nil
}

// transfer moves amount out of from's own balance.
func (t *token) transfer(from, to common.Address, amount *big.Int) (domain.Event, error) {
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return domain.Event{}, fmt.Errorf("balance %s below %s", bal, amount)
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return transferEvent(from, to, amount), nil
}

func transferEvent(from, to common.Address, amount *big.Int) domain.Event {
	return domain.Event{Name: "Transfer", Values: map[string]any{
		"_from":  from,
		"_to":    to,
		"_value": new(big.Int).Set(amount),
	}}
}
