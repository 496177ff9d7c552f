package domain

import "github.com/shopspring/decimal"

// Account is a ledger address together with its token balance in ether units.
type Account struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

// Allowance is the amount a spender may draw from an owner's balance.
type Allowance struct {
	Owner   string          `json:"owner"`
	Spender string          `json:"spender"`
	Amount  decimal.Decimal `json:"amount"`
}
