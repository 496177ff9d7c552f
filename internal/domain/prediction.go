package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PredictionTypePool is the only prediction type the engine creates.
const PredictionTypePool = "pool"

// PredictionStatus mirrors the numeric status stored on the ledger.
type PredictionStatus uint8

const (
	StatusInitializing PredictionStatus = iota
	StatusPublished
	StatusResolved
	StatusPaused
	StatusCanceled
)

var statusNames = map[PredictionStatus]string{
	StatusInitializing: "initializing",
	StatusPublished:    "published",
	StatusResolved:     "resolved",
	StatusPaused:       "paused",
	StatusCanceled:     "canceled",
}

func (s PredictionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalText renders the status by name in JSON payloads.
func (s PredictionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *PredictionStatus) UnmarshalText(text []byte) error {
	for k, v := range statusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown prediction status %q", string(text))
}

// Outcome is one of the mutually exclusive answers of a prediction.
type Outcome struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	TokenPool decimal.Decimal `json:"tokenPool"`
}

// Prediction is the read model of a pool prediction held on the ledger.
type Prediction struct {
	Address          string           `json:"address"`
	OracleAddress    string           `json:"oracleAddress"`
	Status           PredictionStatus `json:"status"`
	VotingEndsAt     time.Time        `json:"votingEndsAt"`
	HappensAt        time.Time        `json:"happensAt"`
	TokenPool        decimal.Decimal  `json:"tokenPool"`
	WinningOutcomeID int64            `json:"closingOutcome"`
	Outcomes         []Outcome        `json:"outcomes"`
}

// CreationResult is returned once a prediction has been created and its
// outcomes added. Published reports whether the final publish step succeeded.
type CreationResult struct {
	Address         string           `json:"address"`
	OutcomeNamesIDs map[string]int64 `json:"outcomeNamesIds"`
	Published       bool             `json:"published"`
	PublishError    string           `json:"publishError,omitempty"`
}

// Unit is a single stake purchased by an account on one outcome.
type Unit struct {
	ID        int64           `json:"id"`
	Owner     string          `json:"owner"`
	OutcomeID int64           `json:"outcomeId"`
	Amount    decimal.Decimal `json:"amount"`
	Withdrawn bool            `json:"withdrawn"`
}

// UnitPurchase is the confirmation of a vote.
type UnitPurchase struct {
	TransactionHash string          `json:"transactionHash"`
	Account         string          `json:"account"`
	Amount          decimal.Decimal `json:"amount"`
	UnitID          int64           `json:"unitId"`
	OutcomeID       int64           `json:"outcomeId"`
}

// Vote summarises an account's units on a single outcome.
type Vote struct {
	OutcomeID   int64           `json:"outcomeId"`
	OutcomeName string          `json:"outcomeName"`
	Units       []int64         `json:"units"`
	Amount      decimal.Decimal `json:"amount"`
}

// Withdrawal reports the payout of a resolved prediction to one account.
type Withdrawal struct {
	Prediction string          `json:"prediction"`
	Account    string          `json:"account"`
	Amount     decimal.Decimal `json:"amount"`
	Units      []int64         `json:"units"`
}
