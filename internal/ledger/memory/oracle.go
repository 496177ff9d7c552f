package memory

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

type oracle struct {
	name       string
	owner      common.Address
	registered map[common.Address]bool
	outcomes   map[common.Address]int64
}

func newOracle(name string, owner common.Address) *oracle {
	return &oracle{
		name:       name,
		owner:      owner,
		registered: make(map[common.Address]bool),
		outcomes:   make(map[common.Address]int64),
	}
}

func (o *oracle) read(method string, args []any) ([]any, error) {
	switch method {
	case "name":
		return []any{o.name}, nil
	case "owner":
		return []any{o.owner}, nil
	case "predictionsRegistered":
		p, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return []any{o.registered[p]}, nil
	case "getOutcome":
		p, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		return []any{big.NewInt(o.outcomes[p])}, nil
	}
	return nil, fmt.Errorf("memory: oracle has no view %s", method)
}

func (o *oracle) transact(method string, sender common.Address, args []any) ([]domain.Event, error) {
	if sender != o.owner {
		return nil, fmt.Errorf("only the oracle owner may call %s", method)
	}
	p, err := argAddress(args, 0)
	if err != nil {
		return nil, err
	}
	switch method {
	case "registerPrediction":
		if o.registered[p] {
			return nil, fmt.Errorf("prediction %s already registered", p.Hex())
		}
		o.registered[p] = true
		return []domain.Event{{Name: "PredictionRegistered", Values: map[string]any{"_prediction": p}}}, nil
	case "setOutcome":
		id, err := argBig(args, 1)
		if err != nil {
			return nil, err
		}
		if !o.registered[p] {
			return nil, fmt.Errorf("prediction %s is not registered", p.Hex())
		}
		if id.Sign() == 0 {
			return nil, fmt.Errorf("outcome id must be positive")
		}
		o.outcomes[p] = id.Int64()
		return []domain.Event{{Name: "OutcomeAssigned", Values: map[string]any{
			"_prediction": p,
			"_outcomeId":  new(big.Int).Set(id),
		}}}, nil
	}
	return nil, fmt.Errorf("memory: oracle has no method %s", method)
}
