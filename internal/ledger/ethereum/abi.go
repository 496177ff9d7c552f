package ethereum

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
)

var contractOrder = []ledger.Contract{
	ledger.ContractToken,
	ledger.ContractOracleFactory,
	ledger.ContractOracle,
	ledger.ContractPredictionFactory,
	ledger.ContractPrediction,
}

func loadABIs() (map[ledger.Contract]abi.ABI, error) {
	abis := make(map[ledger.Contract]abi.ABI, len(contractOrder))
	for _, c := range contractOrder {
		raw, err := abiFS.ReadFile("abi/" + string(c) + ".json")
		if err != nil {
			return nil, fmt.Errorf("ethereum: read abi %s: %w", c, err)
		}
		parsed, err := abi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("ethereum: parse abi %s: %w", c, err)
		}
		abis[c] = parsed
	}
	return abis, nil
}

// decodeLogs decodes every log it recognises. The called contract's ABI is
// tried first since most events come from it; token transfers triggered by
// a prediction are matched against the token ABI.
func (b *Backend) decodeLogs(called ledger.Contract, logs []*types.Log) []domain.Event {
	order := make([]ledger.Contract, 0, len(contractOrder))
	order = append(order, called)
	for _, c := range contractOrder {
		if c != called {
			order = append(order, c)
		}
	}

	events := make([]domain.Event, 0, len(logs))
	for _, lg := range logs {
		for _, c := range order {
			parsed := b.abis[c]
			ev, ok := decodeLog(parsed, lg)
			if ok {
				events = append(events, ev)
				break
			}
		}
	}
	return events
}

func decodeLog(parsed abi.ABI, lg *types.Log) (domain.Event, bool) {
	if len(lg.Topics) == 0 {
		return domain.Event{}, false
	}
	def, err := parsed.EventByID(lg.Topics[0])
	if err != nil {
		return domain.Event{}, false
	}
	values := make(map[string]any, len(def.Inputs))
	if len(lg.Data) > 0 {
		if err := parsed.UnpackIntoMap(values, def.Name, lg.Data); err != nil {
			return domain.Event{}, false
		}
	}
	var indexed abi.Arguments
	for _, arg := range def.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
			return domain.Event{}, false
		}
	}
	return domain.Event{Name: def.Name, Values: values}, true
}
