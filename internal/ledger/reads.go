package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// OutcomeRecord is an outcome as stored by a prediction.
type OutcomeRecord struct {
	ID     int64
	Name   string
	Tokens *big.Int
}

// UnitRecord is a purchased unit as stored by a prediction.
type UnitRecord struct {
	ID        int64
	Owner     common.Address
	OutcomeID int64
	Tokens    *big.Int
	Withdrawn bool
}

// BalanceOf returns the token balance of owner in wei.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.readBig(ctx, ContractToken, token, "balanceOf", owner)
}

// Allowance returns how much spender may draw from owner, in wei.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.readBig(ctx, ContractToken, token, "allowance", owner, spender)
}

// OracleName returns the display name of an oracle.
func (c *Client) OracleName(ctx context.Context, oracle common.Address) (string, error) {
	out, err := c.Read(ctx, ContractOracle, oracle, "name")
	if err != nil {
		return "", err
	}
	return first[string](out, "name")
}

// OracleOwner returns the operator account of an oracle.
func (c *Client) OracleOwner(ctx context.Context, oracle common.Address) (common.Address, error) {
	return c.readAddress(ctx, ContractOracle, oracle, "owner")
}

// IsRegistered reports whether prediction is registered with oracle.
func (c *Client) IsRegistered(ctx context.Context, oracle, prediction common.Address) (bool, error) {
	out, err := c.Read(ctx, ContractOracle, oracle, "predictionsRegistered", prediction)
	if err != nil {
		return false, err
	}
	return first[bool](out, "predictionsRegistered")
}

// OracleOutcome returns the outcome oracle assigned to prediction, 0 if none.
func (c *Client) OracleOutcome(ctx context.Context, oracle, prediction common.Address) (int64, error) {
	return c.readInt(ctx, ContractOracle, oracle, "getOutcome", prediction)
}

// PredictionStatus returns the raw lifecycle status of a prediction.
func (c *Client) PredictionStatus(ctx context.Context, prediction common.Address) (uint8, error) {
	out, err := c.Read(ctx, ContractPrediction, prediction, "status")
	if err != nil {
		return 0, err
	}
	return first[uint8](out, "status")
}

// PredictionOracle returns the oracle a prediction is bound to.
func (c *Client) PredictionOracle(ctx context.Context, prediction common.Address) (common.Address, error) {
	return c.readAddress(ctx, ContractPrediction, prediction, "oracleAddress")
}

// PredictionOwner returns the operator account of a prediction.
func (c *Client) PredictionOwner(ctx context.Context, prediction common.Address) (common.Address, error) {
	return c.readAddress(ctx, ContractPrediction, prediction, "owner")
}

// VotingEndTime returns the end of the voting window in unix seconds.
func (c *Client) VotingEndTime(ctx context.Context, prediction common.Address) (int64, error) {
	return c.readInt(ctx, ContractPrediction, prediction, "unitBuyingEndTimeSeconds")
}

// PredictionEndTime returns when the predicted event happens, in unix seconds.
func (c *Client) PredictionEndTime(ctx context.Context, prediction common.Address) (int64, error) {
	return c.readInt(ctx, ContractPrediction, prediction, "predictionEndTimeSeconds")
}

// TokenPool returns the total stake held by a prediction in wei.
func (c *Client) TokenPool(ctx context.Context, prediction common.Address) (*big.Int, error) {
	return c.readBig(ctx, ContractPrediction, prediction, "tokenPool")
}

// WinningOutcomeID returns the resolved outcome, 0 before resolution.
func (c *Client) WinningOutcomeID(ctx context.Context, prediction common.Address) (int64, error) {
	return c.readInt(ctx, ContractPrediction, prediction, "winningOutcomeId")
}

// OutcomeCount returns the number of outcomes of a prediction.
func (c *Client) OutcomeCount(ctx context.Context, prediction common.Address) (int64, error) {
	return c.readInt(ctx, ContractPrediction, prediction, "getOutcomeCount")
}

// Outcome returns the outcome with the given 1-based id.
func (c *Client) Outcome(ctx context.Context, prediction common.Address, id int64) (OutcomeRecord, error) {
	out, err := c.Read(ctx, ContractPrediction, prediction, "outcomes", big.NewInt(id-1))
	if err != nil {
		return OutcomeRecord{}, err
	}
	if len(out) < 3 {
		return OutcomeRecord{}, fmt.Errorf("ledger: outcomes: expected 3 values, got %d", len(out))
	}
	rid, err := toInt(out[0], "outcomes.id")
	if err != nil {
		return OutcomeRecord{}, err
	}
	name, err := as[string](out[1], "outcomes.name")
	if err != nil {
		return OutcomeRecord{}, err
	}
	tokens, err := as[*big.Int](out[2], "outcomes.tokens")
	if err != nil {
		return OutcomeRecord{}, err
	}
	return OutcomeRecord{ID: rid, Name: name, Tokens: tokens}, nil
}

// Outcomes returns every outcome of a prediction in id order.
func (c *Client) Outcomes(ctx context.Context, prediction common.Address) ([]OutcomeRecord, error) {
	count, err := c.OutcomeCount(ctx, prediction)
	if err != nil {
		return nil, err
	}
	records := make([]OutcomeRecord, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range records {
		id := int64(i) + 1
		g.Go(func() error {
			rec, err := c.Outcome(gctx, prediction, id)
			if err != nil {
				return err
			}
			records[id-1] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// UserUnitCount returns how many units owner holds on an outcome.
func (c *Client) UserUnitCount(ctx context.Context, prediction, owner common.Address, outcomeID int64) (int64, error) {
	return c.readInt(ctx, ContractPrediction, prediction, "getUserUnitCount", owner, big.NewInt(outcomeID))
}

// Unit returns the unit with the given 1-based id.
func (c *Client) Unit(ctx context.Context, prediction common.Address, id int64) (UnitRecord, error) {
	out, err := c.Read(ctx, ContractPrediction, prediction, "units", big.NewInt(id-1))
	if err != nil {
		return UnitRecord{}, err
	}
	if len(out) < 5 {
		return UnitRecord{}, fmt.Errorf("ledger: units: expected 5 values, got %d", len(out))
	}
	var rec UnitRecord
	if rec.ID, err = toInt(out[0], "units.id"); err != nil {
		return UnitRecord{}, err
	}
	if rec.Owner, err = as[common.Address](out[1], "units.owner"); err != nil {
		return UnitRecord{}, err
	}
	if rec.OutcomeID, err = toInt(out[2], "units.outcomeId"); err != nil {
		return UnitRecord{}, err
	}
	if rec.Tokens, err = as[*big.Int](out[3], "units.tokens"); err != nil {
		return UnitRecord{}, err
	}
	if rec.Withdrawn, err = as[bool](out[4], "units.isWithdrawn"); err != nil {
		return UnitRecord{}, err
	}
	return rec, nil
}

// ListOwnerUnits returns every unit owner holds on outcomeID.
func (c *Client) ListOwnerUnits(ctx context.Context, prediction, owner common.Address, outcomeID int64) ([]UnitRecord, error) {
	count, err := c.UserUnitCount(ctx, prediction, owner, outcomeID)
	if err != nil {
		return nil, err
	}
	units := make([]UnitRecord, 0, count)
	for i := int64(0); i < count; i++ {
		unitID, err := c.readInt(ctx, ContractPrediction, prediction, "ownerUnits", owner, big.NewInt(outcomeID), big.NewInt(i))
		if err != nil {
			return nil, err
		}
		unit, err := c.Unit(ctx, prediction, unitID)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, nil
}

func (c *Client) readBig(ctx context.Context, contract Contract, at common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.Read(ctx, contract, at, method, args...)
	if err != nil {
		return nil, err
	}
	return first[*big.Int](out, method)
}

func (c *Client) readInt(ctx context.Context, contract Contract, at common.Address, method string, args ...any) (int64, error) {
	v, err := c.readBig(ctx, contract, at, method, args...)
	if err != nil {
		return 0, err
	}
	return toInt(v, method)
}

func (c *Client) readAddress(ctx context.Context, contract Contract, at common.Address, method string) (common.Address, error) {
	out, err := c.Read(ctx, contract, at, method)
	if err != nil {
		return common.Address{}, err
	}
	return first[common.Address](out, method)
}

func first[T any](out []any, field string) (T, error) {
	if len(out) == 0 {
		var zero T
		return zero, fmt.Errorf("ledger: %s: empty result", field)
	}
	return as[T](out[0], field)
}

func as[T any](v any, field string) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("ledger: %s: unexpected type %T", field, v)
	}
	return t, nil
}

func toInt(v any, field string) (int64, error) {
	b, err := as[*big.Int](v, field)
	if err != nil {
		return 0, err
	}
	if !b.IsInt64() {
		return 0, fmt.Errorf("ledger: %s: value %s overflows int64", field, b.String())
	}
	return b.Int64(), nil
}

// EventBig extracts an integer argument from a decoded event.
func EventBig(values map[string]any, name string) (*big.Int, error) {
	v, ok := values[name]
	if !ok {
		return nil, fmt.Errorf("ledger: event argument %s missing", name)
	}
	return as[*big.Int](v, name)
}

// EventInt extracts an integer argument that fits in int64.
func EventInt(values map[string]any, name string) (int64, error) {
	b, err := EventBig(values, name)
	if err != nil {
		return 0, err
	}
	return toInt(b, name)
}

// EventAddress extracts an address argument from a decoded event.
func EventAddress(values map[string]any, name string) (common.Address, error) {
	v, ok := values[name]
	if !ok {
		return common.Address{}, fmt.Errorf("ledger: event argument %s missing", name)
	}
	return as[common.Address](v, name)
}
