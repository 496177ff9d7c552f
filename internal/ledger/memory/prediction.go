package memory

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

type outcome struct {
	id     int64
	name   string
	tokens *big.Int
}

type unit struct {
	id        int64
	owner     common.Address
	outcomeID int64
	tokens    *big.Int
	withdrawn bool
}

type ownerOutcome struct {
	owner     common.Address
	outcomeID int64
}

type prediction struct {
	address    common.Address
	name       string
	owner      common.Address
	oracle     common.Address
	status     domain.PredictionStatus
	endTime    int64
	votingEnd  int64
	tokenPool  *big.Int
	winning    int64
	outcomes   []*outcome
	units      []*unit
	ownerUnits map[ownerOutcome][]int64
}

func newPrediction(addr common.Address, name string, owner, oracleAddr common.Address, endTime, votingEnd int64) *prediction {
	return &prediction{
		address:    addr,
		name:       name,
		owner:      owner,
		oracle:     oracleAddr,
		status:     domain.StatusInitializing,
		endTime:    endTime,
		votingEnd:  votingEnd,
		tokenPool:  new(big.Int),
		ownerUnits: make(map[ownerOutcome][]int64),
	}
}

func (p *prediction) read(method string, args []any) ([]any, error) {
	switch method {
	case "name":
		return []any{p.name}, nil
	case "owner":
		return []any{p.owner}, nil
	case "status":
		return []any{uint8(p.status)}, nil
	case "oracleAddress":
		return []any{p.oracle}, nil
	case "predictionEndTimeSeconds":
		return []any{big.NewInt(p.endTime)}, nil
	case "unitBuyingEndTimeSeconds":
		return []any{big.NewInt(p.votingEnd)}, nil
	case "tokenPool":
		return []any{new(big.Int).Set(p.tokenPool)}, nil
	case "winningOutcomeId":
		return []any{big.NewInt(p.winning)}, nil
	case "getOutcomeCount":
		return []any{big.NewInt(int64(len(p.outcomes)))}, nil
	case "outcomes":
		i, err := argBig(args, 0)
		if err != nil {
			return nil, err
		}
		if !i.IsInt64() || i.Int64() >= int64(len(p.outcomes)) {
			return nil, fmt.Errorf("memory: outcome index %s out of range", i)
		}
		o := p.outcomes[i.Int64()]
		return []any{big.NewInt(o.id), o.name, new(big.Int).Set(o.tokens)}, nil
	case "getUserUnitCount":
		owner, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		outcomeID, err := argBig(args, 1)
		if err != nil {
			return nil, err
		}
		ids := p.ownerUnits[ownerOutcome{owner, outcomeID.Int64()}]
		return []any{big.NewInt(int64(len(ids)))}, nil
	case "ownerUnits":
		owner, err := argAddress(args, 0)
		if err != nil {
			return nil, err
		}
		outcomeID, err := argBig(args, 1)
		if err != nil {
			return nil, err
		}
		i, err := argBig(args, 2)
		if err != nil {
			return nil, err
		}
		ids := p.ownerUnits[ownerOutcome{owner, outcomeID.Int64()}]
		if !i.IsInt64() || i.Int64() >= int64(len(ids)) {
			return nil, fmt.Errorf("memory: owner unit index %s out of range", i)
		}
		return []any{big.NewInt(ids[i.Int64()])}, nil
	case "units":
		i, err := argBig(args, 0)
		if err != nil {
			return nil, err
		}
		if !i.IsInt64() || i.Int64() >= int64(len(p.units)) {
			return nil, fmt.Errorf("memory: unit index %s out of range", i)
		}
		u := p.units[i.Int64()]
		return []any{big.NewInt(u.id), u.owner, big.NewInt(u.outcomeID), new(big.Int).Set(u.tokens), u.withdrawn}, nil
	}
	return nil, fmt.Errorf("memory: prediction has no view %s", method)
}

func (p *prediction) requireOwner(sender common.Address, method string) error {
	if sender != p.owner {
		return fmt.Errorf("only the prediction owner may call %s", method)
	}
	return nil
}

func (p *prediction) addOutcome(sender common.Address, name string) ([]domain.Event, error) {
	if err := p.requireOwner(sender, "addOutcome"); err != nil {
		return nil, err
	}
	if p.status != domain.StatusInitializing {
		return nil, fmt.Errorf("outcomes can only be added while initializing, status is %s", p.status)
	}
	if name == "" {
		return nil, fmt.Errorf("outcome name is empty")
	}
	o := &outcome{id: int64(len(p.outcomes)) + 1, name: name, tokens: new(big.Int)}
	p.outcomes = append(p.outcomes, o)
	return []domain.Event{{Name: "OutcomeAdded", Values: map[string]any{
		"_outcomeId": big.NewInt(o.id),
		"_name":      name,
	}}}, nil
}

func (p *prediction) publish(sender common.Address) ([]domain.Event, error) {
	if err := p.requireOwner(sender, "publish"); err != nil {
		return nil, err
	}
	if p.status != domain.StatusInitializing {
		return nil, fmt.Errorf("only an initializing prediction can be published, status is %s", p.status)
	}
	if len(p.outcomes) < 2 {
		return nil, fmt.Errorf("a prediction needs at least 2 outcomes, has %d", len(p.outcomes))
	}
	p.status = domain.StatusPublished
	return []domain.Event{{Name: "PredictionPublished", Values: map[string]any{}}}, nil
}

func (p *prediction) buyUnit(tok *token, now int64, sender common.Address, amount *big.Int, outcomeID int64) ([]domain.Event, error) {
	if p.status != domain.StatusPublished {
		return nil, fmt.Errorf("units can only be bought while published, status is %s", p.status)
	}
	if now >= p.votingEnd {
		return nil, fmt.Errorf("voting ended at %d", p.votingEnd)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("unit amount must be positive")
	}
	if outcomeID < 1 || outcomeID > int64(len(p.outcomes)) {
		return nil, fmt.Errorf("outcome %d does not exist", outcomeID)
	}
	transfer, err := tok.transferFrom(p.address, sender, p.address, amount)
	if err != nil {
		return nil, err
	}

	u := &unit{
		id:        int64(len(p.units)) + 1,
		owner:     sender,
		outcomeID: outcomeID,
		tokens:    new(big.Int).Set(amount),
	}
	p.units = append(p.units, u)
	key := ownerOutcome{sender, outcomeID}
	p.ownerUnits[key] = append(p.ownerUnits[key], u.id)
	o := p.outcomes[outcomeID-1]
	o.tokens = new(big.Int).Add(o.tokens, amount)
	p.tokenPool = new(big.Int).Add(p.tokenPool, amount)

	return []domain.Event{transfer, {Name: "UnitBought", Values: map[string]any{
		"_owner":       sender,
		"_unitId":      big.NewInt(u.id),
		"_outcomeId":   big.NewInt(outcomeID),
		"_tokenAmount": new(big.Int).Set(amount),
	}}}, nil
}

func (p *prediction) resolve(o *oracle, now int64, sender common.Address) ([]domain.Event, error) {
	if err := p.requireOwner(sender, "resolve"); err != nil {
		return nil, err
	}
	if p.status != domain.StatusPublished {
		return nil, fmt.Errorf("only a published prediction can be resolved, status is %s", p.status)
	}
	if now < p.votingEnd {
		return nil, fmt.Errorf("voting is open until %d", p.votingEnd)
	}
	if !o.registered[p.address] {
		return nil, fmt.Errorf("prediction is not registered with oracle %s", p.oracle.Hex())
	}
	winning := o.outcomes[p.address]
	if winning < 1 || winning > int64(len(p.outcomes)) {
		return nil, fmt.Errorf("oracle outcome %d is not valid", winning)
	}
	p.status = domain.StatusResolved
	p.winning = winning
	return []domain.Event{{Name: "PredictionResolved", Values: map[string]any{
		"_oracle":           p.oracle,
		"_winningOutcomeId": big.NewInt(winning),
	}}}, nil
}

// withdrawUnit pays the unit's share of the whole pool, proportional to its
// stake in the winning outcome.
func (p *prediction) withdrawUnit(tok *token, sender common.Address, unitID int64) ([]domain.Event, error) {
	if p.status != domain.StatusResolved {
		return nil, fmt.Errorf("units can only be withdrawn once resolved, status is %s", p.status)
	}
	if unitID < 1 || unitID > int64(len(p.units)) {
		return nil, fmt.Errorf("unit %d does not exist", unitID)
	}
	u := p.units[unitID-1]
	if u.owner != sender {
		return nil, fmt.Errorf("unit %d is not owned by %s", unitID, sender.Hex())
	}
	if u.withdrawn {
		return nil, fmt.Errorf("unit %d already withdrawn", unitID)
	}
	if u.outcomeID != p.winning {
		return nil, fmt.Errorf("unit %d did not back the winning outcome", unitID)
	}
	winning := p.outcomes[p.winning-1]
	payout := new(big.Int).Mul(u.tokens, p.tokenPool)
	payout.Div(payout, winning.tokens)

	transfer, err := tok.transfer(p.address, sender, payout)
	if err != nil {
		return nil, err
	}
	u.withdrawn = true
	return []domain.Event{transfer, {Name: "UnitWithdrawn", Values: map[string]any{
		"_owner":       sender,
		"_unitId":      big.NewInt(unitID),
		"_tokenAmount": payout,
	}}}, nil
}
