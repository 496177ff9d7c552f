package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
	"github.com/alanyoungcy/poolsettle/internal/units"
)

// CreateRequest describes a new pool prediction. Dates accept the formats
// of units.ParseDate. Zero Operator and empty Oracle use the configured
// defaults.
type CreateRequest struct {
	Operator     Identity
	Oracle       string
	HappensAt    string
	VotingEndsAt string
	Name         string
	Type         string
	OutcomeNames []string
}

// VoteRequest stakes Amount tokens of Account on OutcomeID.
type VoteRequest struct {
	Prediction string
	Account    string
	Credential string
	Amount     decimal.Decimal
	OutcomeID  int64
}

// PredictionService drives the prediction lifecycle: create, vote, close
// and withdraw.
type PredictionService struct {
	ledger   *ledger.Client
	factory  common.Address
	ops      Operators
	accounts *AccountService
	oracles  *OracleService
	locks    domain.LockManager
	bus      domain.SignalBus
	history  domain.EventHistory
	now      func() time.Time
	logger   *slog.Logger
}

// NewPredictionService creates a PredictionService with all required
// dependencies. locks and bus may be nil.
func NewPredictionService(
	client *ledger.Client,
	addrs ledger.Addresses,
	ops Operators,
	accounts *AccountService,
	oracles *OracleService,
	locks domain.LockManager,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		ledger:   client,
		factory:  addrs.PredictionFactory,
		ops:      ops,
		accounts: accounts,
		oracles:  oracles,
		locks:    locks,
		bus:      bus,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source used for voting window checks.
func (s *PredictionService) WithClock(now func() time.Time) *PredictionService {
	s.now = now
	return s
}

// WithHistory records every lifecycle signal in h.
func (s *PredictionService) WithHistory(h domain.EventHistory) *PredictionService {
	s.history = h
	return s
}

// CreatePrediction creates a prediction, adds its outcomes in order and
// publishes it. A publish failure is reported in the result rather than as
// an error so the caller can retry with PublishPrediction.
func (s *PredictionService) CreatePrediction(ctx context.Context, req CreateRequest) (domain.CreationResult, error) {
	operator := req.Operator.or(s.ops.PredictionOperator)
	signer, err := operator.signer()
	if err != nil {
		return domain.CreationResult{}, fmt.Errorf("operator: %w", err)
	}
	oracle := req.Oracle
	if oracle == "" {
		oracle = s.ops.DefaultOracle
	}
	oracleAddr, err := units.ValidateAddress(oracle)
	if err != nil {
		return domain.CreationResult{}, fmt.Errorf("oracle: %w", err)
	}
	happensAt, err := units.ParseDate(req.HappensAt)
	if err != nil {
		return domain.CreationResult{}, fmt.Errorf("happensAt: %w", err)
	}
	votingEndsAt, err := units.ParseDate(req.VotingEndsAt)
	if err != nil {
		return domain.CreationResult{}, fmt.Errorf("votingEndsAt: %w", err)
	}
	if votingEndsAt.After(happensAt) {
		return domain.CreationResult{}, invalidArgument("voting must end by %s, got %s",
			happensAt.Format(time.RFC3339), votingEndsAt.Format(time.RFC3339))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.CreationResult{}, invalidArgument("prediction name is required")
	}
	if req.Type != domain.PredictionTypePool {
		return domain.CreationResult{}, invalidArgument("unsupported prediction type %q", req.Type)
	}
	if len(req.OutcomeNames) < 2 {
		return domain.CreationResult{}, invalidArgument("at least 2 outcomes are required, got %d", len(req.OutcomeNames))
	}
	seen := make(map[string]bool, len(req.OutcomeNames))
	for _, n := range req.OutcomeNames {
		if strings.TrimSpace(n) == "" {
			return domain.CreationResult{}, invalidArgument("outcome names must not be blank")
		}
		if seen[n] {
			return domain.CreationResult{}, invalidArgument("duplicate outcome name %q", n)
		}
		seen[n] = true
	}

	_, ev, err := s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractPredictionFactory,
		Address:  s.factory,
		Method:   "createPoolPrediction",
		Args: []any{
			oracleAddr,
			units.DateToSeconds(happensAt),
			units.DateToSeconds(votingEndsAt),
			name,
		},
		Event: "PoolPredictionCreated",
	}, signer)
	if err != nil {
		return domain.CreationResult{}, fmt.Errorf("prediction_service: create %q: %w", name, err)
	}
	predAddr, err := ledger.EventAddress(ev.Values, "_newPrediction")
	if err != nil {
		return domain.CreationResult{}, fmt.Errorf("prediction_service: create %q: %w: %w", name, domain.ErrUnexpected, err)
	}
	s.logger.InfoContext(ctx, "prediction_service: prediction created",
		slog.String("prediction", predAddr.Hex()),
		slog.String("oracle", oracleAddr.Hex()),
		slog.String("name", name),
	)

	ids := make(map[string]int64, len(req.OutcomeNames))
	for _, outcomeName := range req.OutcomeNames {
		_, ev, err := s.ledger.Mutate(ctx, ledger.Call{
			Contract: ledger.ContractPrediction,
			Address:  predAddr,
			Method:   "addOutcome",
			Args:     []any{outcomeName},
			Event:    "OutcomeAdded",
		}, signer)
		if err == nil {
			var id int64
			id, err = ledger.EventInt(ev.Values, "_outcomeId")
			if err == nil {
				ids[outcomeName] = id
				continue
			}
			err = fmt.Errorf("%w: %w", domain.ErrUnexpected, err)
		}
		return domain.CreationResult{}, &OutcomePipelineError{
			Prediction: predAddr.Hex(),
			Added:      ids,
			Failed:     outcomeName,
			Err:        err,
		}
	}

	result := domain.CreationResult{Address: predAddr.Hex(), OutcomeNamesIDs: ids}
	s.signal(ctx, domain.SignalPredictionCreated, predAddr, "", map[string]any{"name": name, "outcomes": ids})

	receipt, err := s.publish(ctx, signer, predAddr)
	if err != nil {
		s.logger.WarnContext(ctx, "prediction_service: publish failed",
			slog.String("prediction", predAddr.Hex()),
			slog.String("error", err.Error()),
		)
		result.PublishError = err.Error()
		return result, nil
	}
	result.Published = true
	s.signal(ctx, domain.SignalPredictionPublished, predAddr, receipt.TxHash, nil)
	return result, nil
}

// PublishPrediction opens an initializing prediction for voting.
func (s *PredictionService) PublishPrediction(ctx context.Context, address string, operator Identity) error {
	predAddr, err := units.ValidateAddress(address)
	if err != nil {
		return err
	}
	signer, err := operator.or(s.ops.PredictionOperator).signer()
	if err != nil {
		return fmt.Errorf("operator: %w", err)
	}
	status, err := s.status(ctx, predAddr)
	if err != nil {
		return err
	}
	if status != domain.StatusInitializing {
		return invalidState("prediction %s is %s, only initializing predictions can be published", predAddr.Hex(), status)
	}
	receipt, err := s.publish(ctx, signer, predAddr)
	if err != nil {
		return err
	}
	s.signal(ctx, domain.SignalPredictionPublished, predAddr, receipt.TxHash, nil)
	return nil
}

func (s *PredictionService) publish(ctx context.Context, signer ledger.Signer, predAddr common.Address) (domain.Receipt, error) {
	receipt, _, err := s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractPrediction,
		Address:  predAddr,
		Method:   "publish",
		Event:    "PredictionPublished",
	}, signer)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("prediction_service: publish %s: %w", predAddr.Hex(), err)
	}
	s.logger.InfoContext(ctx, "prediction_service: prediction published", slog.String("prediction", predAddr.Hex()))
	return receipt, nil
}

// Vote stakes req.Amount tokens on an outcome. The allowance for the
// prediction is set to exactly the stake before the unit is bought.
func (s *PredictionService) Vote(ctx context.Context, req VoteRequest) (domain.UnitPurchase, error) {
	predAddr, err := units.ValidateAddress(req.Prediction)
	if err != nil {
		return domain.UnitPurchase{}, fmt.Errorf("prediction: %w", err)
	}
	account, err := units.ValidateAddress(req.Account)
	if err != nil {
		return domain.UnitPurchase{}, fmt.Errorf("account: %w", err)
	}
	if err := units.RequirePositive(req.Amount); err != nil {
		return domain.UnitPurchase{}, err
	}
	credential := req.Credential
	if credential == "" {
		credential = s.ops.AccountCredential
	}

	var purchase domain.UnitPurchase
	err = withLock(ctx, s.locks, lockKey("vote", account.Hex(), predAddr.Hex()), func() error {
		status, err := s.status(ctx, predAddr)
		if err != nil {
			return err
		}
		if status != domain.StatusPublished {
			return invalidState("prediction %s is %s, votes are only accepted while published", predAddr.Hex(), status)
		}
		votingEnd, err := s.ledger.VotingEndTime(ctx, predAddr)
		if err != nil {
			return fmt.Errorf("prediction_service: voting end: %w", err)
		}
		// The ledger rejects votes at or after the end second.
		if endsAt := units.SecondsToDate(votingEnd); !s.now().Before(endsAt) {
			return invalidState("voting on %s ended at %s", predAddr.Hex(), endsAt.Format(time.RFC3339))
		}
		count, err := s.ledger.OutcomeCount(ctx, predAddr)
		if err != nil {
			return fmt.Errorf("prediction_service: outcome count: %w", err)
		}
		if req.OutcomeID < 1 || req.OutcomeID > count {
			return invalidArgument("outcome id %d out of range, prediction has %d outcomes", req.OutcomeID, count)
		}
		balance, err := s.accounts.balance(ctx, account)
		if err != nil {
			return err
		}
		if balance.LessThan(req.Amount) {
			return invalidState("%s holds %s tokens, cannot stake %s", account.Hex(), balance, req.Amount)
		}

		if err := s.accounts.SetAllowance(ctx, account.Hex(), predAddr.Hex(), req.Amount, credential); err != nil {
			return err
		}

		receipt, ev, err := s.ledger.Mutate(ctx, ledger.Call{
			Contract: ledger.ContractPrediction,
			Address:  predAddr,
			Method:   "buyUnit",
			Args:     []any{units.EtherToWei(req.Amount), big.NewInt(req.OutcomeID)},
			Event:    "UnitBought",
		}, ledger.Signer{Address: account, Credential: credential})
		if err != nil {
			return &PartialError{
				Op:        "vote",
				Completed: fmt.Sprintf("allowance for %s set to %s", predAddr.Hex(), req.Amount),
				Err:       fmt.Errorf("prediction_service: buy unit: %w", err),
			}
		}
		unitID, err := ledger.EventInt(ev.Values, "_unitId")
		if err != nil {
			return fmt.Errorf("prediction_service: buy unit: %w: %w", domain.ErrUnexpected, err)
		}
		purchase = domain.UnitPurchase{
			TransactionHash: receipt.TxHash,
			Account:         account.Hex(),
			Amount:          req.Amount,
			UnitID:          unitID,
			OutcomeID:       req.OutcomeID,
		}
		return nil
	})
	if err != nil {
		return domain.UnitPurchase{}, err
	}

	s.logger.InfoContext(ctx, "prediction_service: unit bought",
		slog.String("prediction", predAddr.Hex()),
		slog.String("account", account.Hex()),
		slog.Int64("unit_id", purchase.UnitID),
		slog.Int64("outcome_id", purchase.OutcomeID),
		slog.String("amount", purchase.Amount.String()),
	)
	s.signal(ctx, domain.SignalUnitBought, predAddr, purchase.TransactionHash, map[string]any{
		"account":   purchase.Account,
		"unitId":    purchase.UnitID,
		"outcomeId": purchase.OutcomeID,
		"amount":    purchase.Amount.String(),
	})
	return purchase, nil
}

// ClosePrediction resolves a published prediction once voting has ended
// and its oracle has assigned a valid outcome.
func (s *PredictionService) ClosePrediction(ctx context.Context, address string, operator Identity) (int64, error) {
	predAddr, err := units.ValidateAddress(address)
	if err != nil {
		return 0, err
	}
	signer, err := operator.or(s.ops.PredictionOperator).signer()
	if err != nil {
		return 0, fmt.Errorf("operator: %w", err)
	}

	oracleAddr, err := s.ledger.PredictionOracle(ctx, predAddr)
	if err != nil {
		return 0, fmt.Errorf("prediction_service: oracle of %s: %w", predAddr.Hex(), err)
	}
	registered, err := s.oracles.isRegistered(ctx, oracleAddr, predAddr)
	if err != nil {
		return 0, err
	}
	if !registered {
		return 0, invalidState("prediction %s is not registered with oracle %s", predAddr.Hex(), oracleAddr.Hex())
	}
	status, err := s.status(ctx, predAddr)
	if err != nil {
		return 0, err
	}
	if status != domain.StatusPublished {
		return 0, invalidState("prediction %s is %s, only published predictions can be closed", predAddr.Hex(), status)
	}
	votingEnd, err := s.ledger.VotingEndTime(ctx, predAddr)
	if err != nil {
		return 0, fmt.Errorf("prediction_service: voting end: %w", err)
	}
	if endsAt := units.SecondsToDate(votingEnd); endsAt.After(s.now()) {
		return 0, invalidState("voting on %s is open until %s", predAddr.Hex(), endsAt.Format(time.RFC3339))
	}
	outcomeID, err := s.oracles.outcome(ctx, oracleAddr, predAddr)
	if err != nil {
		return 0, err
	}
	count, err := s.ledger.OutcomeCount(ctx, predAddr)
	if err != nil {
		return 0, fmt.Errorf("prediction_service: outcome count: %w", err)
	}
	if outcomeID < 1 || outcomeID > count {
		return 0, invalidState("oracle %s has not assigned a valid outcome to %s (got %d)", oracleAddr.Hex(), predAddr.Hex(), outcomeID)
	}

	receipt, _, err := s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractPrediction,
		Address:  predAddr,
		Method:   "resolve",
		Event:    "PredictionResolved",
	}, signer)
	if err != nil {
		return 0, fmt.Errorf("prediction_service: resolve %s: %w", predAddr.Hex(), err)
	}

	s.logger.InfoContext(ctx, "prediction_service: prediction resolved",
		slog.String("prediction", predAddr.Hex()),
		slog.Int64("winning_outcome_id", outcomeID),
	)
	s.signal(ctx, domain.SignalPredictionResolved, predAddr, receipt.TxHash, map[string]any{"winningOutcomeId": outcomeID})
	return outcomeID, nil
}

// WithdrawFunds withdraws every unwithdrawn winning unit of account and
// returns the total paid out. Units already withdrawn are skipped, so a
// second call returns zero. If a withdrawal fails the total of the units
// paid so far is returned with a *PartialError.
func (s *PredictionService) WithdrawFunds(ctx context.Context, address, account, credential string) (domain.Withdrawal, error) {
	predAddr, err := units.ValidateAddress(address)
	if err != nil {
		return domain.Withdrawal{}, fmt.Errorf("prediction: %w", err)
	}
	accountAddr, err := units.ValidateAddress(account)
	if err != nil {
		return domain.Withdrawal{}, fmt.Errorf("account: %w", err)
	}
	if credential == "" {
		credential = s.ops.AccountCredential
	}

	status, err := s.status(ctx, predAddr)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if status != domain.StatusResolved {
		return domain.Withdrawal{}, invalidState("prediction %s is %s, funds can only be withdrawn once resolved", predAddr.Hex(), status)
	}
	winning, err := s.ledger.WinningOutcomeID(ctx, predAddr)
	if err != nil {
		return domain.Withdrawal{}, fmt.Errorf("prediction_service: winning outcome: %w", err)
	}
	owned, err := s.ledger.ListOwnerUnits(ctx, predAddr, accountAddr, winning)
	if err != nil {
		return domain.Withdrawal{}, fmt.Errorf("prediction_service: units of %s: %w", accountAddr.Hex(), err)
	}

	total := new(big.Int)
	result := domain.Withdrawal{Prediction: predAddr.Hex(), Account: accountAddr.Hex(), Units: []int64{}}
	signer := ledger.Signer{Address: accountAddr, Credential: credential}
	for _, u := range owned {
		if u.Withdrawn {
			continue
		}
		_, ev, err := s.ledger.Mutate(ctx, ledger.Call{
			Contract: ledger.ContractPrediction,
			Address:  predAddr,
			Method:   "withdrawUnit",
			Args:     []any{big.NewInt(u.ID)},
			Event:    "UnitWithdrawn",
		}, signer)
		if err == nil {
			var paid *big.Int
			if paid, err = ledger.EventBig(ev.Values, "_tokenAmount"); err == nil {
				total.Add(total, paid)
				result.Units = append(result.Units, u.ID)
				continue
			}
			err = fmt.Errorf("%w: %w", domain.ErrUnexpected, err)
		}
		result.Amount = units.WeiToEther(total)
		return result, &PartialError{
			Op:        fmt.Sprintf("withdraw unit %d", u.ID),
			Completed: fmt.Sprintf("withdrawing %d units worth %s", len(result.Units), result.Amount),
			Err:       fmt.Errorf("prediction_service: %w", err),
		}
	}
	result.Amount = units.WeiToEther(total)

	if len(result.Units) > 0 {
		s.logger.InfoContext(ctx, "prediction_service: funds withdrawn",
			slog.String("prediction", predAddr.Hex()),
			slog.String("account", accountAddr.Hex()),
			slog.Int("units", len(result.Units)),
			slog.String("amount", result.Amount.String()),
		)
		s.signal(ctx, domain.SignalUnitsWithdrawn, predAddr, "", map[string]any{
			"account": result.Account,
			"units":   result.Units,
			"amount":  result.Amount.String(),
		})
	}
	return result, nil
}

// GetPrediction reads the full state of a prediction.
func (s *PredictionService) GetPrediction(ctx context.Context, address string) (domain.Prediction, error) {
	predAddr, err := units.ValidateAddress(address)
	if err != nil {
		return domain.Prediction{}, err
	}

	oracleAddr, err := s.ledger.PredictionOracle(ctx, predAddr)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: get %s: %w", predAddr.Hex(), err)
	}
	status, err := s.status(ctx, predAddr)
	if err != nil {
		return domain.Prediction{}, err
	}
	votingEnd, err := s.ledger.VotingEndTime(ctx, predAddr)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: voting end: %w", err)
	}
	happens, err := s.ledger.PredictionEndTime(ctx, predAddr)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: end time: %w", err)
	}
	pool, err := s.ledger.TokenPool(ctx, predAddr)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: token pool: %w", err)
	}
	winning, err := s.ledger.WinningOutcomeID(ctx, predAddr)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: winning outcome: %w", err)
	}
	records, err := s.ledger.Outcomes(ctx, predAddr)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: outcomes: %w", err)
	}

	outcomes := make([]domain.Outcome, 0, len(records))
	for _, r := range records {
		outcomes = append(outcomes, domain.Outcome{ID: r.ID, Name: r.Name, TokenPool: units.WeiToEther(r.Tokens)})
	}
	return domain.Prediction{
		Address:          predAddr.Hex(),
		OracleAddress:    oracleAddr.Hex(),
		Status:           status,
		VotingEndsAt:     units.SecondsToDate(votingEnd),
		HappensAt:        units.SecondsToDate(happens),
		TokenPool:        units.WeiToEther(pool),
		WinningOutcomeID: winning,
		Outcomes:         outcomes,
	}, nil
}

// GetVotes lists the units account holds on each outcome. Outcomes without
// units are omitted.
func (s *PredictionService) GetVotes(ctx context.Context, address, account string) ([]domain.Vote, error) {
	predAddr, err := units.ValidateAddress(address)
	if err != nil {
		return nil, fmt.Errorf("prediction: %w", err)
	}
	accountAddr, err := units.ValidateAddress(account)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	records, err := s.ledger.Outcomes(ctx, predAddr)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: outcomes: %w", err)
	}

	votes := make([]domain.Vote, 0, len(records))
	for _, o := range records {
		owned, err := s.ledger.ListOwnerUnits(ctx, predAddr, accountAddr, o.ID)
		if err != nil {
			return nil, fmt.Errorf("prediction_service: units on outcome %d: %w", o.ID, err)
		}
		if len(owned) == 0 {
			continue
		}
		v := domain.Vote{OutcomeID: o.ID, OutcomeName: o.Name, Units: make([]int64, 0, len(owned))}
		sum := new(big.Int)
		for _, u := range owned {
			v.Units = append(v.Units, u.ID)
			sum.Add(sum, u.Tokens)
		}
		v.Amount = units.WeiToEther(sum)
		votes = append(votes, v)
	}
	return votes, nil
}

func (s *PredictionService) status(ctx context.Context, predAddr common.Address) (domain.PredictionStatus, error) {
	raw, err := s.ledger.PredictionStatus(ctx, predAddr)
	if err != nil {
		return 0, fmt.Errorf("prediction_service: status of %s: %w", predAddr.Hex(), err)
	}
	return domain.PredictionStatus(raw), nil
}

// Events returns up to limit recorded lifecycle signals of a prediction,
// newest first.
func (s *PredictionService) Events(ctx context.Context, address string, limit int) ([]domain.LifecycleSignal, error) {
	predAddr, err := units.ValidateAddress(address)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.LifecycleSignal{}, nil
	}
	entries, err := s.history.Recent(ctx, domain.PredictionChannel(predAddr.Hex()), limit)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: events of %s: %w", predAddr.Hex(), err)
	}
	signals := make([]domain.LifecycleSignal, 0, len(entries))
	for _, e := range entries {
		var sig domain.LifecycleSignal
		if err := json.Unmarshal(e.Payload, &sig); err != nil {
			s.logger.WarnContext(ctx, "prediction_service: skipping malformed event",
				slog.String("id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// signal publishes a lifecycle event and records it in the history. Bus
// failures are logged and ignored.
func (s *PredictionService) signal(ctx context.Context, kind string, predAddr common.Address, txHash string, data map[string]any) {
	if s.bus == nil && s.history == nil {
		return
	}
	payload, err := json.Marshal(domain.LifecycleSignal{
		Kind:       kind,
		Prediction: predAddr.Hex(),
		TxHash:     txHash,
		Data:       data,
		Timestamp:  s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "prediction_service: marshal signal failed", slog.String("error", err.Error()))
		return
	}
	channel := domain.PredictionChannel(predAddr.Hex())
	if s.history != nil {
		if err := s.history.Append(ctx, channel, payload); err != nil {
			s.logger.WarnContext(ctx, "prediction_service: record signal failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "prediction_service: publish signal failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
