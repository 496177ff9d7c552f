package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
	"github.com/alanyoungcy/poolsettle/internal/units"
)

// OracleService creates oracles and records the outcomes they declare.
type OracleService struct {
	ledger  *ledger.Client
	factory common.Address
	ops     Operators
	logger  *slog.Logger
}

// NewOracleService creates an OracleService with all required dependencies.
func NewOracleService(client *ledger.Client, addrs ledger.Addresses, ops Operators, logger *slog.Logger) *OracleService {
	return &OracleService{
		ledger:  client,
		factory: addrs.OracleFactory,
		ops:     ops,
		logger:  logger,
	}
}

func (s *OracleService) operator(id Identity) (ledger.Signer, error) {
	return id.or(s.ops.OracleOperator).signer()
}

// CreateOracle deploys an oracle named name owned by the operator, or the
// configured oracle operator when none is given.
func (s *OracleService) CreateOracle(ctx context.Context, operator Identity, name string) (domain.Oracle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Oracle{}, invalidArgument("oracle name is required")
	}
	signer, err := s.operator(operator)
	if err != nil {
		return domain.Oracle{}, err
	}

	_, ev, err := s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractOracleFactory,
		Address:  s.factory,
		Method:   "createOracle",
		Args:     []any{name},
		Event:    "OracleCreated",
	}, signer)
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_service: create oracle %q: %w", name, err)
	}
	addr, err := ledger.EventAddress(ev.Values, "_oracle")
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_service: create oracle: %w: %w", domain.ErrUnexpected, err)
	}

	s.logger.InfoContext(ctx, "oracle_service: oracle created",
		slog.String("oracle", addr.Hex()),
		slog.String("name", name),
	)
	return domain.Oracle{Address: addr.Hex(), Name: name, Owner: signer.Address.Hex()}, nil
}

// GetOracle returns the name and operator of an oracle.
func (s *OracleService) GetOracle(ctx context.Context, address string) (domain.Oracle, error) {
	addr, err := units.ValidateAddress(address)
	if err != nil {
		return domain.Oracle{}, err
	}
	name, err := s.ledger.OracleName(ctx, addr)
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_service: oracle %s: %w", addr.Hex(), err)
	}
	owner, err := s.ledger.OracleOwner(ctx, addr)
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_service: oracle %s owner: %w", addr.Hex(), err)
	}
	return domain.Oracle{Address: addr.Hex(), Name: name, Owner: owner.Hex()}, nil
}

// IsRegistered reports whether prediction is registered with oracle.
func (s *OracleService) IsRegistered(ctx context.Context, oracle, prediction string) (bool, error) {
	oracleAddr, predAddr, err := validatePair(oracle, prediction)
	if err != nil {
		return false, err
	}
	return s.isRegistered(ctx, oracleAddr, predAddr)
}

func (s *OracleService) isRegistered(ctx context.Context, oracle, prediction common.Address) (bool, error) {
	ok, err := s.ledger.IsRegistered(ctx, oracle, prediction)
	if err != nil {
		return false, fmt.Errorf("oracle_service: registration of %s: %w", prediction.Hex(), err)
	}
	return ok, nil
}

// GetOutcome returns the outcome oracle assigned to prediction, 0 if none.
func (s *OracleService) GetOutcome(ctx context.Context, oracle, prediction string) (int64, error) {
	oracleAddr, predAddr, err := validatePair(oracle, prediction)
	if err != nil {
		return 0, err
	}
	return s.outcome(ctx, oracleAddr, predAddr)
}

func (s *OracleService) outcome(ctx context.Context, oracle, prediction common.Address) (int64, error) {
	id, err := s.ledger.OracleOutcome(ctx, oracle, prediction)
	if err != nil {
		return 0, fmt.Errorf("oracle_service: outcome of %s: %w", prediction.Hex(), err)
	}
	return id, nil
}

// RegisterPrediction registers prediction with oracle, or with the default
// oracle when oracle is empty.
func (s *OracleService) RegisterPrediction(ctx context.Context, operator Identity, oracle, prediction string) error {
	if oracle == "" {
		oracle = s.ops.DefaultOracle
	}
	oracleAddr, predAddr, err := validatePair(oracle, prediction)
	if err != nil {
		return err
	}
	signer, err := s.operator(operator)
	if err != nil {
		return err
	}
	registered, err := s.isRegistered(ctx, oracleAddr, predAddr)
	if err != nil {
		return err
	}
	if registered {
		return fmt.Errorf("%w: prediction %s is already registered with oracle %s",
			domain.ErrAlreadyExists, predAddr.Hex(), oracleAddr.Hex())
	}
	return s.register(ctx, signer, oracleAddr, predAddr)
}

func (s *OracleService) register(ctx context.Context, signer ledger.Signer, oracle, prediction common.Address) error {
	_, _, err := s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractOracle,
		Address:  oracle,
		Method:   "registerPrediction",
		Args:     []any{prediction},
		Event:    "PredictionRegistered",
	}, signer)
	if err != nil {
		return fmt.Errorf("oracle_service: register %s: %w", prediction.Hex(), err)
	}
	s.logger.InfoContext(ctx, "oracle_service: prediction registered",
		slog.String("oracle", oracle.Hex()),
		slog.String("prediction", prediction.Hex()),
	)
	return nil
}

// SetOutcome assigns outcomeID to prediction. An unregistered prediction is
// rejected unless forceRegister is set, in which case it is registered
// first. Assigning the outcome already recorded is a no-op.
func (s *OracleService) SetOutcome(ctx context.Context, operator Identity, oracle, prediction string, outcomeID int64, forceRegister bool) (domain.OutcomeAssignment, error) {
	oracleAddr, predAddr, err := validatePair(oracle, prediction)
	if err != nil {
		return domain.OutcomeAssignment{}, err
	}
	if outcomeID < 1 {
		return domain.OutcomeAssignment{}, invalidArgument("outcome id %d must be at least 1", outcomeID)
	}
	signer, err := s.operator(operator)
	if err != nil {
		return domain.OutcomeAssignment{}, err
	}

	assignment := domain.OutcomeAssignment{
		Oracle:     oracleAddr.Hex(),
		Prediction: predAddr.Hex(),
		OutcomeID:  outcomeID,
	}

	registered, err := s.isRegistered(ctx, oracleAddr, predAddr)
	if err != nil {
		return domain.OutcomeAssignment{}, err
	}
	if !registered {
		if !forceRegister {
			return domain.OutcomeAssignment{}, invalidState("prediction %s is not registered with oracle %s",
				predAddr.Hex(), oracleAddr.Hex())
		}
		if err := s.register(ctx, signer, oracleAddr, predAddr); err != nil {
			return domain.OutcomeAssignment{}, err
		}
	} else {
		current, err := s.outcome(ctx, oracleAddr, predAddr)
		if err != nil {
			return domain.OutcomeAssignment{}, err
		}
		if current == outcomeID {
			return assignment, nil
		}
	}

	receipt, _, err := s.ledger.Mutate(ctx, ledger.Call{
		Contract: ledger.ContractOracle,
		Address:  oracleAddr,
		Method:   "setOutcome",
		Args:     []any{predAddr, big.NewInt(outcomeID)},
		Event:    "OutcomeAssigned",
	}, signer)
	if err != nil {
		return domain.OutcomeAssignment{}, fmt.Errorf("oracle_service: set outcome of %s: %w", predAddr.Hex(), err)
	}
	assignment.TxHash = receipt.TxHash

	s.logger.InfoContext(ctx, "oracle_service: outcome assigned",
		slog.String("oracle", oracleAddr.Hex()),
		slog.String("prediction", predAddr.Hex()),
		slog.Int64("outcome_id", outcomeID),
	)
	return assignment, nil
}

func validatePair(oracle, prediction string) (common.Address, common.Address, error) {
	oracleAddr, err := units.ValidateAddress(oracle)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("oracle: %w", err)
	}
	predAddr, err := units.ValidateAddress(prediction)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("prediction: %w", err)
	}
	return oracleAddr, predAddr, nil
}
