package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/service"
)

// OracleService defines the methods that the oracle handler requires from the
// service layer.
type OracleService interface {
	CreateOracle(ctx context.Context, operator service.Identity, name string) (domain.Oracle, error)
	GetOracle(ctx context.Context, address string) (domain.Oracle, error)
	IsRegistered(ctx context.Context, oracle, prediction string) (bool, error)
	GetOutcome(ctx context.Context, oracle, prediction string) (int64, error)
	RegisterPrediction(ctx context.Context, operator service.Identity, oracle, prediction string) error
	SetOutcome(ctx context.Context, operator service.Identity, oracle, prediction string, outcomeID int64, forceRegister bool) (domain.OutcomeAssignment, error)
}

// OracleHandler serves oracle endpoints.
type OracleHandler struct {
	oracles OracleService
	logger  *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given service and logger.
func NewOracleHandler(oracles OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracles: oracles, logger: logHandler(logger, "oracle")}
}

type operatorFields struct {
	OperatorAddress  string `json:"operatorAddress"`
	OperatorPassword string `json:"operatorPassword"`
}

func (f operatorFields) identity() service.Identity {
	return service.Identity{Address: f.OperatorAddress, Credential: f.OperatorPassword}
}

// CreateOracle deploys a named oracle owned by the operator.
// POST /api/v1/oracles
func (h *OracleHandler) CreateOracle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		operatorFields
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create oracle", err)
		return
	}
	oracle, err := h.oracles.CreateOracle(r.Context(), req.identity(), req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, "create oracle", err)
		return
	}
	writeJSON(w, http.StatusCreated, oracle)
}

// GetOracle returns an oracle's name and owner.
// GET /api/v1/oracles/{address}
func (h *OracleHandler) GetOracle(w http.ResponseWriter, r *http.Request) {
	oracle, err := h.oracles.GetOracle(r.Context(), pathParam(r, "address"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get oracle", err)
		return
	}
	writeJSON(w, http.StatusOK, oracle)
}

type oraclePredictionResponse struct {
	Oracle     string `json:"oracle"`
	Prediction string `json:"prediction"`
	Registered bool   `json:"registered"`
	OutcomeID  int64  `json:"outcomeId"`
}

// GetPrediction reports whether a prediction is registered with the oracle
// and the outcome assigned so far (0 when none).
// GET /api/v1/oracles/{address}/predictions/{prediction}
func (h *OracleHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	oracle, prediction := pathParam(r, "address"), pathParam(r, "prediction")
	registered, err := h.oracles.IsRegistered(r.Context(), oracle, prediction)
	if err != nil {
		writeServiceError(w, r, h.logger, "get oracle prediction", err)
		return
	}
	resp := oraclePredictionResponse{Oracle: oracle, Prediction: prediction, Registered: registered}
	if registered {
		if resp.OutcomeID, err = h.oracles.GetOutcome(r.Context(), oracle, prediction); err != nil {
			writeServiceError(w, r, h.logger, "get oracle prediction", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetPredictionOutcome assigns the outcome of a prediction. With
// register=true an unregistered prediction is registered first.
// POST /api/v1/oracles/{address}/predictions
func (h *OracleHandler) SetPredictionOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		operatorFields
		PredictionAddress   string `json:"predictionAddress"`
		PredictionOutcomeID any    `json:"predictionOutcomeId"`
		Register            bool   `json:"register"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "set outcome", err)
		return
	}
	outcomeID, err := parseID("predictionOutcomeId", req.PredictionOutcomeID)
	if err != nil {
		writeServiceError(w, r, h.logger, "set outcome", err)
		return
	}
	assignment, err := h.oracles.SetOutcome(r.Context(), req.identity(), pathParam(r, "address"),
		req.PredictionAddress, outcomeID, req.Register)
	if err != nil {
		writeServiceError(w, r, h.logger, "set outcome", err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

// RegisterPrediction binds a prediction to the oracle.
// POST /api/v1/oracles/{address}/registrations
func (h *OracleHandler) RegisterPrediction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		operatorFields
		PredictionAddress string `json:"predictionAddress"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "register prediction", err)
		return
	}
	oracle := pathParam(r, "address")
	if err := h.oracles.RegisterPrediction(r.Context(), req.identity(), oracle, req.PredictionAddress); err != nil {
		writeServiceError(w, r, h.logger, "register prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, oraclePredictionResponse{
		Oracle:     oracle,
		Prediction: req.PredictionAddress,
		Registered: true,
	})
}
