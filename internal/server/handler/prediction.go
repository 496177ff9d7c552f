package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/service"
	"github.com/alanyoungcy/poolsettle/internal/units"
)

// PredictionService defines the methods that the prediction handler
// requires from the service layer.
type PredictionService interface {
	CreatePrediction(ctx context.Context, req service.CreateRequest) (domain.CreationResult, error)
	PublishPrediction(ctx context.Context, address string, operator service.Identity) error
	Vote(ctx context.Context, req service.VoteRequest) (domain.UnitPurchase, error)
	ClosePrediction(ctx context.Context, address string, operator service.Identity) (int64, error)
	WithdrawFunds(ctx context.Context, address, account, credential string) (domain.Withdrawal, error)
	GetPrediction(ctx context.Context, address string) (domain.Prediction, error)
	GetVotes(ctx context.Context, address, account string) ([]domain.Vote, error)
	Events(ctx context.Context, address string, limit int) ([]domain.LifecycleSignal, error)
}

// PredictionHandler serves the prediction lifecycle endpoints.
type PredictionHandler struct {
	predictions PredictionService
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler with the given service and logger.
func NewPredictionHandler(predictions PredictionService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{predictions: predictions, logger: logHandler(logger, "prediction")}
}

// ownerFields names the prediction operator signing a lifecycle step.
// Empty fields use the configured operator.
type ownerFields struct {
	PredictionOwner         string `json:"predictionOwner"`
	PredictionOwnerPassword string `json:"predictionOwnerPassword"`
}

func (f ownerFields) identity() service.Identity {
	return service.Identity{Address: f.PredictionOwner, Credential: f.PredictionOwnerPassword}
}

// dateField renders a date given as unix seconds or a string for
// units.ParseDate.
func dateField(name string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("%w: %s must be a date string or unix seconds", domain.ErrInvalidArgument, name)
	}
}

// CreatePrediction creates, fills and publishes a pool prediction.
// POST /api/v1/predictions
func (h *PredictionHandler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ownerFields
		OracleAddress string   `json:"oracleAddress"`
		HappensAt     any      `json:"happensAt"`
		VotingEndsAt  any      `json:"votingEndsAt"`
		Name          string   `json:"name"`
		Type          string   `json:"type"`
		OutcomeNames  []string `json:"outcomeNames"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create prediction", err)
		return
	}
	happensAt, err := dateField("happensAt", req.HappensAt)
	if err != nil {
		writeServiceError(w, r, h.logger, "create prediction", err)
		return
	}
	votingEndsAt, err := dateField("votingEndsAt", req.VotingEndsAt)
	if err != nil {
		writeServiceError(w, r, h.logger, "create prediction", err)
		return
	}

	result, err := h.predictions.CreatePrediction(r.Context(), service.CreateRequest{
		Operator:     req.identity(),
		Oracle:       req.OracleAddress,
		HappensAt:    happensAt,
		VotingEndsAt: votingEndsAt,
		Name:         req.Name,
		Type:         req.Type,
		OutcomeNames: req.OutcomeNames,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create prediction", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// PublishPrediction retries the publish step of a created prediction.
// POST /api/v1/predictions/{address}/publish
func (h *PredictionHandler) PublishPrediction(w http.ResponseWriter, r *http.Request) {
	var req ownerFields
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "publish prediction", err)
		return
	}
	address := pathParam(r, "address")
	if err := h.predictions.PublishPrediction(r.Context(), address, req.identity()); err != nil {
		writeServiceError(w, r, h.logger, "publish prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "published": true})
}

// Vote buys a unit of an outcome for an account.
// POST /api/v1/predictions/{address}/votes
func (h *PredictionHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount          any    `json:"amount"`
		OutcomeID       any    `json:"outcomeId"`
		AccountAddress  string `json:"accountAddress"`
		AccountPassword string `json:"accountPassword"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}
	amount, err := units.ParseAmount(req.Amount, false)
	if err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}
	outcomeID, err := parseID("outcomeId", req.OutcomeID)
	if err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}

	purchase, err := h.predictions.Vote(r.Context(), service.VoteRequest{
		Prediction: pathParam(r, "address"),
		Account:    req.AccountAddress,
		Credential: req.AccountPassword,
		Amount:     amount,
		OutcomeID:  outcomeID,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "vote", err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

// GetVotes returns an account's stakes on a prediction grouped by outcome.
// GET /api/v1/predictions/{address}/{account}/votes
func (h *PredictionHandler) GetVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.predictions.GetVotes(r.Context(), pathParam(r, "address"), pathParam(r, "account"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get votes", err)
		return
	}
	if votes == nil {
		votes = []domain.Vote{}
	}
	writeJSON(w, http.StatusOK, votes)
}

// GetPrediction returns the read model of a prediction.
// GET /api/v1/predictions/{address}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	prediction, err := h.predictions.GetPrediction(r.Context(), pathParam(r, "address"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

// Events lists the most recent lifecycle events of a prediction.
// GET /api/v1/predictions/{address}/events?limit=50
func (h *PredictionHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.predictions.Events(r.Context(), pathParam(r, "address"), parseLimit(r, 50, 500))
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ClosePrediction resolves a prediction to its oracle's outcome.
// POST /api/v1/predictions/{address}/close
func (h *PredictionHandler) ClosePrediction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ownerFields
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "close prediction", err)
		return
	}
	if req.PredictionOwnerPassword == "" {
		req.PredictionOwnerPassword = req.Password
	}
	address := pathParam(r, "address")
	winner, err := h.predictions.ClosePrediction(r.Context(), address, req.identity())
	if err != nil {
		writeServiceError(w, r, h.logger, "close prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":        address,
		"status":         domain.StatusResolved,
		"closingOutcome": winner,
	})
}

type withdrawResponse struct {
	domain.Withdrawal
	Partial string `json:"partial,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WithdrawFunds pays out an account's winning units.
// POST /api/v1/predictions/{address}/withdraw
func (h *PredictionHandler) WithdrawFunds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountAddress  string `json:"accountAddress"`
		AccountPassword string `json:"accountPassword"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	withdrawal, err := h.predictions.WithdrawFunds(r.Context(), pathParam(r, "address"), req.AccountAddress, req.AccountPassword)
	if err != nil {
		// Units paid before the failure are reported with the error.
		if withdrawal.Amount.GreaterThan(decimal.Zero) {
			h.logger.ErrorContext(r.Context(), "handler: withdraw partially failed",
				slog.String("paid", withdrawal.Amount.String()),
				slog.String("error", err.Error()),
			)
			writeJSON(w, statusFor(err), withdrawResponse{
				Withdrawal: withdrawal,
				Partial:    fmt.Sprintf("%d units paid", len(withdrawal.Units)),
				Error:      "withdraw failed",
			})
			return
		}
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}
