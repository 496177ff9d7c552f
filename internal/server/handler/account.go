package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/units"
)

// AccountService defines the methods that the account handler requires from
// the service layer.
type AccountService interface {
	CreateAccount(ctx context.Context, initialAmount decimal.Decimal) (domain.Account, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	IssueTokens(ctx context.Context, address string, amount decimal.Decimal) (decimal.Decimal, error)
	DestroyTokens(ctx context.Context, address string, amount decimal.Decimal) (decimal.Decimal, error)
	DestroyAllTokens(ctx context.Context, address string) (decimal.Decimal, error)
	GetAllowance(ctx context.Context, owner, spender string) (domain.Allowance, error)
	SetAllowance(ctx context.Context, owner, spender string, amount decimal.Decimal, credential string) error
}

// AccountHandler serves account, token and allowance endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and logger.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logHandler(logger, "account")}
}

type amountRequest struct {
	Amount any `json:"amount"`
}

type balanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

// CreateAccount opens an account funded with initialAmount (may be 0).
// POST /api/v1/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitialAmount any `json:"initialAmount"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create account", err)
		return
	}
	amount := decimal.Zero
	if req.InitialAmount != nil {
		var err error
		if amount, err = units.ParseAmount(req.InitialAmount, true); err != nil {
			writeServiceError(w, r, h.logger, "create account", err)
			return
		}
	}

	account, err := h.accounts.CreateAccount(r.Context(), amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GetBalance returns the token balance of an account in ether units.
// GET /api/v1/accounts/{address}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	balance, err := h.accounts.GetBalance(r.Context(), address)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: address, Balance: balance})
}

// IssueTokens mints tokens to an account.
// POST /api/v1/accounts/{address}/tokens
func (h *AccountHandler) IssueTokens(w http.ResponseWriter, r *http.Request) {
	h.changeBalance(w, r, "issue tokens", h.accounts.IssueTokens)
}

// DestroyTokens burns tokens from an account.
// DELETE /api/v1/accounts/{address}/tokens
func (h *AccountHandler) DestroyTokens(w http.ResponseWriter, r *http.Request) {
	h.changeBalance(w, r, "destroy tokens", h.accounts.DestroyTokens)
}

func (h *AccountHandler) changeBalance(w http.ResponseWriter, r *http.Request, op string,
	apply func(context.Context, string, decimal.Decimal) (decimal.Decimal, error)) {
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	amount, err := units.ParseAmount(req.Amount, false)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	address := pathParam(r, "address")
	balance, err := apply(r.Context(), address, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: address, Balance: balance})
}

// DestroyAllTokens burns an account's whole balance.
// POST /api/v1/__internal__/accounts/{address}/destroyAllTokens
func (h *AccountHandler) DestroyAllTokens(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	balance, err := h.accounts.DestroyAllTokens(r.Context(), address)
	if err != nil {
		writeServiceError(w, r, h.logger, "destroy all tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: address, Balance: balance})
}

// GetAllowance returns how much spender may draw from the account.
// GET /api/v1/accounts/{address}/spenders/{spender}
func (h *AccountHandler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	allowance, err := h.accounts.GetAllowance(r.Context(), pathParam(r, "address"), pathParam(r, "spender"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, allowance)
}

// ApproveSpender sets the allowance of spender to amount.
// PUT /api/v1/accounts/{address}/spenders/{spender}
func (h *AccountHandler) ApproveSpender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount          any    `json:"amount"`
		AccountPassword string `json:"accountPassword"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "approve spender", err)
		return
	}
	amount, err := units.ParseAmount(req.Amount, true)
	if err != nil {
		writeServiceError(w, r, h.logger, "approve spender", err)
		return
	}

	owner, spender := pathParam(r, "address"), pathParam(r, "spender")
	if err := h.accounts.SetAllowance(r.Context(), owner, spender, amount, req.AccountPassword); err != nil {
		writeServiceError(w, r, h.logger, "approve spender", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Allowance{Owner: owner, Spender: spender, Amount: amount})
}
