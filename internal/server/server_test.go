package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/poolsettle/internal/cache/memory"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
	"github.com/alanyoungcy/poolsettle/internal/ledger/memory"
	"github.com/alanyoungcy/poolsettle/internal/server"
	"github.com/alanyoungcy/poolsettle/internal/server/handler"
	"github.com/alanyoungcy/poolsettle/internal/service"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testAPI struct {
	t      *testing.T
	srv    *httptest.Server
	clock  *testClock
	oracle string
	apiKey string
}

func newTestAPI(t *testing.T, apiKey string) *testAPI {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}

	tokenOwner := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	backend := memory.New(tokenOwner)
	backend.AddAccount(tokenOwner, "owner-secret")
	backend.SetClock(clock.Now)
	oracleOp, err := backend.NewAccount(ctx, "oracle-secret")
	require.NoError(t, err)
	predictionOp, err := backend.NewAccount(ctx, "prediction-secret")
	require.NoError(t, err)

	ops := service.Operators{
		TokenOwner:         service.Identity{Address: tokenOwner.Hex(), Credential: "owner-secret"},
		OracleOperator:     service.Identity{Address: oracleOp.Hex(), Credential: "oracle-secret"},
		PredictionOperator: service.Identity{Address: predictionOp.Hex(), Credential: "prediction-secret"},
		AccountCredential:  "account-secret",
	}
	client := ledger.NewClient(backend, logger)
	addrs := backend.Addresses()
	locks := cachemem.NewLockManager()
	bus := cachemem.NewSignalBus()

	oracle, err := service.NewOracleService(client, addrs, ops, logger).CreateOracle(ctx, service.Identity{}, "default oracle")
	require.NoError(t, err)
	ops.DefaultOracle = oracle.Address

	accounts := service.NewAccountService(client, addrs, ops, locks, logger)
	oracles := service.NewOracleService(client, addrs, ops, logger)
	predictions := service.NewPredictionService(client, addrs, ops, accounts, oracles, locks, bus, logger).
		WithClock(clock.Now).
		WithHistory(bus)

	h := server.NewHandler(server.Config{APIKey: apiKey}, server.Handlers{
		Health:      handler.NewHealthHandler("memory", nil, logger),
		Accounts:    handler.NewAccountHandler(accounts, logger),
		Oracles:     handler.NewOracleHandler(oracles, logger),
		Predictions: handler.NewPredictionHandler(predictions, logger),
	}, server.Options{}, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv, clock: clock, oracle: oracle.Address, apiKey: apiKey}
}

// do sends a JSON request and decodes the JSON response into out when
// out is non-nil. It returns the status code.
func (a *testAPI) do(method, path string, body, out any) int {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) createAccount(amount string) string {
	a.t.Helper()
	var acct struct {
		Address string `json:"address"`
	}
	require.Equal(a.t, http.StatusCreated, a.do("POST", "/api/v1/accounts", map[string]any{"initialAmount": amount}, &acct))
	return acct.Address
}

func TestSettlementOverHTTP(t *testing.T) {
	api := newTestAPI(t, "")
	now := api.clock.Now()

	winner := api.createAccount("1000")
	loser := api.createAccount("1000")

	var created struct {
		Address         string           `json:"address"`
		OutcomeNamesIDs map[string]int64 `json:"outcomeNamesIds"`
		Published       bool             `json:"published"`
	}
	status := api.do("POST", "/api/v1/predictions", map[string]any{
		"happensAt":    now.Add(2 * time.Hour).Format(time.RFC3339),
		"votingEndsAt": now.Add(time.Hour).Format(time.RFC3339),
		"name":         "Will it rain?",
		"type":         "pool",
		"outcomeNames": []string{"yes", "no"},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, created.Published)
	pred := created.Address
	yes, no := created.OutcomeNamesIDs["yes"], created.OutcomeNamesIDs["no"]

	require.Equal(t, http.StatusCreated, api.do("POST", "/api/v1/predictions/"+pred+"/votes",
		map[string]any{"amount": "100", "outcomeId": yes, "accountAddress": winner}, nil))
	require.Equal(t, http.StatusCreated, api.do("POST", "/api/v1/predictions/"+pred+"/votes",
		map[string]any{"amount": "300", "outcomeId": no, "accountAddress": loser}, nil))

	var votes []struct {
		OutcomeID int64   `json:"outcomeId"`
		Units     []int64 `json:"units"`
	}
	require.Equal(t, http.StatusOK, api.do("GET", "/api/v1/predictions/"+pred+"/"+winner+"/votes", nil, &votes))
	require.Len(t, votes, 1)
	assert.Equal(t, yes, votes[0].OutcomeID)

	require.Equal(t, http.StatusOK, api.do("POST", "/api/v1/oracles/"+api.oracle+"/predictions",
		map[string]any{"predictionAddress": pred, "predictionOutcomeId": yes}, nil))

	// Voting is still open.
	var failure map[string]any
	assert.Equal(t, http.StatusConflict, api.do("POST", "/api/v1/predictions/"+pred+"/close", map[string]any{}, &failure))
	assert.Contains(t, failure["error"], "voting")

	api.clock.Advance(time.Hour)
	var closed struct {
		Status         string `json:"status"`
		ClosingOutcome int64  `json:"closingOutcome"`
	}
	require.Equal(t, http.StatusOK, api.do("POST", "/api/v1/predictions/"+pred+"/close", map[string]any{}, &closed))
	assert.Equal(t, "resolved", closed.Status)
	assert.Equal(t, yes, closed.ClosingOutcome)

	var payout struct {
		Amount json.Number `json:"amount"`
		Units  []int64     `json:"units"`
	}
	require.Equal(t, http.StatusOK, api.do("POST", "/api/v1/predictions/"+pred+"/withdraw",
		map[string]any{"accountAddress": winner}, &payout))
	assert.Equal(t, "400", payout.Amount.String())

	var balance struct {
		Balance json.Number `json:"balance"`
	}
	require.Equal(t, http.StatusOK, api.do("GET", "/api/v1/accounts/"+winner, nil, &balance))
	assert.Equal(t, "1300", balance.Balance.String())

	var events struct {
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	require.Equal(t, http.StatusOK, api.do("GET", "/api/v1/predictions/"+pred+"/events?limit=1", nil, &events))
	require.Len(t, events.Events, 1)
	assert.Equal(t, "units_withdrawn", events.Events[0].Kind)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t, "")
	acct := api.createAccount("10")

	var body map[string]any
	assert.Equal(t, http.StatusBadRequest, api.do("GET", "/api/v1/accounts/not-an-address", nil, &body))
	assert.NotEmpty(t, body["error"])

	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/api/v1/accounts/"+acct+"/tokens",
		map[string]any{"amount": "-5"}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/api/v1/accounts", map[string]any{"initialAmount": "ten"}, nil))

	unknown := "0x00000000000000000000000000000000000000Ee"
	assert.Equal(t, http.StatusNotFound, api.do("GET", "/api/v1/predictions/"+unknown, nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do("GET", "/api/v1/nothing-here", nil, nil))
}

func TestAllowanceRoundTrip(t *testing.T) {
	api := newTestAPI(t, "")
	owner := api.createAccount("50")
	spender := api.createAccount("0")
	path := "/api/v1/accounts/" + owner + "/spenders/" + spender

	require.Equal(t, http.StatusOK, api.do("PUT", path, map[string]any{"amount": "20"}, nil))
	var allowance struct {
		Amount json.Number `json:"amount"`
	}
	require.Equal(t, http.StatusOK, api.do("GET", path, nil, &allowance))
	assert.Equal(t, "20", allowance.Amount.String())
}

func TestAuthGuardsAPI(t *testing.T) {
	api := newTestAPI(t, "s3cret")

	resp, err := http.Get(api.srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(api.srv.URL+"/api/v1/accounts", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	api.createAccount("1")
}
