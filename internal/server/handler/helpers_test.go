package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrInvalidArgument: http.StatusBadRequest,
		domain.ErrUnauthorized:    http.StatusUnauthorized,
		domain.ErrNotFound:        http.StatusNotFound,
		domain.ErrInvalidState:    http.StatusConflict,
		domain.ErrAlreadyExists:   http.StatusConflict,
		domain.ErrLockHeld:        http.StatusConflict,
		domain.ErrRateLimited:     http.StatusTooManyRequests,
		domain.ErrUnexpected:      http.StatusInternalServerError,
		errors.New("boom"):        http.StatusInternalServerError,
	}
	for err, want := range cases {
		wrapped := fmt.Errorf("service: %w", err)
		assert.Equal(t, want, statusFor(wrapped), err.Error())
	}
}

func TestWriteServiceError_HidesServerErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	writeServiceError(rec, req, discard, "vote", fmt.Errorf("%w: node exploded at 10.0.0.3", domain.ErrUnexpected))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "vote failed", body.Error)
}

func TestWriteServiceError_CarriesPartialState(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	err := &service.OutcomePipelineError{
		Prediction: "0xabc",
		Added:      map[string]int64{"yes": 1},
		Failed:     "no",
		Err:        fmt.Errorf("%w: reverted", domain.ErrInvalidState),
	}
	writeServiceError(rec, req, discard, "create prediction", err)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "0xabc", body.Prediction)
	assert.Equal(t, map[string]int64{"yes": 1}, body.Added)
	assert.Contains(t, body.Error, `adding outcome "no" failed`)
}

func TestDecodeBody(t *testing.T) {
	var dst struct {
		Amount any `json:"amount"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 12345678901234567890}`))
	require.NoError(t, decodeBody(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, json.Number("12345678901234567890"), dst.Amount)

	empty := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.NoError(t, decodeBody(httptest.NewRecorder(), empty, &dst))

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":`))
	assert.ErrorIs(t, decodeBody(httptest.NewRecorder(), bad, &dst), domain.ErrInvalidArgument)
}

func TestParseID(t *testing.T) {
	id, err := parseID("outcomeId", json.Number("3"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	id, err = parseID("outcomeId", " 7 ")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	for _, v := range []any{nil, json.Number("0"), "-1", "1.5", true} {
		_, err := parseID("outcomeId", v)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, "%v", v)
	}
}

func TestParseLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=900", nil)
	assert.Equal(t, 500, parseLimit(req, 50, 500))
	req = httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	assert.Equal(t, 50, parseLimit(req, 50, 500))
	req = httptest.NewRequest(http.MethodGet, "/?limit=5", nil)
	assert.Equal(t, 5, parseLimit(req, 50, 500))
}

func TestDateField(t *testing.T) {
	v, err := dateField("happensAt", json.Number("1700000000"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000", v)

	_, err = dateField("happensAt", true)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestHealthCheck_Degraded(t *testing.T) {
	h := NewHealthHandler("memory", map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discard)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Ledger string            `json:"ledger"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "memory", body.Ledger)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}
