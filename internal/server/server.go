// Package server exposes the settlement services over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/server/handler"
	"github.com/alanyoungcy/poolsettle/internal/server/middleware"
	"github.com/alanyoungcy/poolsettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client
	LedgerLimit int    // ledger writes per RateWindow per client and contract
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Accounts    *handler.AccountHandler
	Oracles     *handler.OracleHandler
	Predictions *handler.PredictionHandler
}

// Options carries the optional collaborators of the server. Nil fields
// disable the feature they back.
type Options struct {
	Limiter    domain.RateLimiter
	Metrics    http.Handler
	Instrument func(http.Handler) http.Handler
	Hub        *ws.Hub
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, opts, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Ledger writes wait for receipts, so responses can be slow.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// NewHandler builds the routed, middleware-wrapped handler. It is separate
// from NewServer so tests can drive it with httptest.
func NewHandler(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Accounts.
	a := handlers.Accounts
	mux.HandleFunc("POST /api/v1/accounts", a.CreateAccount)
	mux.HandleFunc("GET /api/v1/accounts/{address}", a.GetBalance)
	mux.HandleFunc("POST /api/v1/accounts/{address}/tokens", a.IssueTokens)
	mux.HandleFunc("DELETE /api/v1/accounts/{address}/tokens", a.DestroyTokens)
	mux.HandleFunc("POST /api/v1/__internal__/accounts/{address}/destroyAllTokens", a.DestroyAllTokens)
	mux.HandleFunc("GET /api/v1/accounts/{address}/spenders/{spender}", a.GetAllowance)
	mux.HandleFunc("PUT /api/v1/accounts/{address}/spenders/{spender}", a.ApproveSpender)

	// Oracles.
	o := handlers.Oracles
	mux.HandleFunc("POST /api/v1/oracles", o.CreateOracle)
	mux.HandleFunc("GET /api/v1/oracles/{address}", o.GetOracle)
	mux.HandleFunc("POST /api/v1/oracles/{address}/predictions", o.SetPredictionOutcome)
	mux.HandleFunc("GET /api/v1/oracles/{address}/predictions/{prediction}", o.GetPrediction)
	mux.HandleFunc("POST /api/v1/oracles/{address}/registrations", o.RegisterPrediction)

	// Predictions.
	p := handlers.Predictions
	mux.HandleFunc("POST /api/v1/predictions", p.CreatePrediction)
	mux.HandleFunc("GET /api/v1/predictions/{address}", p.GetPrediction)
	mux.HandleFunc("POST /api/v1/predictions/{address}/publish", p.PublishPrediction)
	mux.HandleFunc("POST /api/v1/predictions/{address}/votes", p.Vote)
	mux.HandleFunc("GET /api/v1/predictions/{address}/{account}/votes", p.GetVotes)
	mux.HandleFunc("GET /api/v1/predictions/{address}/events", p.Events)
	mux.HandleFunc("POST /api/v1/predictions/{address}/close", p.ClosePrediction)
	mux.HandleFunc("POST /api/v1/predictions/{address}/withdraw", p.WithdrawFunds)

	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	if opts.Instrument != nil {
		h = opts.Instrument(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if opts.Limiter != nil && (cfg.RateLimit > 0 || cfg.LedgerLimit > 0) {
		h = middleware.RateLimit(opts.Limiter, middleware.Limits{
			API:    cfg.RateLimit,
			Ledger: cfg.LedgerLimit,
			Window: cfg.RateWindow,
		})(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
