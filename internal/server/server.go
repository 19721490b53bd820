package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/server/handler"
	"github.com/alanyoungcy/bondvault/internal/server/middleware"
	"github.com/alanyoungcy/bondvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter applies per-client request limiting when set.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Bonds    *handler.BondHandler
	Admin    *handler.AdminHandler
	Treasury *handler.TreasuryHandler
	Staking  *handler.StakingHandler
}

// Server is the headless HTTP + WebSocket API for the bond vault.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Bond lifecycle.
	mux.HandleFunc("POST /api/bonds", handlers.Bonds.Deposit)
	mux.HandleFunc("GET /api/bonds", handlers.Bonds.ListUnsettled)
	mux.HandleFunc("GET /api/bonds/{id}", handlers.Bonds.GetBond)
	mux.HandleFunc("GET /api/bonds/{id}/request", handlers.Bonds.GetRequest)
	mux.HandleFunc("POST /api/bonds/{id}/withdraw-request", handlers.Bonds.WithdrawRequest)
	mux.HandleFunc("POST /api/bonds/{id}/withdraw", handlers.Bonds.Withdraw)
	mux.HandleFunc("GET /api/rates", handlers.Bonds.ListRates)
	mux.HandleFunc("GET /api/liabilities", handlers.Bonds.Liabilities)

	// Admin configuration.
	mux.HandleFunc("PUT /api/admin/rates", handlers.Admin.SetRates)
	mux.HandleFunc("PUT /api/admin/tokens", handlers.Admin.SetTokens)
	mux.HandleFunc("PUT /api/admin/strategies", handlers.Admin.SetStrategies)

	// Treasury.
	mux.HandleFunc("GET /api/treasury/flows", handlers.Treasury.ListFlows)
	mux.HandleFunc("POST /api/treasury/reserve", handlers.Treasury.Reserve)
	mux.HandleFunc("GET /api/treasury/solvency", handlers.Treasury.Solvency)
	mux.HandleFunc("GET /api/treasury/reports", handlers.Treasury.ListReports)
	mux.HandleFunc("GET /api/treasury/reports/{path...}", handlers.Treasury.GetReport)

	// Staking pool.
	if handlers.Staking != nil {
		mux.HandleFunc("POST /api/staking/stake", handlers.Staking.Stake)
		mux.HandleFunc("POST /api/staking/withdraw", handlers.Staking.Withdraw)
		mux.HandleFunc("POST /api/staking/harvest", handlers.Staking.Harvest)
		mux.HandleFunc("POST /api/staking/rewards", handlers.Staking.AddReward)
		mux.HandleFunc("GET /api/staking/pending", handlers.Staking.PendingReward)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
