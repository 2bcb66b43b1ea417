package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/server/handler"
	"github.com/bitbondlabs/bitbondd/internal/server/middleware"
	"github.com/bitbondlabs/bitbondd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, API-key authentication is disabled

	// SignatureMaxSkew bounds how old or far in the future a signed call
	// timestamp may be. Zero uses the middleware default.
	SignatureMaxSkew time.Duration

	// DevMode registers the /api/dev endpoints and allows unsigned calls
	// that name their caller with X-Caller.
	DevMode bool

	// RateLimit enables per-IP rate limiting when a limiter is provided:
	// RateLimit requests per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Bonds   *handler.BondHandler
	NFT     *handler.NFTHandler
	Market  *handler.MarketHandler
	Dev     *handler.DevHandler     // registered only in dev mode
	Archive *handler.ArchiveHandler // registered when blob storage is wired
}

// Server is the HTTP + WebSocket API for the bond vault, certificate
// registry, and marketplace.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain:
// CORS -> logging -> rate limit -> API key auth -> signed caller -> mux.
// limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Vault.
	mux.HandleFunc("POST /api/bonds", handlers.Bonds.CreateBond)
	mux.HandleFunc("GET /api/bonds", handlers.Bonds.ListBonds)
	mux.HandleFunc("GET /api/bonds/{id}", handlers.Bonds.GetBond)
	mux.HandleFunc("GET /api/bonds/{id}/yield", handlers.Bonds.GetYield)
	mux.HandleFunc("POST /api/bonds/{id}/withdraw", handlers.Bonds.WithdrawBond)
	mux.HandleFunc("POST /api/bonds/{id}/early-exit", handlers.Bonds.EarlyExit)
	mux.HandleFunc("GET /api/insurance-pool", handlers.Bonds.GetInsurancePool)

	// Certificates.
	mux.HandleFunc("GET /api/nft/{id}/owner", handlers.NFT.GetOwner)
	mux.HandleFunc("GET /api/nft/{id}/uri", handlers.NFT.GetTokenURI)
	mux.HandleFunc("POST /api/nft/{id}/transfer", handlers.NFT.Transfer)

	// Marketplace.
	mux.HandleFunc("GET /api/listings", handlers.Market.ListListings)
	mux.HandleFunc("POST /api/listings", handlers.Market.CreateListing)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Market.GetListing)
	mux.HandleFunc("DELETE /api/listings/{id}", handlers.Market.CancelListing)
	mux.HandleFunc("PUT /api/listings/{id}/price", handlers.Market.UpdatePrice)
	mux.HandleFunc("POST /api/listings/{id}/buy", handlers.Market.BuyListing)
	mux.HandleFunc("GET /api/listings/{id}/suggested-price", handlers.Market.GetSuggestedPrice)
	mux.HandleFunc("GET /api/marketplace/stats", handlers.Market.GetStats)

	// Archive snapshot reads, when blob storage is wired.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive/snapshots", handlers.Archive.ListSnapshots)
		mux.HandleFunc("GET /api/archive/snapshots/{key...}", handlers.Archive.GetSnapshot)
	}

	// Operator endpoints, dev mode only.
	if cfg.DevMode && handlers.Dev != nil {
		mux.HandleFunc("POST /api/dev/advance", handlers.Dev.Advance)
		mux.HandleFunc("POST /api/dev/fund", handlers.Dev.Fund)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.SignedCaller(cfg.SignatureMaxSkew, cfg.DevMode, logger)(h)
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
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
		logger:     logger.With(slog.String("component", "server")),
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
