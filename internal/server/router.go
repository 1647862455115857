// Package server exposes the ledger, feed and settlement state over a small
// HTTP admin API, plus the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polyinsider/whaleledger/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Config holds what the router serves.
type Config struct {
	Handler *Handler
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(cfg *Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger.With("component", "http")))

	router.GET("/healthz", cfg.Handler.Health)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/v1")
	api.GET("/stats", cfg.Handler.GetStats)
	registerWalletRoutes(api, cfg.Handler)
	api.GET("/markets/unresolved", cfg.Handler.GetUnresolvedMarkets)

	return router
}

func registerWalletRoutes(router *gin.RouterGroup, h *Handler) {
	wallets := router.Group("/wallets")
	{
		wallets.GET("/top", h.GetTopWallets)
		wallets.GET("/:address", h.GetWallet)
		wallets.PUT("/:address/watchlist", h.PutWatchlist)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		logger.Log(c.Request.Context(), level, "http_request", attrs...)
	}
}

// Server runs the admin API until its context ends.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New creates a server listening on port.
func New(port int, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http_stopped")
	return nil
}
