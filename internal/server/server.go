// Package server exposes the administrative HTTP surface: health,
// metrics, per-tenant rate status and campaign run progress.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/automation"
	"github.com/patchwell/courier/internal/config"
	"github.com/patchwell/courier/internal/database"
	"github.com/patchwell/courier/internal/dispatch"
	"github.com/patchwell/courier/internal/metrics"
	"github.com/patchwell/courier/internal/ratelimit"
)

// Server is the admin HTTP server: health and rate/progress reads,
// plus the ad-hoc send and campaign run start/cancel surfaces.
type Server struct {
	cfg         *config.AdminConfig
	db          *database.DB
	limiter     *ratelimit.Limiter
	queue       *dispatch.Queue
	runs        *dispatch.RunStore
	runner      *dispatch.Runner
	automations *automation.Store
	httpServer  *http.Server

	// active maps run IDs to the cancel func of the goroutine driving
	// them. Cancellation is cooperative; the entry disappears when the
	// run returns.
	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// New creates the admin server.
func New(cfg *config.AdminConfig, db *database.DB, limiter *ratelimit.Limiter, queue *dispatch.Queue, runs *dispatch.RunStore, runner *dispatch.Runner, automations *automation.Store) *Server {
	s := &Server{
		cfg:         cfg,
		db:          db,
		limiter:     limiter,
		queue:       queue,
		runs:        runs,
		runner:      runner,
		automations: automations,
		active:      make(map[string]context.CancelFunc),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /tenants/{tenantID}/rate", s.handleTenantRate)
	mux.HandleFunc("GET /campaigns/{campaignID}", s.handleCampaignProgress)
	mux.HandleFunc("POST /messages", s.handleSendMessage)
	mux.HandleFunc("POST /campaigns/{campaignID}/runs", s.handleStartRun)
	mux.HandleFunc("POST /runs/{runID}/cancel", s.handleCancelRun)
	mux.HandleFunc("POST /automations", s.handleCreateAutomation)
	mux.HandleFunc("GET /automations", s.handleListAutomations)
	mux.HandleFunc("GET /automations/{automationID}", s.handleGetAutomation)
	mux.HandleFunc("DELETE /automations/{automationID}", s.handleDeleteAutomation)

	return mux
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Address()).Msg("Admin server started")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}
