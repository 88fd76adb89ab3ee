// Package httpapi assembles the REST surface (C10): action invocation,
// run/artifact inspection, schedule/trigger/work-item CRUD, OpenAPI
// reflection, Prometheus metrics, and an optional shutdown endpoint. It
// wires the same subsystems internal/mcpbridge wires, exposed over
// net/http.ServeMux's Go 1.22 method+pattern routing instead of MCP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/mcpbridge"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/scheduler"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
	"github.com/marcus-qen/actionserver/internal/triggers"
	"github.com/marcus-qen/actionserver/internal/workitems"
)

// Version is the build version reported by the OpenAPI document.
var Version = "dev"

// Config controls the HTTP listener and the optional bearer-token gate.
type Config struct {
	ListenAddr         string
	APIKey             string // empty disables the bearer-token gate
	ShutdownAPIEnabled bool
}

// Server is the assembled REST + metrics HTTP surface.
type Server struct {
	cfg    Config
	logger *zap.Logger

	store     *store.Store
	engine    *runengine.Engine
	sched     *scheduler.Scheduler
	triggers  *triggers.Engine
	queue     *workitems.Queue
	bridge    *mcpbridge.Manager
	registry  *prometheus.Registry
	decryptor *secrets.Decryptor // nil when no ACTION_SERVER_DECRYPT_KEYS are configured

	httpServer *http.Server
	shutdownCh chan struct{}
}

// New assembles the Server and its handler tree but does not start
// listening; call Run to serve. decryptor may be nil when no
// ACTION_SERVER_DECRYPT_KEYS are configured; requests carrying an
// x-action-context header then fail rather than silently dropping it.
func New(
	cfg Config,
	st *store.Store,
	engine *runengine.Engine,
	sched *scheduler.Scheduler,
	trig *triggers.Engine,
	queue *workitems.Queue,
	bridge *mcpbridge.Manager,
	registry *prometheus.Registry,
	decryptor *secrets.Decryptor,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		engine:     engine,
		sched:      sched,
		triggers:   trig,
		queue:      queue,
		bridge:     bridge,
		registry:   registry,
		decryptor:  decryptor,
		shutdownCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	bridge.Mount(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Run starts the server and blocks until ctx is cancelled or a
// /api/shutdown request is accepted.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting action server http api",
		zap.String("addr", s.cfg.ListenAddr),
		zap.String("version", Version),
		zap.Bool("api_key_required", s.cfg.APIKey != ""),
		zap.Bool("shutdown_api_enabled", s.cfg.ShutdownAPIEnabled),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-s.shutdownCh:
		s.logger.Info("shutdown requested via api")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Close releases resources owned by the server itself. Subsystems passed
// into New (store, engine, scheduler, ...) are owned by the caller and are
// not closed here.
func (s *Server) Close() {}
