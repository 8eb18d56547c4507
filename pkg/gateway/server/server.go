package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-shop/internal/clock"
	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/handlers"
	"github.com/vango-go/vai-shop/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-shop/pkg/gateway/metrics"
	"github.com/vango-go/vai-shop/pkg/gateway/mw"
	"github.com/vango-go/vai-shop/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-shop/pkg/gateway/sessions"
	"github.com/vango-go/vai-shop/pkg/gateway/tools"
	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/shop"
)

// Deps are the shared shop resources the gateway serves. Catalog and
// Ledger are required; the rest have defaults.
type Deps struct {
	Catalog  *catalog.Catalog
	Ledger   *ledger.Ledger
	Registry *tools.Registry
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps      Deps
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Manager
	metrics   *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = tools.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("shop")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		deps:      deps,
		lifecycle: &lifecycle.Lifecycle{},
		metrics:   deps.Metrics,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxLiveConns:          cfg.WSMaxConnsPerPrincipal,
		}),
	}

	s.sessions = sessions.NewManager(sessions.Config{
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxSessions: cfg.MaxSessions,
		Clock:       deps.Clock,
		OnExpire: func(id string) {
			s.metrics.RecordSessionExpired()
			logger.Info("session expired", "session_id", id)
		},
		OnCount: s.metrics.SetSessions,
	}, s.newSession)

	s.routes()
	return s
}

func (s *Server) newSession(id string) *shop.Session {
	return shop.NewSession(id, s.deps.Catalog, s.deps.Ledger, shop.Options{
		StatusInterval: s.cfg.StatusInterval,
		Currency:       s.cfg.Currency,
		SearchLimit:    s.cfg.SearchLimit,
		HistoryLimit:   s.cfg.HistoryLimit,
		Clock:          s.deps.Clock,
		Logger:         s.logger,
	})
}

func (s *Server) routes() {
	runner := handlers.ToolRunner{
		Sessions: s.sessions,
		Registry: s.deps.Registry,
		Metrics:  s.metrics,
		Logger:   s.logger,
	}
	sessionsHandler := handlers.SessionsHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
		Logger:    s.logger,
	}

	var ledgerPinger handlers.Pinger
	if s.deps.Ledger != nil {
		ledgerPinger = s.deps.Ledger
	}

	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Catalog:   s.deps.Catalog,
		Ledger:    ledgerPinger,
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("GET /v1/tools", handlers.ToolsHandler{Registry: s.deps.Registry})
	s.mux.HandleFunc("POST /v1/sessions", sessionsHandler.Create)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", sessionsHandler.Delete)
	s.mux.Handle("POST /v1/sessions/{id}/tools/{name}", handlers.ToolInvokeHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Runner:    runner,
	})
	s.mux.Handle("GET /v1/sessions/{id}/live", handlers.LiveHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Metrics:   s.metrics,
		Runner:    runner,
	})

	s.mux.Handle("GET /v1/sessions/{id}/orders/{order_id}/events", handlers.OrderEventsHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Metrics:   s.metrics,
		Sessions:  s.sessions,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Instrument(s.metrics.ObserveRequest, h)
	h = mw.MaxBody(s.cfg.MaxBodyBytes, h)
	h = mw.RateLimit(s.cfg, s.limiter, s.metrics.RecordRateLimitHit, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the session manager, mainly for tests.
func (s *Server) Sessions() *sessions.Manager { return s.sessions }

// RunSweeper expires idle sessions until ctx ends.
func (s *Server) RunSweeper(ctx context.Context) {
	s.sessions.Run(ctx, s.cfg.SessionSweepInterval)
}

// SetDraining stops new sessions, tool calls and live connections and
// makes /readyz fail.
func (s *Server) SetDraining() {
	if s.lifecycle.BeginDrain(time.Now()) {
		s.logger.Info("gateway draining", "sessions", s.sessions.Len(), "live_connections", s.sessions.LiveCount())
	}
}

func (s *Server) WarnLiveSessionsDraining() int {
	return s.sessions.WarnAll("server_draining", "gateway is shutting down; finish the current call and reconnect")
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.sessions.CancelAll()
}
