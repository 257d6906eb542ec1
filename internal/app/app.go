// Package app wires the taskpulse server runtime: config, logging, persistence, HTTP routes and the
// realtime push gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"taskpulse/internal/notify"
	"taskpulse/internal/realtime"
	"taskpulse/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App is the taskpulse server runtime. The registry is created once here and shared by the
// gateway (which fills it) and the dispatcher (which pushes through it).
type App struct {
	cfg Config
	log Logger

	store  notify.Store
	dbPool *pgxpool.Pool

	registry   *realtime.Registry
	dispatcher *notify.Dispatcher
	gateway    *realtime.WSGateway

	metrics *prometheus.Registry
	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, pool, err := newStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewPrometheusMetrics(metricsReg)

	registry := realtime.NewRegistry(log, realtime.WithMetrics(metrics))
	catalog := notify.NewCatalog(cfg.NotifyLocale)

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		dbPool:   pool,
		registry: registry,
		dispatcher: notify.NewDispatcher(log, st, registry,
			notify.WithCatalog(catalog),
			notify.WithMetrics(metrics),
		),
		gateway: realtime.NewWSGateway(log, registry, cfg.WS),
		metrics: metricsReg,
	}
	a.handler = WithRequestLogging(a.routes(), log)

	log.Info("app.ready",
		"store", cfg.Store.Driver,
		"locale", catalog.Locale(),
		"metrics", cfg.MetricsEnabled,
		"origin_required", cfg.WS.OriginRequired,
	)
	return a, nil
}

// Dispatcher is the entry point business code uses to emit notifications.
func (a *App) Dispatcher() *notify.Dispatcher { return a.dispatcher }

// Store exposes the notification read side.
func (a *App) Store() notify.Store { return a.store }

// Registry exposes the live connection registry.
func (a *App) Registry() *realtime.Registry { return a.registry }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.dbPool != nil {
			if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if a.cfg.MetricsEnabled {
		r.Method(http.MethodGet, a.cfg.MetricsPath, promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	}

	r.Get("/ws", a.gateway.HandleWS)
	return r
}

// Run listens on cfg.HTTPAddr and serves until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.close()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails, then shuts down gracefully:
// stop accepting, close live push channels with 1001, release the store.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	// Read/Write timeouts do not apply to hijacked WebSocket connections.
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", ln.Addr().String(), "store", a.cfg.Store.Driver)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		n := a.registry.CloseAll(websocket.StatusGoingAway, "server shutdown")
		a.log.Info("server.stopped", "closed_sessions", n)
		return err
	})

	return g.Wait()
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
