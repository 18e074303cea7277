package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	commshttp "github.com/screwyforcepush/claude-comms-sub001/internal/adapter/http"
	commsnats "github.com/screwyforcepush/claude-comms-sub001/internal/adapter/nats"
	commsotel "github.com/screwyforcepush/claude-comms-sub001/internal/adapter/otel"
	"github.com/screwyforcepush/claude-comms-sub001/internal/adapter/postgres"
	"github.com/screwyforcepush/claude-comms-sub001/internal/adapter/ristretto"
	"github.com/screwyforcepush/claude-comms-sub001/internal/adapter/ws"
	"github.com/screwyforcepush/claude-comms-sub001/internal/config"
	"github.com/screwyforcepush/claude-comms-sub001/internal/logger"
	"github.com/screwyforcepush/claude-comms-sub001/internal/middleware"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/messagequeue"
	"github.com/screwyforcepush/claude-comms-sub001/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"tick", cfg.Stream.Tick,
		"cache_max_sessions", cfg.Cache.MaxSessions,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := commsotel.Init(ctx, cfg.Logging.Service, cfg.Otel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	var relay messagequeue.Queue
	if cfg.NATS.Enabled {
		queue, err := commsnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		relay = queue
		log.Info("event relay connected", "url", cfg.NATS.URL)
	}

	snapshots, err := ristretto.New(cfg.Cache.SnapshotMaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("snapshot cache: %w", err)
	}
	defer snapshots.Close()

	// --- Services ---
	store := postgres.NewStore(pool)
	sessionCache := service.NewSessionCache(store, snapshots, cfg.Cache)
	sessions := service.NewSessionService(store, sessionCache, snapshots, cfg.Stream)

	hub := ws.NewHub(cfg.Stream, log)
	scheduler := service.NewUpdateScheduler(sessions, hub, cfg.Stream)
	hub.SetReplayer(scheduler)

	metrics, err := commsotel.NewMetrics(hub.ConnectionCount, sessionCache.Stats)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	scheduler.TickObserver = metrics.ObserveTick

	var notifier broadcast.Notifier = commsotel.NewInstrumentedNotifier(hub, metrics)

	events := service.NewEventService(store, sessionCache, notifier, scheduler, relay, log)
	agents := service.NewAgentService(store, sessionCache, notifier, scheduler, log)
	messages := service.NewMessageService(store, notifier, log)

	go scheduler.Run(ctx)

	// Periodically shed detail arrays for sessions idle past the
	// freshness threshold.
	go func() {
		ticker := time.NewTicker(cfg.Cache.FreshnessThreshold)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessionCache.DowngradeIdle(); n > 0 {
					log.Debug("downgraded idle sessions", "count", n)
				}
			}
		}
	}()

	// --- HTTP ---
	handlers := &commshttp.Handlers{
		Events:   events,
		Agents:   agents,
		Messages: messages,
		Sessions: sessions,
		Health:   healthFunc(pool, relay),
	}

	r := chi.NewRouter()
	r.Use(commshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(commshttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(commsotel.HTTPMiddleware(cfg.Logging.Service))

	// Hook scripts fire on every tool call; the limiter bounds a runaway
	// producer without touching dashboard reads.
	limiter := middleware.NewRateLimiter(200, 400)
	r.Use(limiter.Handler)

	r.Get("/stream", hub.HandleStream(events))
	r.Get("/api/sessions/multi-stream", hub.HandleMultistream())

	// REST only; the WebSocket routes above outlive any request deadline.
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		commshttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthFunc reports per-component health for /health.
func healthFunc(pool *pgxpool.Pool, relay messagequeue.Queue) commshttp.HealthFunc {
	return func(ctx context.Context) map[string]string {
		components := map[string]string{
			"postgres": "ok",
			"nats":     "disabled",
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			components["postgres"] = "unreachable"
		}
		if relay != nil {
			if relay.IsConnected() {
				components["nats"] = "ok"
			} else {
				components["nats"] = "disconnected"
			}
		}
		return components
	}
}
