package main

import (
	"context"
	"encoding/json"
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
	"github.com/spf13/cobra"

	llhttp "github.com/Strob0t/LaunchLoop/internal/adapter/http"
	"github.com/Strob0t/LaunchLoop/internal/adapter/influx"
	llmcp "github.com/Strob0t/LaunchLoop/internal/adapter/mcp"
	llnats "github.com/Strob0t/LaunchLoop/internal/adapter/nats"
	"github.com/Strob0t/LaunchLoop/internal/adapter/natskv"
	llotel "github.com/Strob0t/LaunchLoop/internal/adapter/otel"
	"github.com/Strob0t/LaunchLoop/internal/adapter/ristretto"
	"github.com/Strob0t/LaunchLoop/internal/adapter/tiered"
	"github.com/Strob0t/LaunchLoop/internal/adapter/ws"
	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/middleware"
	"github.com/Strob0t/LaunchLoop/internal/port/cache"
	"github.com/Strob0t/LaunchLoop/internal/port/notifier"
	"github.com/Strob0t/LaunchLoop/internal/service"
)

const version = "0.1.0"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its HTTP, WebSocket and MCP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"log_level", cfg.Logging.Level,
	)

	// --- Telemetry ---
	tel, err := llotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := llotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Storage ---
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Messaging & cache ---
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	var (
		queue   *llnats.Queue
		l2      cache.Cache
		idemKV  cache.Cache = l1
		natsURL             = cfg.NATS.URL
	)
	if natsURL != "" {
		queue, err = llnats.Connect(ctx, natsURL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()

		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("graph cache bucket: %w", err)
		}
		l2 = natskv.New(kv)
		ikv, err := queue.KeyValue(ctx, cfg.Cache.IdempotencyBucket, cfg.Cache.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
		idemKV = natskv.New(ikv)
	}
	payloadCache := tiered.New(l1, l2, cfg.Cache.L2TTL)

	// --- Engine ---
	hub := ws.NewHub()
	defer hub.Close()
	events := service.NewEventService(hub)
	events.SetEventStore(st.Events)
	if n := notifications(cfg.Notify); n != nil {
		events.SetNotifications(n)
	}
	engine := service.NewEngine(cfg, st.Store, events)
	engine.SetMetrics(metrics)
	engine.Graphs.SetPayloadCache(payloadCache)
	if queue != nil {
		events.SetQueue(queue)
		engine.SetQueue(queue)
	}
	if cfg.Influx.URL != "" {
		sink, err := influx.New(ctx, cfg.Influx)
		if err != nil {
			return fmt.Errorf("influx: %w", err)
		}
		defer sink.Close()
		engine.Snapshots.SetSink(sink)
	}

	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(llhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(llhttp.SecurityHeaders)
	r.Use(llhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(llotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/health", healthHandler(engine, queue))
	r.Handle("/metrics", tel.MetricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.Server.APIKey))
		r.Get("/ws", hub.HandleWS)

		if cfg.MCP.Enabled {
			key := cfg.MCP.APIKey
			if key == "" {
				key = cfg.Server.APIKey
			}
			mcpSrv := llmcp.NewServer(llmcp.ServerConfig{Name: "launchloop", Version: version, APIKey: key}, llmcp.ServerDeps{
				Graph:     engine.Graphs,
				Gate:      engine.Gate,
				Proposer:  engine.Proposer,
				Triggers:  engine.Triggers,
				Snapshots: engine.Snapshots,
			})
			r.Handle(cfg.MCP.Path, mcpSrv.Handler())
			slog.Info("mcp endpoint mounted", "path", cfg.MCP.Path)
		}

		r.Group(func(r chi.Router) {
			r.Use(limiter.Handler)
			r.Use(chimw.Timeout(30 * time.Second))
			r.Use(middleware.Idempotency(idemKV, cfg.Cache.IdempotencyTTL))
			llhttp.MountRoutes(r, llhttp.NewHandlers(engine, st.Events))
		})
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// notifications builds the approver notification service from the
// configured providers, or nil when none is configured.
func notifications(cfg config.Notifications) *service.NotificationService {
	var list []notifier.Notifier
	for name, settings := range cfg.Providers {
		n, err := notifier.New(name, settings)
		if err != nil {
			slog.Warn("notifier disabled", "provider", name, "error", err)
			continue
		}
		list = append(list, n)
	}
	if len(list) == 0 {
		return nil
	}
	slog.Info("notifications enabled", "providers", len(list))
	return service.NewNotificationService(list, cfg.Events, cfg.BaseURL)
}

// healthHandler reports engine state.
func healthHandler(engine *service.Engine, queue *llnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status        string            `json:"status"`
		GraphVersion  int64             `json:"graph_version"`
		Triggers      int               `json:"triggers_enabled"`
		Channels      int               `json:"channels_polled"`
		Breakers      map[string]string `json:"breakers,omitempty"`
		NATSConnected *bool             `json:"nats_connected,omitempty"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:       "ok",
			GraphVersion: engine.Graphs.Version(),
			Triggers:     len(engine.Triggers.EnabledIDs()),
			Channels:     len(engine.Collector.Channels()),
			Breakers:     engine.Collector.Breakers(),
		}
		code := http.StatusOK
		if queue != nil {
			connected := queue.IsConnected()
			status.NATSConnected = &connected
			if !connected {
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
