package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	elhttp "github.com/expertloop/expertloop/internal/adapter/http"
	elnats "github.com/expertloop/expertloop/internal/adapter/nats"
	otelx "github.com/expertloop/expertloop/internal/adapter/otel"
	"github.com/expertloop/expertloop/internal/adapter/postgres"
	"github.com/expertloop/expertloop/internal/adapter/ristretto"
	"github.com/expertloop/expertloop/internal/adapter/vectorsearch"
	_ "github.com/expertloop/expertloop/internal/adapter/whatsapp" // register channel provider
	"github.com/expertloop/expertloop/internal/adapter/ws"
	"github.com/expertloop/expertloop/internal/config"
	"github.com/expertloop/expertloop/internal/domain/delivery"
	"github.com/expertloop/expertloop/internal/logger"
	"github.com/expertloop/expertloop/internal/middleware"
	"github.com/expertloop/expertloop/internal/port/channel"
	"github.com/expertloop/expertloop/internal/service"
)

const schedulerInterval = 15 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
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
		"channel", cfg.Channel.Provider,
		"review_sla", cfg.Review.SLA,
	)

	ctx := context.Background()

	// --- Telemetry ---
	metrics, err := otelx.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if cfg.Telemetry.Enabled {
		shutdown, err := otelx.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	// --- Infrastructure ---

	// PostgreSQL
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

	// NATS
	queue, err := elnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// In-process cache for window-state lookups
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	// Channel adapter
	settings := make(map[string]string, len(cfg.Channel.Settings)+1)
	for k, v := range cfg.Channel.Settings {
		settings[k] = v
	}
	if _, ok := settings["window"]; !ok {
		settings["window"] = cfg.Channel.FreeFormWindow.String()
	}
	chAdapter, err := channel.New(cfg.Channel.Provider, settings)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}

	// Template catalog
	catalog, err := delivery.LoadCatalog(cfg.Delivery.TemplateFile)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}

	// Retrieval sources
	retr := vectorsearch.New(cfg.Retrieval.Sources, cfg.Retrieval.Timeout,
		cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, log)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	deliverSvc := service.NewDeliveryService(
		map[string]channel.Adapter{chAdapter.Name(): chAdapter},
		catalog, l1, cfg.Cache.WindowTTL, cfg.Delivery.Timeout, log)
	feedbackSvc := service.NewFeedbackService(postgres.NewLedger(store), queue, log)
	authSvc := service.NewAuthService(store, cfg.Auth.BcryptCost, log)
	verifier := service.NewVerificationService(store, retr, deliverSvc, feedbackSvc,
		queue, hub, metrics, cfg.Review, cfg.Retrieval, log)
	defer verifier.Close()

	reminders := elnats.NewReminderSink(queue)
	sched := service.NewScheduler(store, verifier, reminders, metrics,
		cfg.Review, cfg.Delivery.RequeueLimit, log)

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	go sched.Run(schedCtx, schedulerInterval)

	// --- HTTP ---
	handlers := &elhttp.Handlers{
		Verifier:  verifier,
		Feedback:  feedbackSvc,
		Auth:      authSvc,
		Scheduler: sched,
		Channel:   cfg.Channel.Provider,
	}

	r := chi.NewRouter()

	if cfg.Telemetry.Enabled {
		r.Use(otelx.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(elhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(elhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/ws", hub.HandleWS)
	elhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	schedCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
