package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/aggregator"
	"github.com/pravinl23/DealyDigests-sub001/internal/auth"
	"github.com/pravinl23/DealyDigests-sub001/internal/cache"
	"github.com/pravinl23/DealyDigests-sub001/internal/config"
	"github.com/pravinl23/DealyDigests-sub001/internal/database"
	"github.com/pravinl23/DealyDigests-sub001/internal/events"
	"github.com/pravinl23/DealyDigests-sub001/internal/features"
	"github.com/pravinl23/DealyDigests-sub001/internal/handler"
	"github.com/pravinl23/DealyDigests-sub001/internal/logger"
	"github.com/pravinl23/DealyDigests-sub001/internal/middleware"
	"github.com/pravinl23/DealyDigests-sub001/internal/scheduler"
	"github.com/pravinl23/DealyDigests-sub001/internal/scraper"
	"github.com/pravinl23/DealyDigests-sub001/internal/service"
	"github.com/pravinl23/DealyDigests-sub001/internal/tracing"
	"github.com/pravinl23/DealyDigests-sub001/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	port := flag.String("port", "", "Server port (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Environment, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	dedup, err := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize idempotency store: %w", err)
	}
	defer dedup.Close()

	flags := features.Defaults()
	flags.Apply(cfg.Features)

	// Catalog scraping
	fetcher := scraper.NewFetcher(cfg.Scraper.UserAgent, cfg.Scraper.RequestsPerSecond, cfg.AdapterTimeoutDuration())
	adapters, err := scraper.NewAdaptersFromConfig(cfg.Scraper.Sources, fetcher)
	if err != nil {
		return err
	}
	coordinator := scraper.NewCoordinator(adapters, flags, scraper.Options{
		AdapterTimeout: cfg.AdapterTimeoutDuration(),
		Concurrency:    cfg.Scraper.Concurrency,
	}, zlog.Named("scraper"))

	sched := scheduler.New(ctx, zlog.Named("scheduler"))
	job := scheduler.NewCreditCardScraper(db, coordinator, zlog.Named("scraper"))
	sched.Register(scheduler.CreditCardScraperJob, job.Run)
	if cfg.Scraper.Cron != "" {
		if err := sched.ScheduleCreditCardScraper(cfg.Scraper.Cron); err != nil {
			return fmt.Errorf("failed to schedule scraper: %w", err)
		}
	}

	// Webhook ingestion
	aggClient := aggregator.NewClient(
		cfg.Aggregator.BaseURL,
		cfg.Aggregator.ClientID,
		cfg.Aggregator.ClientSecret,
		time.Duration(cfg.Aggregator.Timeout)*time.Second,
		cfg.Aggregator.PageSize,
	)
	processor := webhook.NewProcessor(db, dedup, aggClient, time.Duration(cfg.Webhook.DedupTTL)*time.Second, zlog.Named("webhook"))
	queue := events.NewQueue("webhooks", cfg.Webhook.QueueSize, cfg.Webhook.Workers, processor.Process, zlog)
	gateway := webhook.NewGateway(db, queue, flags, cfg.Webhook.SigningSecret, zlog.Named("webhook"))

	// Workers outlive the signal context so Shutdown can drain what is queued.
	queue.Start(context.WithoutCancel(ctx))
	if flags.IsEnabled(features.FeatureWebhookProcessing) {
		n, err := processor.RecoverPending(ctx, queue)
		if err != nil {
			zlog.Warn("Failed to recover pending webhook events", zap.Error(err))
		} else if n > 0 {
			zlog.Info("Requeued pending webhook events", zap.Int("count", n))
		}
	}
	sched.Start()

	svc := service.NewService(service.Deps{
		DB:        db,
		Gateway:   gateway,
		Scheduler: sched,
		Queue:     queue,
		Flags:     flags,
		Logger:    zlog,
	})
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize:     cfg.Security.MaxRequestBodySize,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		Logger:          zlog.Named("http"),
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(zlog.Named("access")))
	r.Use(middleware.TracingMiddleware())

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", cfg.Webhook.SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret)
	}
	r.Use(auth.Middleware(jwtManager, zlog.Named("auth")))

	h.Routes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		useTLS := cfg.Server.CertFile != "" && cfg.Server.KeyFile != ""
		zlog.Info("Starting server",
			zap.String("addr", server.Addr),
			zap.Bool("tls", useTLS),
			zap.String("database", cfg.Database.Path),
			zap.Strings("adapters", coordinator.Adapters()),
		)
		var err error
		if useTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	zlog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Error closing server", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		zlog.Warn("Scheduler did not stop in time", zap.Error(err))
	}
	queue.Shutdown()
	return nil
}
