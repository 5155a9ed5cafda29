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
	"github.com/kelseyhightower/envconfig"

	"affiliatehub/internal/affiliate"
	affiliateapi "affiliatehub/internal/affiliate/api"
	"affiliatehub/internal/attribution"
	attributionapi "affiliatehub/internal/attribution/api"
	"affiliatehub/internal/common/cache"
	"affiliatehub/internal/common/database"
	"affiliatehub/internal/common/events"
	"affiliatehub/internal/common/middleware"
	"affiliatehub/internal/common/money"
	natsclient "affiliatehub/internal/common/nats"
	"affiliatehub/internal/idempotency"
	"affiliatehub/internal/ledger"
	ledgerapi "affiliatehub/internal/ledger/api"
	ledgerstore "affiliatehub/internal/ledger/store"
	"affiliatehub/internal/providers"
	"affiliatehub/internal/providers/eduzz"
	"affiliatehub/internal/providers/hotmart"
	"affiliatehub/internal/providers/kiwify"
	"affiliatehub/internal/providers/stripe"
	"affiliatehub/internal/sales"
	salesapi "affiliatehub/internal/sales/api"
	"affiliatehub/internal/withdrawal"
	withdrawalapi "affiliatehub/internal/withdrawal/api"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	TrustProxy  bool   `envconfig:"TRUST_PROXY" default:"false"`
	AdminToken  string `envconfig:"ADMIN_TOKEN"`

	TiersFile         string        `envconfig:"TIERS_FILE"`
	Currency          string        `envconfig:"LEDGER_CURRENCY"`
	LedgerMaxAttempts int           `envconfig:"LEDGER_MAX_ATTEMPTS" default:"4"`
	LedgerRetryDelay  time.Duration `envconfig:"LEDGER_RETRY_DELAY" default:"5ms"`
	VerifyTimeout     time.Duration `envconfig:"WEBHOOK_VERIFY_TIMEOUT" default:"3s"`
	StaleAfter        time.Duration `envconfig:"IDEMPOTENCY_STALE_AFTER" default:"5m"`
	ClickTimeout      time.Duration `envconfig:"CLICK_RECORD_TIMEOUT" default:"2s"`
	ClickPurgeEvery   time.Duration `envconfig:"CLICK_PURGE_INTERVAL" default:"1h"`
	NotifyTimeout     time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`

	Database database.Config
	NATS     natsclient.Config
	Redis    cache.Config

	Hotmart hotmart.Config
	Kiwify  kiwify.Config
	Stripe  stripe.Config
	Eduzz   eduzz.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	schedule, err := loadSchedule(cfg)
	if err != nil {
		logger.Error("failed to load commission schedule", "error", err)
		os.Exit(1)
	}

	if cfg.TiersFile == "" {
		logger.Warn("no TIERS_FILE configured, using default tiers without exchange rates",
			"currency", schedule.Currency,
		)
	}

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Event publishing falls back to the log when no broker is configured
	var publisher events.Publisher = events.LogPublisher{Logger: logger}
	var nc *natsclient.Client
	if cfg.NATS.URL != "" {
		nc, err = natsclient.New(cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		if err := nc.EnsureStream(ctx, cfg.NATS.Stream); err != nil {
			logger.Error("failed to ensure stream", "error", err)
			os.Exit(1)
		}
		publisher = natsclient.NewPublisher(nc, logger)
	}
	notifier := events.NewNotifier(publisher, cfg.NotifyTimeout, logger)

	// Affiliate lookups are cached in Redis when configured
	var affiliates affiliate.Store = affiliate.NewPostgresStore(db.Pool())
	if cfg.Redis.URL != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		affiliates = affiliate.NewCachedStore(affiliates, rdb, cfg.Redis.TTL, logger)
	}

	eduzzAdapter, err := eduzz.New(cfg.Eduzz)
	if err != nil {
		logger.Error("failed to configure eduzz adapter", "error", err)
		os.Exit(1)
	}
	registry := providers.NewRegistry(
		hotmart.New(cfg.Hotmart),
		kiwify.New(cfg.Kiwify),
		stripe.New(cfg.Stripe),
		eduzzAdapter,
	)

	// Create services
	clicks := attribution.NewPostgresClickStore(db.Pool())
	tracker := attribution.NewTracker(affiliates, clicks, cfg.ClickTimeout, logger)
	resolver := attribution.NewResolver(affiliates, clicks, logger)
	affiliateService := affiliate.NewService(affiliates, logger)

	ledgerService := ledger.NewService(
		ledgerstore.New(db.Pool(), logger),
		schedule.Currency,
		database.RetryPolicy{MaxAttempts: cfg.LedgerMaxAttempts, BaseDelay: cfg.LedgerRetryDelay},
		notifier,
		logger,
	)
	salesService := sales.NewService(
		idempotency.NewLedger(idempotency.NewPostgresStore(db.Pool()), cfg.StaleAfter, logger),
		resolver,
		affiliate.NewCalculator(schedule),
		ledgerService,
		notifier,
		logger,
	)
	withdrawalService := withdrawal.NewService(
		withdrawal.NewPostgresStore(db.Pool(), logger),
		ledgerService,
		notifier,
		logger,
	)

	go tracker.RunPurger(ctx, cfg.ClickPurgeEvery)

	// Create handlers
	trackHandler := attributionapi.NewHandler(tracker)
	webhookHandler := salesapi.NewHandler(registry, salesService, cfg.VerifyTimeout)
	affiliateHandler := affiliateapi.NewHandler(affiliateService)
	ledgerHandler := ledgerapi.NewHandler(ledgerService)
	withdrawalHandler := withdrawalapi.NewHandler(withdrawalService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if nc != nil {
			if err := nc.HealthCheck(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Mount("/track", trackHandler.Routes())
	r.Mount("/webhooks", webhookHandler.Routes())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/balances", ledgerHandler.Routes())
		r.Mount("/withdrawals", withdrawalHandler.Routes())

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.AdminToken))
			r.Mount("/affiliates", affiliateHandler.AdminRoutes())
			r.Mount("/withdrawals", withdrawalHandler.AdminRoutes())
			r.Mount("/transactions", webhookHandler.AdminRoutes())
		})
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting affiliatehub",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"currency", schedule.Currency,
			"accepted_currencies", schedule.Currencies(),
			"providers", registry.Names(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Drain background click writes and notifications before closing pools
	tracker.Wait()
	notifier.Wait()

	logger.Info("server stopped")
}

func loadSchedule(cfg Config) (*affiliate.Schedule, error) {
	if cfg.TiersFile != "" {
		return affiliate.LoadSchedule(cfg.TiersFile)
	}
	if cfg.Currency == "" {
		return affiliate.DefaultSchedule(affiliate.DefaultCurrency), nil
	}
	currency, err := money.ParseCurrency(cfg.Currency)
	if err != nil {
		return nil, err
	}
	return affiliate.DefaultSchedule(currency), nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
