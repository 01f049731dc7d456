package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/wallet-ledger-go/internal/config"
	"github.com/boddenberg/wallet-ledger-go/internal/handler"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/cache"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/memstore"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/observability"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/paystack"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/postgres"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/wallet-ledger-go/internal/infra/security"
	"github.com/boddenberg/wallet-ledger-go/internal/port"
	"github.com/boddenberg/wallet-ledger-go/internal/service"

	"go.uber.org/zap"
)

// ledgerBackend is what both store implementations provide.
type ledgerBackend interface {
	port.LedgerStore
	port.UserStore
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "walletd")
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Duration("gateway_timeout", cfg.GatewayTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(rootCtx, cfg.OTLPEndpoint, "wallet-ledger")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Store ---
	var store ledgerBackend
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Connect(rootCtx, postgres.Config{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    int32(cfg.DBMaxConns),
		}, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(rootCtx); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
		store = pg
		logger.Info("using postgres ledger store")
	} else {
		store = memstore.New()
		logger.Warn("DATABASE_URL not set, using in-memory ledger store")
	}

	// --- Cache ---
	ownerNames := cache.New[string](cfg.CacheTTL)
	defer ownerNames.Close()

	// --- Payment gateway ---
	if cfg.PaystackSecretKey == "" {
		logger.Warn("PAYSTACK_SECRET_KEY not set, top-ups and webhooks will fail")
	}
	cb := resilience.NewCircuitBreaker("paystack", func(err error) bool {
		return err == nil || paystack.IsRejection(err)
	}, logger)
	gateway := paystack.NewClient(
		&http.Client{Timeout: cfg.HTTPTimeout},
		paystack.Config{
			BaseURL:     cfg.PaystackBaseURL,
			SecretKey:   cfg.PaystackSecretKey,
			CallbackURL: cfg.PaystackCallbackURL,
			Currency:    cfg.Currency,
		},
		cb,
		resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		},
	)

	// --- Services ---
	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	accountSvc := service.NewAccountService(store, ownerNames, metrics, logger)
	authSvc := service.NewAuthService(store, store, accountSvc, hasher, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
	transferSvc := service.NewTransferService(store, store, hasher, metrics, logger)
	paymentSvc := service.NewPaymentService(store, gateway, service.PaymentsConfig{
		AllowedIPs:     cfg.PaystackAllowedIPs,
		GatewayTimeout: cfg.GatewayTimeout,
	}, metrics, logger)
	auditSvc := service.NewAuditService(store, logger)

	// --- Pending top-up sweep ---
	sweeper := service.NewPendingSweeper(paymentSvc, service.SweeperConfig{
		Interval:       cfg.SweepInterval,
		MinAge:         cfg.SweepMinAge,
		BatchSize:      cfg.SweepBatch,
		MaxConcurrency: 4,
	}, logger)
	go sweeper.Run(rootCtx)

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Store:     store,
		Auth:      authSvc,
		Accounts:  accountSvc,
		Transfers: transferSvc,
		Payments:  paymentSvc,
		Audit:     auditSvc,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
