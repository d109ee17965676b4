package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletledger/config"
	httpHandler "walletledger/internal/adapter/http/handler"
	pgStorage "walletledger/internal/adapter/storage/postgres"
	redisStorage "walletledger/internal/adapter/storage/redis"
	"walletledger/internal/core/ports"
	"walletledger/internal/service"
	"walletledger/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Wallet Ledger")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	userRepo := pgStorage.NewUserRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	auditRepo := pgStorage.NewFraudAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)

	// Initialize core services
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)
	fraudSvc, err := service.NewFraudService(
		txRepo,
		walletRepo,
		cfg.Fraud.MaxTransfersPerHour,
		cfg.Fraud.LargeTransferThreshold,
		cfg.Fraud.SuspiciousWithdrawalRatio,
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize fraud service")
	}
	ledgerSvc := service.NewLedgerService(
		walletRepo,
		txRepo,
		idempotencyRepo,
		idempotencyCache,
		userRepo,
		fraudSvc,
		auditSvc,
		transactor,
		log,
	)
	scannerSvc := service.NewScannerService(txRepo, fraudSvc, auditSvc, cfg.Fraud.ScanWindow, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:        ledgerSvc,
		ScannerSvc:       scannerSvc,
		TxRepo:           txRepo,
		TokenSvc:         tokenSvc,
		HealthCheckers:   []ports.HealthChecker{pgHealth, redisHealth},
		OperationTimeout: cfg.Ledger.OperationTimeout,
		Logger:           log,
	})

	// Scheduled fraud scan, one pass per scan window. The admin endpoint can
	// trigger extra passes on demand.
	scanCtx, stopScanner := context.WithCancel(ctx)
	defer stopScanner()
	go runScheduledScans(scanCtx, scannerSvc, cfg.Fraud.ScanWindow, log)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")
	stopScanner()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func runScheduledScans(ctx context.Context, scanner ports.ScannerService, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := scanner.RunFraudScan(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Scheduled fraud scan failed")
				continue
			}
			log.Info().
				Int("scanned", summary.ScannedCount).
				Int("flagged", summary.FlaggedCount).
				Int("errors", summary.ErrorCount).
				Msg("Scheduled fraud scan completed")
		}
	}
}
