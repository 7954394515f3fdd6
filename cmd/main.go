package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kkkkikiki/topup/internal/checkout"
	"github.com/kkkkikiki/topup/internal/config"
	"github.com/kkkkikiki/topup/internal/database"
	"github.com/kkkkikiki/topup/internal/fulfillment"
	"github.com/kkkkikiki/topup/internal/inventory"
	"github.com/kkkkikiki/topup/internal/repository"
	"github.com/kkkkikiki/topup/internal/server"
	"github.com/kkkkikiki/topup/internal/service"
	"github.com/kkkkikiki/topup/internal/sweeper"
	"github.com/kkkkikiki/topup/internal/validation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(cfg.App)

	logrus.Infof("Starting top-up service in %s mode", cfg.App.Environment)

	var (
		codeStore    inventory.Store
		sessionStore checkout.Store
		stores       []server.Pinger
	)
	switch cfg.Database.Driver {
	case "memory":
		codes, sessions := repository.NewMemoryGiftCodeStore(), repository.NewMemorySessionStore()
		codeStore, sessionStore = codes, sessions
		stores = []server.Pinger{codes, sessions}
		logrus.Warn("Using in-memory stores; data is lost on exit")
	default:
		db, err := database.NewDB(ctx, cfg)
		if err != nil {
			logrus.Fatalf("Failed to connect to database: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logrus.WithError(err).Error("Error closing database connections")
			}
		}()
		codes, sessions := repository.NewGiftCodeRepository(db.Postgres), repository.NewSessionRepository(db.Postgres)
		codeStore, sessionStore = codes, sessions
		stores = []server.Pinger{codes}
	}

	rules := validation.NewRules(
		cfg.Inventory.CodePrefix,
		cfg.Inventory.CodeLength,
		cfg.Checkout.MaxAmountCents,
		cfg.Checkout.AllowedDomains,
		cfg.Checkout.MaxMetadataBytes,
	)

	inventoryService := inventory.NewService(codeStore, rules, inventory.WithCodeSecret(cfg.Inventory.CodeSecret))
	checkoutService := checkout.NewService(sessionStore, rules, checkout.WithSessionTTL(cfg.Checkout.SessionTTL))
	orchestrator := fulfillment.NewOrchestrator(
		checkoutService,
		inventoryService,
		fulfillment.NewAmountVerifier(cfg.Payment.TokenDecimals, cfg.Payment.CentsPerToken),
		cfg.Inventory.MaxAllocationRounds,
	)

	// Expire overdue sessions and codes in the background
	sweeps := sweeper.New(cfg.Checkout.SweepInterval,
		sweeper.Job{Name: "checkout_sessions", Sweep: checkoutService.SweepExpired},
		sweeper.Job{Name: "gift_codes", Sweep: inventoryService.SweepExpiredCodes},
	)
	go sweeps.Run(ctx)

	handler := server.NewRouter(cfg.Server, server.Dependencies{
		Inventory: service.NewInventoryServer(inventoryService),
		Checkout:  service.NewCheckoutServer(checkoutService, orchestrator, rules),
		Backend:   cfg.Database.Driver,
		Stores:    stores,
	})
	srv := server.New(cfg.Server, handler)

	// Start server in goroutine
	go func() {
		logrus.Infof("Starting top-up service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
		return
	}

	logrus.Info("Server exited gracefully")
}

func setupLogging(cfg config.AppConfig) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	if cfg.Debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)

	if cfg.LogFormat == "json" || cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
