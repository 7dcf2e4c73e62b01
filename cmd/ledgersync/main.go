package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tradiehq/ledgersync/internal/api"
	"github.com/tradiehq/ledgersync/internal/auth/flow"
	"github.com/tradiehq/ledgersync/internal/auth/identity"
	"github.com/tradiehq/ledgersync/internal/auth/state"
	"github.com/tradiehq/ledgersync/internal/auth/token"
	"github.com/tradiehq/ledgersync/internal/auth/vault"
	"github.com/tradiehq/ledgersync/internal/config"
	"github.com/tradiehq/ledgersync/internal/db"
	"github.com/tradiehq/ledgersync/internal/providers"
	"github.com/tradiehq/ledgersync/internal/providers/myob"
	"github.com/tradiehq/ledgersync/internal/providers/quickbooks"
	"github.com/tradiehq/ledgersync/internal/providers/xero"
	"github.com/tradiehq/ledgersync/internal/ratelimit"
	"github.com/tradiehq/ledgersync/internal/syncer"
	"github.com/tradiehq/ledgersync/internal/version"
)

const (
	rateLimitSweepInterval = time.Hour
	rateLimitRetention     = 24 * time.Hour
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("LEDGERSYNC_CONFIG"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := setupLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting ledgersync",
		zap.String("version", version.Version),
		zap.Int("http_port", cfg.HTTP.Port))

	gdb, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	v, err := vault.New(cfg.Secret)
	if err != nil {
		logger.Fatal("Failed to initialize token vault", zap.Error(err))
	}
	signer, err := state.NewSigner(cfg.Secret)
	if err != nil {
		logger.Fatal("Failed to initialize state signer", zap.Error(err))
	}

	limiter := ratelimit.NewLimiter(gdb, logger)
	limiter.StartSweep(ctx, rateLimitSweepInterval, rateLimitRetention)

	tokens := token.NewManager(gdb, v, logger)
	oauthFlow := flow.New(gdb, v, signer, limiter, tokens, cfg.PublicBaseURL, logger)
	verifier := identity.NewVerifier(cfg.Secret)

	provs := []providers.Provider{
		xero.New(cfg.Xero.ClientID, cfg.Xero.ClientSecret),
		quickbooks.New(cfg.QuickBooks.ClientID, cfg.QuickBooks.ClientSecret),
		myob.New(cfg.MYOB.ClientID, cfg.MYOB.ClientSecret),
	}
	syncers := make(map[string]*syncer.Service, len(provs))
	for _, p := range provs {
		syncers[p.Name()] = syncer.NewService(gdb, tokens, p, logger)
	}

	router := api.NewRouter(api.Deps{
		DB:             gdb,
		Vault:          v,
		Flow:           oauthFlow,
		Verifier:       verifier,
		Logger:         logger,
		Providers:      provs,
		Syncers:        syncers,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping server...")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func setupLogger(level string, jsonFormat bool) (*zap.Logger, error) {
	var config zap.Config
	if jsonFormat {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return config.Build()
}
