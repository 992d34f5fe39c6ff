package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"caixafacil/backend/internal/cache"
	"caixafacil/backend/internal/config"
	"caixafacil/backend/internal/events"
	"caixafacil/backend/internal/fiscal"
	"caixafacil/backend/internal/httpapi"
	"caixafacil/backend/internal/metrics"
	"caixafacil/backend/internal/printing"
	"caixafacil/backend/internal/receipt"
	"caixafacil/backend/internal/service"
	"caixafacil/backend/internal/store"
	"caixafacil/backend/internal/store/memory"
	pgstore "caixafacil/backend/internal/store/postgres"
	"caixafacil/backend/internal/taxrate"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	var (
		taxCache  cache.TaxRateCache      = cache.NoopTaxRateCache{}
		clients   printing.ClientRegistry = printing.NewMemoryClientRegistry(cfg.ClientPrinterMaxIDs, cfg.ClientPrinterTTL)
		publisher events.Publisher        = events.NoopPublisher{}
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-process caches", zap.Error(err))
			_ = client.Close()
		} else {
			taxCache = cache.NewRedisTaxRateCache(client)
			clients = cache.NewRedisClientPrinterRegistry(client, cfg.ClientPrinterTTL)
			publisher = events.NewRedisPublisher(client)
			closers = append(closers, client.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: in-process")
	}

	providers := fiscal.DefaultProviders(fiscal.ProviderSettings{
		Token:          cfg.FiscalAPIToken,
		Timeout:        cfg.FiscalTimeout,
		FocusNFeURL:    cfg.FocusNFeURL,
		NuvemFiscalURL: cfg.NuvemFiscalURL,
		PlugNotasURL:   cfg.PlugNotasURL,
		WebmaniaURL:    cfg.WebmaniaURL,
	})
	issuer := fiscal.NewIssuer(repo, providers, cfg.FiscalProvider, cfg.FiscalEnvironment, logger)

	m := metrics.New()
	svc := service.New(service.Dependencies{
		Repo:      repo,
		Issuer:    issuer,
		TaxRates:  taxrate.NewClient(cfg.TaxRateURL, cfg.TaxRateToken, cfg.TaxRateCNPJ, taxCache, logger),
		Formatter: receipt.NewFormatter(cfg.ReceiptWidth, cfg.DefaultTimezone, logger),
		Printer:   printing.NewDispatcher(clients, repo, printing.NewCUPSSpooler(), logger),
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, m.Handler(), logger)

	// Fiscal providers may take up to a minute, so writes get more headroom.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.FiscalTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	switch cfg.FiscalEnvironment {
	case "homologacao", "producao":
	default:
		return fmt.Errorf("FISCAL_ENVIRONMENT must be homologacao or producao, got %q", cfg.FiscalEnvironment)
	}
	return nil
}
