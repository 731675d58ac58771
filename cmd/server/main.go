package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/quantum-bank-ledger/internal/api"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/config"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/quantum-bank-ledger/internal/interfaces"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/ledger"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/logger"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/storage"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}

	if code := exitCode(zl, run(cfg, zl)); code != 0 {
		os.Exit(code)
	}
}

// exitCode logs err and flushes the logger before the process exits.
func exitCode(zl *zap.Logger, err error) int {
	if err != nil {
		zl.Error("server stopped", zap.Error(err))
	}
	_ = zl.Sync()
	if err != nil {
		return 1
	}
	return 0
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []ledger.Option{
		ledger.WithLogger(zl.Named("ledger")),
		ledger.WithRetry(cfg.TransferMaxAttempts, cfg.TransferRetryBase),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, zl.Named("kafka"))
		defer func() {
			if err := publisher.Close(); err != nil {
				zl.Error("close kafka publisher", zap.Error(err))
			}
		}()
		opts = append(opts, ledger.WithPublisher(publisher))
		zl.Info("publishing transfer events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	ledgerService := ledger.NewLedger(store, opts...)

	if cfg.SeedDemoData {
		if err := storage.Seed(ctx, store, ledgerService, zl.Named("seed")); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHandler(ledgerService, zl.Named("http")).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("starting server", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.StorageDriver))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (interfaces.LedgerStore, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL, zl.Named("migrate")); err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				zl.Error("close database", zap.Error(err))
			}
		}
		return postgres.NewPostgresLedgerStore(db, zl.Named("postgres")), closeDB, nil
	default:
		return memory.NewMemoryLedgerStore(), func() {}, nil
	}
}
