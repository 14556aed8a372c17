package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradepost/internal/catalog"
	"tradepost/internal/config"
	"tradepost/internal/db"
	"tradepost/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	poolCfg := db.DefaultPoolConfig()
	poolCfg.MaxConns = 4
	pool, err := db.Connect(ctx, cfg.DatabaseURL, poolCfg)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed", "err", err)
		os.Exit(1)
	}
	svc := game.NewService(db.NewRunner(pool, logger, cfg.TxMaxAttempts), cat, logger, game.WithEconomy(cfg.Economy))

	sweep := func() {
		n, err := svc.ExpireDue(ctx, cfg.Economy.SweepBatch)
		if err != nil {
			logger.Error("expiry sweep failed", "expired", n, "err", err)
			return
		}
		if n > 0 {
			logger.Info("expiry sweep complete", "expired", n)
		}
	}

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("TRADEPOST_WORKER_RUN_ONCE")), "true")
	if runOnce {
		sweep()
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String(), "batch", cfg.Economy.SweepBatch)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
