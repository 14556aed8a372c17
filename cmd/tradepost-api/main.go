package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradepost/internal/api"
	"tradepost/internal/auth"
	"tradepost/internal/catalog"
	"tradepost/internal/config"
	"tradepost/internal/db"
	"tradepost/internal/feed"
	"tradepost/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if cfg.AutoMigrate {
		version, err := db.Migrate(cfg.DatabaseURL)
		if err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
		logger.Info("schema ready", "version", version)
	}

	poolCfg := db.DefaultPoolConfig()
	poolCfg.MaxConns = cfg.MaxConns
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

	hub := feed.NewHub(logger, cfg.FeedBuffer)
	defer hub.Close()
	gameSvc := game.NewService(db.NewRunner(pool, logger, cfg.TxMaxAttempts), cat, logger,
		game.WithEconomy(cfg.Economy),
		game.WithEvents(hub),
	)

	var verifier auth.Verifier
	opts := []api.Option{api.WithFeed(hub)}
	if len(cfg.DevTokens) > 0 {
		logger.Warn("dev tokens enabled; identity provider is bypassed", "tokens", len(cfg.DevTokens))
		verifier = auth.StaticVerifier(cfg.DevTokens)
	} else {
		identity := auth.NewIdentityClient(cfg.IdentityURL, cfg.IdentityAnonKey)
		verifier = identity
		opts = append(opts, api.WithAccounts(identity))
	}

	server := api.New(logger, verifier, gameSvc, cat, opts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Close feed subscribers first; Shutdown does not wait for hijacked
		// websocket connections.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("tradepost api listening", "addr", cfg.Addr, "catalog_items", len(cat.Items()))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
