package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradepost/internal/game"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	IdentityURL     string
	IdentityAnonKey string
	// DevTokens maps bearer tokens to player ids, bypassing the identity
	// provider. Only for local development.
	DevTokens     map[string]string
	AutoMigrate   bool
	CatalogPath   string
	LogLevel      slog.Level
	TxMaxAttempts int
	MaxConns      int32
	FeedBuffer    int
	Economy       game.Economy
}

type WorkerConfig struct {
	DatabaseURL   string
	SweepEvery    time.Duration
	CatalogPath   string
	LogLevel      slog.Level
	TxMaxAttempts int
	Economy       game.Economy
}

type AdminConfig struct {
	DatabaseURL string
	ExportDir   string
	CatalogPath string
	LogLevel    slog.Level
	Economy     game.Economy
}

type CLIConfig struct {
	APIBaseURL string
	SessionDir string
}

// LoadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TRADEPOST_API_ADDR", ":8080")
	}

	econ, err := LoadEconomy(os.Getenv("TRADEPOST_ECONOMY_FILE"))
	if err != nil {
		return APIConfig{}, err
	}
	tokens, err := parseDevTokens(os.Getenv("TRADEPOST_DEV_TOKENS"))
	if err != nil {
		return APIConfig{}, err
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		IdentityURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("TRADEPOST_IDENTITY_URL")), "/"),
		IdentityAnonKey: strings.TrimSpace(os.Getenv("TRADEPOST_IDENTITY_ANON_KEY")),
		DevTokens:       tokens,
		AutoMigrate:     envBoolDefault("TRADEPOST_AUTO_MIGRATE", false),
		CatalogPath:     strings.TrimSpace(os.Getenv("TRADEPOST_CATALOG")),
		LogLevel:        envLevelDefault("TRADEPOST_LOG_LEVEL", slog.LevelInfo),
		TxMaxAttempts:   envIntDefault("TRADEPOST_TX_MAX_ATTEMPTS", 8),
		MaxConns:        int32(envIntDefault("TRADEPOST_DB_MAX_CONNS", 20)),
		FeedBuffer:      envIntDefault("TRADEPOST_FEED_BUFFER", 64),
		Economy:         econ,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.DevTokens) == 0 {
		if cfg.IdentityURL == "" {
			return cfg, fmt.Errorf("TRADEPOST_IDENTITY_URL is required unless TRADEPOST_DEV_TOKENS is set")
		}
		if cfg.IdentityAnonKey == "" {
			return cfg, fmt.Errorf("TRADEPOST_IDENTITY_ANON_KEY is required")
		}
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	econ, err := LoadEconomy(os.Getenv("TRADEPOST_ECONOMY_FILE"))
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SweepEvery:    envDurationDefault("TRADEPOST_SWEEP_EVERY", 30*time.Second),
		CatalogPath:   strings.TrimSpace(os.Getenv("TRADEPOST_CATALOG")),
		LogLevel:      envLevelDefault("TRADEPOST_LOG_LEVEL", slog.LevelInfo),
		TxMaxAttempts: envIntDefault("TRADEPOST_TX_MAX_ATTEMPTS", 8),
		Economy:       econ,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SweepEvery < time.Second {
		return cfg, fmt.Errorf("TRADEPOST_SWEEP_EVERY must be at least 1s")
	}
	return cfg, nil
}

func LoadAdminFromEnv() (AdminConfig, error) {
	econ, err := LoadEconomy(os.Getenv("TRADEPOST_ECONOMY_FILE"))
	if err != nil {
		return AdminConfig{}, err
	}
	cfg := AdminConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ExportDir:   envDefault("TRADEPOST_EXPORT_DIR", "ledger-archive"),
		CatalogPath: strings.TrimSpace(os.Getenv("TRADEPOST_CATALOG")),
		LogLevel:    envLevelDefault("TRADEPOST_LOG_LEVEL", slog.LevelInfo),
		Economy:     econ,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TP_API_BASE_URL", "http://localhost:8080"), "/"),
		SessionDir: strings.TrimSpace(os.Getenv("TP_HOME")),
	}
}

// parseDevTokens reads "token:player,token:player".
func parseDevTokens(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token, player, ok := strings.Cut(part, ":")
		token, player = strings.TrimSpace(token), strings.TrimSpace(player)
		if !ok || token == "" || player == "" {
			return nil, errors.New("TRADEPOST_DEV_TOKENS must be token:player pairs")
		}
		out[token] = player
	}
	return out, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
