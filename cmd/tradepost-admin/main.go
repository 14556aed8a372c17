package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"tradepost/internal/audit"
	"tradepost/internal/catalog"
	"tradepost/internal/config"
	"tradepost/internal/db"
	"tradepost/internal/game"
)

var (
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
)

type env struct {
	cfg    config.AdminConfig
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAdminFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	e := &env{
		cfg:    cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})),
	}

	root := &cobra.Command{
		Use:           "tradepost-admin",
		Short:         "Operator tools for the Tradepost economy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		e.newMigrateCmd(),
		e.newExportCmd(),
		e.newSweepCmd(),
		e.newGrantCmd(),
		e.newJoinGuildCmd(),
		e.newAllianceCmd(),
		e.newHireAgentCmd(),
		e.newSeedItemsCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (e *env) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pc := db.DefaultPoolConfig()
	pc.MaxConns = 4
	pc.MinConns = 1
	return db.Connect(ctx, e.cfg.DatabaseURL, pc)
}

func (e *env) service(pool *pgxpool.Pool) (*game.Service, error) {
	cat, err := catalog.Load(e.cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	return game.NewService(db.NewRunner(pool, e.logger, 0), cat, e.logger, game.WithEconomy(e.cfg.Economy)), nil
}

func (e *env) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := db.Migrate(e.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			success.Printf("Schema at version %d.\n", version)
			return nil
		},
	}
}

func (e *env) newExportCmd() *cobra.Command {
	var dir string
	var page int
	cmd := &cobra.Command{
		Use:   "export-ledger",
		Short: "Append new ledger entries to the compressed archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			res, err := audit.NewExporter(db.NewAdmin(pool), dir, page, e.logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			success.Printf("Exported %d entries (cursor %d:%d) into %d file(s).\n", res.Entries, res.Cursor.TxID, res.Cursor.ID, len(res.Files))
			if len(res.Unbalanced) > 0 {
				warn.Printf("%d correlation id(s) do not net to zero in this batch:\n", len(res.Unbalanced))
				for _, id := range res.Unbalanced {
					fmt.Println("  " + id)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", e.cfg.ExportDir, "archive directory")
	cmd.Flags().IntVar(&page, "page", 1000, "entries per query")
	return cmd
}

func (e *env) newSweepCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep-once",
		Short: "Expire due listings once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, err := e.service(pool)
			if err != nil {
				return err
			}
			n, err := svc.ExpireDue(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("expired %d before error: %w", n, err)
			}
			success.Printf("Expired %d listing(s).\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max listings (0 uses the economy sweep batch)")
	return cmd
}

func (e *env) newGrantCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "grant <player> <amount>",
		Short: "Mint gold into a wallet from the house account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := positiveInt(args[1], "amount")
			if err != nil {
				return err
			}
			pool, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			svc, err := e.service(pool)
			if err != nil {
				return err
			}
			balance, err := svc.Grant(cmd.Context(), args[0], amount, note)
			if err != nil {
				return err
			}
			success.Printf("Granted %d gold to %s. Balance: %d\n", amount, args[0], balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason recorded in the ledger")
	return cmd
}

func (e *env) newJoinGuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join-guild <player> <guild>",
		Short: "Set a player's guild membership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.NewAdmin(pool).JoinGuild(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			success.Printf("%s is now a member of %s.\n", args[0], args[1])
			return nil
		},
	}
}

func (e *env) newAllianceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alliance <guild-a> <guild-b> <discount-pct>",
		Short: "Record an accepted alliance and its listing fee discount",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.Atoi(strings.TrimSpace(args[2]))
			if err != nil {
				return fmt.Errorf("invalid discount-pct %q", args[2])
			}
			pool, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.NewAdmin(pool).SetAlliance(cmd.Context(), args[0], args[1], pct); err != nil {
				return err
			}
			success.Printf("Alliance %s <-> %s at %d%%.\n", args[0], args[1], pct)
			return nil
		},
	}
}

func (e *env) newHireAgentCmd() *cobra.Command {
	var bonus int
	cmd := &cobra.Command{
		Use:   "hire-agent <player> <name>",
		Short: "Give a player a new level 1 agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			ag, err := db.NewAdmin(pool).HireAgent(cmd.Context(), args[0], args[1], bonus)
			if err != nil {
				return err
			}
			return printJSON(ag)
		},
	}
	cmd.Flags().IntVar(&bonus, "bonus", 0, "success bonus in percentage points")
	return cmd
}

func (e *env) newSeedItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-items <player> <item> <qty>",
		Short: "Deposit catalog items into a player's backpack",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := positiveInt(args[2], "qty")
			if err != nil {
				return err
			}
			cat, err := catalog.Load(e.cfg.CatalogPath)
			if err != nil {
				return err
			}
			if _, ok := cat.Item(args[1]); !ok {
				return fmt.Errorf("unknown item %q", args[1])
			}
			pool, err := e.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			total, err := db.NewAdmin(pool).SeedItems(cmd.Context(), args[0], args[1], qty)
			if err != nil {
				return err
			}
			success.Printf("%s now holds %d x %s.\n", args[0], total, args[1])
			return nil
		},
	}
}

func positiveInt(raw, label string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, raw)
	}
	return v, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
