package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "tradepost/internal/cli"
	"tradepost/internal/config"
	"tradepost/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// app carries what every command needs. Fields are resolved lazily so that
// --api and TP_HOME apply to all subcommands.
type app struct {
	apiBase string
	home    string
}

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.LoadCLIFromEnv()
	a := &app{apiBase: cfg.APIBaseURL, home: cfg.SessionDir}

	root := &cobra.Command{
		Use:          "tp",
		Short:        "Tradepost player client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.apiBase, "api", a.apiBase, "API base URL")

	root.AddCommand(
		a.newSignupCmd(),
		a.newLoginCmd(),
		a.newLogoutCmd(),
		a.newSyncCmd(),
		a.newWalletCmd(),
		a.newInventoryCmd(),
		a.newLedgerCmd(),
		a.newTransferCmd(),
		a.newListingsCmd(),
		a.newMissionsCmd(),
		a.newCraftCmd(),
		a.newGuildCmd(),
		a.newCatalogCmd(),
		a.newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		if errors.Is(err, errQueued) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) client() *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(a.apiBase), "/"))
}

func (a *app) dir() (string, error) {
	return cl.BaseDir(a.home)
}

func (a *app) session() (cl.Session, error) {
	dir, err := a.dir()
	if err != nil {
		return cl.Session{}, err
	}
	sess, err := cl.LoadSession(dir)
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func (a *app) queue() (*syncq.Queue, error) {
	dir, err := a.dir()
	if err != nil {
		return nil, err
	}
	return syncq.New(dir), nil
}

func (a *app) newSignupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Tradepost account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := a.client().Signup(ctx, email, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `tp login`.")
				return nil
			}
			if err := a.saveSession(session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func (a *app) newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Tradepost",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := a.client().Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := a.saveSession(session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func (a *app) saveSession(access, refresh, email, playerID string) error {
	dir, err := a.dir()
	if err != nil {
		return err
	}
	return cl.SaveSession(dir, cl.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Email:        email,
		PlayerID:     playerID,
	})
}

func (a *app) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.dir()
			if err != nil {
				return err
			}
			if err := cl.ClearSession(dir); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func (a *app) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			q, err := a.queue()
			if err != nil {
				return err
			}
			pending, err := q.Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := a.client()
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			send := func(ctx context.Context, c syncq.Command) error {
				_, err := client.Do(ctx, c.Method, c.Path, sess.AccessToken, c.Body, c.IdempotencyKey)
				return err
			}
			// A duplicate means an earlier attempt landed; the server's answer
			// is final for every other API error too.
			keep := func(err error) bool { return !cl.IsAPIError(err) }
			sent, failures, err := q.Replay(ctx, send, keep)
			for _, f := range failures {
				printError(fmt.Sprintf("Sync failed for %s %s: %v", f.Command.Method, f.Command.Path, f.Err))
			}
			if err != nil {
				return err
			}
			left, _ := q.Load()
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", sent, len(left)))
			return nil
		},
	}
}

// write sends a mutating request. On a transport failure the command is
// queued for `tp sync` under the same idempotency key.
func (a *app) write(cmd *cobra.Command, method, path string, body map[string]any) (map[string]any, error) {
	sess, err := a.session()
	if err != nil {
		return nil, err
	}
	idem := uuid.NewString()
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	out, err := a.client().Do(ctx, method, path, sess.AccessToken, body, idem)
	if err == nil {
		return out, nil
	}
	return nil, a.queueOnNetworkError(err, syncq.Command{
		Method:         method,
		Path:           path,
		Body:           body,
		IdempotencyKey: idem,
	})
}

var errQueued = errors.New("queued for sync")

func (a *app) queueOnNetworkError(err error, c syncq.Command) error {
	if err == nil {
		return nil
	}
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return describeAPIError(apiErr)
	}
	q, qerr := a.queue()
	if qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	if qerr := q.Push(c); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Queued %s %s; run `tp sync` later.", err, c.Method, c.Path))
	return errQueued
}

func describeAPIError(e *cl.APIError) error {
	if e.Status == http.StatusPaymentRequired {
		if req, ok := e.Body["required"].(float64); ok {
			avail, _ := e.Body["available"].(float64)
			what := "gold"
			if item, _ := e.Body["item"].(string); item != "" {
				what = item
			}
			return fmt.Errorf("%s: need %s %s, have %s", e.Message, comma(int64(req)), what, comma(int64(avail)))
		}
	}
	return e
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}

func stringFromArgOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx {
		if v := strings.TrimSpace(args[idx]); v != "" {
			return v, nil
		}
	}
	return promptRequired(label)
}
