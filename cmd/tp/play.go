package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"tradepost/internal/game"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func (a *app) newMissionsCmd() *cobra.Command {
	missions := &cobra.Command{
		Use:     "missions",
		Short:   "Send agents on missions",
		Aliases: []string{"mission"},
	}
	missions.AddCommand(&cobra.Command{
		Use:   "dispatch [mission] [agent-id]",
		Short: "Start a mission with one of your agents",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mission, err := stringFromArgOrPrompt(args, 0, "Mission")
			if err != nil {
				return err
			}
			agentID, err := int64FromArgOrPrompt(args, 1, "Agent ID")
			if err != nil {
				return err
			}
			out, err := a.write(cmd, "POST", "/v1/missions", map[string]any{
				"mission_id": mission,
				"agent_id":   agentID,
			})
			if err != nil {
				return err
			}
			res, err := decodeInto[game.DispatchResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Mission #%d (%s) under way.", res.Mission.ID, res.Mission.MissionID))
			printInfo(fmt.Sprintf("Returns: %s", res.EstimatedCompletion.Local().Format(time.DateTime)))
			return nil
		},
	})
	missions.AddCommand(&cobra.Command{
		Use:   "status [mission-instance-id]",
		Short: "Show a mission instance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Mission instance ID")
			if err != nil {
				return err
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Do(ctx, http.MethodGet, fmt.Sprintf("/v1/missions/%d", id), sess.AccessToken, nil, "")
			if err != nil {
				return err
			}
			m, err := decodeInto[game.MissionInstance](out)
			if err != nil {
				return err
			}
			renderMission(m)
			return nil
		},
	})
	missions.AddCommand(&cobra.Command{
		Use:   "complete [mission-instance-id]",
		Short: "Collect a finished mission",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Mission instance ID")
			if err != nil {
				return err
			}
			out, err := a.write(cmd, "POST", fmt.Sprintf("/v1/missions/%d/complete", id), nil)
			if err != nil {
				return err
			}
			res, err := decodeInto[game.MissionResult](out)
			if err != nil {
				return err
			}
			renderMissionResult(res)
			return nil
		},
	})
	return missions
}

func (a *app) newCraftCmd() *cobra.Command {
	craft := &cobra.Command{
		Use:   "craft",
		Short: "Crafting commands",
	}
	craft.AddCommand(&cobra.Command{
		Use:   "start [blueprint] [quantity]",
		Short: "Start a crafting job",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bp, err := stringFromArgOrPrompt(args, 0, "Blueprint")
			if err != nil {
				return err
			}
			qty, err := int64FromArgOrPrompt(args, 1, "Quantity")
			if err != nil {
				return err
			}
			out, err := a.write(cmd, "POST", "/v1/crafting/jobs", map[string]any{
				"blueprint_id": bp,
				"quantity":     qty,
			})
			if err != nil {
				return err
			}
			res, err := decodeInto[game.StartCraftResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Craft job #%d started.", res.CraftJob.ID))
			for _, m := range res.MaterialsConsumed {
				printInfo(fmt.Sprintf("  used %d x %s", m.Count, m.Item))
			}
			printInfo(fmt.Sprintf("Ready: %s", res.EstimatedCompletionTime.Local().Format(time.DateTime)))
			return nil
		},
	})
	craft.AddCommand(&cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a crafting job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Job ID")
			if err != nil {
				return err
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Do(ctx, http.MethodGet, fmt.Sprintf("/v1/crafting/jobs/%d", id), sess.AccessToken, nil, "")
			if err != nil {
				return err
			}
			job, err := decodeInto[game.CraftJob](out)
			if err != nil {
				return err
			}
			fmt.Printf("Job #%d  %s x%d  %s  ready %s\n", job.ID, job.BlueprintID, job.Quantity, job.Status, job.ETA.Local().Format(time.DateTime))
			return nil
		},
	})
	craft.AddCommand(&cobra.Command{
		Use:   "complete [job-id]",
		Short: "Collect a finished crafting job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Job ID")
			if err != nil {
				return err
			}
			out, err := a.write(cmd, "POST", fmt.Sprintf("/v1/crafting/jobs/%d/complete", id), nil)
			if err != nil {
				return err
			}
			res, err := decodeInto[game.CompleteCraftResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Received %d x %s (+%d xp).", res.ItemsGranted.Count, res.ItemsGranted.Item, res.XPGained))
			if res.LevelsGained > 0 {
				accent.Printf("Crafting level up! Now level %d.\n", res.Progress.Level)
			}
			return nil
		},
	})
	craft.AddCommand(&cobra.Command{
		Use:   "unlock [blueprint]",
		Short: "Unlock a blueprint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bp, err := stringFromArgOrPrompt(args, 0, "Blueprint")
			if err != nil {
				return err
			}
			if _, err := a.write(cmd, "POST", "/v1/crafting/unlocks", map[string]any{"blueprint_id": bp}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Blueprint %s unlocked.", bp))
			return nil
		},
	})
	craft.AddCommand(&cobra.Command{
		Use:   "skill",
		Short: "Show crafting level and XP",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Do(ctx, http.MethodGet, "/v1/skills/"+game.SkillCrafting, sess.AccessToken, nil, "")
			if err != nil {
				return err
			}
			p, err := decodeInto[game.Progress](out["progress"])
			if err != nil {
				return err
			}
			renderProgress("Crafting", p)
			return nil
		},
	})
	return craft
}

func (a *app) newGuildCmd() *cobra.Command {
	guild := &cobra.Command{
		Use:   "guild",
		Short: "Guild commands",
	}
	var items []string
	contribute := &cobra.Command{
		Use:   "contribute [guild] [gold|items] [amount]",
		Short: "Contribute gold or items to your guild",
		Long:  "Gold takes an amount. Items are given with --item name=qty, repeatable. Trades are credited automatically when a purchase settles.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			guildID := strings.TrimSpace(args[0])
			kind := strings.ToLower(strings.TrimSpace(args[1]))
			body := map[string]any{"kind": kind}
			switch kind {
			case "gold":
				n, err := int64FromArgOrPrompt(args, 2, "Gold")
				if err != nil {
					return err
				}
				body["amount"] = n
			case "items":
				parsed, err := parseItemFlags(items)
				if err != nil {
					return err
				}
				body["items"] = parsed
			default:
				return fmt.Errorf("unknown contribution kind %q", kind)
			}
			out, err := a.write(cmd, "POST", "/v1/guilds/"+url.PathEscape(guildID)+"/contributions", body)
			if err != nil {
				return err
			}
			res, err := decodeInto[game.ContributeResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("+%d contribution points to %s.", res.PointsAwarded, guildID))
			if kind == "gold" {
				printInfo(fmt.Sprintf("Treasury: %s gold", comma(res.TreasuryBalance)))
			}
			renderProgress("Contribution", res.Contribution.Progress)
			return nil
		},
	}
	contribute.Flags().StringArrayVar(&items, "item", nil, "item=qty to donate")
	guild.AddCommand(contribute)
	return guild
}

func parseItemFlags(raw []string) (map[string]int64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one --item is required")
	}
	out := make(map[string]int64, len(raw))
	for _, r := range raw {
		name, qty, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --item %q, want name=qty", r)
		}
		n, err := int64FromArgOrPrompt([]string{qty}, 0, "Quantity for "+name)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(name)] += n
	}
	return out, nil
}

func (a *app) newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List items, blueprints and missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cat, err := a.client().Catalog(ctx)
			if err != nil {
				return err
			}
			renderCatalog(cat)
			return nil
		},
	}
}

// newWatchCmd streams the live event feed until interrupted.
func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream market and account events",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(strings.TrimRight(a.apiBase, "/") + "/v1/feed")
			if err != nil {
				return err
			}
			switch u.Scheme {
			case "https":
				u.Scheme = "wss"
			default:
				u.Scheme = "ws"
			}
			header := http.Header{}
			if sess, err := a.session(); err == nil {
				header.Set("Authorization", "Bearer "+sess.AccessToken)
			} else {
				printWarn("Not logged in; showing market events only.")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
			if err != nil {
				return err
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
			}()

			accent.Println("Watching feed. Ctrl-C to stop.")
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return err
				}
				var ev game.Event
				if err := json.Unmarshal(msg, &ev); err != nil {
					printWarn(string(msg))
					continue
				}
				renderEvent(ev)
			}
		},
	}
}
