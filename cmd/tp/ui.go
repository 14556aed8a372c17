package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	cl "tradepost/internal/cli"
	"tradepost/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderInventory(stacks []game.InventoryStack) {
	accent.Println("\n== INVENTORY ==")
	if len(stacks) == 0 {
		printInfo("Nothing here yet.")
		return
	}
	sort.Slice(stacks, func(i, j int) bool {
		if stacks[i].Location != stacks[j].Location {
			return stacks[i].Location < stacks[j].Location
		}
		return stacks[i].Item < stacks[j].Item
	})
	fmt.Printf("%-12s %-20s %10s\n", "LOCATION", "ITEM", "QTY")
	for _, s := range stacks {
		fmt.Printf("%-12s %-20s %10s\n", truncate(s.Location, 12), truncate(s.Item, 20), comma(s.Quantity))
	}
	fmt.Println()
}

func renderLedger(entries []game.LedgerEntry) {
	accent.Println("\n== LEDGER ==")
	if len(entries) == 0 {
		printInfo("No gold movements yet.")
		return
	}
	fmt.Printf("%-8s %-19s %14s %-20s %-12s\n", "ID", "WHEN", "AMOUNT", "REASON", "WITH")
	for _, e := range entries {
		with, _ := e.Metadata["counterparty"].(string)
		fmt.Printf("%-8d %-19s %14s %-20s %-12s\n",
			e.ID,
			e.CreatedAt.Local().Format(time.DateTime),
			colorizeGold(e.Amount),
			truncate(string(e.Reason), 20),
			truncate(with, 12),
		)
	}
	fmt.Println()
}

func renderListings(listings []game.Listing) {
	accent.Println("\n== MARKETPLACE ==")
	if len(listings) == 0 {
		printInfo("No active listings.")
		return
	}
	fmt.Printf("%-6s %-16s %8s %10s %12s %-14s %-16s\n", "ID", "ITEM", "QTY", "EACH", "TOTAL", "SELLER", "EXPIRES")
	for _, l := range listings {
		seller := truncate(l.SellerID, 14)
		if l.ReservedFor != "" {
			seller = warn.Sprint(truncate(l.SellerID, 12) + " *")
		}
		fmt.Printf("%-6d %-16s %8s %10s %12s %-14s %-16s\n",
			l.ID,
			truncate(l.ItemID, 16),
			comma(l.Quantity),
			comma(l.UnitPrice),
			comma(l.TotalValue()),
			seller,
			until(l.ExpiresAt),
		)
	}
	fmt.Println()
}

func renderMission(m game.MissionInstance) {
	accent.Printf("\n== MISSION #%d ==\n", m.ID)
	fmt.Printf("Mission: %s\n", m.MissionID)
	if m.AgentID != 0 {
		fmt.Printf("Agent:   #%d\n", m.AgentID)
	}
	fmt.Printf("Status:  %s\n", m.Status)
	fmt.Printf("Returns: %s (%s)\n", m.EndsAt.Local().Format(time.DateTime), until(m.EndsAt))
	if m.Outcome != "" {
		fmt.Printf("Outcome: %s  reward %s\n", colorizeTier(m.Outcome), comma(m.ActualReward))
	}
	fmt.Println()
}

func renderMissionResult(r game.MissionResult) {
	accent.Printf("\n== MISSION #%d COMPLETE ==\n", r.Mission.ID)
	fmt.Printf("Outcome: %s (roll %.1f)\n", colorizeTier(r.OutcomeType), r.Roll)
	fmt.Printf("Reward:  %s gold\n", colorizeGold(r.ActualReward))
	for _, it := range r.ItemsReceived {
		fmt.Printf("  + %d x %s\n", it.Count, it.Item)
	}
	if r.Agent != nil {
		renderProgress("Agent "+r.Agent.Name, r.Agent.Progress)
	}
	fmt.Println()
}

func renderProgress(label string, p game.Progress) {
	fmt.Printf("%s level %d  %s/%s xp\n", label, p.Level, comma(p.XP), comma(p.XPNext))
}

func renderCatalog(cat cl.Catalog) {
	accent.Println("\n== ITEMS ==")
	fmt.Printf("%-16s %-24s %-8s\n", "ID", "NAME", "TRADABLE")
	for _, it := range cat.Items {
		tradable := "yes"
		if !it.Tradable {
			tradable = "no"
		}
		fmt.Printf("%-16s %-24s %-8s\n", it.ID, truncate(it.Name, 24), tradable)
	}
	accent.Println("\n== BLUEPRINTS ==")
	fmt.Printf("%-16s %-24s %6s %6s %-30s\n", "ID", "OUTPUT", "LEVEL", "MIN", "INPUTS")
	for _, bp := range cat.Blueprints {
		fmt.Printf("%-16s %-24s %6d %6d %-30s\n",
			bp.ID,
			truncate(fmt.Sprintf("%d x %s", bp.OutputQty, bp.OutputItem), 24),
			bp.RequiredLevel,
			bp.TimeMin,
			truncate(formatItems(bp.Inputs), 30),
		)
	}
	accent.Println("\n== MISSIONS ==")
	fmt.Printf("%-16s %-10s %6s %8s %10s\n", "ID", "RISK", "MIN", "DIST", "GOLD")
	for _, m := range cat.Missions {
		dist := "?"
		if m.Distance != nil {
			dist = strconv.Itoa(*m.Distance)
		}
		fmt.Printf("%-16s %-10s %6d %8s %10s\n", m.ID, m.Risk, m.DurationMin, dist, comma(m.BaseGold))
	}
	fmt.Println()
}

func renderEvent(ev game.Event) {
	stamp := ev.At.Local().Format(time.TimeOnly)
	detail := ""
	if len(ev.Data) > 0 {
		keys := make([]string, 0, len(ev.Data))
		for k := range ev.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Data[k]))
		}
		detail = strings.Join(parts, " ")
	}
	fmt.Printf("%s %s #%d %s\n", neutral.Sprint(stamp), accent.Sprint(ev.Kind), ev.Ref, detail)
}

func formatItems(items []game.ItemCount) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%dx%s", it.Count, it.Item))
	}
	return strings.Join(parts, ", ")
}

func colorizeTier(t game.Tier) string {
	switch t {
	case game.TierLegendary, game.TierCritical, game.TierGood:
		return success.Sprint(t)
	case game.TierPoor, game.TierFailure, game.TierCriticalFailure:
		return danger.Sprint(t)
	default:
		return neutral.Sprint(t)
	}
}

func colorizeGold(v int64) string {
	text := signed(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func until(t time.Time) string {
	d := time.Until(t).Round(time.Minute)
	if d <= 0 {
		return "due"
	}
	return "in " + strings.TrimSuffix(d.String(), "0s")
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func signed(v int64) string {
	if v > 0 {
		return "+" + comma(v)
	}
	return comma(v)
}

func comma(v int64) string {
	if v < 0 {
		return "-" + comma(-v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
