package audit

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"tradepost/internal/game"
)

// memLedger mimics the committed-ledger query: entries whose txid is at or
// above horizon belong to transactions still in flight and stay hidden.
type memLedger struct {
	entries []game.LedgerEntry
	horizon int64
}

func (m *memLedger) LedgerCommittedAfter(_ context.Context, after game.LedgerPosition, limit int) ([]game.LedgerEntry, error) {
	sorted := append([]game.LedgerEntry(nil), m.entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TxID != sorted[j].TxID {
			return sorted[i].TxID < sorted[j].TxID
		}
		return sorted[i].ID < sorted[j].ID
	})
	var out []game.LedgerEntry
	for _, e := range sorted {
		if len(out) == limit {
			break
		}
		if e.TxID < m.horizon && after.Precedes(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLedger) add(entries ...game.LedgerEntry) {
	m.entries = append(m.entries, entries...)
}

// pair writes a balanced transfer from transaction tx.
func pair(tx, id int64, at time.Time, corr string, amount int64) []game.LedgerEntry {
	return []game.LedgerEntry{
		{TxID: tx, ID: id, OwnerID: "alice", Amount: -amount, Reason: game.ReasonTransfer, CorrelationID: corr, CreatedAt: at},
		{TxID: tx, ID: id + 1, OwnerID: "bob", Amount: amount, Reason: game.ReasonTransfer, CorrelationID: corr, CreatedAt: at},
	}
}

func TestExportRotatesHourlyAndResumes(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)
	src := &memLedger{horizon: 1000}
	src.add(pair(100, 1, base, "c1", 10)...)
	src.add(pair(101, 3, base.Add(20*time.Minute), "c2", 5)...)
	src.add(pair(102, 5, base.Add(time.Hour), "c3", 7)...)

	x := NewExporter(src, dir, 3, nil)
	res, err := x.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Entries != 6 || res.Cursor != (game.LedgerPosition{TxID: 102, ID: 6}) || len(res.Unbalanced) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Files) != 2 {
		t.Fatalf("files = %v, want 2 hourly archives", res.Files)
	}
	first, err := ReadFile(filepath.Join(dir, "ledger-2026-05-01-10.jsonl.zst"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(first) != 4 || first[3].CorrelationID != "c2" {
		t.Fatalf("first hour = %+v", first)
	}

	again, err := x.Run(context.Background())
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.Entries != 0 || again.Cursor != res.Cursor {
		t.Fatalf("rerun = %+v", again)
	}

	src.add(pair(103, 7, base.Add(time.Hour+time.Minute), "c4", 1)...)
	more, err := x.Run(context.Background())
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if more.Entries != 2 || more.Cursor != (game.LedgerPosition{TxID: 103, ID: 8}) {
		t.Fatalf("third = %+v", more)
	}
	second, err := ReadFile(filepath.Join(dir, "ledger-2026-05-01-11.jsonl.zst"))
	if err != nil {
		t.Fatalf("read appended: %v", err)
	}
	if len(second) != 4 {
		t.Fatalf("appended archive has %d entries, want 4", len(second))
	}
	raw, err := os.ReadFile(filepath.Join(dir, "CURSOR"))
	if err != nil || strings.TrimSpace(string(raw)) != "103:8" {
		t.Fatalf("cursor file = %q, %v", raw, err)
	}
}

func TestExportKeepsEntriesCommittedOutOfIDOrder(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &memLedger{}
	x := NewExporter(src, dir, 10, nil)

	// Transaction 100 holds ids 10-11 open while 101 writes 12-13 and
	// commits. The oldest in-flight transaction is 100.
	src.add(pair(100, 10, at, "slow", 4)...)
	src.add(pair(101, 12, at, "fast", 6)...)
	src.horizon = 100
	res, err := x.Run(context.Background())
	if err != nil {
		t.Fatalf("run while 100 is open: %v", err)
	}
	if res.Entries != 0 {
		t.Fatalf("exported %d entries past an open transaction", res.Entries)
	}

	src.horizon = 102
	res, err = x.Run(context.Background())
	if err != nil {
		t.Fatalf("run after commit: %v", err)
	}
	if res.Entries != 4 || res.Cursor != (game.LedgerPosition{TxID: 101, ID: 13}) {
		t.Fatalf("result = %+v", res)
	}

	// Transaction 103 was assigned its txid after 102 but inserted the
	// lower id. 102 commits first and is exported; 103 follows later.
	src.add(pair(103, 20, at, "late-txid", 2)...)
	src.add(pair(102, 22, at, "early-txid", 3)...)
	src.horizon = 103
	res, err = x.Run(context.Background())
	if err != nil {
		t.Fatalf("run with 103 open: %v", err)
	}
	if res.Entries != 2 || res.Cursor != (game.LedgerPosition{TxID: 102, ID: 23}) {
		t.Fatalf("result = %+v", res)
	}
	src.horizon = 104
	res, err = x.Run(context.Background())
	if err != nil {
		t.Fatalf("run after 103 commits: %v", err)
	}
	if res.Entries != 2 || res.Cursor != (game.LedgerPosition{TxID: 103, ID: 21}) {
		t.Fatalf("result = %+v", res)
	}

	got, err := ReadFile(filepath.Join(dir, "ledger-2026-05-01-10.jsonl.zst"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	seen := map[int64]bool{}
	for _, e := range got {
		seen[e.ID] = true
	}
	for _, id := range []int64{10, 11, 12, 13, 20, 21, 22, 23} {
		if !seen[id] {
			t.Fatalf("entry %d missing from archive (have %d entries)", id, len(got))
		}
	}
}

func TestExportRejectsCorruptCursor(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "CURSOR"), []byte("42\n"), 0o644); err != nil {
		t.Fatalf("write cursor: %v", err)
	}
	if _, err := NewExporter(&memLedger{}, dir, 0, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected a corrupt cursor error")
	}
}

func TestExportFlagsUnbalancedCorrelation(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &memLedger{horizon: 10}
	src.add(
		game.LedgerEntry{TxID: 1, ID: 1, OwnerID: "alice", Amount: -10, CorrelationID: "bad", CreatedAt: at},
		game.LedgerEntry{TxID: 1, ID: 2, OwnerID: "bob", Amount: 9, CorrelationID: "bad", CreatedAt: at},
	)
	res, err := NewExporter(src, t.TempDir(), 0, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Unbalanced) != 1 || res.Unbalanced[0] != "bad" {
		t.Fatalf("unbalanced = %v", res.Unbalanced)
	}
}
