package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tradepost/internal/game"
)

// Source pages committed ledger entries in (txid, id) order. It must never
// return an entry while a transaction that could still commit below it is
// in flight.
type Source interface {
	LedgerCommittedAfter(ctx context.Context, after game.LedgerPosition, limit int) ([]game.LedgerEntry, error)
}

type Exporter struct {
	src      Source
	dir      string
	pageSize int
	log      *slog.Logger
}

type ExportResult struct {
	Entries    int                 `json:"entries"`
	Cursor     game.LedgerPosition `json:"cursor"`
	Files      []string            `json:"files"`
	Unbalanced []string `json:"unbalanced,omitempty"`
}

func NewExporter(src Source, dir string, pageSize int, logger *slog.Logger) *Exporter {
	if pageSize <= 0 {
		pageSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{src: src, dir: dir, pageSize: pageSize, log: logger}
}

func (x *Exporter) cursorPath() string {
	return filepath.Join(x.dir, "CURSOR")
}

// Cursor is the position of the last exported entry, stored as "txid:id".
// It is zero when nothing was exported.
func (x *Exporter) Cursor() (game.LedgerPosition, error) {
	var pos game.LedgerPosition
	b, err := os.ReadFile(x.cursorPath())
	if errors.Is(err, os.ErrNotExist) {
		return pos, nil
	}
	if err != nil {
		return pos, err
	}
	tx, id, ok := strings.Cut(strings.TrimSpace(string(b)), ":")
	if !ok {
		return pos, fmt.Errorf("corrupt cursor %q", b)
	}
	if pos.TxID, err = strconv.ParseInt(tx, 10, 64); err != nil {
		return pos, fmt.Errorf("corrupt cursor: %w", err)
	}
	if pos.ID, err = strconv.ParseInt(id, 10, 64); err != nil {
		return pos, fmt.Errorf("corrupt cursor: %w", err)
	}
	return pos, nil
}

func (x *Exporter) saveCursor(pos game.LedgerPosition) error {
	tmp := x.cursorPath() + ".tmp"
	line := strconv.FormatInt(pos.TxID, 10) + ":" + strconv.FormatInt(pos.ID, 10) + "\n"
	if err := os.WriteFile(tmp, []byte(line), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, x.cursorPath())
}

// Run exports every committed entry after the stored cursor, then advances
// it. Each correlation id seen in the run is checked to net to zero.
func (x *Exporter) Run(ctx context.Context) (ExportResult, error) {
	var res ExportResult
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return res, err
	}
	after, err := x.Cursor()
	if err != nil {
		return res, err
	}
	res.Cursor = after

	w := NewWriter(x.dir, "ledger")
	sums := map[string]int64{}
	for {
		page, err := x.src.LedgerCommittedAfter(ctx, after, x.pageSize)
		if err != nil {
			_ = w.Close()
			return res, fmt.Errorf("read ledger after %d:%d: %w", after.TxID, after.ID, err)
		}
		for _, e := range page {
			if !after.Precedes(e) {
				_ = w.Close()
				return res, fmt.Errorf("ledger source went backwards: %d:%d after %d:%d", e.TxID, e.ID, after.TxID, after.ID)
			}
			if err := w.Write(e); err != nil {
				_ = w.Close()
				return res, fmt.Errorf("write entry %d: %w", e.ID, err)
			}
			sums[e.CorrelationID] += e.Amount
			after = game.LedgerPosition{TxID: e.TxID, ID: e.ID}
			res.Entries++
		}
		if len(page) < x.pageSize {
			break
		}
	}
	if err := w.Close(); err != nil {
		return res, err
	}
	res.Files = w.Files()
	if res.Entries > 0 {
		if err := x.saveCursor(after); err != nil {
			return res, err
		}
	}
	res.Cursor = after

	for id, sum := range sums {
		if sum != 0 {
			res.Unbalanced = append(res.Unbalanced, id)
		}
	}
	if len(res.Unbalanced) > 0 {
		x.log.Warn("unbalanced correlation ids in export", "count", len(res.Unbalanced))
	}
	x.log.Info("ledger exported", "entries", res.Entries, "txid", res.Cursor.TxID, "last_id", res.Cursor.ID, "files", len(res.Files))
	return res, nil
}
