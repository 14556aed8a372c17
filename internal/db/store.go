package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tradepost/internal/game"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres game.UnitOfWork. Inside serializable scopes point
// reads take row locks (FOR UPDATE) so concurrent writers queue instead of
// failing at commit.
type Store struct {
	q    querier
	lock bool
}

var _ game.UnitOfWork = (*Store)(nil)

func (s *Store) forUpdate() string {
	if s.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) DebitWallet(ctx context.Context, owner string, amount int64) (int64, error) {
	var balance int64
	err := s.q.QueryRow(ctx, `
		UPDATE economy.wallets
		SET balance = balance - $2, updated_at = now()
		WHERE owner_id = $1 AND balance >= $2
		RETURNING balance
	`, owner, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, game.ErrInsufficientFunds
	}
	return balance, err
}

func (s *Store) CreditWallet(ctx context.Context, owner string, amount int64) (int64, error) {
	var balance int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO economy.wallets (owner_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE
		SET balance = economy.wallets.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance
	`, owner, amount).Scan(&balance)
	return balance, err
}

func (s *Store) Balance(ctx context.Context, owner string) (int64, error) {
	var balance int64
	err := s.q.QueryRow(ctx, `SELECT balance FROM economy.wallets WHERE owner_id = $1`, owner).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *Store) WithdrawItems(ctx context.Context, key game.StackKey, qty int64) (int64, error) {
	var left int64
	err := s.q.QueryRow(ctx, `
		UPDATE economy.inventory_stacks
		SET quantity = quantity - $4
		WHERE owner_id = $1 AND item_id = $2 AND location = $3 AND quantity >= $4
		RETURNING quantity
	`, key.Owner, key.Item, key.Location, qty).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, game.ErrInsufficientInventory
	}
	if err != nil {
		return 0, err
	}
	if left == 0 {
		_, err = s.q.Exec(ctx, `
			DELETE FROM economy.inventory_stacks
			WHERE owner_id = $1 AND item_id = $2 AND location = $3 AND quantity = 0
		`, key.Owner, key.Item, key.Location)
	}
	return left, err
}

func (s *Store) DepositItems(ctx context.Context, key game.StackKey, qty int64) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO economy.inventory_stacks (owner_id, item_id, location, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, item_id, location) DO UPDATE
		SET quantity = economy.inventory_stacks.quantity + EXCLUDED.quantity
		RETURNING quantity
	`, key.Owner, key.Item, key.Location, qty).Scan(&total)
	return total, err
}

func (s *Store) StackQuantity(ctx context.Context, key game.StackKey) (int64, error) {
	var qty int64
	err := s.q.QueryRow(ctx, `
		SELECT quantity FROM economy.inventory_stacks
		WHERE owner_id = $1 AND item_id = $2 AND location = $3
	`+s.forUpdate(), key.Owner, key.Item, key.Location).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func (s *Store) Stacks(ctx context.Context, owner string) ([]game.InventoryStack, error) {
	rows, err := s.q.Query(ctx, `
		SELECT owner_id, item_id, location, quantity
		FROM economy.inventory_stacks
		WHERE owner_id = $1 AND quantity > 0
		ORDER BY location, item_id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []game.InventoryStack{}
	for rows.Next() {
		var st game.InventoryStack
		if err := rows.Scan(&st.Owner, &st.Item, &st.Location, &st.Quantity); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) AppendLedger(ctx context.Context, entries []game.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(entries)*6)
	)
	sb.WriteString(`INSERT INTO economy.ledger_entries (owner_id, amount, reason, correlation_id, metadata, created_at) VALUES `)
	for i, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode ledger metadata: %w", err)
		}
		if e.Metadata == nil {
			meta = []byte("{}")
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d::jsonb, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, e.OwnerID, e.Amount, string(e.Reason), e.CorrelationID, string(meta), e.CreatedAt)
	}
	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

const ledgerColumns = `id, owner_id, amount, reason, correlation_id, metadata, created_at`

// scanLedger reads ledgerColumns, followed by the txid when withTx is set.
func scanLedger(rows pgx.Rows, withTx bool) ([]game.LedgerEntry, error) {
	defer rows.Close()
	out := []game.LedgerEntry{}
	for rows.Next() {
		var (
			e      game.LedgerEntry
			reason string
			meta   []byte
		)
		dest := []any{&e.ID, &e.OwnerID, &e.Amount, &reason, &e.CorrelationID, &meta, &e.CreatedAt}
		if withTx {
			dest = append(dest, &e.TxID)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		e.Reason = game.Reason(reason)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode ledger metadata %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LedgerByOwner(ctx context.Context, owner string, limit int) ([]game.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM economy.ledger_entries
		WHERE owner_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, err
	}
	return scanLedger(rows, false)
}

// LedgerCommittedAfter pages entries written by transactions older than
// every transaction still in flight, ordered by (txid, id). A transaction
// that commits later always has a txid at or above the current snapshot's
// xmin, so it sorts after any position returned here.
func (s *Store) LedgerCommittedAfter(ctx context.Context, after game.LedgerPosition, limit int) ([]game.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+ledgerColumns+`, txid::text::bigint
		FROM economy.ledger_entries
		WHERE (txid, id) > ($1::text::xid8, $2)
		  AND txid < pg_snapshot_xmin(pg_current_snapshot())
		ORDER BY txid, id
		LIMIT $3
	`, strconv.FormatInt(after.TxID, 10), after.ID, limit)
	if err != nil {
		return nil, err
	}
	return scanLedger(rows, true)
}

const listingColumns = `id, seller_id, COALESCE(buyer_id, ''), COALESCE(reserved_for, ''), item_id, quantity,
	unit_price, fee, duration_hours, status, created_at, expires_at, closed_at`

func scanListing(row pgx.Row) (game.Listing, error) {
	var (
		l      game.Listing
		status string
	)
	err := row.Scan(&l.ID, &l.SellerID, &l.BuyerID, &l.ReservedFor, &l.ItemID, &l.Quantity,
		&l.UnitPrice, &l.Fee, &l.DurationHours, &status, &l.CreatedAt, &l.ExpiresAt, &l.ClosedAt)
	l.Status = game.ListingStatus(status)
	return l, err
}

func (s *Store) InsertListing(ctx context.Context, l *game.Listing) error {
	return s.q.QueryRow(ctx, `
		INSERT INTO economy.listings
			(seller_id, reserved_for, item_id, quantity, unit_price, fee, duration_hours, status, created_at, expires_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, l.SellerID, l.ReservedFor, l.ItemID, l.Quantity, l.UnitPrice, l.Fee, l.DurationHours,
		string(l.Status), l.CreatedAt, l.ExpiresAt).Scan(&l.ID)
}

func (s *Store) GetListing(ctx context.Context, id int64) (game.Listing, error) {
	l, err := scanListing(s.q.QueryRow(ctx, `
		SELECT `+listingColumns+` FROM economy.listings WHERE id = $1`+s.forUpdate(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, fmt.Errorf("%w: listing %d", game.ErrNotFound, id)
	}
	return l, err
}

func (s *Store) CloseListing(ctx context.Context, id int64, to game.ListingStatus, buyer string, at time.Time) error {
	cmd, err := s.q.Exec(ctx, `
		UPDATE economy.listings
		SET status = $2, buyer_id = NULLIF($3, ''), closed_at = $4
		WHERE id = $1 AND status = 'active'
	`, id, string(to), buyer, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	var status string
	err = s.q.QueryRow(ctx, `SELECT status FROM economy.listings WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: listing %d", game.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: listing %d is %s", game.ErrListingUnavailable, id, status)
}

func (s *Store) DueListings(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id FROM economy.listings
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ActiveListings(ctx context.Context, itemID string, limit int) ([]game.Listing, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+listingColumns+`
		FROM economy.listings
		WHERE status = 'active' AND ($1 = '' OR item_id = $1)
		ORDER BY id
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GuildOf(ctx context.Context, owner string) (string, bool, error) {
	var guild string
	err := s.q.QueryRow(ctx, `SELECT guild_id FROM economy.guild_members WHERE owner_id = $1`, owner).Scan(&guild)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	return guild, err == nil, err
}

func (s *Store) AllianceDiscount(ctx context.Context, guildA, guildB string) (int, bool, error) {
	var pct int
	err := s.q.QueryRow(ctx, `
		SELECT discount_pct FROM economy.alliances
		WHERE guild_a = LEAST($1::text, $2::text) AND guild_b = GREATEST($1::text, $2::text) AND accepted
	`, guildA, guildB).Scan(&pct)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return pct, err == nil, err
}

func (s *Store) GetContribution(ctx context.Context, guildID, memberID string) (game.GuildContribution, bool, error) {
	c := game.GuildContribution{GuildID: guildID, MemberID: memberID}
	err := s.q.QueryRow(ctx, `
		SELECT points, level, xp, xp_next FROM economy.guild_contributions
		WHERE guild_id = $1 AND member_id = $2
	`+s.forUpdate(), guildID, memberID).Scan(&c.Points, &c.Progress.Level, &c.Progress.XP, &c.Progress.XPNext)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, false, nil
	}
	return c, err == nil, err
}

func (s *Store) SaveContribution(ctx context.Context, c game.GuildContribution) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO economy.guild_contributions (guild_id, member_id, points, level, xp, xp_next)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (guild_id, member_id) DO UPDATE
		SET points = EXCLUDED.points, level = EXCLUDED.level, xp = EXCLUDED.xp, xp_next = EXCLUDED.xp_next
	`, c.GuildID, c.MemberID, c.Points, c.Progress.Level, c.Progress.XP, c.Progress.XPNext)
	return err
}

func (s *Store) GetAgent(ctx context.Context, id int64) (game.Agent, error) {
	var (
		a      game.Agent
		status string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, owner_id, name, success_bonus, status, level, xp, xp_next
		FROM economy.agents WHERE id = $1
	`+s.forUpdate(), id).Scan(&a.ID, &a.OwnerID, &a.Name, &a.SuccessBonus, &status, &a.Progress.Level, &a.Progress.XP, &a.Progress.XPNext)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, fmt.Errorf("%w: agent %d", game.ErrNotFound, id)
	}
	a.Status = game.AgentStatus(status)
	return a, err
}

func (s *Store) ClaimAgent(ctx context.Context, id int64, owner string) error {
	cmd, err := s.q.Exec(ctx, `
		UPDATE economy.agents SET status = 'on_mission'
		WHERE id = $1 AND owner_id = $2 AND status = 'idle'
	`, id, owner)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if a.OwnerID != owner {
		return fmt.Errorf("%w: agent %d", game.ErrNotFound, id)
	}
	return fmt.Errorf("%w: agent %d is %s", game.ErrInvalidOperation, id, a.Status)
}

func (s *Store) ReleaseAgent(ctx context.Context, id int64, p game.Progress) error {
	cmd, err := s.q.Exec(ctx, `
		UPDATE economy.agents SET status = 'idle', level = $2, xp = $3, xp_next = $4
		WHERE id = $1
	`, id, p.Level, p.XP, p.XPNext)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: agent %d", game.ErrNotFound, id)
	}
	return nil
}

func (s *Store) InsertMission(ctx context.Context, m *game.MissionInstance) error {
	return s.q.QueryRow(ctx, `
		INSERT INTO economy.mission_instances (owner_id, mission_id, agent_id, status, started_at, ends_at)
		VALUES ($1, $2, NULLIF($3::bigint, 0), $4, $5, $6)
		RETURNING id
	`, m.OwnerID, m.MissionID, m.AgentID, string(m.Status), m.StartedAt, m.EndsAt).Scan(&m.ID)
}

func (s *Store) GetMission(ctx context.Context, id int64) (game.MissionInstance, error) {
	var (
		m       game.MissionInstance
		status  string
		outcome string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, owner_id, mission_id, COALESCE(agent_id, 0), status, started_at, ends_at,
			completed_at, actual_reward, COALESCE(outcome, '')
		FROM economy.mission_instances WHERE id = $1
	`+s.forUpdate(), id).Scan(&m.ID, &m.OwnerID, &m.MissionID, &m.AgentID, &status, &m.StartedAt, &m.EndsAt,
		&m.CompletedAt, &m.ActualReward, &outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, fmt.Errorf("%w: mission %d", game.ErrNotFound, id)
	}
	m.Status = game.MissionStatus(status)
	m.Outcome = game.Tier(outcome)
	return m, err
}

func (s *Store) FinishMission(ctx context.Context, id int64, at time.Time, reward int64, tier game.Tier) error {
	cmd, err := s.q.Exec(ctx, `
		UPDATE economy.mission_instances
		SET status = 'completed', completed_at = $2, actual_reward = $3, outcome = $4
		WHERE id = $1 AND status = 'active'
	`, id, at, reward, string(tier))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetMission(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: mission %d", game.ErrAlreadyComplete, id)
}

func (s *Store) HasUnlock(ctx context.Context, owner, blueprintID string) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM economy.blueprint_unlocks WHERE owner_id = $1 AND blueprint_id = $2)
	`, owner, blueprintID).Scan(&ok)
	return ok, err
}

func (s *Store) InsertUnlock(ctx context.Context, owner, blueprintID string, at time.Time) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO economy.blueprint_unlocks (owner_id, blueprint_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, blueprint_id) DO NOTHING
	`, owner, blueprintID, at)
	return err
}

func (s *Store) GetProgress(ctx context.Context, owner, skill string) (game.Progress, bool, error) {
	var p game.Progress
	err := s.q.QueryRow(ctx, `
		SELECT level, xp, xp_next FROM economy.skill_progress
		WHERE owner_id = $1 AND skill = $2
	`+s.forUpdate(), owner, skill).Scan(&p.Level, &p.XP, &p.XPNext)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, false, nil
	}
	return p, err == nil, err
}

func (s *Store) SaveProgress(ctx context.Context, owner, skill string, p game.Progress) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO economy.skill_progress (owner_id, skill, level, xp, xp_next)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, skill) DO UPDATE
		SET level = EXCLUDED.level, xp = EXCLUDED.xp, xp_next = EXCLUDED.xp_next
	`, owner, skill, p.Level, p.XP, p.XPNext)
	return err
}

func (s *Store) InsertCraftJob(ctx context.Context, j *game.CraftJob) error {
	return s.q.QueryRow(ctx, `
		INSERT INTO economy.craft_jobs (owner_id, blueprint_id, quantity, status, started_at, eta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, j.OwnerID, j.BlueprintID, j.Quantity, string(j.Status), j.StartedAt, j.ETA).Scan(&j.ID)
}

func (s *Store) GetCraftJob(ctx context.Context, id int64) (game.CraftJob, error) {
	var (
		j      game.CraftJob
		status string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, owner_id, blueprint_id, quantity, status, started_at, eta, completed_at
		FROM economy.craft_jobs WHERE id = $1
	`+s.forUpdate(), id).Scan(&j.ID, &j.OwnerID, &j.BlueprintID, &j.Quantity, &status, &j.StartedAt, &j.ETA, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return j, fmt.Errorf("%w: craft job %d", game.ErrNotFound, id)
	}
	j.Status = game.CraftStatus(status)
	return j, err
}

func (s *Store) FinishCraftJob(ctx context.Context, id int64, at time.Time) error {
	cmd, err := s.q.Exec(ctx, `
		UPDATE economy.craft_jobs SET status = 'complete', completed_at = $2
		WHERE id = $1 AND status = 'running'
	`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetCraftJob(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: craft job %d", game.ErrAlreadyComplete, id)
}

func (s *Store) ClaimIdempotency(ctx context.Context, owner, key, action string) error {
	cmd, err := s.q.Exec(ctx, `
		INSERT INTO economy.idempotency_keys (owner_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id, key) DO NOTHING
	`, owner, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrDuplicateIdempotency
	}
	return nil
}
