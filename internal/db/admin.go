package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradepost/internal/game"
)

// Admin holds operator writes that sit outside the gameplay transactions:
// guild rosters, alliances, agent hiring and item seeding.
type Admin struct {
	pool *pgxpool.Pool
}

func NewAdmin(pool *pgxpool.Pool) *Admin {
	return &Admin{pool: pool}
}

func (a *Admin) JoinGuild(ctx context.Context, owner, guildID string) error {
	owner, guildID = strings.TrimSpace(owner), strings.TrimSpace(guildID)
	if owner == "" || guildID == "" {
		return fmt.Errorf("%w: owner and guild are required", game.ErrInvalidOperation)
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO economy.guild_members (owner_id, guild_id)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET guild_id = EXCLUDED.guild_id, joined_at = now()
	`, owner, guildID)
	return err
}

// SetAlliance records an accepted alliance between two distinct guilds.
func (a *Admin) SetAlliance(ctx context.Context, guildA, guildB string, discountPct int) error {
	if guildA == guildB {
		return fmt.Errorf("%w: a guild cannot ally with itself", game.ErrInvalidOperation)
	}
	if discountPct < 0 || discountPct > 100 {
		return fmt.Errorf("%w: discount must be within 0..100", game.ErrInvalidOperation)
	}
	if guildA > guildB {
		guildA, guildB = guildB, guildA
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO economy.alliances (guild_a, guild_b, discount_pct, accepted)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (guild_a, guild_b) DO UPDATE SET discount_pct = EXCLUDED.discount_pct, accepted = true
	`, guildA, guildB, discountPct)
	return err
}

func (a *Admin) HireAgent(ctx context.Context, owner, name string, successBonus int) (game.Agent, error) {
	ag := game.Agent{OwnerID: owner, Name: name, SuccessBonus: successBonus, Status: game.AgentIdle}
	err := a.pool.QueryRow(ctx, `
		INSERT INTO economy.agents (owner_id, name, success_bonus)
		VALUES ($1, $2, $3)
		RETURNING id, level, xp, xp_next
	`, owner, name, successBonus).Scan(&ag.ID, &ag.Progress.Level, &ag.Progress.XP, &ag.Progress.XPNext)
	return ag, err
}

func (a *Admin) SeedItems(ctx context.Context, owner, itemID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: quantity must be > 0", game.ErrInvalidOperation)
	}
	s := &Store{q: a.pool}
	return s.DepositItems(ctx, game.StackKey{Owner: owner, Item: itemID, Location: game.LocationBackpack}, qty)
}

// LedgerCommittedAfter pages the committed ledger outside any gameplay
// transaction.
func (a *Admin) LedgerCommittedAfter(ctx context.Context, after game.LedgerPosition, limit int) ([]game.LedgerEntry, error) {
	s := &Store{q: a.pool}
	return s.LedgerCommittedAfter(ctx, after, limit)
}
