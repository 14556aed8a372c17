package game

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	pointsPerItem  = int64(10)
	pointsPerTrade = int64(25)
)

// Contribution is one of GoldContribution, ItemsContribution or
// TradesContribution.
type Contribution interface {
	contribution()
}

type GoldContribution struct {
	Amount int64
}

type ItemsContribution struct {
	Items map[string]int64
}

type TradesContribution struct {
	Count int64
}

func (GoldContribution) contribution()   {}
func (ItemsContribution) contribution()  {}
func (TradesContribution) contribution() {}

// ContributionPoints validates c and returns the tier points it is worth.
func ContributionPoints(c Contribution) (int64, error) {
	switch v := c.(type) {
	case GoldContribution:
		if v.Amount <= 0 {
			return 0, invalidf("gold contribution must be > 0")
		}
		return v.Amount, nil
	case ItemsContribution:
		if len(v.Items) == 0 {
			return 0, invalidf("items contribution is empty")
		}
		total := int64(0)
		for item, qty := range v.Items {
			if strings.TrimSpace(item) == "" || qty <= 0 {
				return 0, invalidf("invalid item contribution %q x%d", item, qty)
			}
			if qty > MaxContributionItems-total {
				return 0, invalidf("item contribution exceeds %d units", MaxContributionItems)
			}
			total += qty
		}
		return total * pointsPerItem, nil
	case TradesContribution:
		if v.Count <= 0 || v.Count > MaxContributionTrades {
			return 0, invalidf("trade count must be between 1 and %d", MaxContributionTrades)
		}
		return v.Count * pointsPerTrade, nil
	case nil:
		return 0, invalidf("contribution is required")
	default:
		return 0, invalidf("unsupported contribution %T", c)
	}
}

func (s *Service) Contribute(ctx context.Context, memberID, guildID string, c Contribution, idempotencyKey string) (ContributeResult, error) {
	var out ContributeResult
	guildID = strings.TrimSpace(guildID)
	if err := validateOwner(memberID); err != nil {
		return out, err
	}
	if guildID == "" {
		return out, invalidf("guild id is required")
	}
	points, err := ContributionPoints(c)
	if err != nil {
		return out, err
	}
	treasury := GuildTreasury(guildID)

	err = s.run(ctx, "guild_contribute", s.econ.LongTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		out = ContributeResult{}
		if err := claimKey(ctx, uow, memberID, idempotencyKey, "guild_contribute"); err != nil {
			return err
		}
		now := s.clock.Now()

		g, ok, err := uow.GuildOf(ctx, memberID)
		if err != nil {
			return err
		}
		if !ok || g != guildID {
			return invalidf("%s is not a member of guild %s", memberID, guildID)
		}

		switch v := c.(type) {
		case GoldContribution:
			meta := map[string]any{"guild_id": guildID}
			if _, err := Transfer(ctx, uow, now, memberID, treasury, v.Amount, ReasonGuildContribution, uuid.NewString(), meta); err != nil {
				return err
			}
		case ItemsContribution:
			items := make([]string, 0, len(v.Items))
			for item := range v.Items {
				items = append(items, item)
			}
			sort.Strings(items)
			for _, item := range items {
				qty := v.Items[item]
				from := StackKey{Owner: memberID, Item: item, Location: LocationBackpack}
				if _, err := uow.WithdrawItems(ctx, from, qty); err != nil {
					return inventoryShortfall(ctx, uow, err, from, qty)
				}
				if _, err := uow.DepositItems(ctx, StackKey{Owner: treasury, Item: item, Location: LocationGuildVault}, qty); err != nil {
					return fmt.Errorf("deposit %s: %w", item, err)
				}
			}
		case TradesContribution:
		}

		rec, levels, err := s.creditContribution(ctx, uow, scope, guildID, memberID, points, now)
		if err != nil {
			return err
		}
		bal, err := uow.Balance(ctx, treasury)
		if err != nil {
			return err
		}
		out = ContributeResult{Contribution: rec, PointsAwarded: points, LevelsGained: levels, TreasuryBalance: bal}
		return nil
	})
	return out, err
}

// creditContribution adds points to the member's tier progression.
func (s *Service) creditContribution(ctx context.Context, uow UnitOfWork, scope *txScope, guildID, memberID string, points int64, now time.Time) (GuildContribution, int, error) {
	rec, ok, err := uow.GetContribution(ctx, guildID, memberID)
	if err != nil {
		return rec, 0, err
	}
	if !ok {
		rec = GuildContribution{GuildID: guildID, MemberID: memberID, Progress: s.econ.ContributionCurve.Start()}
	}
	if rec.Points > math.MaxInt64-points {
		rec.Points = math.MaxInt64
	} else {
		rec.Points += points
	}
	var levels int
	rec.Progress, levels = ApplyXP(rec.Progress, points, s.econ.ContributionCurve, s.econ.MaxLevel)
	if err := uow.SaveContribution(ctx, rec); err != nil {
		return rec, 0, err
	}
	scope.emit(Event{Kind: "guild.contribution", OwnerID: memberID, At: now, Data: map[string]any{"guild_id": guildID, "points": points}})
	return rec, levels, nil
}

// creditTrade counts one completed trade toward the member's guild, if any.
func (s *Service) creditTrade(ctx context.Context, uow UnitOfWork, scope *txScope, memberID string, now time.Time) error {
	guildID, ok, err := uow.GuildOf(ctx, memberID)
	if err != nil || !ok {
		return err
	}
	points, err := ContributionPoints(TradesContribution{Count: 1})
	if err != nil {
		return err
	}
	_, _, err = s.creditContribution(ctx, uow, scope, guildID, memberID, points, now)
	return err
}
