package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var batchBonus = decimal.RequireFromString("0.9")

// BatchMinutes is ceil(timeMin * qty * bonus), bonus 0.9 for qty > 1.
func BatchMinutes(timeMin int, qty int64) int64 {
	if timeMin <= 0 || qty <= 0 {
		return 0
	}
	total := decimal.NewFromInt(int64(timeMin)).Mul(decimal.NewFromInt(qty))
	if qty > 1 {
		total = total.Mul(batchBonus)
	}
	return total.Ceil().IntPart()
}

func (s *Service) progress(ctx context.Context, uow UnitOfWork, owner, skill string, c Curve) (Progress, error) {
	p, ok, err := uow.GetProgress(ctx, owner, skill)
	if err != nil {
		return Progress{}, err
	}
	if !ok {
		return c.Start(), nil
	}
	return p, nil
}

func (s *Service) StartCraft(ctx context.Context, in StartCraftInput) (StartCraftResult, error) {
	var out StartCraftResult
	if err := validateOwner(in.OwnerID); err != nil {
		return out, err
	}
	bp, ok := s.catalog.Blueprint(strings.TrimSpace(in.BlueprintID))
	if !ok {
		return out, notFoundf("blueprint %q", in.BlueprintID)
	}
	if in.Quantity <= 0 || in.Quantity > MaxCraftBatch {
		return out, invalidf("quantity must be between 1 and %d", MaxCraftBatch)
	}

	err := s.run(ctx, "start_craft", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		out = StartCraftResult{}
		if err := claimKey(ctx, uow, in.OwnerID, in.IdempotencyKey, "start_craft"); err != nil {
			return err
		}
		now := s.clock.Now()

		if !bp.Starter {
			p, err := s.progress(ctx, uow, in.OwnerID, SkillCrafting, s.econ.CraftingCurve)
			if err != nil {
				return err
			}
			if p.Level < bp.RequiredLevel {
				return invalidf("blueprint %s requires crafting level %d, have %d", bp.ID, bp.RequiredLevel, p.Level)
			}
			unlocked, err := uow.HasUnlock(ctx, in.OwnerID, bp.ID)
			if err != nil {
				return err
			}
			if !unlocked {
				return invalidf("blueprint %s is not unlocked", bp.ID)
			}
		}

		materials := make([]ItemCount, 0, len(bp.Inputs))
		for _, input := range bp.Inputs {
			materials = append(materials, ItemCount{Item: input.Item, Count: input.Count * in.Quantity})
		}
		// Check everything first so the error names the first short item.
		for _, m := range materials {
			key := StackKey{Owner: in.OwnerID, Item: m.Item, Location: LocationBackpack}
			have, err := uow.StackQuantity(ctx, key)
			if err != nil {
				return err
			}
			if have < m.Count {
				return &ShortfallError{Kind: ErrInsufficientInventory, Item: m.Item, Required: m.Count, Available: have}
			}
		}
		for _, m := range materials {
			key := StackKey{Owner: in.OwnerID, Item: m.Item, Location: LocationBackpack}
			if _, err := uow.WithdrawItems(ctx, key, m.Count); err != nil {
				return inventoryShortfall(ctx, uow, err, key, m.Count)
			}
		}

		minutes := BatchMinutes(bp.TimeMin, in.Quantity)
		job := CraftJob{
			OwnerID:     in.OwnerID,
			BlueprintID: bp.ID,
			Quantity:    in.Quantity,
			Status:      CraftRunning,
			StartedAt:   now,
			ETA:         now.Add(time.Duration(minutes) * time.Minute),
		}
		if err := uow.InsertCraftJob(ctx, &job); err != nil {
			return fmt.Errorf("insert craft job: %w", err)
		}
		out = StartCraftResult{CraftJob: job, MaterialsConsumed: materials, EstimatedCompletionTime: job.ETA}
		scope.emit(Event{Kind: "craft.started", OwnerID: in.OwnerID, Ref: job.ID, At: now, Data: map[string]any{"blueprint_id": bp.ID, "quantity": in.Quantity}})
		return nil
	})
	return out, err
}

func (s *Service) CompleteCraft(ctx context.Context, ownerID string, jobID int64) (CompleteCraftResult, error) {
	var out CompleteCraftResult
	if err := validateOwner(ownerID); err != nil {
		return out, err
	}
	err := s.run(ctx, "complete_craft", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		out = CompleteCraftResult{}
		now := s.clock.Now()

		job, err := uow.GetCraftJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.OwnerID != ownerID {
			return notFoundf("craft job %d", jobID)
		}
		if job.Status != CraftRunning {
			return fmt.Errorf("%w: craft job %d", ErrAlreadyComplete, job.ID)
		}
		if now.Before(job.ETA) {
			return fmt.Errorf("%w: craft job %d ready at %s", ErrNotYetComplete, job.ID, job.ETA.Format(time.RFC3339))
		}
		bp, ok := s.catalog.Blueprint(job.BlueprintID)
		if !ok {
			return notFoundf("blueprint %q", job.BlueprintID)
		}

		if err := uow.FinishCraftJob(ctx, job.ID, now); err != nil {
			return err
		}
		job.Status = CraftComplete
		done := now
		job.CompletedAt = &done

		granted := ItemCount{Item: bp.OutputItem, Count: job.Quantity * bp.OutputQty}
		if _, err := uow.DepositItems(ctx, StackKey{Owner: ownerID, Item: granted.Item, Location: LocationBackpack}, granted.Count); err != nil {
			return fmt.Errorf("deposit output: %w", err)
		}

		p, err := s.progress(ctx, uow, ownerID, SkillCrafting, s.econ.CraftingCurve)
		if err != nil {
			return err
		}
		xp := bp.XPReward * job.Quantity
		p, levels := ApplyXP(p, xp, s.econ.CraftingCurve, s.econ.MaxLevel)
		if err := uow.SaveProgress(ctx, ownerID, SkillCrafting, p); err != nil {
			return err
		}

		out = CompleteCraftResult{CraftJob: job, ItemsGranted: granted, XPGained: xp, LevelsGained: levels, Progress: p}
		scope.emit(Event{Kind: "craft.completed", OwnerID: ownerID, Ref: job.ID, At: now, Data: map[string]any{
			"item_id": granted.Item, "quantity": granted.Count, "levels_gained": levels,
		}})
		return nil
	})
	return out, err
}

// UnlockBlueprint records an unlock once the owner's crafting level allows it.
// Unlocking twice is a no-op; starter blueprints need no unlock.
func (s *Service) UnlockBlueprint(ctx context.Context, ownerID, blueprintID string) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}
	bp, ok := s.catalog.Blueprint(strings.TrimSpace(blueprintID))
	if !ok {
		return notFoundf("blueprint %q", blueprintID)
	}
	if bp.Starter {
		return nil
	}
	return s.run(ctx, "unlock_blueprint", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		p, err := s.progress(ctx, uow, ownerID, SkillCrafting, s.econ.CraftingCurve)
		if err != nil {
			return err
		}
		if p.Level < bp.RequiredLevel {
			return invalidf("blueprint %s requires crafting level %d, have %d", bp.ID, bp.RequiredLevel, p.Level)
		}
		return uow.InsertUnlock(ctx, ownerID, bp.ID, s.clock.Now())
	})
}
