package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Service) DispatchMission(ctx context.Context, in DispatchInput) (DispatchResult, error) {
	var out DispatchResult
	if err := validateOwner(in.OwnerID); err != nil {
		return out, err
	}
	def, ok := s.catalog.Mission(strings.TrimSpace(in.MissionID))
	if !ok {
		return out, notFoundf("mission %q", in.MissionID)
	}

	err := s.run(ctx, "dispatch_mission", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		if err := claimKey(ctx, uow, in.OwnerID, in.IdempotencyKey, "dispatch_mission"); err != nil {
			return err
		}
		now := s.clock.Now()

		if in.AgentID != 0 {
			agent, err := uow.GetAgent(ctx, in.AgentID)
			if err != nil {
				return err
			}
			if agent.OwnerID != in.OwnerID {
				return notFoundf("agent %d", in.AgentID)
			}
			if agent.Progress.Level < def.MinAgentLevel {
				return invalidf("mission %s requires agent level %d", def.ID, def.MinAgentLevel)
			}
			if err := uow.ClaimAgent(ctx, agent.ID, in.OwnerID); err != nil {
				return err
			}
		}

		m := MissionInstance{
			OwnerID:   in.OwnerID,
			MissionID: def.ID,
			AgentID:   in.AgentID,
			Status:    MissionActive,
			StartedAt: now,
			EndsAt:    now.Add(time.Duration(def.DurationMin) * time.Minute),
		}
		if err := uow.InsertMission(ctx, &m); err != nil {
			return fmt.Errorf("insert mission: %w", err)
		}
		out = DispatchResult{Mission: m, EstimatedCompletion: m.EndsAt}
		scope.emit(Event{Kind: "mission.dispatched", OwnerID: m.OwnerID, Ref: m.ID, At: now, Data: map[string]any{"mission_id": def.ID}})
		return nil
	})
	return out, err
}

// agentXP is the experience an agent earns for a finished mission.
func agentXP(base int64, tier Tier) int64 {
	switch tier {
	case TierCriticalFailure:
		return 0
	case TierPoor, TierFailure:
		return base / 2
	default:
		return base
	}
}

func (s *Service) CompleteMission(ctx context.Context, ownerID string, instanceID int64) (MissionResult, error) {
	var out MissionResult
	if err := validateOwner(ownerID); err != nil {
		return out, err
	}
	// Drawn once so a retried transaction resolves to the same outcome.
	roll := s.roller.Roll()

	err := s.run(ctx, "complete_mission", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		out = MissionResult{}
		now := s.clock.Now()

		m, err := uow.GetMission(ctx, instanceID)
		if err != nil {
			return err
		}
		if m.OwnerID != ownerID {
			return notFoundf("mission %d", instanceID)
		}
		if m.Status != MissionActive {
			return fmt.Errorf("%w: mission %d", ErrAlreadyComplete, m.ID)
		}
		if now.Before(m.EndsAt) {
			return fmt.Errorf("%w: mission %d ends at %s", ErrNotYetComplete, m.ID, m.EndsAt.Format(time.RFC3339))
		}
		def, ok := s.catalog.Mission(m.MissionID)
		if !ok {
			return notFoundf("mission definition %q", m.MissionID)
		}

		var agent *Agent
		mods := Modifiers{Distance: def.Distance, DurationMin: &def.DurationMin}
		if m.AgentID != 0 {
			a, err := uow.GetAgent(ctx, m.AgentID)
			if err != nil {
				return err
			}
			agent = &a
			mods.AgentBonus = a.SuccessBonus
		}

		outcome := ResolveOutcome(roll, def.Risk, mods)
		reward := ComputeReward(def.BaseGold, def.Items, outcome)

		if err := uow.FinishMission(ctx, m.ID, now, reward.Gold, outcome.Tier); err != nil {
			return err
		}
		m.Status = MissionCompleted
		done := now
		m.CompletedAt = &done
		m.ActualReward = reward.Gold
		m.Outcome = outcome.Tier

		if reward.Gold > 0 {
			meta := map[string]any{"mission_instance_id": m.ID, "mission_id": def.ID, "tier": string(outcome.Tier)}
			if _, err := mint(ctx, uow, now, ownerID, reward.Gold, ReasonMissionReward, uuid.NewString(), meta); err != nil {
				return err
			}
		}
		for _, it := range reward.Items {
			if _, err := uow.DepositItems(ctx, StackKey{Owner: ownerID, Item: it.Item, Location: LocationBackpack}, it.Count); err != nil {
				return fmt.Errorf("deposit %s: %w", it.Item, err)
			}
		}

		if agent != nil {
			agent.Progress, _ = ApplyXP(agent.Progress, agentXP(def.BaseXP, outcome.Tier), s.econ.AgentCurve, s.econ.MaxLevel)
			if err := uow.ReleaseAgent(ctx, agent.ID, agent.Progress); err != nil {
				return err
			}
			agent.Status = AgentIdle
		}

		out = MissionResult{
			Success:       outcome.Tier.Succeeded(),
			ActualReward:  reward.Gold,
			ItemsReceived: reward.Items,
			OutcomeType:   outcome.Tier,
			Roll:          outcome.Roll,
			Mission:       m,
			Agent:         agent,
		}
		scope.emit(Event{Kind: "mission.completed", OwnerID: ownerID, Ref: m.ID, At: now, Data: map[string]any{
			"tier": string(outcome.Tier), "gold": reward.Gold,
		}})
		return nil
	})
	if err != nil {
		return MissionResult{}, err
	}
	s.log.Info("mission completed", "mission_instance_id", instanceID, "tier", out.OutcomeType, "gold", out.ActualReward)
	return out, nil
}
