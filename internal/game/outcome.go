package game

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

func ParseRisk(s string) (Risk, error) {
	switch r := Risk(strings.ToUpper(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh:
		return r, nil
	default:
		return "", invalidf("unknown risk level %q", s)
	}
}

func (r Risk) offset() float64 {
	switch r {
	case RiskLow:
		return 20
	case RiskHigh:
		return -15
	default:
		return 0
	}
}

type Tier string

const (
	TierLegendary       Tier = "LEGENDARY"
	TierCritical        Tier = "CRITICAL"
	TierGood            Tier = "GOOD"
	TierNormal          Tier = "NORMAL"
	TierPoor            Tier = "POOR"
	TierFailure         Tier = "FAILURE"
	TierCriticalFailure Tier = "CRITICAL_FAILURE"
)

type tierRow struct {
	tier     Tier
	minRoll  float64
	goldMult float64
	itemMult float64
}

// Evaluated top-down; minRoll is inclusive.
var tierTable = []tierRow{
	{TierLegendary, 95, 2.0, 1.2},
	{TierCritical, 90, 1.5, 1.0},
	{TierGood, 70, 1.2, 1.0},
	{TierNormal, 40, 1.0, 1.0},
	{TierPoor, 20, 0.7, 0.75},
	{TierFailure, 5, 0.3, 0.25},
	{TierCriticalFailure, 0, 0.0, 0.0},
}

const highRiskGoldBonus = 1.25

// Succeeded reports whether the tier pays out at or above the Poor tier.
func (t Tier) Succeeded() bool {
	switch t {
	case TierFailure, TierCriticalFailure:
		return false
	default:
		return true
	}
}

// Modifiers are the roll shifts contributed by the agent and the route.
// A nil Distance or DurationMin is unknown and shifts nothing; zero is a
// real, short route.
type Modifiers struct {
	AgentBonus  int
	Distance    *int
	DurationMin *int
}

func (m Modifiers) shift() float64 {
	s := float64(m.AgentBonus) / 2
	if d := m.Distance; d != nil {
		switch {
		case *d > 200:
			s -= 3
		case *d < 100:
			s += 3
		}
	}
	if d := m.DurationMin; d != nil {
		switch {
		case *d > 300:
			s -= 2
		case *d < 180:
			s += 2
		}
	}
	return s
}

type Outcome struct {
	Tier           Tier    `json:"tier"`
	Roll           float64 `json:"roll"`
	GoldMultiplier float64 `json:"gold_multiplier"`
	ItemMultiplier float64 `json:"item_multiplier"`
	RiskBonus      float64 `json:"risk_bonus"`
}

// ResolveOutcome shifts a raw roll by risk and modifiers, clamps it to
// [0,100] and maps it onto the tier table.
func ResolveOutcome(roll float64, risk Risk, mods Modifiers) Outcome {
	final := roll + risk.offset() + mods.shift()
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}

	out := Outcome{Roll: final, RiskBonus: 1.0}
	if risk == RiskHigh {
		out.RiskBonus = highRiskGoldBonus
	}
	for _, row := range tierTable {
		if final >= row.minRoll {
			out.Tier = row.tier
			out.GoldMultiplier = row.goldMult
			out.ItemMultiplier = row.itemMult
			break
		}
	}
	return out
}

type Reward struct {
	Gold  int64       `json:"gold"`
	Items []ItemCount `json:"items"`
}

// ComputeReward floors gold and each item quantity; zero-quantity items are
// dropped from the payout.
func ComputeReward(baseGold int64, items []ItemCount, o Outcome) Reward {
	gold := decimal.NewFromInt(baseGold).
		Mul(decimal.NewFromFloat(o.GoldMultiplier)).
		Mul(decimal.NewFromFloat(o.RiskBonus)).
		Floor().
		IntPart()
	if gold < 0 {
		gold = 0
	}

	out := Reward{Gold: gold, Items: []ItemCount{}}
	itemMult := decimal.NewFromFloat(o.ItemMultiplier)
	for _, it := range items {
		qty := decimal.NewFromInt(it.Count).Mul(itemMult).Floor().IntPart()
		if qty <= 0 {
			continue
		}
		out.Items = append(out.Items, ItemCount{Item: it.Item, Count: qty})
	}
	return out
}
