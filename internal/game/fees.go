package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeTier charges RateBps of the listing value for durations up to MaxHours.
type FeeTier struct {
	MaxHours int   `toml:"max_hours"`
	RateBps  int64 `toml:"rate_bps"`
}

type Economy struct {
	FeeTiers          []FeeTier     `toml:"fee_tiers"`
	ShortTimeout      time.Duration `toml:"short_timeout"`
	LongTimeout       time.Duration `toml:"long_timeout"`
	CraftingCurve     Curve         `toml:"crafting_curve"`
	AgentCurve        Curve         `toml:"agent_curve"`
	ContributionCurve Curve         `toml:"contribution_curve"`
	MaxLevel          int           `toml:"max_level"`
	SweepBatch        int           `toml:"sweep_batch"`
}

func DefaultEconomy() Economy {
	return Economy{
		// U-shaped around the 24h baseline.
		FeeTiers: []FeeTier{
			{MaxHours: 6, RateBps: 700},
			{MaxHours: 12, RateBps: 600},
			{MaxHours: 24, RateBps: 500},
			{MaxHours: 48, RateBps: 600},
			{MaxHours: 72, RateBps: 800},
		},
		ShortTimeout:      5 * time.Second,
		LongTimeout:       10 * time.Second,
		CraftingCurve:     Curve{Base: 100, Step: 50},
		AgentCurve:        Curve{Base: 200, Step: 100},
		ContributionCurve: Curve{Base: 250, Step: 250},
		MaxLevel:          100,
		SweepBatch:        200,
	}
}

// MaxDurationHours is the longest listing duration with a configured rate.
func (e Economy) MaxDurationHours() int {
	max := 0
	for _, t := range e.FeeTiers {
		if t.MaxHours > max {
			max = t.MaxHours
		}
	}
	return max
}

func (e Economy) feeRateBps(hours int) (int64, bool) {
	best := -1
	for i, t := range e.FeeTiers {
		if hours > t.MaxHours {
			continue
		}
		if best < 0 || t.MaxHours < e.FeeTiers[best].MaxHours {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return e.FeeTiers[best].RateBps, true
}

// ListingFee is ceil(value * rate(duration)).
func (e Economy) ListingFee(value int64, durationHours int) (int64, error) {
	if value <= 0 {
		return 0, invalidf("listing value must be > 0")
	}
	if durationHours <= 0 {
		return 0, invalidf("duration must be > 0 hours")
	}
	bps, ok := e.feeRateBps(durationHours)
	if !ok {
		return 0, invalidf("duration %dh exceeds maximum %dh", durationHours, e.MaxDurationHours())
	}
	fee := decimal.NewFromInt(value).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10_000)).
		Ceil()
	return fee.IntPart(), nil
}

// AllianceDiscount is ceil(baseFee * pct / 100), capped at baseFee. The
// discounted fee is baseFee minus this value, not ceil(baseFee*(1-pct/100)).
func AllianceDiscount(baseFee int64, pct int) int64 {
	if baseFee <= 0 || pct <= 0 {
		return 0
	}
	if pct > 100 {
		pct = 100
	}
	d := decimal.NewFromInt(baseFee).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Ceil().
		IntPart()
	if d > baseFee {
		return baseFee
	}
	return d
}
