package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tradepost/internal/game"
)

// economyFile mirrors game.Economy with every field optional. Durations are
// Go duration strings ("5s").
type economyFile struct {
	FeeTiers          []game.FeeTier `toml:"fee_tiers"`
	ShortTimeout      string         `toml:"short_timeout"`
	LongTimeout       string         `toml:"long_timeout"`
	CraftingCurve     *game.Curve    `toml:"crafting_curve"`
	AgentCurve        *game.Curve    `toml:"agent_curve"`
	ContributionCurve *game.Curve    `toml:"contribution_curve"`
	MaxLevel          int            `toml:"max_level"`
	SweepBatch        int            `toml:"sweep_batch"`
}

// DefaultEconomy is the tuning used when no economy file is configured.
func DefaultEconomy() game.Economy {
	return game.DefaultEconomy()
}

// LoadEconomy overlays the TOML file at path onto DefaultEconomy. An empty
// path returns the defaults.
func LoadEconomy(path string) (game.Economy, error) {
	econ := DefaultEconomy()
	path = strings.TrimSpace(path)
	if path == "" {
		return econ, nil
	}
	var f economyFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return econ, fmt.Errorf("economy file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return econ, fmt.Errorf("economy file %s: unknown key %q", path, undecoded[0].String())
	}
	if err := f.apply(&econ); err != nil {
		return econ, fmt.Errorf("economy file %s: %w", path, err)
	}
	return econ, nil
}

// DecodeEconomy is LoadEconomy over an in-memory document.
func DecodeEconomy(doc string) (game.Economy, error) {
	econ := DefaultEconomy()
	var f economyFile
	md, err := toml.Decode(doc, &f)
	if err != nil {
		return econ, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return econ, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return econ, f.apply(&econ)
}

func (f economyFile) apply(econ *game.Economy) error {
	if len(f.FeeTiers) > 0 {
		for _, t := range f.FeeTiers {
			if t.MaxHours <= 0 || t.RateBps < 0 {
				return fmt.Errorf("invalid fee tier %+v", t)
			}
		}
		econ.FeeTiers = f.FeeTiers
	}
	if err := overlayDuration(&econ.ShortTimeout, "short_timeout", f.ShortTimeout); err != nil {
		return err
	}
	if err := overlayDuration(&econ.LongTimeout, "long_timeout", f.LongTimeout); err != nil {
		return err
	}
	for _, c := range []struct {
		name string
		src  *game.Curve
		dst  *game.Curve
	}{
		{"crafting_curve", f.CraftingCurve, &econ.CraftingCurve},
		{"agent_curve", f.AgentCurve, &econ.AgentCurve},
		{"contribution_curve", f.ContributionCurve, &econ.ContributionCurve},
	} {
		if c.src == nil {
			continue
		}
		if c.src.Base <= 0 || c.src.Step < 0 {
			return fmt.Errorf("%s: base must be > 0 and step >= 0", c.name)
		}
		*c.dst = *c.src
	}
	if f.MaxLevel > 0 {
		econ.MaxLevel = f.MaxLevel
	}
	if f.SweepBatch > 0 {
		econ.SweepBatch = f.SweepBatch
	}
	return nil
}

func overlayDuration(dst *time.Duration, name, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fmt.Errorf("%s: invalid duration %q", name, raw)
	}
	*dst = d
	return nil
}
