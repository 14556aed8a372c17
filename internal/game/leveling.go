package game

// maxLevelIterations bounds a single ApplyXP call regardless of the gain.
const maxLevelIterations = 10_000

type Progress struct {
	Level  int   `json:"level"`
	XP     int64 `json:"xp"`
	XPNext int64 `json:"xp_next"`
}

// Curve is the XP cost of leaving a level: Base + (level-1)*Step.
// Crafting uses {100, 50}; agents use {200, 100}, i.e. (level+1)*100.
type Curve struct {
	Base int64 `toml:"base"`
	Step int64 `toml:"step"`
}

func (c Curve) Cost(level int) int64 {
	if level < 1 {
		level = 1
	}
	cost := c.Base + int64(level-1)*c.Step
	if cost < 1 {
		return 1
	}
	return cost
}

func (c Curve) Start() Progress {
	return Progress{Level: 1, XP: 0, XPNext: c.Cost(1)}
}

// ApplyXP adds gain and carries overflow into levels until xp < xpNext or
// maxLevel is reached. It returns the new progress and the levels gained.
func ApplyXP(p Progress, gain int64, c Curve, maxLevel int) (Progress, int) {
	if p.Level < 1 {
		p = c.Start()
	}
	if p.XPNext <= 0 {
		p.XPNext = c.Cost(p.Level)
	}
	if gain > 0 {
		p.XP += gain
	}
	if maxLevel < 1 {
		maxLevel = 1
	}

	gained := 0
	for i := 0; i < maxLevelIterations && p.XP >= p.XPNext && p.Level < maxLevel; i++ {
		p.XP -= p.XPNext
		p.Level++
		p.XPNext = c.Cost(p.Level)
		gained++
	}
	return p, gained
}
