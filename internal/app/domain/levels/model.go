package levels

import (
	"fmt"
	"sort"
)

// Threshold marks the minimum cumulative XP at which a level begins.
type Threshold struct {
	Level int
	MinXP int64
}

// Curve is an ordered threshold table mapping cumulative XP to a level.
// A valid curve starts at level 1 with MinXP 0 and is strictly increasing
// in both level and MinXP.
type Curve struct {
	Thresholds []Threshold
}

// Resolution brackets a cumulative XP value: the level it resolves to and
// the thresholds on either side. At the top level NextLevelXP equals
// CurrentLevelXP, which callers use to detect the plateau.
type Resolution struct {
	Level          int
	CurrentLevelXP int64
	NextLevelXP    int64
}

// Validate checks curve shape. Curves are validated once at load; resolution
// never fails afterwards.
func (c Curve) Validate() error {
	if len(c.Thresholds) == 0 {
		return fmt.Errorf("curve has no thresholds")
	}
	first := c.Thresholds[0]
	if first.Level != 1 {
		return fmt.Errorf("curve must start at level 1, got %d", first.Level)
	}
	if first.MinXP != 0 {
		return fmt.Errorf("level 1 must start at 0 xp, got %d", first.MinXP)
	}
	for i := 1; i < len(c.Thresholds); i++ {
		prev, cur := c.Thresholds[i-1], c.Thresholds[i]
		if cur.Level <= prev.Level {
			return fmt.Errorf("levels must strictly increase: %d after %d", cur.Level, prev.Level)
		}
		if cur.MinXP <= prev.MinXP {
			return fmt.Errorf("xp thresholds must strictly increase: level %d has %d after %d", cur.Level, cur.MinXP, prev.MinXP)
		}
	}
	return nil
}

// LevelForXp resolves cumulative XP via a floor lookup: the greatest
// threshold with MinXP <= xp wins. Negative input clamps to the first
// threshold.
func (c Curve) LevelForXp(xp int64) Resolution {
	idx := sort.Search(len(c.Thresholds), func(i int) bool {
		return c.Thresholds[i].MinXP > xp
	}) - 1
	if idx < 0 {
		idx = 0
	}

	res := Resolution{
		Level:          c.Thresholds[idx].Level,
		CurrentLevelXP: c.Thresholds[idx].MinXP,
	}
	if idx+1 < len(c.Thresholds) {
		res.NextLevelXP = c.Thresholds[idx+1].MinXP
	} else {
		res.NextLevelXP = res.CurrentLevelXP
	}
	return res
}

// MaxLevel reports the highest level the curve defines.
func (c Curve) MaxLevel() int {
	if len(c.Thresholds) == 0 {
		return 0
	}
	return c.Thresholds[len(c.Thresholds)-1].Level
}

// RewardBundle maps a currency kind to the amount credited on first
// attainment of a level. Empty bundles are valid and mean no reward.
type RewardBundle map[string]int64

// Clone returns an independent copy of the bundle.
func (b RewardBundle) Clone() RewardBundle {
	if b == nil {
		return nil
	}
	out := make(RewardBundle, len(b))
	for kind, amount := range b {
		out[kind] = amount
	}
	return out
}

// Table holds the per-level reward bundles.
type Table struct {
	Bundles map[int]RewardBundle
}

// Validate checks that every configured bundle is well formed: positive
// levels, non-empty currency kinds, positive amounts.
func (t Table) Validate() error {
	for level, bundle := range t.Bundles {
		if level <= 0 {
			return fmt.Errorf("reward table level must be positive, got %d", level)
		}
		for kind, amount := range bundle {
			if kind == "" {
				return fmt.Errorf("reward table level %d has an empty currency kind", level)
			}
			if amount <= 0 {
				return fmt.Errorf("reward table level %d kind %s must have a positive amount, got %d", level, kind, amount)
			}
		}
	}
	return nil
}

// RewardsFor returns the bundle for a level, or an empty bundle when the
// level has no configured reward. Never an error.
func (t Table) RewardsFor(level int) RewardBundle {
	if bundle, ok := t.Bundles[level]; ok {
		return bundle.Clone()
	}
	return RewardBundle{}
}
