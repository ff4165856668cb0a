package world

import (
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
)

type Config struct {
	Map    *voxel.Map
	Tuning tuning.Tuning
}

func (c *Config) applyDefaults() {
	if c.Tuning.TickRateHz <= 0 && len(c.Tuning.Weapons) == 0 {
		c.Tuning = tuning.Defaults()
		return
	}
	c.Tuning.Normalize()
}
