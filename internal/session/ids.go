package session

import "voxarena.gg/internal/sim/world"

// IDAllocator hands out the lowest free player id. A released id stays out of
// the pool for a cool-down so late packets for the old player can't be read
// as the new one's.
type IDAllocator struct {
	limit    int
	cooldown uint64
	inUse    map[world.PlayerID]struct{}
	released map[world.PlayerID]uint64 // id -> tick it becomes reusable
}

func NewIDAllocator(limit, cooldownTicks int) *IDAllocator {
	if limit < 1 || limit > 0xFFFF {
		limit = 0xFFFF
	}
	if cooldownTicks < 0 {
		cooldownTicks = 0
	}
	return &IDAllocator{
		limit:    limit,
		cooldown: uint64(cooldownTicks),
		inUse:    map[world.PlayerID]struct{}{},
		released: map[world.PlayerID]uint64{},
	}
}

func (a *IDAllocator) Acquire(tick uint64) (world.PlayerID, bool) {
	for n := 1; n <= a.limit; n++ {
		id := world.PlayerID(n)
		if _, ok := a.inUse[id]; ok {
			continue
		}
		if until, ok := a.released[id]; ok {
			if tick < until {
				continue
			}
			delete(a.released, id)
		}
		a.inUse[id] = struct{}{}
		return id, true
	}
	return 0, false
}

func (a *IDAllocator) Release(id world.PlayerID, tick uint64) {
	if _, ok := a.inUse[id]; !ok {
		return
	}
	delete(a.inUse, id)
	if a.cooldown > 0 {
		a.released[id] = tick + a.cooldown
	}
}

func (a *IDAllocator) InUse() int { return len(a.inUse) }
