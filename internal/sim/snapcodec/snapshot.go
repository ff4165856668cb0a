// Package snapcodec captures frozen world snapshots and encodes them as full
// or delta packets for the wire.
package snapcodec

import (
	"fmt"
	"sort"

	"voxarena.gg/internal/sim/mathx"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

// Snapshot is an immutable copy of one tick's state, sorted by id. It shares
// nothing with the World it came from, so it can be read from any goroutine.
type Snapshot struct {
	Tick           uint64
	TeamScore      [world.NumTeams]int
	NextProjectile world.ProjectileID
	SpawnCursor    int
	RngState       uint64

	Players     []world.PlayerState
	Projectiles []world.ProjectileState
	Pickups     []world.PickupState
}

func Capture(w *world.World) *Snapshot {
	s := &Snapshot{
		Tick:           w.Tick,
		TeamScore:      w.TeamScore,
		NextProjectile: w.NextProjectile,
		SpawnCursor:    w.SpawnCursor,
		RngState:       w.Rng.State,
		Players:        make([]world.PlayerState, 0, len(w.Players)),
		Projectiles:    make([]world.ProjectileState, 0, len(w.Projectiles)),
		Pickups:        make([]world.PickupState, 0, len(w.Pickups)),
	}
	for _, id := range w.PlayerIDs() {
		s.Players = append(s.Players, *w.Players[id])
	}
	for _, id := range w.ProjectileIDs() {
		s.Projectiles = append(s.Projectiles, *w.Projectiles[id])
	}
	for _, id := range w.PickupIDs() {
		s.Pickups = append(s.Pickups, *w.Pickups[id])
	}
	return s
}

func (s *Snapshot) Player(id world.PlayerID) (world.PlayerState, bool) {
	i := sort.Search(len(s.Players), func(i int) bool { return s.Players[i].ID >= id })
	if i < len(s.Players) && s.Players[i].ID == id {
		return s.Players[i], true
	}
	return world.PlayerState{}, false
}

// Validate reports references the snapshot makes outside what t defines.
// A snapshot that passes can be stepped under t.
func (s *Snapshot) Validate(t tuning.Tuning) error {
	n := len(t.Weapons)
	for _, p := range s.Players {
		if int(p.Weapon) >= n {
			return protoErr(fmt.Errorf("player %d: weapon %d of %d", p.ID, p.Weapon, n))
		}
	}
	for _, pr := range s.Projectiles {
		if int(pr.Weapon) >= n {
			return protoErr(fmt.Errorf("projectile %d: weapon %d of %d", pr.ID, pr.Weapon, n))
		}
	}
	for _, k := range s.Pickups {
		if k.Kind == world.PickupWeapon && int(k.Weapon) >= n {
			return protoErr(fmt.Errorf("pickup %d: weapon %d of %d", k.ID, k.Weapon, n))
		}
	}
	return nil
}

// ToWorld rebuilds a World from the snapshot on the given map, for client
// prediction and replay.
func (s *Snapshot) ToWorld(m *voxel.Map, t tuning.Tuning) *world.World {
	w := &world.World{
		Tick:           s.Tick,
		TeamScore:      s.TeamScore,
		NextProjectile: s.NextProjectile,
		SpawnCursor:    s.SpawnCursor,
		Rng:            mathx.Rng{State: s.RngState},
		Map:            m,
		Tuning:         t,
		Players:        make(map[world.PlayerID]*world.PlayerState, len(s.Players)),
		Projectiles:    make(map[world.ProjectileID]*world.ProjectileState, len(s.Projectiles)),
		Pickups:        make(map[world.PickupID]*world.PickupState, len(s.Pickups)),
	}
	for i := range s.Players {
		p := s.Players[i]
		w.Players[p.ID] = &p
	}
	for i := range s.Projectiles {
		pr := s.Projectiles[i]
		w.Projectiles[pr.ID] = &pr
	}
	for i := range s.Pickups {
		k := s.Pickups[i]
		w.Pickups[k.ID] = &k
	}
	return w
}

// History keeps the last N snapshots by tick. Server: delta baselines per
// client ack. Client: received baselines.
type History struct {
	buf []*Snapshot
}

func NewHistory(n int) *History {
	if n < 1 {
		n = 1
	}
	return &History{buf: make([]*Snapshot, n)}
}

func (h *History) Put(s *Snapshot) {
	h.buf[s.Tick%uint64(len(h.buf))] = s
}

func (h *History) Get(tick uint64) (*Snapshot, bool) {
	s := h.buf[tick%uint64(len(h.buf))]
	if s == nil || s.Tick != tick {
		return nil, false
	}
	return s, true
}
