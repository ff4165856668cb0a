package world

import (
	"fmt"
	"sort"

	"voxarena.gg/internal/sim/mathx"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
)

type (
	PlayerID     uint16
	ProjectileID uint32
	PickupID     uint16
)

// EntityKind tags the closed set of simulated entities.
type EntityKind uint8

const (
	KindPlayer EntityKind = iota + 1
	KindProjectile
	KindPickup
)

type Team uint8

const (
	TeamNone Team = iota
	TeamRed
	TeamBlue
	TeamGreen
	NumTeams
)

func (t Team) String() string {
	switch t {
	case TeamRed:
		return "red"
	case TeamBlue:
		return "blue"
	case TeamGreen:
		return "green"
	default:
		return ""
	}
}

func ParseTeam(s string) Team {
	switch s {
	case "red":
		return TeamRed
	case "blue":
		return TeamBlue
	case "green":
		return TeamGreen
	default:
		return TeamNone
	}
}

const MaxWeapons = 8

type PlayerState struct {
	ID     PlayerID
	Name   string
	Avatar uint8
	Team   Team

	Pos   mathx.Vec3 // feet
	Vel   mathx.Vec3
	Yaw   uint16 // turn units
	Pitch int16

	Health   int
	Ammo     [MaxWeapons]int
	Weapon   uint8
	Owned    uint8 // weapon bitmask
	Cooldown int

	Alive       bool
	RespawnTick uint64
	RespawnPos  mathx.Vec3
	RespawnYaw  uint16
	InvulnUntil uint64

	LastSeq uint32
	Kills   int
	Deaths  int
}

func (p *PlayerState) Owns(weapon uint8) bool {
	return weapon < MaxWeapons && p.Owned&(1<<weapon) != 0
}

type ProjectileState struct {
	ID         ProjectileID
	Owner      PlayerID
	Weapon     uint8
	Pos        mathx.Vec3
	Vel        mathx.Vec3
	SpawnTick  uint64
	ExpireTick uint64
}

type PickupKind uint8

const (
	PickupHealth PickupKind = iota + 1
	PickupAmmo
	PickupWeapon
)

func ParsePickupKind(s string) (PickupKind, error) {
	switch s {
	case "health":
		return PickupHealth, nil
	case "ammo":
		return PickupAmmo, nil
	case "weapon":
		return PickupWeapon, nil
	}
	return 0, fmt.Errorf("unknown pickup kind %q", s)
}

type PickupState struct {
	ID            PickupID
	Kind          PickupKind
	Weapon        uint8
	Pos           mathx.Vec3
	Active        bool
	CooldownUntil uint64
}

type EventKind uint8

const (
	EventJoin EventKind = iota + 1
	EventLeave
	EventKill
	EventSuicide
	EventPickup
	EventRespawn
)

// Event is a per-tick notice for kill feeds and logs. Events never feed back
// into the simulation.
type Event struct {
	Tick   uint64
	Kind   EventKind
	Actor  PlayerID
	Target PlayerID
	Weapon uint8
}

// World is the whole simulated state. The server owns exactly one and only
// replaces it through Step; clients keep a predicted copy.
type World struct {
	Tick uint64

	Players     map[PlayerID]*PlayerState
	Projectiles map[ProjectileID]*ProjectileState
	Pickups     map[PickupID]*PickupState

	// Per team kill totals, indexed by Team.
	TeamScore [NumTeams]int

	Map    *voxel.Map
	Tuning tuning.Tuning

	Rng            mathx.Rng
	NextProjectile ProjectileID
	SpawnCursor    int

	// Events emitted by the Step that produced this World.
	Events []Event
}

func New(cfg Config) (*World, error) {
	cfg.applyDefaults()
	if cfg.Map == nil {
		return nil, fmt.Errorf("world: nil map")
	}
	if len(cfg.Map.Meta.Spawns) == 0 {
		return nil, fmt.Errorf("world: map %s has no spawn points", cfg.Map.Name)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	w := &World{
		Players:        map[PlayerID]*PlayerState{},
		Projectiles:    map[ProjectileID]*ProjectileState{},
		Pickups:        map[PickupID]*PickupState{},
		Map:            cfg.Map,
		Tuning:         cfg.Tuning,
		Rng:            mathx.NewRng(cfg.Tuning.Seed),
		NextProjectile: 1,
	}
	w.SpawnCursor = w.Rng.Intn(len(cfg.Map.Meta.Spawns))
	for i, pp := range cfg.Map.Meta.Pickups {
		kind, err := ParsePickupKind(pp.Kind)
		if err != nil {
			return nil, fmt.Errorf("world: pickup %d: %w", i, err)
		}
		if kind == PickupWeapon && pp.Weapon >= len(cfg.Tuning.Weapons) {
			return nil, fmt.Errorf("world: pickup %d: unknown weapon %d", i, pp.Weapon)
		}
		id := PickupID(i + 1)
		w.Pickups[id] = &PickupState{
			ID:     id,
			Kind:   kind,
			Weapon: uint8(pp.Weapon),
			Pos:    mathx.V(pp.X, pp.Y, pp.Z).Quantized(),
			Active: true,
		}
	}
	return w, nil
}

// Clone deep-copies the mutable state. Map and Tuning are shared read-only.
func (w *World) Clone() *World {
	c := *w
	c.Players = make(map[PlayerID]*PlayerState, len(w.Players))
	for id, p := range w.Players {
		cp := *p
		c.Players[id] = &cp
	}
	c.Projectiles = make(map[ProjectileID]*ProjectileState, len(w.Projectiles))
	for id, pr := range w.Projectiles {
		cp := *pr
		c.Projectiles[id] = &cp
	}
	c.Pickups = make(map[PickupID]*PickupState, len(w.Pickups))
	for id, pk := range w.Pickups {
		cp := *pk
		c.Pickups[id] = &cp
	}
	c.Events = nil
	return &c
}

func (w *World) PlayerIDs() []PlayerID {
	ids := make([]PlayerID, 0, len(w.Players))
	for id := range w.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *World) ProjectileIDs() []ProjectileID {
	ids := make([]ProjectileID, 0, len(w.Projectiles))
	for id := range w.Projectiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *World) PickupIDs() []PickupID {
	ids := make([]PickupID, 0, len(w.Pickups))
	for id := range w.Pickups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Join adds a player at the next spawn point. Only the tick loop calls it,
// between steps.
func (w *World) Join(id PlayerID, name string, avatar uint8, team Team) (*PlayerState, error) {
	if _, ok := w.Players[id]; ok {
		return nil, fmt.Errorf("world: player %d already present", id)
	}
	if w.Tuning.Team() {
		if team == TeamNone || team >= NumTeams {
			team = w.smallestTeam()
		}
	} else {
		team = TeamNone
	}
	p := &PlayerState{ID: id, Name: name, Avatar: avatar, Team: team}
	pos, yaw := w.selectSpawn(p)
	w.spawn(p, pos, yaw)
	w.Players[id] = p
	w.Events = append(w.Events, Event{Tick: w.Tick, Kind: EventJoin, Actor: id})
	return p, nil
}

// Leave removes a player. Projectiles already in flight keep flying.
func (w *World) Leave(id PlayerID) bool {
	if _, ok := w.Players[id]; !ok {
		return false
	}
	delete(w.Players, id)
	w.Events = append(w.Events, Event{Tick: w.Tick, Kind: EventLeave, Actor: id})
	return true
}

func (w *World) smallestTeam() Team {
	var n [NumTeams]int
	for _, p := range w.Players {
		n[p.Team]++
	}
	if n[TeamBlue] < n[TeamRed] {
		return TeamBlue
	}
	return TeamRed
}

// spawn resets a player to a fresh life at pos.
func (w *World) spawn(p *PlayerState, pos mathx.Vec3, yaw uint16) {
	t := w.Tuning
	p.Pos = pos.Quantized()
	p.Vel = mathx.Vec3{}
	p.Yaw = yaw
	p.Pitch = 0
	p.Health = t.Combat.MaxHealth
	p.Owned = 0
	p.Ammo = [MaxWeapons]int{}
	p.Weapon = 0
	for i, wp := range t.Weapons {
		if wp.StartOwned {
			if p.Owned == 0 {
				p.Weapon = uint8(i)
			}
			p.Owned |= 1 << uint(i)
			p.Ammo[i] = wp.StartAmmo
		}
	}
	p.Cooldown = 0
	p.Alive = true
	p.RespawnTick = 0
	p.InvulnUntil = w.Tick + uint64(t.Combat.InvulnTicks)
}

// selectSpawn picks the first spawn point, starting at the round-robin
// cursor, that is at least SpawnMinDistance from every living player other
// than p. With none clear it takes the cursor point. The cursor advances
// either way. Positions come back quantized so they survive the wire.
func (w *World) selectSpawn(p *PlayerState) (mathx.Vec3, uint16) {
	points := w.spawnPointsFor(p.Team)
	n := len(points)
	minDist := w.Tuning.Combat.SpawnMinDistance
	start := w.SpawnCursor
	w.SpawnCursor++
	for i := 0; i < n; i++ {
		sp := points[(start+i)%n]
		pos := mathx.V(sp.X, sp.Y, sp.Z).Quantized()
		clear := true
		for _, o := range w.Players {
			if o.ID == p.ID || !o.Alive {
				continue
			}
			if o.Pos.Dist(pos) < minDist {
				clear = false
				break
			}
		}
		if clear {
			return pos, sp.Yaw
		}
	}
	sp := points[start%n]
	return mathx.V(sp.X, sp.Y, sp.Z).Quantized(), sp.Yaw
}

func (w *World) spawnPointsFor(team Team) []voxel.SpawnPoint {
	all := w.Map.Meta.Spawns
	if team == TeamNone {
		return all
	}
	var out []voxel.SpawnPoint
	for _, sp := range all {
		if sp.Team == team.String() {
			out = append(out, sp)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
