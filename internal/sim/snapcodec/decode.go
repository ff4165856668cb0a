package snapcodec

import (
	"errors"
	"fmt"
	"sort"

	"voxarena.gg/internal/sim/world"
)

type PlayerPatch struct {
	Mask  uint64
	State world.PlayerState
}

type ProjectilePatch struct {
	Mask  uint64
	State world.ProjectileState
}

type PickupPatch struct {
	Mask  uint64
	State world.PickupState
}

// Packet is a decoded but unresolved snapshot payload.
type Packet struct {
	Tick  uint64
	Base  uint64
	Delta bool

	NextProjectile world.ProjectileID
	SpawnCursor    int
	RngState       uint64
	TeamScore      [world.NumTeams]int

	Players            []PlayerPatch
	RemovedPlayers     []world.PlayerID
	Projectiles        []ProjectilePatch
	RemovedProjectiles []world.ProjectileID
	Pickups            []PickupPatch
	RemovedPickups     []world.PickupID
}

// Decode parses a snapshot payload. Any malformation, including an entity
// count that does not fit the payload length, yields protocol.ErrProtocol.
func Decode(b []byte) (*Packet, error) {
	r := &reader{b: b}
	if r.u8() != magic {
		return nil, protoErr(errors.New("bad magic"))
	}
	if v := r.u8(); v != version {
		return nil, protoErr(fmt.Errorf("unsupported version %d", v))
	}
	flags := r.u8()
	if flags&^flagDelta != 0 {
		return nil, protoErr(fmt.Errorf("unknown flags %#x", flags))
	}
	pk := &Packet{Delta: flags&flagDelta != 0}
	pk.Tick = r.uvarint()
	if pk.Delta {
		pk.Base = r.uvarint()
		if r.err == nil && pk.Base >= pk.Tick {
			r.fail(fmt.Errorf("base tick %d not before %d", pk.Base, pk.Tick))
		}
	}
	pk.NextProjectile = world.ProjectileID(r.uvarint())
	pk.SpawnCursor = int(r.uvarint())
	pk.RngState = r.u64()
	for i := range pk.TeamScore {
		pk.TeamScore[i] = int(r.varint())
	}

	pk.decodePlayers(r)
	pk.decodeProjectiles(r)
	pk.decodePickups(r)

	if r.err == nil && r.remaining() != 0 {
		r.fail(fmt.Errorf("%d trailing bytes", r.remaining()))
	}
	if r.err != nil {
		return nil, protoErr(r.err)
	}
	return pk, nil
}

// checkMask validates one record's mask for the packet kind.
func (pk *Packet) checkMask(r *reader, mask, all uint64) {
	if err := unknownBits(mask, all); err != nil {
		r.fail(err)
		return
	}
	if mask == 0 {
		r.fail(errors.New("empty field mask"))
		return
	}
	if !pk.Delta && mask != all {
		r.fail(errors.New("partial record in full snapshot"))
	}
}

// ids must be strictly increasing within a section.
func ascending(r *reader, prev *uint64, id uint64, first bool) {
	if !first && id <= *prev {
		r.fail(fmt.Errorf("id %d out of order", id))
	}
	*prev = id
}

func weapon(r *reader) uint8 {
	v := r.u8()
	if r.err == nil && v >= world.MaxWeapons {
		r.fail(fmt.Errorf("weapon %d out of range", v))
	}
	return v
}

func (pk *Packet) removed(r *reader, max uint64) []uint64 {
	n := r.count(1)
	if n > 0 && !pk.Delta {
		r.fail(errors.New("removals in full snapshot"))
		return nil
	}
	out := make([]uint64, 0, n)
	var prev uint64
	for i := 0; i < n && r.err == nil; i++ {
		id := r.uvarint()
		if id > max {
			r.fail(fmt.Errorf("removed id %d out of range", id))
		}
		ascending(r, &prev, id, i == 0)
		out = append(out, id)
	}
	return out
}

func (pk *Packet) decodePlayers(r *reader) {
	n := r.count(2)
	var prev uint64
	for i := 0; i < n && r.err == nil; i++ {
		id := r.uvarint()
		if id > 0xFFFF {
			r.fail(fmt.Errorf("player id %d out of range", id))
		}
		ascending(r, &prev, id, i == 0)
		mask := r.uvarint()
		pk.checkMask(r, mask, pfAll)
		p := world.PlayerState{ID: world.PlayerID(id)}
		if mask&pfMeta != 0 {
			p.Name = r.str(maxName)
			p.Avatar = r.u8()
			p.Team = world.Team(r.u8())
			if p.Team >= world.NumTeams {
				r.fail(fmt.Errorf("bad team %d", p.Team))
			}
		}
		if mask&pfPos != 0 {
			p.Pos = r.vec()
		}
		if mask&pfVel != 0 {
			p.Vel = r.vec()
		}
		if mask&pfLook != 0 {
			p.Yaw = r.u16()
			p.Pitch = int16(r.u16())
		}
		if mask&pfHealth != 0 {
			p.Health = int(r.varint())
		}
		if mask&pfArsenal != 0 {
			na := r.uvarint()
			if na > world.MaxWeapons {
				r.fail(fmt.Errorf("ammo count %d", na))
				na = 0
			}
			for k := 0; k < int(na); k++ {
				p.Ammo[k] = int(r.varint())
			}
			p.Weapon = weapon(r)
			p.Owned = r.u8()
			p.Cooldown = int(r.varint())
		}
		if mask&pfLife != 0 {
			p.Alive = r.boolean()
			p.RespawnTick = r.uvarint()
			p.RespawnPos = r.vec()
			p.RespawnYaw = r.u16()
			p.InvulnUntil = r.uvarint()
		}
		if mask&pfSeq != 0 {
			seq := r.uvarint()
			if seq > 0xFFFFFFFF {
				r.fail(fmt.Errorf("seq %d out of range", seq))
			}
			p.LastSeq = uint32(seq)
		}
		if mask&pfScore != 0 {
			p.Kills = int(r.varint())
			p.Deaths = int(r.varint())
		}
		pk.Players = append(pk.Players, PlayerPatch{Mask: mask, State: p})
	}
	for _, id := range pk.removed(r, 0xFFFF) {
		pk.RemovedPlayers = append(pk.RemovedPlayers, world.PlayerID(id))
	}
}

func (pk *Packet) decodeProjectiles(r *reader) {
	n := r.count(2)
	var prev uint64
	for i := 0; i < n && r.err == nil; i++ {
		id := r.uvarint()
		if id > 0xFFFFFFFF {
			r.fail(fmt.Errorf("projectile id %d out of range", id))
		}
		ascending(r, &prev, id, i == 0)
		mask := r.uvarint()
		pk.checkMask(r, mask, rfAll)
		pr := world.ProjectileState{ID: world.ProjectileID(id)}
		if mask&rfStatic != 0 {
			owner := r.uvarint()
			if owner > 0xFFFF {
				r.fail(fmt.Errorf("owner %d out of range", owner))
			}
			pr.Owner = world.PlayerID(owner)
			pr.Weapon = weapon(r)
			pr.SpawnTick = r.uvarint()
			pr.ExpireTick = r.uvarint()
		}
		if mask&rfPos != 0 {
			pr.Pos = r.vec()
		}
		if mask&rfVel != 0 {
			pr.Vel = r.vec()
		}
		pk.Projectiles = append(pk.Projectiles, ProjectilePatch{Mask: mask, State: pr})
	}
	for _, id := range pk.removed(r, 0xFFFFFFFF) {
		pk.RemovedProjectiles = append(pk.RemovedProjectiles, world.ProjectileID(id))
	}
}

func (pk *Packet) decodePickups(r *reader) {
	n := r.count(2)
	var prev uint64
	for i := 0; i < n && r.err == nil; i++ {
		id := r.uvarint()
		if id > 0xFFFF {
			r.fail(fmt.Errorf("pickup id %d out of range", id))
		}
		ascending(r, &prev, id, i == 0)
		mask := r.uvarint()
		pk.checkMask(r, mask, kfAll)
		k := world.PickupState{ID: world.PickupID(id)}
		if mask&kfStatic != 0 {
			k.Kind = world.PickupKind(r.u8())
			if r.err == nil && (k.Kind < world.PickupHealth || k.Kind > world.PickupWeapon) {
				r.fail(fmt.Errorf("pickup %d: unknown kind %d", id, k.Kind))
			}
			k.Weapon = weapon(r)
			k.Pos = r.vec()
		}
		if mask&kfState != 0 {
			k.Active = r.boolean()
			k.CooldownUntil = r.uvarint()
		}
		pk.Pickups = append(pk.Pickups, PickupPatch{Mask: mask, State: k})
	}
	for _, id := range pk.removed(r, 0xFFFF) {
		pk.RemovedPickups = append(pk.RemovedPickups, world.PickupID(id))
	}
}

// Resolve turns the packet into a Snapshot. A delta needs the snapshot of
// its base tick; see ErrMissingBaseline.
func (pk *Packet) Resolve(ref *Snapshot) (*Snapshot, error) {
	s := &Snapshot{
		Tick:           pk.Tick,
		TeamScore:      pk.TeamScore,
		NextProjectile: pk.NextProjectile,
		SpawnCursor:    pk.SpawnCursor,
		RngState:       pk.RngState,
	}
	if !pk.Delta {
		for _, p := range pk.Players {
			s.Players = append(s.Players, p.State)
		}
		for _, pr := range pk.Projectiles {
			s.Projectiles = append(s.Projectiles, pr.State)
		}
		for _, k := range pk.Pickups {
			s.Pickups = append(s.Pickups, k.State)
		}
		return s, nil
	}
	if ref == nil || ref.Tick != pk.Base {
		return nil, fmt.Errorf("tick %d on base %d: %w", pk.Tick, pk.Base, ErrMissingBaseline)
	}

	players := make(map[world.PlayerID]world.PlayerState, len(ref.Players))
	for _, p := range ref.Players {
		players[p.ID] = p
	}
	for _, id := range pk.RemovedPlayers {
		if _, ok := players[id]; !ok {
			return nil, protoErr(fmt.Errorf("removed player %d not in baseline", id))
		}
		delete(players, id)
	}
	for _, patch := range pk.Players {
		cur, ok := players[patch.State.ID]
		if !ok && patch.Mask != pfAll {
			return nil, protoErr(fmt.Errorf("partial record for new player %d", patch.State.ID))
		}
		mergePlayer(&cur, &patch.State, patch.Mask)
		players[cur.ID] = cur
	}

	projectiles := make(map[world.ProjectileID]world.ProjectileState, len(ref.Projectiles))
	for _, pr := range ref.Projectiles {
		projectiles[pr.ID] = pr
	}
	for _, id := range pk.RemovedProjectiles {
		if _, ok := projectiles[id]; !ok {
			return nil, protoErr(fmt.Errorf("removed projectile %d not in baseline", id))
		}
		delete(projectiles, id)
	}
	for _, patch := range pk.Projectiles {
		cur, ok := projectiles[patch.State.ID]
		if !ok && patch.Mask != rfAll {
			return nil, protoErr(fmt.Errorf("partial record for new projectile %d", patch.State.ID))
		}
		mergeProjectile(&cur, &patch.State, patch.Mask)
		projectiles[cur.ID] = cur
	}

	pickups := make(map[world.PickupID]world.PickupState, len(ref.Pickups))
	for _, k := range ref.Pickups {
		pickups[k.ID] = k
	}
	for _, id := range pk.RemovedPickups {
		if _, ok := pickups[id]; !ok {
			return nil, protoErr(fmt.Errorf("removed pickup %d not in baseline", id))
		}
		delete(pickups, id)
	}
	for _, patch := range pk.Pickups {
		cur, ok := pickups[patch.State.ID]
		if !ok && patch.Mask != kfAll {
			return nil, protoErr(fmt.Errorf("partial record for new pickup %d", patch.State.ID))
		}
		mergePickup(&cur, &patch.State, patch.Mask)
		pickups[cur.ID] = cur
	}

	for _, p := range players {
		s.Players = append(s.Players, p)
	}
	for _, pr := range projectiles {
		s.Projectiles = append(s.Projectiles, pr)
	}
	for _, k := range pickups {
		s.Pickups = append(s.Pickups, k)
	}
	sort.Slice(s.Players, func(i, j int) bool { return s.Players[i].ID < s.Players[j].ID })
	sort.Slice(s.Projectiles, func(i, j int) bool { return s.Projectiles[i].ID < s.Projectiles[j].ID })
	sort.Slice(s.Pickups, func(i, j int) bool { return s.Pickups[i].ID < s.Pickups[j].ID })
	return s, nil
}

func mergePlayer(dst, src *world.PlayerState, mask uint64) {
	dst.ID = src.ID
	if mask&pfMeta != 0 {
		dst.Name, dst.Avatar, dst.Team = src.Name, src.Avatar, src.Team
	}
	if mask&pfPos != 0 {
		dst.Pos = src.Pos
	}
	if mask&pfVel != 0 {
		dst.Vel = src.Vel
	}
	if mask&pfLook != 0 {
		dst.Yaw, dst.Pitch = src.Yaw, src.Pitch
	}
	if mask&pfHealth != 0 {
		dst.Health = src.Health
	}
	if mask&pfArsenal != 0 {
		dst.Ammo, dst.Weapon, dst.Owned, dst.Cooldown = src.Ammo, src.Weapon, src.Owned, src.Cooldown
	}
	if mask&pfLife != 0 {
		dst.Alive = src.Alive
		dst.RespawnTick = src.RespawnTick
		dst.RespawnPos = src.RespawnPos
		dst.RespawnYaw = src.RespawnYaw
		dst.InvulnUntil = src.InvulnUntil
	}
	if mask&pfSeq != 0 {
		dst.LastSeq = src.LastSeq
	}
	if mask&pfScore != 0 {
		dst.Kills, dst.Deaths = src.Kills, src.Deaths
	}
}

func mergeProjectile(dst, src *world.ProjectileState, mask uint64) {
	dst.ID = src.ID
	if mask&rfStatic != 0 {
		dst.Owner, dst.Weapon, dst.SpawnTick, dst.ExpireTick = src.Owner, src.Weapon, src.SpawnTick, src.ExpireTick
	}
	if mask&rfPos != 0 {
		dst.Pos = src.Pos
	}
	if mask&rfVel != 0 {
		dst.Vel = src.Vel
	}
}

func mergePickup(dst, src *world.PickupState, mask uint64) {
	dst.ID = src.ID
	if mask&kfStatic != 0 {
		dst.Kind, dst.Weapon, dst.Pos = src.Kind, src.Weapon, src.Pos
	}
	if mask&kfState != 0 {
		dst.Active, dst.CooldownUntil = src.Active, src.CooldownUntil
	}
}

// DecodeSnapshot decodes b and resolves it against ref.
func DecodeSnapshot(b []byte, ref *Snapshot) (*Snapshot, error) {
	pk, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return pk.Resolve(ref)
}
