package snapcodec

import (
	"errors"
	"fmt"
	"sort"

	"voxarena.gg/internal/sim/world"
)

// Packet layout:
//
//	magic 'S' | version | flags | tick | base tick (delta only)
//	counters | team scores
//	players: count, records | removed count, ids
//	projectiles: same | pickups: same
//
// Each record is id | field mask | masked fields. Full packets carry every
// entity with every field and no removals.
const (
	magic       = 'S'
	version     = 1
	flagDelta   = 1 << 0
	MaxEntities = 4096
	maxName     = 32
)

var ErrMissingBaseline = errors.New("snapcodec: delta baseline not held")

// Player field groups.
const (
	pfMeta uint64 = 1 << iota
	pfPos
	pfVel
	pfLook
	pfHealth
	pfArsenal
	pfLife
	pfSeq
	pfScore

	pfAll = pfMeta | pfPos | pfVel | pfLook | pfHealth | pfArsenal | pfLife | pfSeq | pfScore
)

// Projectile field groups.
const (
	rfStatic uint64 = 1 << iota
	rfPos
	rfVel

	rfAll = rfStatic | rfPos | rfVel
)

// Pickup field groups.
const (
	kfStatic uint64 = 1 << iota
	kfState

	kfAll = kfStatic | kfState
)

// Encode writes s as a delta against ref, or as a full packet when ref is nil.
func Encode(s, ref *Snapshot) []byte {
	if ref == nil {
		return EncodeFull(s)
	}
	return EncodeDelta(s, ref)
}

func EncodeFull(s *Snapshot) []byte {
	w := &writer{b: make([]byte, 0, 64+len(s.Players)*64)}
	writeHeader(w, s, nil)
	w.uvarint(uint64(len(s.Players)))
	for i := range s.Players {
		writePlayer(w, &s.Players[i], pfAll)
	}
	w.uvarint(0)
	w.uvarint(uint64(len(s.Projectiles)))
	for i := range s.Projectiles {
		writeProjectile(w, &s.Projectiles[i], rfAll)
	}
	w.uvarint(0)
	w.uvarint(uint64(len(s.Pickups)))
	for i := range s.Pickups {
		writePickup(w, &s.Pickups[i], kfAll)
	}
	w.uvarint(0)
	return w.b
}

// EncodeDelta lists only entities that changed since ref, each with the
// groups of fields that changed, plus an explicit list of removed ids.
func EncodeDelta(s, ref *Snapshot) []byte {
	w := &writer{b: make([]byte, 0, 64)}
	writeHeader(w, s, ref)

	refPlayers := make(map[world.PlayerID]*world.PlayerState, len(ref.Players))
	for i := range ref.Players {
		refPlayers[ref.Players[i].ID] = &ref.Players[i]
	}
	var changed []int
	var masks []uint64
	for i := range s.Players {
		p := &s.Players[i]
		mask := pfAll
		if old, ok := refPlayers[p.ID]; ok {
			mask = playerDiff(old, p)
			delete(refPlayers, p.ID)
		}
		if mask != 0 {
			changed = append(changed, i)
			masks = append(masks, mask)
		}
	}
	w.uvarint(uint64(len(changed)))
	for k, i := range changed {
		writePlayer(w, &s.Players[i], masks[k])
	}
	removed := make([]uint64, 0, len(refPlayers))
	for id := range refPlayers {
		removed = append(removed, uint64(id))
	}
	writeRemoved(w, removed)

	refProj := make(map[world.ProjectileID]*world.ProjectileState, len(ref.Projectiles))
	for i := range ref.Projectiles {
		refProj[ref.Projectiles[i].ID] = &ref.Projectiles[i]
	}
	changed, masks = changed[:0], masks[:0]
	for i := range s.Projectiles {
		pr := &s.Projectiles[i]
		mask := rfAll
		if old, ok := refProj[pr.ID]; ok {
			mask = projectileDiff(old, pr)
			delete(refProj, pr.ID)
		}
		if mask != 0 {
			changed = append(changed, i)
			masks = append(masks, mask)
		}
	}
	w.uvarint(uint64(len(changed)))
	for k, i := range changed {
		writeProjectile(w, &s.Projectiles[i], masks[k])
	}
	removed = removed[:0]
	for id := range refProj {
		removed = append(removed, uint64(id))
	}
	writeRemoved(w, removed)

	refPick := make(map[world.PickupID]*world.PickupState, len(ref.Pickups))
	for i := range ref.Pickups {
		refPick[ref.Pickups[i].ID] = &ref.Pickups[i]
	}
	changed, masks = changed[:0], masks[:0]
	for i := range s.Pickups {
		k := &s.Pickups[i]
		mask := kfAll
		if old, ok := refPick[k.ID]; ok {
			mask = pickupDiff(old, k)
			delete(refPick, k.ID)
		}
		if mask != 0 {
			changed = append(changed, i)
			masks = append(masks, mask)
		}
	}
	w.uvarint(uint64(len(changed)))
	for k, i := range changed {
		writePickup(w, &s.Pickups[i], masks[k])
	}
	removed = removed[:0]
	for id := range refPick {
		removed = append(removed, uint64(id))
	}
	writeRemoved(w, removed)
	return w.b
}

func writeHeader(w *writer, s, ref *Snapshot) {
	w.u8(magic)
	w.u8(version)
	if ref != nil {
		w.u8(flagDelta)
		w.uvarint(s.Tick)
		w.uvarint(ref.Tick)
	} else {
		w.u8(0)
		w.uvarint(s.Tick)
	}
	w.uvarint(uint64(s.NextProjectile))
	w.uvarint(uint64(s.SpawnCursor))
	w.u64(s.RngState)
	for _, v := range s.TeamScore {
		w.varint(int64(v))
	}
}

// writeRemoved sorts ids so equal snapshots encode to equal bytes.
func writeRemoved(w *writer, ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	w.uvarint(uint64(len(ids)))
	for _, id := range ids {
		w.uvarint(id)
	}
}

func playerDiff(a, b *world.PlayerState) uint64 {
	var m uint64
	if a.Name != b.Name || a.Avatar != b.Avatar || a.Team != b.Team {
		m |= pfMeta
	}
	if a.Pos != b.Pos {
		m |= pfPos
	}
	if a.Vel != b.Vel {
		m |= pfVel
	}
	if a.Yaw != b.Yaw || a.Pitch != b.Pitch {
		m |= pfLook
	}
	if a.Health != b.Health {
		m |= pfHealth
	}
	if a.Ammo != b.Ammo || a.Weapon != b.Weapon || a.Owned != b.Owned || a.Cooldown != b.Cooldown {
		m |= pfArsenal
	}
	if a.Alive != b.Alive || a.RespawnTick != b.RespawnTick || a.RespawnPos != b.RespawnPos ||
		a.RespawnYaw != b.RespawnYaw || a.InvulnUntil != b.InvulnUntil {
		m |= pfLife
	}
	if a.LastSeq != b.LastSeq {
		m |= pfSeq
	}
	if a.Kills != b.Kills || a.Deaths != b.Deaths {
		m |= pfScore
	}
	return m
}

func projectileDiff(a, b *world.ProjectileState) uint64 {
	var m uint64
	if a.Owner != b.Owner || a.Weapon != b.Weapon || a.SpawnTick != b.SpawnTick || a.ExpireTick != b.ExpireTick {
		m |= rfStatic
	}
	if a.Pos != b.Pos {
		m |= rfPos
	}
	if a.Vel != b.Vel {
		m |= rfVel
	}
	return m
}

func pickupDiff(a, b *world.PickupState) uint64 {
	var m uint64
	if a.Kind != b.Kind || a.Weapon != b.Weapon || a.Pos != b.Pos {
		m |= kfStatic
	}
	if a.Active != b.Active || a.CooldownUntil != b.CooldownUntil {
		m |= kfState
	}
	return m
}

func writePlayer(w *writer, p *world.PlayerState, mask uint64) {
	w.uvarint(uint64(p.ID))
	w.uvarint(mask)
	if mask&pfMeta != 0 {
		w.str(p.Name)
		w.u8(p.Avatar)
		w.u8(uint8(p.Team))
	}
	if mask&pfPos != 0 {
		w.vec(p.Pos)
	}
	if mask&pfVel != 0 {
		w.vec(p.Vel)
	}
	if mask&pfLook != 0 {
		w.u16(p.Yaw)
		w.u16(uint16(p.Pitch))
	}
	if mask&pfHealth != 0 {
		w.varint(int64(p.Health))
	}
	if mask&pfArsenal != 0 {
		n := 0
		for i, a := range p.Ammo {
			if a != 0 {
				n = i + 1
			}
		}
		w.uvarint(uint64(n))
		for _, a := range p.Ammo[:n] {
			w.varint(int64(a))
		}
		w.u8(p.Weapon)
		w.u8(p.Owned)
		w.varint(int64(p.Cooldown))
	}
	if mask&pfLife != 0 {
		w.boolean(p.Alive)
		w.uvarint(p.RespawnTick)
		w.vec(p.RespawnPos)
		w.u16(p.RespawnYaw)
		w.uvarint(p.InvulnUntil)
	}
	if mask&pfSeq != 0 {
		w.uvarint(uint64(p.LastSeq))
	}
	if mask&pfScore != 0 {
		w.varint(int64(p.Kills))
		w.varint(int64(p.Deaths))
	}
}

func writeProjectile(w *writer, pr *world.ProjectileState, mask uint64) {
	w.uvarint(uint64(pr.ID))
	w.uvarint(mask)
	if mask&rfStatic != 0 {
		w.uvarint(uint64(pr.Owner))
		w.u8(pr.Weapon)
		w.uvarint(pr.SpawnTick)
		w.uvarint(pr.ExpireTick)
	}
	if mask&rfPos != 0 {
		w.vec(pr.Pos)
	}
	if mask&rfVel != 0 {
		w.vec(pr.Vel)
	}
}

func writePickup(w *writer, k *world.PickupState, mask uint64) {
	w.uvarint(uint64(k.ID))
	w.uvarint(mask)
	if mask&kfStatic != 0 {
		w.u8(uint8(k.Kind))
		w.u8(k.Weapon)
		w.vec(k.Pos)
	}
	if mask&kfState != 0 {
		w.boolean(k.Active)
		w.uvarint(k.CooldownUntil)
	}
}

func unknownBits(mask, all uint64) error {
	if mask&^all != 0 {
		return fmt.Errorf("unknown field bits %#x", mask&^all)
	}
	return nil
}
