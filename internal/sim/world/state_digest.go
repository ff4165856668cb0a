package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Digest hashes the full simulated state in id order. Two worlds with equal
// digests are bit-identical for replay purposes.
func (w *World) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, w.Tick)
	digestWriteU64(h, &tmp, w.Rng.State)
	digestWriteU64(h, &tmp, uint64(w.NextProjectile))
	digestWriteI64(h, &tmp, int64(w.SpawnCursor))
	for _, s := range w.TeamScore {
		digestWriteI64(h, &tmp, int64(s))
	}
	w.digestPlayers(h, &tmp)
	w.digestProjectiles(h, &tmp)
	w.digestPickups(h, &tmp)

	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) digestPlayers(h hashWriter, tmp *[8]byte) {
	ids := w.PlayerIDs()
	digestWriteU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		p := w.Players[id]
		digestWriteU64(h, tmp, uint64(p.ID))
		h.Write([]byte(p.Name))
		h.Write([]byte{0, p.Avatar, byte(p.Team), p.Weapon, p.Owned, boolByte(p.Alive)})
		digestWriteVec(h, tmp, p.Pos.X, p.Pos.Y, p.Pos.Z)
		digestWriteVec(h, tmp, p.Vel.X, p.Vel.Y, p.Vel.Z)
		digestWriteU64(h, tmp, uint64(p.Yaw))
		digestWriteI64(h, tmp, int64(p.Pitch))
		digestWriteI64(h, tmp, int64(p.Health))
		for _, a := range p.Ammo {
			digestWriteI64(h, tmp, int64(a))
		}
		digestWriteI64(h, tmp, int64(p.Cooldown))
		digestWriteU64(h, tmp, p.RespawnTick)
		digestWriteVec(h, tmp, p.RespawnPos.X, p.RespawnPos.Y, p.RespawnPos.Z)
		digestWriteU64(h, tmp, uint64(p.RespawnYaw))
		digestWriteU64(h, tmp, p.InvulnUntil)
		digestWriteU64(h, tmp, uint64(p.LastSeq))
		digestWriteI64(h, tmp, int64(p.Kills))
		digestWriteI64(h, tmp, int64(p.Deaths))
	}
}

func (w *World) digestProjectiles(h hashWriter, tmp *[8]byte) {
	ids := w.ProjectileIDs()
	digestWriteU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		pr := w.Projectiles[id]
		digestWriteU64(h, tmp, uint64(pr.ID))
		digestWriteU64(h, tmp, uint64(pr.Owner))
		h.Write([]byte{pr.Weapon})
		digestWriteVec(h, tmp, pr.Pos.X, pr.Pos.Y, pr.Pos.Z)
		digestWriteVec(h, tmp, pr.Vel.X, pr.Vel.Y, pr.Vel.Z)
		digestWriteU64(h, tmp, pr.SpawnTick)
		digestWriteU64(h, tmp, pr.ExpireTick)
	}
}

func (w *World) digestPickups(h hashWriter, tmp *[8]byte) {
	ids := w.PickupIDs()
	digestWriteU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		k := w.Pickups[id]
		digestWriteU64(h, tmp, uint64(k.ID))
		h.Write([]byte{byte(k.Kind), k.Weapon, boolByte(k.Active)})
		digestWriteVec(h, tmp, k.Pos.X, k.Pos.Y, k.Pos.Z)
		digestWriteU64(h, tmp, k.CooldownUntil)
	}
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteVec(h hashWriter, tmp *[8]byte, x, y, z float64) {
	digestWriteU64(h, tmp, math.Float64bits(x))
	digestWriteU64(h, tmp, math.Float64bits(y))
	digestWriteU64(h, tmp, math.Float64bits(z))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
