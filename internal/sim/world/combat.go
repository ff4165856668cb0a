package world

import "voxarena.gg/internal/sim/mathx"

// fire spends one round and spawns the projectile together, so a shot is
// never free.
func (w *World) fire(p *PlayerState) {
	if p.Cooldown > 0 || !p.Owns(p.Weapon) || int(p.Weapon) >= len(w.Tuning.Weapons) {
		return
	}
	if p.Ammo[p.Weapon] <= 0 {
		return
	}
	wp := w.Tuning.Weapons[p.Weapon]
	p.Ammo[p.Weapon]--
	p.Cooldown = wp.CooldownTicks

	id := w.NextProjectile
	w.NextProjectile++
	eye := p.Pos.Add(mathx.V(0, w.Tuning.Physics.EyeHeight, 0))
	w.Projectiles[id] = &ProjectileState{
		ID:         id,
		Owner:      p.ID,
		Weapon:     p.Weapon,
		Pos:        eye.Quantized(),
		Vel:        mathx.LookDir(p.Yaw, p.Pitch).Scale(wp.Speed).Quantized(),
		SpawnTick:  w.Tick,
		ExpireTick: w.Tick + uint64(wp.LifetimeTicks),
	}
}

type damage struct {
	total     int
	weapon    uint8
	attackers []PlayerID
}

func (d *damage) add(owner PlayerID, amount int, weapon uint8) {
	d.total += amount
	d.weapon = weapon
	for _, a := range d.attackers {
		if a == owner {
			return
		}
	}
	d.attackers = append(d.attackers, owner)
}

// stepProjectiles flies every projectile along a swept segment. Hits are
// tested against the players alive when the phase starts, and damage is
// summed per victim before any death is applied, so every player a victim
// takes lethal damage from in one tick gets the kill.
func (w *World) stepProjectiles() {
	t := w.Tuning
	dt := t.DT()
	targets := make([]*PlayerState, 0, len(w.Players))
	for _, id := range w.PlayerIDs() {
		if p := w.Players[id]; p.Alive {
			targets = append(targets, p)
		}
	}

	hits := map[PlayerID]*damage{}
	var victims []PlayerID
	for _, id := range w.ProjectileIDs() {
		pr := w.Projectiles[id]
		wp := t.Weapons[pr.Weapon]
		pr.Vel.Y -= t.Physics.Gravity * wp.GravityScale * dt
		from := pr.Pos
		to := from.Add(pr.Vel.Scale(dt))

		best := 2.0
		var victim *PlayerState
		if frac, ok := w.Map.SegmentHit(from, to); ok {
			best = frac
		}
		for _, p := range targets {
			if p.ID == pr.Owner {
				continue
			}
			box := mathx.FeetBox(p.Pos, t.Physics.HalfWidth, t.Physics.Height)
			if frac, ok := box.SegmentHit(from, to); ok && frac < best {
				best, victim = frac, p
			}
		}

		switch {
		case victim != nil:
			delete(w.Projectiles, id)
			if !w.canDamage(pr.Owner, victim) {
				continue
			}
			d := hits[victim.ID]
			if d == nil {
				d = &damage{}
				hits[victim.ID] = d
				victims = append(victims, victim.ID)
			}
			d.add(pr.Owner, wp.Damage, pr.Weapon)
		case best <= 1:
			delete(w.Projectiles, id)
		case w.Tick+1 >= pr.ExpireTick:
			delete(w.Projectiles, id)
		default:
			pr.Pos = to.Quantized()
			pr.Vel = pr.Vel.Quantized()
		}
	}

	for _, vid := range victims {
		p := w.Players[vid]
		d := hits[vid]
		p.Health -= d.total
		if p.Health <= 0 {
			w.die(p, d.attackers, d.weapon)
		}
	}
}

func (w *World) canDamage(owner PlayerID, victim *PlayerState) bool {
	if w.Tick < victim.InvulnUntil {
		return false
	}
	if w.Tuning.Team() && !w.Tuning.Combat.FriendlyFire {
		if a, ok := w.Players[owner]; ok && a.Team == victim.Team {
			return false
		}
	}
	return true
}

// stepHazards kills living players standing in lava or fallen past the kill
// floor. Spawn protection does not cover hazards.
func (w *World) stepHazards() {
	ph := w.Tuning.Physics
	for _, id := range w.PlayerIDs() {
		p := w.Players[id]
		if !p.Alive {
			continue
		}
		box := mathx.FeetBox(p.Pos, ph.HalfWidth, ph.Height).Offset(mathx.V(0, -groundProbe, 0))
		if p.Pos.Y < ph.KillFloorY || w.Map.IsLava(box) {
			w.die(p, nil, 0)
		}
	}
}
