package world

import "voxarena.gg/internal/sim/mathx"

// stepPickups re-arms pickups whose cooldown ran out, then hands each active
// pickup to the lowest-id living player touching it who can use it.
func (w *World) stepPickups() {
	t := w.Tuning
	ids := w.PlayerIDs()
	for _, kid := range w.PickupIDs() {
		k := w.Pickups[kid]
		if !k.Active && w.Tick >= k.CooldownUntil {
			k.Active = true
		}
		if !k.Active {
			continue
		}
		for _, id := range ids {
			p := w.Players[id]
			if !p.Alive || !w.touchesPickup(p, k) {
				continue
			}
			if !w.applyPickup(p, k) {
				continue
			}
			k.Active = false
			k.CooldownUntil = w.Tick + uint64(t.Pickups.CooldownTicks)
			w.Events = append(w.Events, Event{Tick: w.Tick, Kind: EventPickup, Actor: id, Target: PlayerID(kid), Weapon: k.Weapon})
			break
		}
	}
}

func (w *World) touchesPickup(p *PlayerState, k *PickupState) bool {
	ph := w.Tuning.Physics
	r := w.Tuning.Pickups.Radius
	box := mathx.FeetBox(p.Pos, ph.HalfWidth, ph.Height)
	box.Min = box.Min.Sub(mathx.V(r, r, r))
	box.Max = box.Max.Add(mathx.V(r, r, r))
	return box.Contains(k.Pos)
}

// applyPickup reports false when the pickup would change nothing, leaving
// it for someone who needs it.
func (w *World) applyPickup(p *PlayerState, k *PickupState) bool {
	t := w.Tuning
	switch k.Kind {
	case PickupHealth:
		if p.Health >= t.Combat.MaxHealth {
			return false
		}
		p.Health = mathx.ClampInt(p.Health+t.Pickups.HealthAmount, 0, t.Combat.MaxHealth)
		return true
	case PickupAmmo:
		changed := false
		for i, wp := range t.Weapons {
			if !p.Owns(uint8(i)) || p.Ammo[i] >= wp.MaxAmmo {
				continue
			}
			p.Ammo[i] = mathx.ClampInt(p.Ammo[i]+t.Pickups.AmmoAmount, 0, wp.MaxAmmo)
			changed = true
		}
		return changed
	case PickupWeapon:
		if int(k.Weapon) >= len(t.Weapons) {
			return false
		}
		wp := t.Weapons[k.Weapon]
		if p.Owns(k.Weapon) && p.Ammo[k.Weapon] >= wp.MaxAmmo {
			return false
		}
		p.Owned |= 1 << k.Weapon
		start := wp.StartAmmo
		if start == 0 {
			start = t.Pickups.AmmoAmount
		}
		p.Ammo[k.Weapon] = mathx.ClampInt(p.Ammo[k.Weapon]+start, 0, wp.MaxAmmo)
		return true
	}
	return false
}
