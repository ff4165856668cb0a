package world

// Step advances prev by one tick and returns the new World. prev is left
// untouched. The result depends only on prev and inputs.
//
// Phases run in a fixed order: respawns, movement and firing, projectiles,
// pickups, hazards.
func Step(prev *World, inputs map[PlayerID]Input) *World {
	w := prev.Clone()
	w.stepRespawns()
	w.stepPlayers(inputs)
	w.stepProjectiles()
	w.stepPickups()
	w.stepHazards()
	w.Tick++
	return w
}

func (w *World) stepRespawns() {
	for _, id := range w.PlayerIDs() {
		p := w.Players[id]
		if p.Alive || w.Tick < p.RespawnTick {
			continue
		}
		w.spawn(p, p.RespawnPos, p.RespawnYaw)
		w.Events = append(w.Events, Event{Tick: w.Tick, Kind: EventRespawn, Actor: id})
	}
}

func (w *World) stepPlayers(inputs map[PlayerID]Input) {
	for _, id := range w.PlayerIDs() {
		p := w.Players[id]
		if p.Alive && p.Cooldown > 0 {
			p.Cooldown--
		}
		in, ok := inputs[id]
		if !ok || !w.acceptInput(p, in) {
			continue
		}
		p.LastSeq = in.Seq
		if !p.Alive {
			continue
		}
		w.look(p, in)
		w.move(p, in)
		if in.Fire() {
			w.fire(p)
		}
	}
}

// acceptInput drops duplicates and inputs aimed at a tick the server has
// already moved well past.
func (w *World) acceptInput(p *PlayerState, in Input) bool {
	if in.Seq <= p.LastSeq {
		return false
	}
	if in.Tick+uint64(w.Tuning.Net.InputStaleTicks) < w.Tick {
		return false
	}
	return true
}

func (w *World) die(p *PlayerState, attackers []PlayerID, weapon uint8) {
	p.Health = 0
	p.Alive = false
	p.Vel.X, p.Vel.Y, p.Vel.Z = 0, 0, 0
	p.Cooldown = 0
	p.Deaths++
	p.RespawnTick = w.Tick + uint64(w.Tuning.Combat.RespawnTicks)
	p.RespawnPos, p.RespawnYaw = w.selectSpawn(p)

	if len(attackers) == 0 {
		p.Kills--
		if w.Tuning.Team() {
			w.TeamScore[p.Team]--
		}
		w.Events = append(w.Events, Event{Tick: w.Tick, Kind: EventSuicide, Actor: p.ID, Target: p.ID})
		return
	}
	for _, aid := range attackers {
		a, ok := w.Players[aid]
		if !ok {
			continue
		}
		a.Kills++
		if w.Tuning.Team() {
			w.TeamScore[a.Team]++
		}
		w.Events = append(w.Events, Event{Tick: w.Tick, Kind: EventKill, Actor: aid, Target: p.ID, Weapon: weapon})
	}
}
