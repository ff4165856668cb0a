package client

import (
	"voxarena.gg/internal/sim/mathx"
	"voxarena.gg/internal/sim/world"
)

type Anim uint8

const (
	AnimIdle Anim = iota
	AnimRunning
	AnimAirborne
	AnimDead
)

func (a Anim) String() string {
	switch a {
	case AnimRunning:
		return "running"
	case AnimAirborne:
		return "airborne"
	case AnimDead:
		return "dead"
	}
	return "idle"
}

const runThreshold = 0.1

type PlayerView struct {
	ID     world.PlayerID
	Name   string
	Team   world.Team
	Local  bool
	Pose   Pose
	Health int
	Weapon uint8
	Kills  int
	Anim   Anim
}

type ProjectileView struct {
	ID     world.ProjectileID
	Owner  world.PlayerID
	Weapon uint8
	Pose   Pose
}

type PickupView struct {
	ID     world.PickupID
	Kind   world.PickupKind
	Weapon uint8
	Pos    mathx.Vec3
	Active bool
}

// View is one read-only render frame: the local player as predicted, every
// other entity as interpolated.
type View struct {
	Tick       uint64
	RenderTick float64
	TeamScore  [world.NumTeams]int

	Players     []PlayerView
	Projectiles []ProjectileView
	Pickups     []PickupView
}

// BuildView renders elapsedTicks after the newest snapshot.
func BuildView(pred *Predictor, ip *Interpolator, elapsedTicks float64) View {
	conf := pred.Confirmed()
	pw := pred.Predicted()
	rt := ip.RenderTick(elapsedTicks)
	v := View{Tick: pw.Tick, RenderTick: rt, TeamScore: conf.TeamScore}

	for i := range conf.Players {
		p := &conf.Players[i]
		pv := PlayerView{ID: p.ID, Name: p.Name, Team: p.Team, Health: p.Health, Weapon: p.Weapon, Kills: p.Kills}
		alive := p.Alive
		if p.ID == pred.ID() {
			me, ok := pw.Players[p.ID]
			if !ok {
				continue
			}
			pv.Local = true
			pv.Health, pv.Weapon, alive = me.Health, me.Weapon, me.Alive
			pv.Pose = Pose{Pos: me.Pos, Vel: me.Vel, Yaw: me.Yaw, Pitch: me.Pitch}
		} else if pose, ok := ip.Sample(p.ID, rt); ok {
			pv.Pose = pose
		} else {
			pv.Pose = Pose{Pos: p.Pos, Vel: p.Vel, Yaw: p.Yaw, Pitch: p.Pitch}
		}
		pv.Anim = animate(pw, alive, pv.Pose)
		v.Players = append(v.Players, pv)
	}
	for i := range conf.Projectiles {
		pr := &conf.Projectiles[i]
		pose, ok := ip.SampleProjectile(pr.ID, rt)
		if !ok {
			pose = Pose{Pos: pr.Pos, Vel: pr.Vel}
		}
		v.Projectiles = append(v.Projectiles, ProjectileView{ID: pr.ID, Owner: pr.Owner, Weapon: pr.Weapon, Pose: pose})
	}
	for i := range conf.Pickups {
		k := &conf.Pickups[i]
		v.Pickups = append(v.Pickups, PickupView{ID: k.ID, Kind: k.Kind, Weapon: k.Weapon, Pos: k.Pos, Active: k.Active})
	}
	return v
}

func animate(w *world.World, alive bool, p Pose) Anim {
	switch {
	case !alive:
		return AnimDead
	case !w.Grounded(p.Pos):
		return AnimAirborne
	case p.Vel.X*p.Vel.X+p.Vel.Z*p.Vel.Z > runThreshold*runThreshold:
		return AnimRunning
	}
	return AnimIdle
}
