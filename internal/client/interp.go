package client

import (
	"math"

	"voxarena.gg/internal/sim/mathx"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/world"
)

const trackLen = 16

type sample struct {
	tick  uint64
	pos   mathx.Vec3
	vel   mathx.Vec3
	yaw   uint16
	pitch int16
}

// track is a short, tick-ordered history of one remote entity.
type track struct {
	samples []sample
	alive   bool
}

func (t *track) push(s sample) {
	if n := len(t.samples); n > 0 && s.tick <= t.samples[n-1].tick {
		return
	}
	if len(t.samples) == trackLen {
		copy(t.samples, t.samples[1:])
		t.samples = t.samples[:trackLen-1]
	}
	t.samples = append(t.samples, s)
}

// Pose is an entity's rendered position and orientation.
type Pose struct {
	Pos   mathx.Vec3
	Vel   mathx.Vec3
	Yaw   uint16
	Pitch int16
	// Extrapolated is set when renderTick is past the newest sample.
	Extrapolated bool
}

// Interpolator renders remote entities a few ticks in the past, blending the
// two samples around the render tick. Past the newest sample it extrapolates
// from the last velocity for at most MaxExtrapolationTicks, then holds.
type Interpolator struct {
	dt        float64
	delay     float64
	maxExtrap float64

	latest      uint64
	players     map[world.PlayerID]*track
	projectiles map[world.ProjectileID]*track
}

func NewInterpolator(t tuning.Tuning) *Interpolator {
	return &Interpolator{
		dt:          t.DT(),
		delay:       float64(t.Net.RenderDelayTicks),
		maxExtrap:   float64(t.Net.MaxExtrapolationTicks),
		players:     map[world.PlayerID]*track{},
		projectiles: map[world.ProjectileID]*track{},
	}
}

// Push records a snapshot. Entities missing from it are forgotten.
func (ip *Interpolator) Push(s *snapcodec.Snapshot) {
	if s.Tick <= ip.latest && ip.latest != 0 {
		return
	}
	ip.latest = s.Tick

	seen := make(map[world.PlayerID]bool, len(s.Players))
	for i := range s.Players {
		p := &s.Players[i]
		seen[p.ID] = true
		tr := ip.players[p.ID]
		if tr == nil {
			tr = &track{}
			ip.players[p.ID] = tr
		}
		if p.Alive != tr.alive {
			// Deaths and respawns teleport; never blend across them.
			tr.samples = tr.samples[:0]
			tr.alive = p.Alive
		}
		tr.push(sample{tick: s.Tick, pos: p.Pos, vel: p.Vel, yaw: p.Yaw, pitch: p.Pitch})
	}
	for id := range ip.players {
		if !seen[id] {
			delete(ip.players, id)
		}
	}

	live := make(map[world.ProjectileID]bool, len(s.Projectiles))
	for i := range s.Projectiles {
		pr := &s.Projectiles[i]
		live[pr.ID] = true
		tr := ip.projectiles[pr.ID]
		if tr == nil {
			tr = &track{}
			ip.projectiles[pr.ID] = tr
		}
		tr.push(sample{tick: s.Tick, pos: pr.Pos, vel: pr.Vel})
	}
	for id := range ip.projectiles {
		if !live[id] {
			delete(ip.projectiles, id)
		}
	}
}

func (ip *Interpolator) Latest() uint64 { return ip.latest }

// RenderTick is the fractional tick to render at, elapsedTicks after the
// newest snapshot arrived.
func (ip *Interpolator) RenderTick(elapsedTicks float64) float64 {
	return float64(ip.latest) + elapsedTicks - ip.delay
}

func (ip *Interpolator) Sample(id world.PlayerID, renderTick float64) (Pose, bool) {
	tr, ok := ip.players[id]
	if !ok || len(tr.samples) == 0 {
		return Pose{}, false
	}
	return ip.sample(tr, renderTick), true
}

func (ip *Interpolator) SampleProjectile(id world.ProjectileID, renderTick float64) (Pose, bool) {
	tr, ok := ip.projectiles[id]
	if !ok || len(tr.samples) == 0 {
		return Pose{}, false
	}
	return ip.sample(tr, renderTick), true
}

func (ip *Interpolator) sample(tr *track, rt float64) Pose {
	ss := tr.samples
	first, last := ss[0], ss[len(ss)-1]
	if rt <= float64(first.tick) {
		return poseOf(first)
	}
	if rt >= float64(last.tick) {
		ahead := math.Min(rt-float64(last.tick), ip.maxExtrap)
		p := poseOf(last)
		if ahead > 0 {
			p.Pos = last.pos.Add(last.vel.Scale(ahead * ip.dt))
			p.Extrapolated = true
		}
		return p
	}
	for i := 1; i < len(ss); i++ {
		a, b := ss[i-1], ss[i]
		if rt > float64(b.tick) {
			continue
		}
		f := (rt - float64(a.tick)) / float64(b.tick-a.tick)
		return Pose{
			Pos:   a.pos.Lerp(b.pos, f),
			Vel:   a.vel.Lerp(b.vel, f),
			Yaw:   lerpYaw(a.yaw, b.yaw, f),
			Pitch: int16(math.Round(float64(a.pitch) + (float64(b.pitch)-float64(a.pitch))*f)),
		}
	}
	return poseOf(last)
}

func poseOf(s sample) Pose {
	return Pose{Pos: s.pos, Vel: s.vel, Yaw: s.yaw, Pitch: s.pitch}
}

// lerpYaw turns the short way round.
func lerpYaw(a, b uint16, f float64) uint16 {
	d := int16(b - a)
	return a + uint16(int16(math.Round(float64(d)*f)))
}
