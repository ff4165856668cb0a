package world

import (
	"math"

	"voxarena.gg/internal/sim/mathx"
)

const groundProbe = 1.0 / 64

func (w *World) look(p *PlayerState, in Input) {
	p.Yaw += uint16(in.DYaw)
	p.Pitch = int16(mathx.ClampInt(int(p.Pitch)+int(in.DPitch), -mathx.PitchLimit, mathx.PitchLimit))
	if in.Weapon > 0 && p.Owns(in.Weapon-1) && int(in.Weapon-1) < len(w.Tuning.Weapons) {
		p.Weapon = in.Weapon - 1
	}
}

// Grounded reports whether the body standing at feet rests on a solid voxel.
func (w *World) Grounded(feet mathx.Vec3) bool {
	ph := w.Tuning.Physics
	box := mathx.FeetBox(feet, ph.HalfWidth, ph.Height)
	return w.Map.BoxBlocked(box.Offset(mathx.V(0, -groundProbe, 0)))
}

func wishDir(yaw uint16, b Buttons) mathx.Vec3 {
	y := mathx.YawRadians(yaw)
	fwd := mathx.V(math.Sin(y), 0, -math.Cos(y))
	right := mathx.V(math.Cos(y), 0, math.Sin(y))
	var d mathx.Vec3
	if b.Has(BtnForward) {
		d = d.Add(fwd)
	}
	if b.Has(BtnBack) {
		d = d.Sub(fwd)
	}
	if b.Has(BtnRight) {
		d = d.Add(right)
	}
	if b.Has(BtnLeft) {
		d = d.Sub(right)
	}
	if l := d.Len(); l > 0 {
		d = d.Scale(1 / l)
	}
	return d
}

func (w *World) move(p *PlayerState, in Input) {
	ph := w.Tuning.Physics
	dt := w.Tuning.DT()

	w.unstick(p)

	grounded := w.Grounded(p.Pos)
	wish := wishDir(p.Yaw, in.Buttons).Scale(ph.WalkSpeed)
	if grounded {
		p.Vel.X, p.Vel.Z = wish.X, wish.Z
		if p.Vel.Y < 0 {
			p.Vel.Y = 0
		}
		if in.Buttons.Has(BtnJump) {
			p.Vel.Y = ph.JumpSpeed
		}
	} else {
		p.Vel.X += (wish.X - p.Vel.X) * ph.AirControl
		p.Vel.Z += (wish.Z - p.Vel.Z) * ph.AirControl
	}
	p.Vel.Y = math.Max(p.Vel.Y-ph.Gravity*dt, -ph.MaxFall)

	disp := p.Vel.Scale(dt)
	maxAxis := math.Max(math.Abs(disp.X), math.Max(math.Abs(disp.Y), math.Abs(disp.Z)))
	n := int(math.Ceil(maxAxis / ph.SubstepSize))
	if n < 1 {
		n = 1
	}
	sub := disp.Scale(1 / float64(n))
	climbing := grounded && p.Vel.Y <= 0
	for i := 0; i < n; i++ {
		var blocked bool
		p.Pos, blocked = w.Map.ClampAxis(p.Pos, ph.HalfWidth, ph.Height, 1, sub.Y)
		if blocked {
			p.Vel.Y = 0
			sub.Y = 0
		}
		for _, axis := range [2]int{0, 2} {
			d := sub.Axis(axis)
			next, blocked := w.Map.ClampAxis(p.Pos, ph.HalfWidth, ph.Height, axis, d)
			if blocked && climbing {
				if up, ok := w.stepUp(p.Pos, axis, d); ok {
					next, blocked = up, false
				}
			}
			p.Pos = next
			if blocked {
				p.Vel = p.Vel.WithAxis(axis, 0)
				sub = sub.WithAxis(axis, 0)
			}
		}
	}
	p.Pos = w.snapFree(p.Pos)
	p.Vel = p.Vel.Quantized()
}

// snapFree rounds feet onto the fixed-point grid. When plain rounding would
// nudge the body into a wall it tries the floor/ceil neighbours instead.
func (w *World) snapFree(feet mathx.Vec3) mathx.Vec3 {
	ph := w.Tuning.Physics
	q := feet.Quantized()
	if !w.Map.BoxBlocked(mathx.FeetBox(q, ph.HalfWidth, ph.Height)) {
		return q
	}
	round := [2]func(float64) float64{math.Floor, math.Ceil}
	for mask := 0; mask < 8; mask++ {
		var c mathx.Vec3
		for axis := 0; axis < 3; axis++ {
			f := round[(mask>>axis)&1]
			c = c.WithAxis(axis, f(feet.Axis(axis)*mathx.PosScale)/mathx.PosScale)
		}
		if !w.Map.BoxBlocked(mathx.FeetBox(c, ph.HalfWidth, ph.Height)) {
			return c
		}
	}
	return q
}

// stepUp lifts the body onto a ledge no higher than StepHeight when walking
// into it, then settles it onto the ledge top.
func (w *World) stepUp(feet mathx.Vec3, axis int, d float64) (mathx.Vec3, bool) {
	ph := w.Tuning.Physics
	if ph.StepHeight <= 0 {
		return feet, false
	}
	raised := feet.Add(mathx.V(0, ph.StepHeight, 0))
	if w.Map.BoxBlocked(mathx.FeetBox(raised, ph.HalfWidth, ph.Height)) {
		return feet, false
	}
	ahead := raised.WithAxis(axis, raised.Axis(axis)+d)
	if w.Map.BoxBlocked(mathx.FeetBox(ahead, ph.HalfWidth, ph.Height)) {
		return feet, false
	}
	half := -ph.StepHeight / 2
	for i := 0; i < 2; i++ {
		next, blocked := w.Map.ClampAxis(ahead, ph.HalfWidth, ph.Height, 1, half)
		ahead = next
		if blocked {
			break
		}
	}
	return ahead, true
}

// unstick pushes a body that overlaps solid voxels straight up to the
// nearest clear spot.
func (w *World) unstick(p *PlayerState) {
	ph := w.Tuning.Physics
	box := mathx.FeetBox(p.Pos, ph.HalfWidth, ph.Height)
	if !w.Map.BoxBlocked(box) {
		return
	}
	if off, ok := w.Map.NearestFree(box, mathx.V(0, 1, 0), ph.Height*2); ok {
		p.Pos = p.Pos.Add(off).Quantized()
		p.Vel.Y = 0
	}
}
