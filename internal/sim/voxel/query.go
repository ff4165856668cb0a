package voxel

import (
	"math"

	"voxarena.gg/internal/sim/mathx"
)

// SegmentHit walks the voxels crossed by segment a->b and reports the
// fraction along the segment where it first enters a solid voxel.
func (m *Map) SegmentHit(a, b mathx.Vec3) (float64, bool) {
	x, y, z := cell(a.X), cell(a.Y), cell(a.Z)
	if m.At(x, y, z) == Solid {
		return 0, true
	}
	d := b.Sub(a)
	step := [3]int{}
	tMax := [3]float64{}
	tDelta := [3]float64{}
	pos := [3]int{x, y, z}
	for i := 0; i < 3; i++ {
		dv := d.Axis(i)
		o := a.Axis(i)
		switch {
		case dv > 0:
			step[i] = 1
			tMax[i] = (math.Floor(o) + 1 - o) / dv
			tDelta[i] = 1 / dv
		case dv < 0:
			step[i] = -1
			tMax[i] = (o - math.Floor(o)) / -dv
			tDelta[i] = 1 / -dv
		default:
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
		}
	}
	for {
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t := tMax[axis]
		if t > 1 {
			return 0, false
		}
		pos[axis] += step[axis]
		tMax[axis] += tDelta[axis]
		if m.At(pos[0], pos[1], pos[2]) == Solid {
			return t, true
		}
	}
}

// NearestFree probes from b along dir in steps of one quantum and returns the
// first offset at which the box is clear, up to maxDist.
func (m *Map) NearestFree(b mathx.AABB, dir mathx.Vec3, maxDist float64) (mathx.Vec3, bool) {
	l := dir.Len()
	if l == 0 {
		return mathx.Vec3{}, !m.BoxBlocked(b)
	}
	unit := dir.Scale(1 / l)
	const quantum = 1.0 / mathx.PosScale
	for s := 0.0; s <= maxDist; s += quantum * 16 {
		off := unit.Scale(s).Quantized()
		if !m.BoxBlocked(b.Offset(off)) {
			return off, true
		}
	}
	return mathx.Vec3{}, false
}

// ClampAxis moves a body standing at feet by delta along one axis. Motion
// into solid voxels stops flush against the blocking face, snapped onto the
// fixed-point grid on the free side. delta must be shorter than one voxel.
func (m *Map) ClampAxis(feet mathx.Vec3, halfWidth, height float64, axis int, delta float64) (mathx.Vec3, bool) {
	if delta == 0 {
		return feet, false
	}
	box := mathx.FeetBox(feet, halfWidth, height)
	moved := feet.WithAxis(axis, feet.Axis(axis)+delta)
	if !m.BoxBlocked(mathx.FeetBox(moved, halfWidth, height)) {
		return moved, false
	}
	lo, hi := 0.0, 0.0
	if axis != 1 {
		lo, hi = halfWidth, halfWidth
	} else {
		hi = height
	}
	var v float64
	if delta > 0 {
		face := math.Floor(box.Max.Axis(axis) + delta)
		v = math.Floor((face-hi)*mathx.PosScale) / mathx.PosScale
		if v < feet.Axis(axis) {
			v = feet.Axis(axis)
		}
	} else {
		face := math.Floor(box.Min.Axis(axis)+delta) + 1
		v = math.Ceil((face+lo)*mathx.PosScale) / mathx.PosScale
		if v > feet.Axis(axis) {
			v = feet.Axis(axis)
		}
	}
	return feet.WithAxis(axis, v), true
}
