package mathx

import "math"

type Vec3 struct {
	X, Y, Z float64
}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Len() float64         { return math.Sqrt(a.Dot(a)) }

func (a Vec3) Dist(b Vec3) float64 { return a.Sub(b).Len() }

func (a Vec3) Lerp(b Vec3, t float64) Vec3 {
	return Vec3{a.X + (b.X-a.X)*t, a.Y + (b.Y-a.Y)*t, a.Z + (b.Z-a.Z)*t}
}

func (a Vec3) Quantized() Vec3 {
	return Vec3{Quantize(a.X), Quantize(a.Y), Quantize(a.Z)}
}

// Axis returns component i (0=x, 1=y, 2=z).
func (a Vec3) Axis(i int) float64 {
	switch i {
	case 0:
		return a.X
	case 1:
		return a.Y
	default:
		return a.Z
	}
}

func (a Vec3) WithAxis(i int, v float64) Vec3 {
	switch i {
	case 0:
		a.X = v
	case 1:
		a.Y = v
	default:
		a.Z = v
	}
	return a
}

// LookDir is the unit view vector for a yaw/pitch in turn units. Yaw 0 looks
// down -Z; positive yaw turns toward +X.
func LookDir(yaw uint16, pitch int16) Vec3 {
	y := YawRadians(yaw)
	p := PitchRadians(pitch)
	cp := math.Cos(p)
	return Vec3{X: math.Sin(y) * cp, Y: math.Sin(p), Z: -math.Cos(y) * cp}
}

// AABB is an axis-aligned box [Min, Max].
type AABB struct {
	Min, Max Vec3
}

// FeetBox builds the box of a body standing at feet position p.
func FeetBox(p Vec3, halfWidth, height float64) AABB {
	return AABB{
		Min: Vec3{p.X - halfWidth, p.Y, p.Z - halfWidth},
		Max: Vec3{p.X + halfWidth, p.Y + height, p.Z + halfWidth},
	}
}

func (b AABB) Offset(d Vec3) AABB { return AABB{Min: b.Min.Add(d), Max: b.Max.Add(d)} }

func (b AABB) Intersects(o AABB) bool {
	return b.Min.X < o.Max.X && b.Max.X > o.Min.X &&
		b.Min.Y < o.Max.Y && b.Max.Y > o.Min.Y &&
		b.Min.Z < o.Max.Z && b.Max.Z > o.Min.Z
}

func (b AABB) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// SegmentHit runs a slab test of segment a->b against the box. It reports
// the entry fraction in [0,1]. A segment starting inside hits at 0.
func (b AABB) SegmentHit(a, c Vec3) (float64, bool) {
	d := c.Sub(a)
	tmin, tmax := 0.0, 1.0
	for i := 0; i < 3; i++ {
		o := a.Axis(i)
		dv := d.Axis(i)
		lo, hi := b.Min.Axis(i), b.Max.Axis(i)
		if dv == 0 {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t1 := (lo - o) / dv
		t2 := (hi - o) / dv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}
