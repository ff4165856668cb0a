package mathx

import "math"

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// Rng is a splitmix64 stream. It is a plain value so a World copy carries
// its own position in the stream.
type Rng struct {
	State uint64
}

func NewRng(seed int64) Rng { return Rng{State: uint64(seed)} }

func (r *Rng) Uint64() uint64 {
	z := r.State
	r.State += 0x9e3779b97f4a7c15
	return mix64(z)
}

// Intn returns a value in [0, n). n must be positive.
func (r *Rng) Intn(n int) int {
	return int(r.Uint64() % uint64(n))
}

// Fixed-point grid shared by the simulation and the wire codec.
const (
	PosScale   = 256
	AngleTurn  = 65536
	PitchLimit = 16200 // ~89 degrees
)

// Quantize snaps v to the 1/PosScale grid.
func Quantize(v float64) float64 {
	return math.Round(v*PosScale) / PosScale
}

func ToFixed(v float64) int64 { return int64(math.Round(v * PosScale)) }

func FromFixed(q int64) float64 { return float64(q) / PosScale }

// YawRadians converts a yaw in turn units to radians.
func YawRadians(yaw uint16) float64 {
	return float64(yaw) * 2 * math.Pi / AngleTurn
}

func PitchRadians(pitch int16) float64 {
	return float64(pitch) * 2 * math.Pi / AngleTurn
}
