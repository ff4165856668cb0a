// Package voxel holds the static collision grid of an arena and the queries
// the simulation runs against it. A Map is immutable once loaded.
package voxel

import (
	"fmt"
	"math"

	"voxarena.gg/internal/sim/mathx"
)

type Type uint8

const (
	Empty Type = 0
	Solid Type = 1
	Lava  Type = 2
)

type Map struct {
	Name       string
	SX, SY, SZ int
	Meta       Metadata

	cells []Type
}

func New(name string, sx, sy, sz int) (*Map, error) {
	if sx <= 0 || sy <= 0 || sz <= 0 {
		return nil, fmt.Errorf("bad map size %dx%dx%d", sx, sy, sz)
	}
	if sx*sy*sz > 1<<26 {
		return nil, fmt.Errorf("map %dx%dx%d too large", sx, sy, sz)
	}
	return &Map{Name: name, SX: sx, SY: sy, SZ: sz, cells: make([]Type, sx*sy*sz)}, nil
}

func (m *Map) idx(x, y, z int) int { return (y*m.SZ+z)*m.SX + x }

func (m *Map) inBounds(x, y, z int) bool {
	return x >= 0 && x < m.SX && y >= 0 && y < m.SY && z >= 0 && z < m.SZ
}

// At returns the voxel at integer coordinates. The arena is closed by solid
// walls on x/z up to its top. It is open above, and open below y=0 so a hole
// in the floor drops to the kill floor.
func (m *Map) At(x, y, z int) Type {
	if y >= m.SY {
		return Empty
	}
	if x < 0 || x >= m.SX || z < 0 || z >= m.SZ {
		return Solid
	}
	if y < 0 {
		return Empty
	}
	return m.cells[m.idx(x, y, z)]
}

// Set is only used while building a map.
func (m *Map) Set(x, y, z int, t Type) {
	if m.inBounds(x, y, z) {
		m.cells[m.idx(x, y, z)] = t
	}
}

// Fill sets every voxel in the inclusive box.
func (m *Map) Fill(x0, y0, z0, x1, y1, z1 int, t Type) {
	for y := y0; y <= y1; y++ {
		for z := z0; z <= z1; z++ {
			for x := x0; x <= x1; x++ {
				m.Set(x, y, z, t)
			}
		}
	}
}

func cell(v float64) int { return int(math.Floor(v)) }

// Occupied reports whether point p lies in a solid voxel.
func (m *Map) Occupied(p mathx.Vec3) bool {
	return m.At(cell(p.X), cell(p.Y), cell(p.Z)) == Solid
}

// Touches reports whether b overlaps any voxel of type t. Faces touching a
// voxel boundary do not count.
func (m *Map) Touches(b mathx.AABB, t Type) bool {
	x0, x1 := cell(b.Min.X), int(math.Ceil(b.Max.X))-1
	y0, y1 := cell(b.Min.Y), int(math.Ceil(b.Max.Y))-1
	z0, z1 := cell(b.Min.Z), int(math.Ceil(b.Max.Z))-1
	for y := y0; y <= y1; y++ {
		for z := z0; z <= z1; z++ {
			for x := x0; x <= x1; x++ {
				if m.At(x, y, z) == t {
					return true
				}
			}
		}
	}
	return false
}

func (m *Map) BoxBlocked(b mathx.AABB) bool { return m.Touches(b, Solid) }

// IsLava reports whether b overlaps a lava voxel.
func (m *Map) IsLava(b mathx.AABB) bool { return m.Touches(b, Lava) }
