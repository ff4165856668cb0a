package voxel

import (
	"math"
	"testing"

	"voxarena.gg/internal/sim/mathx"
)

func TestAtBounds(t *testing.T) {
	m, err := New("t", 4, 4, 4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if m.At(-1, 1, 1) != Solid || m.At(1, 1, 4) != Solid || m.At(-1, -3, 1) != Solid {
		t.Fatalf("outside walls should be solid")
	}
	if m.At(1, 4, 1) != Empty {
		t.Fatalf("above the arena should be open")
	}
	if m.At(1, -1, 1) != Empty {
		t.Fatalf("below the floor should be open")
	}
	m.Set(1, 1, 1, Solid)
	if !m.Occupied(mathx.V(1.5, 1.2, 1.9)) {
		t.Fatalf("expected occupied")
	}
}

func TestSegmentHit_ThinWall(t *testing.T) {
	m, _ := New("t", 16, 4, 4)
	m.Fill(8, 0, 0, 8, 3, 3, Solid)

	// One long segment crossing a single-voxel wall must still hit it.
	frac, ok := m.SegmentHit(mathx.V(1.5, 1.5, 1.5), mathx.V(14.5, 1.5, 1.5))
	if !ok {
		t.Fatalf("segment passed through wall")
	}
	want := (8 - 1.5) / 13.0
	if math.Abs(frac-want) > 1e-9 {
		t.Fatalf("frac=%v want %v", frac, want)
	}
	if _, ok := m.SegmentHit(mathx.V(1.5, 1.5, 1.5), mathx.V(7.5, 1.5, 1.5)); ok {
		t.Fatalf("segment short of wall should miss")
	}
}

func TestClampAxis_StopsFlushOnGrid(t *testing.T) {
	m, _ := New("t", 8, 8, 8)
	m.Fill(5, 0, 0, 5, 7, 7, Solid)
	const hw, h = 0.4, 1.8

	feet := mathx.V(4.45, 1, 2)
	got, blocked := m.ClampAxis(feet, hw, h, 0, 0.25)
	if !blocked {
		t.Fatalf("expected blocked")
	}
	if got.X+hw > 5 || 5-(got.X+hw) > 1.0/mathx.PosScale {
		t.Fatalf("not flush: x=%v", got.X)
	}
	if mathx.Quantize(got.X) != got.X {
		t.Fatalf("clamped position off grid: %v", got.X)
	}
	if m.BoxBlocked(mathx.FeetBox(got, hw, h)) {
		t.Fatalf("clamped box still intersects")
	}

	// Landing on the floor stops exactly on the voxel top.
	m.Fill(0, 0, 0, 4, 0, 7, Solid)
	got, blocked = m.ClampAxis(mathx.V(2, 1.1, 2), hw, h, 1, -0.25)
	if !blocked || got.Y != 1 {
		t.Fatalf("landing: blocked=%v y=%v", blocked, got.Y)
	}
}

func TestNearestFree(t *testing.T) {
	m, _ := New("t", 8, 8, 8)
	m.Fill(0, 0, 0, 7, 2, 7, Solid)
	box := mathx.FeetBox(mathx.V(4, 1.5, 4), 0.4, 1.8)
	off, ok := m.NearestFree(box, mathx.V(0, 1, 0), 4)
	if !ok {
		t.Fatalf("expected free position above")
	}
	if off.Y < 1.5 || off.Y > 1.5+1.0/16+1e-9 {
		t.Fatalf("offset=%+v", off)
	}
}

func TestTouchesLava(t *testing.T) {
	m := Arena("a", 32)
	mid := 16.0
	if !m.IsLava(mathx.FeetBox(mathx.V(mid, 1, mid), 0.4, 1.8).Offset(mathx.V(0, -0.01, 0))) {
		t.Fatalf("expected lava under the middle")
	}
	if m.Touches(mathx.FeetBox(mathx.V(3.5, 1, 3.5+20), 0.4, 1.8), Lava) {
		t.Fatalf("corner should be clear of lava")
	}
}
