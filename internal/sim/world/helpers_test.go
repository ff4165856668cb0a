package world

import (
	"testing"

	"voxarena.gg/internal/sim/mathx"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
)

// flatMap is a 64x16x64 arena with a one-voxel floor and two far spawns.
func flatMap(t *testing.T) *voxel.Map {
	t.Helper()
	m, err := voxel.New("flat", 64, 16, 64)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	m.Fill(0, 0, 0, 63, 0, 63, voxel.Solid)
	m.Meta = voxel.Metadata{
		Name: "flat",
		Spawns: []voxel.SpawnPoint{
			{X: 8.5, Y: 1, Z: 8.5, Team: "red"},
			{X: 55.5, Y: 1, Z: 55.5, Team: "blue"},
		},
	}
	return m
}

func newWorld(t *testing.T, m *voxel.Map, mut func(*tuning.Tuning)) *World {
	t.Helper()
	tu := tuning.Defaults()
	if mut != nil {
		mut(&tu)
	}
	w, err := New(Config{Map: m, Tuning: tu})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

// place joins a player and moves it to pos without spawn protection.
func place(t *testing.T, w *World, id PlayerID, pos mathx.Vec3, yaw uint16) *PlayerState {
	t.Helper()
	p, err := w.Join(id, "p", 0, TeamNone)
	if err != nil {
		t.Fatalf("join %d: %v", id, err)
	}
	p.Pos = pos
	p.Yaw = yaw
	p.InvulnUntil = 0
	return p
}

// run steps w n times, feeding each player the input from script.
func run(w *World, n int, script func(tick uint64) map[PlayerID]Input) *World {
	for i := 0; i < n; i++ {
		var in map[PlayerID]Input
		if script != nil {
			in = script(w.Tick)
		}
		w = Step(w, in)
	}
	return w
}

// hold feeds the same buttons every tick with increasing sequence numbers.
func hold(id PlayerID, b Buttons) func(tick uint64) map[PlayerID]Input {
	var seq uint32
	return func(tick uint64) map[PlayerID]Input {
		seq++
		return map[PlayerID]Input{id: {Seq: seq, Tick: tick, Buttons: b}}
	}
}
