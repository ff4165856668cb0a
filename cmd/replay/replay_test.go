package main

import (
	"strings"
	"testing"

	persistlog "voxarena.gg/internal/persistence/log"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

// recordRun plays a short scripted match and writes its tick log.
func recordRun(t *testing.T, runDir string, m *voxel.Map, tune tuning.Tuning, ticks int, corruptAt int) {
	t.Helper()
	w, err := world.New(world.Config{Map: m, Tuning: tune})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	tl := persistlog.NewTickLogger(runDir, persistlog.Header{RunID: "replay-test", MapName: m.Name, Tuning: tune}, 16)
	for i := 0; i < ticks; i++ {
		e := world.TickLogEntry{Tick: w.Tick}
		switch i {
		case 0:
			e.Joins = []world.RecordedJoin{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
		case 30:
			e.Leaves = []world.PlayerID{2}
		}
		if i > 0 {
			e.Inputs = []world.RecordedInput{
				{ID: 1, Input: world.Input{Seq: uint32(i), Tick: w.Tick, Buttons: world.BtnForward | world.BtnFire, DYaw: 250}},
			}
		}
		next, err := world.Advance(w, &e)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		w = next
		e.Digest = w.Digest()
		if i == corruptAt {
			e.Digest = "deadbeef"
		}
		if err := tl.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReplayRun_Verifies(t *testing.T) {
	dir := t.TempDir()
	m := voxel.Arena("arena", 32)
	tune := tuning.Defaults()
	recordRun(t, dir, m, tune, 50, -1)

	res, err := replayRun(dir, m, tune, 0, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Checked != 50 || res.LastTick != 49 || res.Digest == "" {
		t.Fatalf("res=%+v", res)
	}
}

func TestReplayRun_StopsAtToTick(t *testing.T) {
	dir := t.TempDir()
	m := voxel.Arena("arena", 32)
	tune := tuning.Defaults()
	recordRun(t, dir, m, tune, 50, 45)

	res, err := replayRun(dir, m, tune, 10, 20)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Checked != 11 || res.LastTick != 20 {
		t.Fatalf("res=%+v", res)
	}
}

func TestReplayRun_DetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	m := voxel.Arena("arena", 32)
	tune := tuning.Defaults()
	recordRun(t, dir, m, tune, 20, 12)

	_, err := replayRun(dir, m, tune, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 12") {
		t.Fatalf("err=%v", err)
	}
}

func TestReplayRun_DifferentTuningDiverges(t *testing.T) {
	dir := t.TempDir()
	m := voxel.Arena("arena", 32)
	tune := tuning.Defaults()
	recordRun(t, dir, m, tune, 20, -1)

	other := tune
	other.Physics.WalkSpeed = tune.Physics.WalkSpeed * 2
	if _, err := replayRun(dir, m, other, 0, 0); err == nil {
		t.Fatalf("replay with different tuning verified")
	}
}

func TestReplayRun_UsesHeaderTuning(t *testing.T) {
	dir := t.TempDir()
	m := voxel.Arena("arena", 32)
	tune := tuning.Defaults()
	tune.Physics.WalkSpeed *= 1.5
	recordRun(t, dir, m, tune, 40, -1)

	h, err := persistlog.ReadHeader(dir)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.RunID != "replay-test" || h.MapName != "arena" || h.FirstTick != 0 {
		t.Fatalf("header=%+v", h)
	}
	res, err := replayRun(dir, m, h.Tuning, 0, 0)
	if err != nil {
		t.Fatalf("replay with header tuning: %v", err)
	}
	if res.Checked != 40 {
		t.Fatalf("res=%+v", res)
	}
}
