package main

import (
	"errors"
	"fmt"

	persistlog "voxarena.gg/internal/persistence/log"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

type replayResult struct {
	Checked  uint64
	LastTick uint64
	Digest   string
}

var errStop = errors.New("stop")

// replayRun re-runs a tick log from a fresh world and fails on the first
// digest that differs from the recorded one.
func replayRun(runDir string, m *voxel.Map, tune tuning.Tuning, verifyFrom, toTick uint64) (replayResult, error) {
	w, err := world.New(world.Config{Map: m, Tuning: tune})
	if err != nil {
		return replayResult{}, fmt.Errorf("world: %w", err)
	}
	var res replayResult
	err = persistlog.ReadTicks(runDir, func(entry world.TickLogEntry) error {
		if toTick != 0 && entry.Tick > toTick {
			return errStop
		}
		want := entry.Digest
		next, err := world.Advance(w, &entry)
		if err != nil {
			return fmt.Errorf("tick %d: %w", entry.Tick, err)
		}
		w = next
		got := w.Digest()
		if entry.Tick >= verifyFrom {
			res.Checked++
			if got != want {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", entry.Tick, got, want)
			}
		}
		res.LastTick, res.Digest = entry.Tick, got
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return res, err
	}
	return res, nil
}
