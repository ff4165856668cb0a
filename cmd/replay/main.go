package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxarena.gg/internal/persistence/indexdb"
	persistlog "voxarena.gg/internal/persistence/log"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
)

func main() {
	var (
		runDir     = flag.String("run", "", "run directory (data/runs/<run id>)")
		mapName    = flag.String("map", "", "map name (default: from the tick log header, else arena)")
		mapsDir    = flag.String("maps", "", "map asset directory (empty: use the generated arena)")
		arenaSize  = flag.Int("arena_size", 48, "generated arena edge length when -maps is empty")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: from the tick log header)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	name := strings.TrimSpace(*mapName)
	tune := tuning.Defaults()
	haveTuning := false
	if h, err := persistlog.ReadHeader(*runDir); err == nil {
		fmt.Printf("run=%s map=%s mode=%s seed=%d tick_rate=%d first_tick=%d\n", h.RunID, h.MapName, h.Tuning.GameMode, h.Seed, h.Tuning.TickRateHz, h.FirstTick)
		if name == "" {
			name = h.MapName
		}
		tune, haveTuning = h.Tuning, true
		if runID, info, err := indexdb.ReadRun(filepath.Join(*runDir, "index", "run.sqlite")); err == nil && (runID != h.RunID || info.MapName != h.MapName) {
			fmt.Fprintf(os.Stderr, "warning: index names run=%s map=%s\n", runID, info.MapName)
		}
	} else if runID, info, err := indexdb.ReadRun(filepath.Join(*runDir, "index", "run.sqlite")); err == nil {
		fmt.Printf("run=%s map=%s mode=%s seed=%d tick_rate=%d (from index)\n", runID, info.MapName, info.Tuning.GameMode, info.Tuning.Seed, info.Tuning.TickRateHz)
		if name == "" {
			name = info.MapName
		}
		tune, haveTuning = info.Tuning, true
	}
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune, haveTuning = t, true
	}
	if !haveTuning {
		fmt.Fprintln(os.Stderr, "no tick log header or run index; replaying with default tuning")
	}
	if name == "" {
		name = "arena"
	}

	var m *voxel.Map
	if *mapsDir == "" {
		m = voxel.Arena(name, *arenaSize)
	} else {
		var err error
		if m, err = voxel.Load(*mapsDir, name); err != nil {
			fmt.Fprintln(os.Stderr, "load map:", err)
			os.Exit(1)
		}
	}

	res, err := replayRun(*runDir, m, tune, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks last_tick=%d digest=%s\n", res.Checked, res.LastTick, res.Digest)
}
