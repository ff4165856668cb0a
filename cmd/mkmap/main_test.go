package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"voxarena.gg/internal/sim/voxel"
)

func TestWriteArena(t *testing.T) {
	dir := t.TempDir()
	if err := writeArena(dir, "yard", 32, true); err != nil {
		t.Fatalf("writeArena: %v", err)
	}
	names, err := voxel.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "yard" {
		t.Fatalf("names=%v", names)
	}
	m, err := voxel.Load(dir, "yard")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := voxel.Arena("yard", 32)
	if m.SX != want.SX || m.SY != want.SY || m.SZ != want.SZ || len(m.Meta.Spawns) != len(want.Meta.Spawns) {
		t.Fatalf("reloaded map differs: %dx%dx%d spawns=%d", m.SX, m.SY, m.SZ, len(m.Meta.Spawns))
	}

	raw, err := os.ReadFile(filepath.Join(dir, "metadata.schema.json"))
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("schema is not json: %v", err)
	}
}
