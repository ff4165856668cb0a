package indexdb

import (
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"

	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/world"
)

func TestSQLiteIndex_RecordsMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path, "run-1")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.RecordRun(RunInfo{MapName: "arena", Tuning: tuning.Defaults()}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	idx.SessionOpened(3, 1, "tok-a", "alice")
	idx.SessionOpened(4, 2, "tok-b", "bob")
	idx.Kills(50, []world.Event{
		{Kind: world.EventKill, Actor: 1, Target: 2, Weapon: 0},
		{Kind: world.EventSuicide, Actor: 1, Target: 1},
	})
	idx.SessionClosed(90, 2, "timeout")
	_ = idx.WriteTick(world.TickLogEntry{Tick: 7, Digest: "abc", Inputs: make([]world.RecordedInput, 2)})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		mapName string
		rate    int
	)
	if err := db.QueryRow(`SELECT map,tick_rate_hz FROM runs WHERE run_id='run-1'`).Scan(&mapName, &rate); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if mapName != "arena" || rate != tuning.Defaults().TickRateHz {
		t.Fatalf("run row: map=%q rate=%d", mapName, rate)
	}

	var closed sql.NullInt64
	var reason sql.NullString
	if err := db.QueryRow(`SELECT closed_tick,reason FROM sessions WHERE token='tok-b'`).Scan(&closed, &reason); err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !closed.Valid || closed.Int64 != 90 || reason.String != "timeout" {
		t.Fatalf("closed=%v reason=%v", closed, reason)
	}
	if err := db.QueryRow(`SELECT closed_tick FROM sessions WHERE token='tok-a'`).Scan(&closed); err != nil || closed.Valid {
		t.Fatalf("open session closed: %v %v", closed, err)
	}

	var kills, suicides int
	if err := db.QueryRow(`SELECT COUNT(*), SUM(suicide) FROM kills WHERE run_id='run-1' AND killer=1`).Scan(&kills, &suicides); err != nil {
		t.Fatalf("kills: %v", err)
	}
	if kills != 2 || suicides != 1 {
		t.Fatalf("kills=%d suicides=%d", kills, suicides)
	}

	var digest string
	var inputs int
	if err := db.QueryRow(`SELECT digest,inputs FROM ticks WHERE tick=7`).Scan(&digest, &inputs); err != nil {
		t.Fatalf("ticks: %v", err)
	}
	if digest != "abc" || inputs != 2 {
		t.Fatalf("tick row: %s %d", digest, inputs)
	}
}

func TestSQLiteIndex_ClosedIsNoop(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "x", "index.db"), "run")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.Close()
	idx.SessionOpened(1, 1, "t", "n")
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenSQLite_Validates(t *testing.T) {
	if _, err := OpenSQLite("", "run"); err == nil {
		t.Fatalf("empty path accepted")
	}
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "i.db"), ""); err == nil {
		t.Fatalf("empty run id accepted")
	}
}

func TestReadRun_RoundTripsTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path, "run-9")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	tu := tuning.Defaults()
	tu.GameMode = tuning.ModeTeam
	tu.Seed = 99
	if err := idx.RecordRun(RunInfo{MapName: "docks", Tuning: tu}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	runID, info, err := ReadRun(path)
	if err != nil {
		t.Fatalf("ReadRun: %v", err)
	}
	if runID != "run-9" || info.MapName != "docks" {
		t.Fatalf("run=%q map=%q", runID, info.MapName)
	}
	if !reflect.DeepEqual(info.Tuning, tu) {
		t.Fatalf("tuning mismatch:\n got=%+v\nwant=%+v", info.Tuning, tu)
	}
}
