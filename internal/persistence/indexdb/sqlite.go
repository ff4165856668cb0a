// Package indexdb keeps a queryable SQLite read model of matches: runs,
// sessions, kills and per-tick digests. It never feeds back into the
// simulation; the tick log stays the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/world"
)

type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqOpen
	reqClose
	reqKills
)

type req struct {
	kind reqKind

	tick   world.TickLogEntry
	ptick  uint64
	player world.PlayerID
	token  string
	name   string
	reason string
	events []world.Event
}

// RunInfo describes one server run.
type RunInfo struct {
	MapName string
	Tuning  tuning.Tuning
}

func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			map TEXT NOT NULL,
			game_mode TEXT NOT NULL,
			seed INTEGER NOT NULL,
			tick_rate_hz INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			run_id TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			token TEXT NOT NULL,
			name TEXT NOT NULL,
			opened_tick INTEGER NOT NULL,
			closed_tick INTEGER,
			reason TEXT,
			PRIMARY KEY (run_id, token)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_player ON sessions(run_id, player_id, opened_tick);`,
		`CREATE TABLE IF NOT EXISTS kills (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			killer INTEGER NOT NULL,
			victim INTEGER NOT NULL,
			weapon INTEGER NOT NULL,
			suicide INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kills_killer ON kills(run_id, killer);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			inputs INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts records shed because the writer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// RecordRun stores the run row synchronously, before the loop starts.
func (s *SQLiteIndex) RecordRun(info RunInfo) error {
	b, err := json.Marshal(info.Tuning)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs(run_id,map,game_mode,seed,tick_rate_hz,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?,?,?,?)`,
		s.runID,
		info.MapName,
		info.Tuning.GameMode,
		info.Tuning.Seed,
		info.Tuning.TickRateHz,
		hex.EncodeToString(sum[:]),
		string(b),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) SessionOpened(tick uint64, id world.PlayerID, token, name string) {
	s.enqueue(req{kind: reqOpen, ptick: tick, player: id, token: token, name: name})
}

func (s *SQLiteIndex) SessionClosed(tick uint64, id world.PlayerID, reason string) {
	s.enqueue(req{kind: reqClose, ptick: tick, player: id, reason: reason})
}

func (s *SQLiteIndex) Kills(tick uint64, events []world.Event) {
	s.enqueue(req{kind: reqKills, ptick: tick, events: append([]world.Event(nil), events...)})
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; the tick log remains the source of truth.
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,digest,joins,leaves,inputs) VALUES(?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(run_id,player_id,token,name,opened_tick) VALUES(?,?,?,?,?)`)
	closeSession, _ := s.db.Prepare(`UPDATE sessions SET closed_tick=?, reason=? WHERE run_id=? AND player_id=? AND closed_tick IS NULL`)
	insertKill, _ := s.db.Prepare(`INSERT OR REPLACE INTO kills(run_id,tick,seq,killer,victim,weapon,suicide) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertSession, closeSession, insertKill} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			exec(insertTick, s.runID, int64(e.Tick), e.Digest, len(e.Joins), len(e.Leaves), len(e.Inputs))
		case reqOpen:
			exec(insertSession, s.runID, int(r.player), r.token, r.name, int64(r.ptick))
		case reqClose:
			exec(closeSession, int64(r.ptick), r.reason, s.runID, int(r.player))
		case reqKills:
			for i, ev := range r.events {
				suicide := 0
				if ev.Kind == world.EventSuicide {
					suicide = 1
				}
				if !exec(insertKill, s.runID, int64(r.ptick), i, int(ev.Actor), int(ev.Target), int(ev.Weapon), suicide) {
					break
				}
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

// ReadRun loads the run row of a closed index. It opens the database
// read-only and is meant for offline tools.
func ReadRun(path string) (string, RunInfo, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return "", RunInfo{}, err
	}
	defer db.Close()

	var (
		runID   string
		info    RunInfo
		rawTune string
	)
	row := db.QueryRow(`SELECT run_id, map, tuning_json FROM runs ORDER BY started_at DESC LIMIT 1`)
	if err := row.Scan(&runID, &info.MapName, &rawTune); err != nil {
		return "", RunInfo{}, fmt.Errorf("read run: %w", err)
	}
	if err := json.Unmarshal([]byte(rawTune), &info.Tuning); err != nil {
		return "", RunInfo{}, fmt.Errorf("read run tuning: %w", err)
	}
	return runID, info, nil
}
