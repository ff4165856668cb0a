package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"voxarena.gg/internal/persistence/indexdb"
	persistlog "voxarena.gg/internal/persistence/log"
	"voxarena.gg/internal/server"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		mapName    = flag.String("map", "arena", "map name under -maps")
		mapsDir    = flag.String("maps", "", "map asset directory (empty: use the generated arena)")
		arenaSize  = flag.Int("arena_size", 48, "generated arena edge length when -maps is empty")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (empty: defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite session/kill index")
		segTicks   = flag.Uint64("log_segment_ticks", persistlog.DefaultSegmentTicks, "ticks per tick log segment")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	m, err := loadMap(*mapsDir, *mapName, *arenaSize)
	if err != nil {
		logger.Fatalf("load map: %v", err)
	}

	runID := uuid.NewString()
	runDir := filepath.Join(*dataDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	tickLog := persistlog.NewTickLogger(runDir, persistlog.Header{RunID: runID, MapName: m.Name, Tuning: tune}, *segTicks)
	defer tickLog.Close()

	cfg := server.Config{
		ID:      runID,
		Map:     m,
		Tuning:  tune,
		Logger:  logger,
		TickLog: tickLog,
	}

	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(runDir, "index", "run.sqlite"), runID)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordRun(indexdb.RunInfo{MapName: m.Name, Tuning: tune}); err != nil {
			logger.Printf("index: record run: %v", err)
		}
		cfg.TickLog = multiTickLogger{a: tickLog, b: idx}
		cfg.Index = idx
	}

	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatalf("server: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := srv.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("server stopped: %v", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           buildMux(srv, logger, envBool("VA_ENABLE_PPROF_HTTP", false)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Sessions get their E_SHUTDOWN disconnect before the logs close.
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		logger.Printf("tick loop did not stop in time")
	}
}

func loadMap(dir, name string, arenaSize int) (*voxel.Map, error) {
	if strings.TrimSpace(dir) == "" {
		return voxel.Arena(name, arenaSize), nil
	}
	return voxel.Load(dir, name)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

// WriteTick writes to both loggers even when the first fails.
func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	var errA, errB error
	if m.a != nil {
		errA = m.a.WriteTick(entry)
	}
	if m.b != nil {
		errB = m.b.WriteTick(entry)
	}
	return errors.Join(errA, errB)
}
