// Package log stores a run's tick log: one JSON line per tick, zstd
// compressed, split into segments that each cover a fixed span of ticks.
// Every segment opens with a header line, so a replay can start from any
// segment without the rest of the run.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/world"
)

const (
	// Format is the header version written by this package.
	Format = 1

	// DefaultSegmentTicks is ten minutes at 30 Hz.
	DefaultSegmentTicks = 30 * 60 * 10
)

// Header is the first line of every segment.
type Header struct {
	Format    int           `json:"format"`
	RunID     string        `json:"run_id"`
	MapName   string        `json:"map"`
	Seed      int64         `json:"seed"`
	Tuning    tuning.Tuning `json:"tuning"`
	FirstTick uint64        `json:"first_tick"`
}

// TickLogger appends entries under <runDir>/ticks. Ticks must be written in
// ascending order; a segment file is created once and never reopened.
type TickLogger struct {
	dir  string
	head Header
	span uint64

	mu   sync.Mutex
	end  uint64
	last uint64
	n    int
	f    *os.File
	enc  *zstd.Encoder
	w    *bufio.Writer
}

func NewTickLogger(runDir string, h Header, segmentTicks uint64) *TickLogger {
	if segmentTicks == 0 {
		segmentTicks = DefaultSegmentTicks
	}
	h.Format = Format
	h.Seed = h.Tuning.Seed
	return &TickLogger{dir: filepath.Join(runDir, "ticks"), head: h, span: segmentTicks}
}

func (l *TickLogger) WriteTick(e world.TickLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.n > 0 && e.Tick <= l.last {
		return fmt.Errorf("tick log: tick %d after %d", e.Tick, l.last)
	}
	if l.w == nil || e.Tick >= l.end {
		if err := l.rotateLocked(e.Tick); err != nil {
			return err
		}
	}
	if err := l.lineLocked(e); err != nil {
		return err
	}
	l.last = e.Tick
	l.n++
	return l.w.Flush()
}

func (l *TickLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *TickLogger) rotateLocked(tick uint64) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	start := tick - tick%l.span
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(segmentPath(l.dir, start), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.enc = f, enc
	l.w = bufio.NewWriterSize(enc, 128*1024)
	l.end = start + l.span

	h := l.head
	h.FirstTick = tick
	return l.lineLocked(h)
}

func (l *TickLogger) lineLocked(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	return l.w.WriteByte('\n')
}

// closeLocked ends the open segment's zstd frame.
func (l *TickLogger) closeLocked() error {
	if l.w == nil {
		return nil
	}
	err := l.w.Flush()
	if cerr := l.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.enc, l.w = nil, nil, nil
	return err
}

func segmentPath(dir string, start uint64) string {
	return filepath.Join(dir, fmt.Sprintf("ticks-%012d.jsonl.zst", start))
}

// Segments lists a run's segment files, oldest first.
func Segments(runDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(runDir, "ticks", "ticks-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

var ErrNoTickLog = errors.New("no tick log")

var errHeaderOnly = errors.New("header only")

// ReadHeader returns the header of the run's first segment.
func ReadHeader(runDir string) (Header, error) {
	files, err := Segments(runDir)
	if err != nil {
		return Header{}, err
	}
	if len(files) == 0 {
		return Header{}, fmt.Errorf("%s: %w", runDir, ErrNoTickLog)
	}
	var h Header
	err = readSegment(files[0], func(got Header) error {
		h = got
		return errHeaderOnly
	}, nil)
	if err != nil && !errors.Is(err, errHeaderOnly) {
		return Header{}, fmt.Errorf("%s: %w", filepath.Base(files[0]), err)
	}
	return h, nil
}

// ReadTicks streams every entry of a run's tick log to fn, oldest first.
// Segments from another run, or ticks out of order, are errors.
func ReadTicks(runDir string, fn func(world.TickLogEntry) error) error {
	files, err := Segments(runDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%s: %w", runDir, ErrNoTickLog)
	}
	var runID string
	var last uint64
	seen := false
	for i, path := range files {
		onHeader := func(h Header) error {
			if i == 0 {
				runID = h.RunID
			} else if h.RunID != runID {
				return fmt.Errorf("segment of run %s in run %s", h.RunID, runID)
			}
			return nil
		}
		onEntry := func(e world.TickLogEntry) error {
			if seen && e.Tick <= last {
				return fmt.Errorf("tick %d after %d", e.Tick, last)
			}
			seen, last = true, e.Tick
			return fn(e)
		}
		if err := readSegment(path, onHeader, onEntry); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readSegment(path string, onHeader func(Header) error, onEntry func(world.TickLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			var h Header
			if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
				return fmt.Errorf("header: %w", err)
			}
			if h.Format != Format {
				return fmt.Errorf("header: unsupported format %d", h.Format)
			}
			if err := onHeader(h); err != nil {
				return err
			}
			continue
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := onEntry(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if line == 0 {
		return errors.New("empty segment")
	}
	return nil
}
