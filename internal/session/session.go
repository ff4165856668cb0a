// Package session tracks connected players for the tick loop: ids, tokens,
// liveness, acks and per-player input queues. It is not safe for concurrent
// use; the server's loop goroutine owns it.
package session

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/world"
)

type Session struct {
	ID     world.PlayerID
	Token  string
	Name   string
	Avatar uint8
	Team   world.Team
	Out    chan []byte

	OpenedTick uint64
	LastHeard  uint64

	// LastSeq is the highest input seq accepted into the queue.
	LastSeq uint32
	// AckTick is the latest snapshot tick the client reported applying.
	AckTick uint64
	// BaselineTick is the tick of the first full snapshot sent. Acks below
	// it name state the client never held.
	BaselineTick  uint64
	NeedsBaseline bool

	queue []world.Input

	Malformed uint64
	Dropped   uint64
}

// Push queues an input. Duplicates, out-of-order seqs and inputs older than
// staleTicks are dropped; a full queue sheds its oldest entry.
func (s *Session) Push(in world.Input, tick uint64, staleTicks, limit int) bool {
	if in.Seq <= s.LastSeq {
		s.Dropped++
		return false
	}
	if in.Tick+uint64(staleTicks) < tick {
		s.Dropped++
		return false
	}
	s.LastSeq = in.Seq
	if limit > 0 && len(s.queue) >= limit {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.Dropped++
	}
	s.queue = append(s.queue, in)
	return true
}

// Pop returns the oldest queued input.
func (s *Session) Pop() (world.Input, bool) {
	if len(s.queue) == 0 {
		return world.Input{}, false
	}
	in := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue = s.queue[:len(s.queue)-1]
	return in, true
}

func (s *Session) QueueLen() int { return len(s.queue) }

// Ack records a snapshot tick the client applied. Acks never move backwards.
func (s *Session) Ack(tick uint64) {
	if tick > s.AckTick {
		s.AckTick = tick
	}
}

// SentFull records a full snapshot going out at tick.
func (s *Session) SentFull(tick uint64) {
	if s.NeedsBaseline {
		s.NeedsBaseline = false
		s.BaselineTick = tick
	}
}

// DeltaBase reports the tick a delta for snapshot tick may be encoded
// against: the latest ack, once it covers a baseline the client received.
func (s *Session) DeltaBase(tick uint64) (uint64, bool) {
	if s.NeedsBaseline || s.AckTick < s.BaselineTick || s.AckTick >= tick {
		return 0, false
	}
	return s.AckTick, true
}

type Manager struct {
	net        tuning.Net
	maxPlayers int

	ids     *IDAllocator
	byID    map[world.PlayerID]*Session
	byToken map[string]world.PlayerID
}

func NewManager(t tuning.Tuning) *Manager {
	return &Manager{
		net:        t.Net,
		maxPlayers: t.MaxPlayers,
		ids:        NewIDAllocator(0, t.Net.IDCooldownTicks),
		byID:       map[world.PlayerID]*Session{},
		byToken:    map[string]world.PlayerID{},
	}
}

var ErrFull = protocol.Coded(protocol.ErrCapacity, fmt.Errorf("server full"))

// Open admits a new session at tick. The session needs a full baseline
// before any delta.
func (m *Manager) Open(name string, out chan []byte, tick uint64) (*Session, error) {
	if len(m.byID) >= m.maxPlayers {
		return nil, ErrFull
	}
	id, ok := m.ids.Acquire(tick)
	if !ok {
		return nil, ErrFull
	}
	s := &Session{
		ID:            id,
		Token:         uuid.NewString(),
		Name:          name,
		Out:           out,
		OpenedTick:    tick,
		LastHeard:     tick,
		NeedsBaseline: true,
	}
	m.byID[id] = s
	m.byToken[s.Token] = id
	return s, nil
}

// Close removes a session and puts its id into cool-down.
func (m *Manager) Close(id world.PlayerID, tick uint64) (*Session, bool) {
	s, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	delete(m.byID, id)
	delete(m.byToken, s.Token)
	m.ids.Release(id, tick)
	return s, true
}

func (m *Manager) Get(id world.PlayerID) *Session { return m.byID[id] }

func (m *Manager) ByToken(token string) *Session {
	id, ok := m.byToken[token]
	if !ok {
		return nil
	}
	return m.byID[id]
}

func (m *Manager) Touch(id world.PlayerID, tick uint64) {
	if s := m.byID[id]; s != nil && tick > s.LastHeard {
		s.LastHeard = tick
	}
}

// Expired lists sessions not heard from within TimeoutTicks, in id order.
func (m *Manager) Expired(tick uint64) []world.PlayerID {
	limit := uint64(m.net.TimeoutTicks)
	var out []world.PlayerID
	for id, s := range m.byID {
		if tick > s.LastHeard && tick-s.LastHeard > limit {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) Len() int { return len(m.byID) }

// IDs returns the open session ids in ascending order.
func (m *Manager) IDs() []world.PlayerID {
	out := make([]world.PlayerID, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
