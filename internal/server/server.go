// Package server runs the authoritative tick loop: it admits sessions, folds
// their inputs into world.Step and streams full or delta snapshots back.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/session"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

type Config struct {
	// ID names this run in logs, the index and Welcome.
	ID      string
	Map     *voxel.Map
	Tuning  tuning.Tuning
	Logger  *log.Logger
	TickLog world.TickLogger
	Index   Indexer
}

type Server struct {
	id     string
	log    *log.Logger
	tuning tuning.Tuning

	world    *world.World
	sessions *session.Manager
	history  *snapcodec.History
	tickLog  world.TickLogger
	index    Indexer

	join  chan JoinRequest
	leave chan world.PlayerID
	inbox chan Inbound

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once

	state   atomic.Int32
	metrics atomic.Value

	// Loop-owned counters, published through metrics.
	fullSent      uint64
	deltaSent     uint64
	framesDropped uint64
	inputsDropped uint64
	malformed     uint64
	timeouts      uint64
	refused       uint64
}

func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w, err := world.New(world.Config{Map: cfg.Map, Tuning: cfg.Tuning})
	if err != nil {
		return nil, err
	}
	t := w.Tuning
	s := &Server{
		id:       cfg.ID,
		log:      logger,
		tuning:   t,
		world:    w,
		sessions: session.NewManager(t),
		history:  snapcodec.NewHistory(t.Net.HistoryTicks),
		tickLog:  cfg.TickLog,
		index:    cfg.Index,
		join:     make(chan JoinRequest, 64),
		leave:    make(chan world.PlayerID, 64),
		inbox:    make(chan Inbound, 1024),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.history.Put(snapcodec.Capture(w))
	s.publishMetrics(0)
	return s, nil
}

func (s *Server) ID() string            { return s.id }
func (s *Server) Tuning() tuning.Tuning { return s.tuning }
func (s *Server) MapName() string       { return s.world.Map.Name }
func (s *Server) State() State          { return State(s.state.Load()) }
func (s *Server) Done() <-chan struct{} { return s.done }
func (s *Server) Stop()                 { s.stopOnce.Do(func() { close(s.stop) }) }

// World exposes the current state. Only read it when the loop is not
// running (tests, replay).
func (s *Server) World() *world.World { return s.world }

// Join queues a join and waits for the tick boundary that answers it.
func (s *Server) Join(ctx context.Context, msg protocol.JoinMsg, out chan []byte) (JoinResponse, error) {
	if s.stopped() {
		return JoinResponse{}, protocol.Coded(protocol.ErrShutdown, errors.New("server stopped"))
	}
	req := JoinRequest{Msg: msg, Out: out, Resp: make(chan JoinResponse, 1)}
	select {
	case s.join <- req:
	case <-s.done:
		return JoinResponse{}, protocol.Coded(protocol.ErrShutdown, errors.New("server stopped"))
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp, nil
	case <-s.done:
		// Shutdown answers queued joins before closing done.
		select {
		case resp := <-req.Resp:
			return resp, nil
		default:
		}
		return JoinResponse{}, protocol.Coded(protocol.ErrShutdown, errors.New("server stopped"))
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

// Leave reports a closed connection. The session is released next tick.
func (s *Server) Leave(id world.PlayerID) {
	select {
	case s.leave <- id:
	case <-s.done:
	}
}

// Submit hands a decoded client message to the loop. It returns false once
// the server has stopped.
func (s *Server) Submit(in Inbound) bool {
	if s.stopped() {
		return false
	}
	select {
	case s.inbox <- in:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Server) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateListening), int32(StateRunning)) {
		return fmt.Errorf("server: run in state %s", s.State())
	}
	interval := time.Second / time.Duration(s.tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []world.PlayerID
	var pendingInbound []Inbound

	s.log.Printf("run=%s map=%s tick_rate=%d max_players=%d mode=%s", s.id, s.world.Map.Name, s.tuning.TickRateHz, s.tuning.MaxPlayers, s.tuning.GameMode)
	for {
		select {
		case <-ctx.Done():
			s.shutdown(pendingJoins)
			return ctx.Err()
		case <-s.stop:
			s.shutdown(pendingJoins)
			return nil
		case req := <-s.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-s.leave:
			pendingLeaves = append(pendingLeaves, id)
		case in := <-s.inbox:
			pendingInbound = append(pendingInbound, in)
		case <-ticker.C:
			s.step(pendingJoins, pendingLeaves, pendingInbound)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingInbound = pendingInbound[:0]
		}
	}
}

// StepOnce advances one tick with the same ordering as Run. It is meant for
// tests and tools that drive the server without a ticker.
func (s *Server) StepOnce(joins []JoinRequest, leaves []world.PlayerID, inbound []Inbound) (tick uint64, digest string) {
	tick = s.world.Tick
	s.step(joins, leaves, inbound)
	return tick, s.world.Digest()
}

// Shutdown drains a server that is not running its own loop.
func (s *Server) Shutdown() { s.shutdown(nil) }

func (s *Server) shutdown(pendingJoins []JoinRequest) {
	if State(s.state.Load()) == StateStopped {
		return
	}
	s.state.Store(int32(StateDraining))
	tick := s.world.Tick
	for _, req := range s.drainJoins(pendingJoins) {
		s.refuse(req, protocol.ErrShutdown, "server shutting down")
	}
	bye, _ := protocol.Marshal(protocol.KindDisconnect, protocol.DisconnectMsg{Code: protocol.ErrShutdown, Reason: "server shutting down"})
	for _, id := range s.sessions.IDs() {
		s.closeSession(id, tick, bye, "shutdown")
	}
	s.state.Store(int32(StateStopped))
	s.publishMetrics(0)
	s.doneOnce.Do(func() { close(s.done) })
	s.log.Printf("run=%s stopped at tick=%d", s.id, tick)
}

func (s *Server) drainJoins(pending []JoinRequest) []JoinRequest {
	for {
		select {
		case req := <-s.join:
			pending = append(pending, req)
		default:
			return pending
		}
	}
}

func (s *Server) refuse(req JoinRequest, code, reason string) {
	s.refused++
	if req.Resp != nil {
		req.Resp <- JoinResponse{Refuse: &protocol.RefuseMsg{Code: code, Reason: reason}}
	}
}

// closeSession sends bye (if any), closes the outbound channel and releases
// the player id into cool-down. The server is the only closer of Out.
func (s *Server) closeSession(id world.PlayerID, tick uint64, bye []byte, reason string) bool {
	sess, ok := s.sessions.Close(id, tick)
	if !ok {
		return false
	}
	if sess.Out != nil {
		if bye != nil {
			sendLatest(sess.Out, bye)
		}
		close(sess.Out)
	}
	if s.index != nil {
		s.index.SessionClosed(tick, id, reason)
	}
	s.log.Printf("leave id=%d name=%q tick=%d reason=%s", id, sess.Name, tick, reason)
	return true
}

func (s *Server) Metrics() Metrics {
	v := s.metrics.Load()
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

func (s *Server) publishMetrics(stepMS float64) {
	s.metrics.Store(Metrics{
		Tick:     s.world.Tick,
		State:    s.State().String(),
		Players:  len(s.world.Players),
		Sessions: s.sessions.Len(),
		StepMS:   stepMS,
		QueueDepths: QueueDepths{
			Inbox: len(s.inbox),
			Join:  len(s.join),
			Leave: len(s.leave),
		},
		FullSnapshots:  s.fullSent,
		DeltaSnapshots: s.deltaSent,
		FramesDropped:  s.framesDropped,
		InputsDropped:  s.inputsDropped,
		Malformed:      s.malformed,
		Timeouts:       s.timeouts,
		Refused:        s.refused,
	})
}

// sendLatest never blocks: on a full channel the oldest frame is dropped.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

// trySend is for best-effort frames that must not evict anything.
func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}
