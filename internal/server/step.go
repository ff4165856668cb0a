package server

import (
	"time"

	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/session"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/world"
)

func (s *Server) step(joins []JoinRequest, leaves []world.PlayerID, inbound []Inbound) {
	stepStart := time.Now()
	tick := s.world.Tick
	entry := world.TickLogEntry{Tick: tick}

	// Leaves and timeouts release ids before joins can claim them.
	for _, id := range leaves {
		if s.closeSession(id, tick, nil, "closed") {
			entry.Leaves = append(entry.Leaves, id)
		}
	}
	if expired := s.sessions.Expired(tick); len(expired) > 0 {
		bye, _ := protocol.Marshal(protocol.KindDisconnect, protocol.DisconnectMsg{Code: protocol.ErrTimeout, Reason: "no input or heartbeat"})
		for _, id := range expired {
			if s.closeSession(id, tick, bye, "timeout") {
				s.timeouts++
				entry.Leaves = append(entry.Leaves, id)
			}
		}
	}

	for _, req := range joins {
		if j, ok := s.admit(req, tick); ok {
			entry.Joins = append(entry.Joins, j)
		}
	}

	for _, in := range inbound {
		s.receive(in, tick)
	}
	for _, id := range s.sessions.IDs() {
		sess := s.sessions.Get(id)
		if in, ok := sess.Pop(); ok {
			entry.Inputs = append(entry.Inputs, world.RecordedInput{ID: id, Input: in})
		}
	}

	next, err := world.Advance(s.world, &entry)
	if err != nil {
		// Only reachable through a session/world roster mismatch.
		s.log.Printf("tick=%d advance: %v", tick, err)
		return
	}
	s.world = next

	snap := snapcodec.Capture(next)
	s.history.Put(snap)
	s.broadcast(snap, next.Events)

	if s.tickLog != nil {
		entry.Digest = next.Digest()
		if err := s.tickLog.WriteTick(entry); err != nil {
			s.log.Printf("tick=%d tick log: %v", tick, err)
		}
	}
	if s.index != nil {
		if kills := killEvents(next.Events); len(kills) > 0 {
			s.index.Kills(tick, kills)
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	s.publishMetrics(stepMS)
}

func (s *Server) admit(req JoinRequest, tick uint64) (world.RecordedJoin, bool) {
	if st := s.State(); st == StateDraining || st == StateStopped {
		s.refuse(req, protocol.ErrShutdown, "server shutting down")
		return world.RecordedJoin{}, false
	}
	msg := req.Msg
	if err := msg.Validate(); err != nil {
		s.refuse(req, protocol.CodeOf(err), err.Error())
		return world.RecordedJoin{}, false
	}
	sess, err := s.sessions.Open(msg.Name, req.Out, tick)
	if err != nil {
		s.log.Printf("refuse name=%q tick=%d: %v", msg.Name, tick, err)
		s.refuse(req, protocol.CodeOf(err), err.Error())
		return world.RecordedJoin{}, false
	}
	sess.Avatar = msg.Avatar
	sess.Team = world.ParseTeam(msg.Team)

	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: &protocol.WelcomeMsg{
			ProtocolVersion: protocol.Version,
			ServerID:        s.id,
			PlayerID:        uint16(sess.ID),
			Token:           sess.Token,
			Tick:            tick,
			MapName:         s.world.Map.Name,
			Tuning:          s.tuning,
		}}
	}
	if s.index != nil {
		s.index.SessionOpened(tick, sess.ID, sess.Token, sess.Name)
	}
	s.log.Printf("join id=%d name=%q tick=%d", sess.ID, sess.Name, tick)
	return world.RecordedJoin{ID: sess.ID, Name: sess.Name, Avatar: sess.Avatar, Team: sess.Team}, true
}

func (s *Server) receive(in Inbound, tick uint64) {
	sess := s.sessions.Get(in.ID)
	if sess == nil {
		return
	}
	if in.Malformed {
		sess.Malformed++
		s.malformed++
		return
	}
	switch in.Kind {
	case protocol.KindHeartbeat:
		s.sessions.Touch(in.ID, tick)
		sess.Ack(in.AckTick)
	case protocol.KindInput:
		s.sessions.Touch(in.ID, tick)
		sess.Ack(in.Input.AckTick)
		before := sess.Dropped
		sess.Push(toWorldInput(in.Input), tick, s.tuning.Net.InputStaleTicks, s.tuning.Net.InputQueueMax)
		s.inputsDropped += sess.Dropped - before
	}
}

func toWorldInput(m protocol.InputMsg) world.Input {
	return world.Input{
		Seq:     m.Seq,
		Tick:    m.Tick,
		Buttons: world.Buttons(m.Buttons),
		DYaw:    m.DYaw,
		DPitch:  m.DPitch,
		Weapon:  m.Weapon,
	}
}

// broadcast sends every session its snapshot for this tick: a full packet
// until it has acked its first full or a later tick still held in history,
// a delta after that.
// Frames encoded against the same baseline are shared.
func (s *Server) broadcast(snap *snapcodec.Snapshot, events []world.Event) {
	var feed []byte
	if len(events) > 0 {
		feed = s.eventsFrame(snap.Tick, events)
	}
	var full []byte
	deltas := map[uint64][]byte{}
	for _, id := range s.sessions.IDs() {
		sess := s.sessions.Get(id)
		if sess.Out == nil {
			continue
		}
		if feed != nil {
			trySend(sess.Out, feed)
		}
		frame, isFull := s.snapshotFrame(sess, snap, &full, deltas)
		if frame == nil {
			continue
		}
		if isFull {
			s.fullSent++
			sess.SentFull(snap.Tick)
		} else {
			s.deltaSent++
		}
		if !sendLatest(sess.Out, frame) {
			s.framesDropped++
		}
	}
}

func (s *Server) snapshotFrame(sess *session.Session, snap *snapcodec.Snapshot, full *[]byte, deltas map[uint64][]byte) ([]byte, bool) {
	var base *snapcodec.Snapshot
	if tick, ok := sess.DeltaBase(snap.Tick); ok {
		base, _ = s.history.Get(tick)
	}
	if base == nil {
		if *full == nil {
			*full = s.frame(snapcodec.EncodeFull(snap), snap.Tick)
		}
		return *full, true
	}
	b, ok := deltas[base.Tick]
	if !ok {
		b = s.frame(snapcodec.EncodeDelta(snap, base), snap.Tick)
		deltas[base.Tick] = b
	}
	return b, false
}

func (s *Server) frame(payload []byte, tick uint64) []byte {
	b, err := protocol.EncodeFrame(protocol.KindSnapshot, payload)
	if err != nil {
		s.log.Printf("tick=%d snapshot: %v", tick, err)
		return nil
	}
	return b
}

func (s *Server) eventsFrame(tick uint64, events []world.Event) []byte {
	msg := protocol.EventsMsg{Tick: tick, Events: make([]protocol.EventRec, 0, len(events))}
	for _, e := range events {
		msg.Events = append(msg.Events, protocol.EventRec{
			Kind:   uint8(e.Kind),
			Actor:  uint16(e.Actor),
			Target: uint16(e.Target),
			Weapon: e.Weapon,
		})
	}
	b, err := protocol.Marshal(protocol.KindEvents, msg)
	if err != nil {
		s.log.Printf("tick=%d events: %v", tick, err)
		return nil
	}
	return b
}

func killEvents(events []world.Event) []world.Event {
	var out []world.Event
	for _, e := range events {
		if e.Kind == world.EventKill || e.Kind == world.EventSuicide {
			out = append(out, e)
		}
	}
	return out
}
