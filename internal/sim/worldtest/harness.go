// Package worldtest drives a whole match from the outside: a server stepped
// by hand and in-memory clients that decode its frames the way a real
// client does. Link delay and loss are simulated per client.
package worldtest

import (
	"testing"

	"voxarena.gg/internal/client"
	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/server"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

// Harness is a small black-box helper around server.StepOnce.
type Harness struct {
	T   *testing.T
	Map *voxel.Map
	Srv *server.Server

	clients []*Client
	inbox   []delayed
	leaves  []world.PlayerID
}

type delayed struct {
	at uint64
	in server.Inbound
}

// Client is one simulated connection.
type Client struct {
	h *Harness

	ID      world.PlayerID
	Welcome protocol.WelcomeMsg
	Out     chan []byte

	// Delay holds client-to-server messages for this many ticks.
	Delay uint64
	// Drop, when set, discards the snapshot frame for a tick.
	Drop func(tick uint64) bool

	Latest *snapcodec.Snapshot
	Pred   *client.Predictor
	Events []protocol.EventRec
	Bye    *protocol.DisconnectMsg
	Closed bool

	history     *snapcodec.History
	Fulls       int
	Deltas      int
	MissingBase int
}

func NewHarness(t *testing.T, mut func(*tuning.Tuning)) *Harness {
	t.Helper()
	tu := tuning.Defaults()
	if mut != nil {
		mut(&tu)
	}
	m := voxel.Arena("arena", 32)
	srv, err := server.New(server.Config{ID: "worldtest", Map: m, Tuning: tu})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return &Harness{T: t, Map: m, Srv: srv}
}

// Join admits a player on the next tick and consumes its baseline.
func (h *Harness) Join(name string) *Client {
	h.T.Helper()
	req := server.JoinRequest{
		Msg:  protocol.JoinMsg{ProtocolVersion: protocol.Version, Name: name},
		Out:  make(chan []byte, h.Srv.Tuning().Net.OutboxSize),
		Resp: make(chan server.JoinResponse, 1),
	}
	h.step([]server.JoinRequest{req})
	resp := <-req.Resp
	if resp.Welcome == nil {
		h.T.Fatalf("join %s refused: %+v", name, resp.Refuse)
	}
	c := &Client{
		h:       h,
		ID:      resp.PlayerID(),
		Welcome: *resp.Welcome,
		Out:     req.Out,
		history: snapcodec.NewHistory(resp.Welcome.Tuning.Net.HistoryTicks),
	}
	h.clients = append(h.clients, c)
	c.deliver()
	if c.Latest == nil {
		h.T.Fatalf("join %s: no baseline", name)
	}
	c.Pred = client.NewPredictor(c.ID, h.Map, c.Welcome.Tuning, c.Latest)
	return c
}

// Step advances one tick, delivering whatever the link delay releases.
func (h *Harness) Step() {
	h.T.Helper()
	h.step(nil)
}

func (h *Harness) StepN(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.step(nil)
	}
}

func (h *Harness) step(joins []server.JoinRequest) {
	tick := h.Srv.World().Tick
	var due []server.Inbound
	kept := h.inbox[:0]
	for _, d := range h.inbox {
		if d.at <= tick {
			due = append(due, d.in)
		} else {
			kept = append(kept, d)
		}
	}
	h.inbox = kept
	leaves := h.leaves
	h.leaves = nil
	h.Srv.StepOnce(joins, leaves, due)
	for _, c := range h.clients {
		c.deliver()
	}
}

// Tick is the authoritative tick.
func (h *Harness) Tick() uint64 { return h.Srv.World().Tick }

// Authority captures the server world as a snapshot.
func (h *Harness) Authority() *snapcodec.Snapshot { return snapcodec.Capture(h.Srv.World()) }

// Play predicts one input locally and sends it.
func (c *Client) Play(buttons world.Buttons, dyaw, dpitch int16) world.Input {
	in := c.Pred.Apply(buttons, dyaw, dpitch, 0)
	c.send(server.Inbound{ID: c.ID, Kind: protocol.KindInput, Input: protocol.InputMsg{
		Seq:     in.Seq,
		Tick:    in.Tick,
		AckTick: c.ack(),
		Buttons: uint8(in.Buttons),
		DYaw:    in.DYaw,
		DPitch:  in.DPitch,
		Weapon:  in.Weapon,
	}})
	return in
}

func (c *Client) Heartbeat() {
	c.send(server.Inbound{ID: c.ID, Kind: protocol.KindHeartbeat, AckTick: c.ack()})
}

// Leave closes the session at the next tick boundary.
func (c *Client) Leave() {
	c.h.leaves = append(c.h.leaves, c.ID)
}

func (c *Client) ack() uint64 {
	if c.Latest == nil {
		return 0
	}
	return c.Latest.Tick
}

func (c *Client) send(in server.Inbound) {
	c.h.inbox = append(c.h.inbox, delayed{at: c.h.Tick() + c.Delay, in: in})
}

func (c *Client) deliver() {
	t := c.h.T
	t.Helper()
	for {
		var b []byte
		var ok bool
		select {
		case b, ok = <-c.Out:
		default:
			return
		}
		if !ok {
			c.Closed = true
			return
		}
		f, err := protocol.DecodeFrame(b)
		if err != nil {
			t.Fatalf("player %d: bad frame: %v", c.ID, err)
		}
		switch f.Kind {
		case protocol.KindSnapshot:
			c.onSnapshot(f.Payload)
		case protocol.KindEvents:
			var ev protocol.EventsMsg
			if err := protocol.Unmarshal(f.Payload, &ev); err != nil {
				t.Fatalf("player %d: events: %v", c.ID, err)
			}
			c.Events = append(c.Events, ev.Events...)
		case protocol.KindDisconnect:
			var bye protocol.DisconnectMsg
			if err := protocol.Unmarshal(f.Payload, &bye); err != nil {
				t.Fatalf("player %d: disconnect: %v", c.ID, err)
			}
			c.Bye = &bye
		}
	}
}

func (c *Client) onSnapshot(payload []byte) {
	t := c.h.T
	t.Helper()
	pk, err := snapcodec.Decode(payload)
	if err != nil {
		t.Fatalf("player %d: snapshot: %v", c.ID, err)
	}
	if c.Drop != nil && c.Drop(pk.Tick) {
		return
	}
	var ref *snapcodec.Snapshot
	if pk.Delta {
		base, ok := c.history.Get(pk.Base)
		if !ok {
			c.MissingBase++
			return
		}
		ref = base
		c.Deltas++
	} else {
		c.Fulls++
	}
	s, err := pk.Resolve(ref)
	if err != nil {
		t.Fatalf("player %d: resolve tick %d: %v", c.ID, pk.Tick, err)
	}
	c.history.Put(s)
	c.Latest = s
	if c.Pred != nil {
		c.Pred.OnSnapshot(s)
	}
}
