package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/world"
)

const writeTimeout = 5 * time.Second

// Conn is a joined websocket session. A receive goroutine decodes frames,
// resolves deltas against the snapshots it has applied and publishes the
// newest snapshot on Snapshots.
type Conn struct {
	ws      *websocket.Conn
	Welcome protocol.WelcomeMsg

	wmu sync.Mutex

	history *snapcodec.History
	latest  atomic.Uint64

	snaps  chan *snapcodec.Snapshot
	events chan protocol.EventsMsg

	// Malformed counts frames dropped on decode; MissingBase counts deltas
	// whose baseline was not held.
	Malformed   atomic.Uint64
	MissingBase atomic.Uint64

	done    chan struct{}
	errMu   sync.Mutex
	err     error
	closing atomic.Bool
}

// Dial connects and joins. A refusal comes back as an error carrying the
// server's code (see protocol.CodeOf).
func Dial(ctx context.Context, url string, join protocol.JoinMsg) (*Conn, error) {
	if join.ProtocolVersion == "" {
		join.ProtocolVersion = protocol.Version
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	b, err := protocol.Marshal(protocol.KindJoin, join)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send JOIN: %w", err)
	}

	welcome, err := awaitWelcome(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	c := &Conn{
		ws:      ws,
		Welcome: welcome,
		history: snapcodec.NewHistory(welcome.Tuning.Net.HistoryTicks),
		snaps:   make(chan *snapcodec.Snapshot, 4),
		events:  make(chan protocol.EventsMsg, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func awaitWelcome(ctx context.Context, ws *websocket.Conn) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return w, fmt.Errorf("await WELCOME: %w", err)
	}
	f, err := protocol.DecodeFrame(msg)
	if err != nil {
		return w, err
	}
	switch f.Kind {
	case protocol.KindWelcome:
		if err := protocol.Unmarshal(f.Payload, &w); err != nil {
			return w, err
		}
		return w, nil
	case protocol.KindRefuse:
		var r protocol.RefuseMsg
		if err := protocol.Unmarshal(f.Payload, &r); err != nil {
			return w, err
		}
		return w, protocol.Coded(r.Code, errors.New("refused: "+r.Reason))
	}
	return w, protocol.Coded(protocol.ErrProtoBadRequest, fmt.Errorf("%w: expected WELCOME, got %s", protocol.ErrProtocol, f.Kind))
}

func (c *Conn) PlayerID() world.PlayerID { return world.PlayerID(c.Welcome.PlayerID) }

// Snapshots delivers resolved snapshots in tick order. When the consumer
// falls behind, older snapshots are dropped.
func (c *Conn) Snapshots() <-chan *snapcodec.Snapshot { return c.snaps }

// Events is the best-effort kill feed.
func (c *Conn) Events() <-chan protocol.EventsMsg { return c.events }

// Disconnected is closed when the session ends; Err then reports why.
func (c *Conn) Disconnected() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// AckTick is the newest snapshot tick applied.
func (c *Conn) AckTick() uint64 { return c.latest.Load() }

func (c *Conn) SendInput(in world.Input) error {
	return c.write(protocol.EncodeInput(protocol.InputMsg{
		Seq:     in.Seq,
		Tick:    in.Tick,
		AckTick: c.AckTick(),
		Buttons: uint8(in.Buttons),
		DYaw:    in.DYaw,
		DPitch:  in.DPitch,
		Weapon:  in.Weapon,
	}))
}

func (c *Conn) Heartbeat() error {
	b, err := protocol.Marshal(protocol.KindHeartbeat, protocol.HeartbeatMsg{AckTick: c.AckTick()})
	if err != nil {
		return err
	}
	return c.write(b)
}

// Close says goodbye and tears the connection down.
func (c *Conn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	if b, err := protocol.Marshal(protocol.KindDisconnect, protocol.DisconnectMsg{Reason: "client closed"}); err == nil {
		_ = c.write(b)
	}
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Conn) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (c *Conn) finish(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	close(c.done)
}

func (c *Conn) readLoop() {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				c.finish(nil)
			} else {
				c.finish(fmt.Errorf("connection lost: %w", err))
			}
			return
		}
		f, err := protocol.DecodeFrame(msg)
		if err != nil {
			c.Malformed.Add(1)
			continue
		}
		switch f.Kind {
		case protocol.KindSnapshot:
			c.onSnapshot(f.Payload)
		case protocol.KindEvents:
			var ev protocol.EventsMsg
			if err := protocol.Unmarshal(f.Payload, &ev); err != nil {
				c.Malformed.Add(1)
				continue
			}
			select {
			case c.events <- ev:
			default:
			}
		case protocol.KindDisconnect:
			var bye protocol.DisconnectMsg
			_ = protocol.Unmarshal(f.Payload, &bye)
			c.finish(protocol.Coded(bye.Code, errors.New("disconnected: "+bye.Reason)))
			_ = c.ws.Close()
			return
		default:
			c.Malformed.Add(1)
		}
	}
}

func (c *Conn) onSnapshot(payload []byte) {
	pk, err := snapcodec.Decode(payload)
	if err != nil {
		c.Malformed.Add(1)
		return
	}
	if pk.Tick <= c.latest.Load() {
		return // stale or duplicate
	}
	var ref *snapcodec.Snapshot
	if pk.Delta {
		base, ok := c.history.Get(pk.Base)
		if !ok {
			c.MissingBase.Add(1)
			return
		}
		ref = base
	}
	s, err := pk.Resolve(ref)
	if err != nil {
		c.Malformed.Add(1)
		return
	}
	c.history.Put(s)
	c.latest.Store(s.Tick)
	select {
	case c.snaps <- s:
		return
	default:
	}
	select {
	case <-c.snaps:
	default:
	}
	select {
	case c.snaps <- s:
	default:
	}
}
