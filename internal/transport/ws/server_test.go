package ws

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxarena.gg/internal/client"
	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/server"
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

func startServer(t *testing.T, mut func(*tuning.Tuning)) (*server.Server, string) {
	t.Helper()
	tu := tuning.Defaults()
	tu.TickRateHz = 60
	if mut != nil {
		mut(&tu)
	}
	srv, err := server.New(server.Config{ID: "ws-test", Map: voxel.Arena("arena", 32), Tuning: tu})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", NewServer(srv, log.New(io.Discard, "", 0)).Handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		<-srv.Done()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
}

func nextSnapshot(t *testing.T, c *client.Conn) *snapcodec.Snapshot {
	t.Helper()
	select {
	case s := <-c.Snapshots():
		return s
	case <-c.Disconnected():
		t.Fatalf("disconnected: %v", c.Err())
	case <-time.After(3 * time.Second):
		t.Fatalf("no snapshot")
	}
	return nil
}

func TestWS_JoinPlayAndLeave(t *testing.T) {
	srv, url := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, url, protocol.JoinMsg{Name: "bot"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if c.PlayerID() == 0 || c.Welcome.MapName != "arena" || c.Welcome.Tuning.TickRateHz != 60 {
		t.Fatalf("welcome=%+v", c.Welcome)
	}
	base := nextSnapshot(t, c)
	if _, ok := base.Player(c.PlayerID()); !ok {
		t.Fatalf("own player missing from baseline")
	}

	m := voxel.Arena("arena", 32)
	pred := client.NewPredictor(c.PlayerID(), m, c.Welcome.Tuning, base)
	var lastSeq uint32
	deadline := time.Now().Add(3 * time.Second)
	for lastSeq < 5 && time.Now().Before(deadline) {
		in := pred.Apply(world.BtnForward, 200, 0, 0)
		if err := c.SendInput(in); err != nil {
			t.Fatalf("send: %v", err)
		}
		s := nextSnapshot(t, c)
		pred.OnSnapshot(s)
		if me, ok := s.Player(c.PlayerID()); ok {
			lastSeq = me.LastSeq
		}
	}
	if lastSeq < 5 {
		t.Fatalf("server applied only %d inputs", lastSeq)
	}
	if c.AckTick() == 0 || srv.Metrics().DeltaSnapshots == 0 {
		t.Fatalf("ack=%d deltas=%d", c.AckTick(), srv.Metrics().DeltaSnapshots)
	}
	if err := c.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if err := c.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, func() bool { return srv.Metrics().Sessions == 0 })
}

func TestWS_CapacityRefusal(t *testing.T) {
	_, url := startServer(t, func(tu *tuning.Tuning) { tu.MaxPlayers = 1 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := client.Dial(ctx, url, protocol.JoinMsg{Name: "a"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	defer first.Close()
	_, err = client.Dial(ctx, url, protocol.JoinMsg{Name: "b"})
	if protocol.CodeOf(err) != protocol.ErrCapacity {
		t.Fatalf("second dial err=%v", err)
	}
}

func TestWS_MalformedFrameKeepsConnection(t *testing.T) {
	srv, url := startServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	join, _ := protocol.Marshal(protocol.KindJoin, protocol.JoinMsg{ProtocolVersion: protocol.Version, Name: "raw"})
	if err := conn.WriteMessage(websocket.BinaryMessage, join); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if f, err := protocol.DecodeFrame(msg); err != nil || f.Kind != protocol.KindWelcome {
		t.Fatalf("expected welcome, got %v %v", f.Kind, err)
	}

	for _, junk := range [][]byte{{0xEE, 0x00}, {byte(protocol.KindInput), 0x05, 1, 2}, {byte(protocol.KindSnapshot), 0}} {
		if err := conn.WriteMessage(websocket.BinaryMessage, junk); err != nil {
			t.Fatalf("write junk: %v", err)
		}
	}
	waitFor(t, func() bool { return srv.Metrics().Malformed >= 3 })

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("connection dropped after junk: %v", err)
		}
		if f, err := protocol.DecodeFrame(msg); err == nil && f.Kind == protocol.KindSnapshot {
			break
		}
	}
}

func TestWS_HandshakeRejectsNonJoin(t *testing.T) {
	_, url := startServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	hb, _ := protocol.Marshal(protocol.KindHeartbeat, protocol.HeartbeatMsg{})
	_ = conn.WriteMessage(websocket.BinaryMessage, hb)
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := protocol.DecodeFrame(msg)
	if err != nil || f.Kind != protocol.KindRefuse {
		t.Fatalf("expected refuse, got %v %v", f.Kind, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}
