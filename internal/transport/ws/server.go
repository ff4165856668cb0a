package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/server"
	"voxarena.gg/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
)

type Server struct {
	srv *server.Server
	log *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(srv *server.Server, logger *log.Logger) *Server {
	s := &Server{
		srv: srv,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(protocol.MaxPayload + 16)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		id, out := s.handshake(ctx, conn)
		if id == 0 {
			return
		}

		// Writer goroutine. The server closes out when the session ends.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		s.readLoop(conn, id)

		// Cleanup.
		cancel()
		s.srv.Leave(id)
		<-writerDone
	}
}

func (s *Server) readLoop(conn *websocket.Conn, id world.PlayerID) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			s.srv.Submit(server.Inbound{ID: id, Malformed: true})
			continue
		}
		in, bye, err := decodeInbound(id, msg)
		if err != nil {
			s.srv.Submit(server.Inbound{ID: id, Malformed: true})
			continue
		}
		if bye {
			return
		}
		if in.Kind == 0 {
			continue
		}
		if !s.srv.Submit(in) {
			return
		}
	}
}

// decodeInbound turns one client frame into a server message. Frames that
// only a server may send are reported as malformed.
func decodeInbound(id world.PlayerID, msg []byte) (in server.Inbound, bye bool, err error) {
	f, err := protocol.DecodeFrame(msg)
	if err != nil {
		return in, false, err
	}
	in.ID = id
	switch f.Kind {
	case protocol.KindInput:
		m, err := protocol.DecodeInput(f.Payload)
		if err != nil {
			return in, false, err
		}
		in.Kind = protocol.KindInput
		in.Input = m
	case protocol.KindHeartbeat:
		var hb protocol.HeartbeatMsg
		if err := protocol.Unmarshal(f.Payload, &hb); err != nil {
			return in, false, err
		}
		in.Kind = protocol.KindHeartbeat
		in.AckTick = hb.AckTick
	case protocol.KindDisconnect:
		return in, true, nil
	case protocol.KindJoin:
		// Already joined; ignore repeats.
	default:
		return in, false, protocol.Coded(protocol.ErrProtoUnknownKind, errors.New("client sent "+f.Kind.String()))
	}
	return in, false, nil
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (world.PlayerID, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, nil
	}
	f, err := protocol.DecodeFrame(msg)
	if err != nil || f.Kind != protocol.KindJoin {
		s.refuse(conn, protocol.ErrProtoBadRequest, "expected JOIN")
		return 0, nil
	}
	var join protocol.JoinMsg
	if err := protocol.Unmarshal(f.Payload, &join); err != nil {
		s.refuse(conn, protocol.CodeOf(err), "bad JOIN")
		return 0, nil
	}

	out := make(chan []byte, s.srv.Tuning().Net.OutboxSize)
	resp, err := s.srv.Join(ctx, join, out)
	if err != nil {
		s.refuse(conn, protocol.CodeOf(err), err.Error())
		return 0, nil
	}
	if resp.Refuse != nil {
		s.refuse(conn, resp.Refuse.Code, resp.Refuse.Reason)
		return 0, nil
	}
	b, err := protocol.Marshal(protocol.KindWelcome, resp.Welcome)
	if err == nil {
		err = writeFrame(conn, b)
	}
	if err != nil {
		s.log.Printf("welcome id=%d: %v", resp.PlayerID(), err)
		s.srv.Leave(resp.PlayerID())
		return 0, nil
	}
	return resp.PlayerID(), out
}

func (s *Server) refuse(conn *websocket.Conn, code, reason string) {
	if b, err := protocol.Marshal(protocol.KindRefuse, protocol.RefuseMsg{Code: code, Reason: reason}); err == nil {
		_ = writeFrame(conn, b)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, b)
}
