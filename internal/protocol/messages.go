package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"voxarena.gg/internal/sim/tuning"
)

// JOIN (client -> server)
type JoinMsg struct {
	ProtocolVersion string `codec:"protocol_version"`
	Name            string `codec:"name"`
	Avatar          uint8  `codec:"avatar"`
	Team            string `codec:"team,omitempty"`
}

const MaxNameLen = 32

func (m *JoinMsg) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" || len(m.Name) > MaxNameLen {
		return fmt.Errorf("%w: name length %d", ErrProtocol, len(m.Name))
	}
	for _, r := range m.Name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%w: unprintable name", ErrProtocol)
		}
	}
	if m.ProtocolVersion != Version {
		return Coded(ErrBadVersion, fmt.Errorf("client %q, server %q", m.ProtocolVersion, Version))
	}
	return nil
}

// WELCOME (server -> client). Tuning is what the server simulates with, so
// the client predicts with the same constants.
type WelcomeMsg struct {
	ProtocolVersion string        `codec:"protocol_version"`
	ServerID        string        `codec:"server_id"`
	PlayerID        uint16        `codec:"player_id"`
	Token           string        `codec:"token"`
	Tick            uint64        `codec:"tick"`
	MapName         string        `codec:"map"`
	Tuning          tuning.Tuning `codec:"tuning"`
}

// REFUSE (server -> client) answers a JOIN that cannot be admitted.
type RefuseMsg struct {
	Code   string `codec:"code"`
	Reason string `codec:"reason"`
}

// DISCONNECT (either way) ends a session.
type DisconnectMsg struct {
	Code   string `codec:"code"`
	Reason string `codec:"reason"`
}

// HEARTBEAT (client -> server) keeps an idle session alive and reports the
// last snapshot tick applied.
type HeartbeatMsg struct {
	AckTick uint64 `codec:"ack_tick"`
}

// EVENTS (server -> client) is the best-effort kill feed for one tick.
type EventsMsg struct {
	Tick   uint64     `codec:"tick"`
	Events []EventRec `codec:"events"`
}

type EventRec struct {
	Kind   uint8  `codec:"kind"`
	Actor  uint16 `codec:"actor"`
	Target uint16 `codec:"target"`
	Weapon uint8  `codec:"weapon,omitempty"`
}

var mh codec.MsgpackHandle

// Marshal packs a control message into a frame of kind k.
func Marshal(k Kind, v any) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, &mh).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %s: %w", k, err)
	}
	return EncodeFrame(k, b)
}

// Unmarshal decodes a control payload. Failures are protocol errors.
func Unmarshal(payload []byte, v any) error {
	if err := codec.NewDecoderBytes(payload, &mh).Decode(v); err != nil {
		return Coded(ErrProtoBadRequest, fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	return nil
}

// INPUT (client -> server) is hand-packed: it is the hottest message.
//
//	seq u32 | tick uvarint | ack uvarint | buttons u8 | dyaw i16 | dpitch i16 | weapon u8
type InputMsg struct {
	Seq     uint32
	Tick    uint64
	AckTick uint64
	Buttons uint8
	DYaw    int16
	DPitch  int16
	Weapon  uint8
}

func EncodeInput(m InputMsg) []byte {
	b := make([]byte, 0, 4+2*binary.MaxVarintLen64+6)
	b = binary.LittleEndian.AppendUint32(b, m.Seq)
	b = binary.AppendUvarint(b, m.Tick)
	b = binary.AppendUvarint(b, m.AckTick)
	b = append(b, m.Buttons)
	b = binary.LittleEndian.AppendUint16(b, uint16(m.DYaw))
	b = binary.LittleEndian.AppendUint16(b, uint16(m.DPitch))
	b = append(b, m.Weapon)
	f, _ := EncodeFrame(KindInput, b)
	return f
}

func DecodeInput(payload []byte) (InputMsg, error) {
	var m InputMsg
	bad := func(what string) (InputMsg, error) {
		return InputMsg{}, Coded(ErrProtoBadRequest, fmt.Errorf("%w: input %s", ErrProtocol, what))
	}
	if len(payload) < 4 {
		return bad("truncated")
	}
	m.Seq = binary.LittleEndian.Uint32(payload)
	off := 4
	var n int
	m.Tick, n = binary.Uvarint(payload[off:])
	if n <= 0 {
		return bad("tick")
	}
	off += n
	m.AckTick, n = binary.Uvarint(payload[off:])
	if n <= 0 {
		return bad("ack tick")
	}
	off += n
	if len(payload)-off != 6 {
		return bad("length")
	}
	m.Buttons = payload[off]
	m.DYaw = int16(binary.LittleEndian.Uint16(payload[off+1:]))
	m.DPitch = int16(binary.LittleEndian.Uint16(payload[off+3:]))
	m.Weapon = payload[off+5]
	if m.Seq == 0 {
		return bad("seq 0")
	}
	return m, nil
}
