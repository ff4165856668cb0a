package protocol

import (
	"encoding/binary"
	"fmt"
)

const Version = "1.0"

// Kind is the one-byte message discriminant at the start of every frame.
type Kind uint8

const (
	KindJoin Kind = iota + 1
	KindWelcome
	KindRefuse
	KindInput
	KindSnapshot
	KindEvents
	KindHeartbeat
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "JOIN"
	case KindWelcome:
		return "WELCOME"
	case KindRefuse:
		return "REFUSE"
	case KindInput:
		return "INPUT"
	case KindSnapshot:
		return "SNAPSHOT"
	case KindEvents:
		return "EVENTS"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindDisconnect:
		return "DISCONNECT"
	}
	return fmt.Sprintf("KIND_%d", uint8(k))
}

func (k Kind) Known() bool { return k >= KindJoin && k <= KindDisconnect }

// MaxPayload bounds one frame's payload.
const MaxPayload = 64 << 10

// Frame is kind | uvarint payload length | payload. One websocket binary
// message carries exactly one frame.
type Frame struct {
	Kind    Kind
	Payload []byte
}

func EncodeFrame(k Kind, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, Coded(ErrProtoTooLarge, fmt.Errorf("%w: %s payload %d bytes", ErrProtocol, k, len(payload)))
	}
	b := make([]byte, 0, 1+binary.MaxVarintLen32+len(payload))
	b = append(b, byte(k))
	b = binary.AppendUvarint(b, uint64(len(payload)))
	return append(b, payload...), nil
}

// DecodeFrame rejects unknown kinds, oversized payloads and length prefixes
// that disagree with the bytes received. Payload aliases b.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if len(b) < 2 {
		return f, Coded(ErrProtoBadRequest, fmt.Errorf("%w: short frame", ErrProtocol))
	}
	f.Kind = Kind(b[0])
	if !f.Kind.Known() {
		return f, Coded(ErrProtoUnknownKind, fmt.Errorf("%w: unknown kind %d", ErrProtocol, b[0]))
	}
	n, w := binary.Uvarint(b[1:])
	if w <= 0 {
		return f, Coded(ErrProtoBadRequest, fmt.Errorf("%w: bad length prefix", ErrProtocol))
	}
	if n > MaxPayload {
		return f, Coded(ErrProtoTooLarge, fmt.Errorf("%w: %s payload %d bytes", ErrProtocol, f.Kind, n))
	}
	body := b[1+w:]
	if uint64(len(body)) != n {
		return f, Coded(ErrProtoBadRequest, fmt.Errorf("%w: %s declares %d bytes, carries %d", ErrProtocol, f.Kind, n, len(body)))
	}
	f.Payload = body
	return f, nil
}
