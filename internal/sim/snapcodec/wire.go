package snapcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/sim/mathx"
)

type writer struct {
	b []byte
}

func (w *writer) u8(v uint8)       { w.b = append(w.b, v) }
func (w *writer) uvarint(v uint64) { w.b = binary.AppendUvarint(w.b, v) }
func (w *writer) varint(v int64)   { w.b = binary.AppendVarint(w.b, v) }
func (w *writer) u16(v uint16)     { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *writer) u64(v uint64)     { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *writer) fixed(v float64)  { w.varint(mathx.ToFixed(v)) }
func (w *writer) boolean(v bool)   { w.u8(boolByte(v)) }

func (w *writer) vec(v mathx.Vec3) {
	w.fixed(v.X)
	w.fixed(v.Y)
	w.fixed(v.Z)
}

func (w *writer) str(s string) {
	w.uvarint(uint64(len(s)))
	w.b = append(w.b, s...)
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

var errShort = errors.New("truncated")

// reader keeps the first error; later reads return zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("snapshot at byte %d: %w", r.off, err)
	}
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.b) {
		r.fail(errShort)
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 {
		r.fail(errShort)
		return 0
	}
	r.off += n
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.b[r.off:])
	if n <= 0 {
		r.fail(errShort)
		return 0
	}
	r.off += n
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 2 {
		r.fail(errShort)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 8 {
		r.fail(errShort)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) fixed() float64 { return mathx.FromFixed(r.varint()) }

func (r *reader) vec() mathx.Vec3 {
	x := r.fixed()
	y := r.fixed()
	z := r.fixed()
	return mathx.Vec3{X: x, Y: y, Z: z}
}

func (r *reader) boolean() bool {
	switch r.u8() {
	case 0:
		return false
	case 1:
		return true
	}
	r.fail(errors.New("bad bool"))
	return false
}

func (r *reader) str(max int) string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	if n > uint64(max) || n > uint64(r.remaining()) {
		r.fail(fmt.Errorf("string length %d", n))
		return ""
	}
	s := string(r.b[r.off : r.off+int(n)])
	r.off += int(n)
	return s
}

// count reads an entity count and checks it against the bytes left. Every
// record takes at least minRecord bytes.
func (r *reader) count(minRecord int) int {
	n := r.uvarint()
	if r.err != nil {
		return 0
	}
	if n > MaxEntities {
		r.fail(fmt.Errorf("count %d exceeds %d", n, MaxEntities))
		return 0
	}
	if n*uint64(minRecord) > uint64(r.remaining()) {
		r.fail(fmt.Errorf("count %d disagrees with %d bytes left", n, r.remaining()))
		return 0
	}
	return int(n)
}

func protoErr(err error) error {
	return fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
}
