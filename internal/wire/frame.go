// Package wire implements the BNDP binary frame codec and the tagged request/
// response message variants carried over it.
//
// Frame format: MAGIC(4) | payload_len(4 LE) | message_type(2 LE) | payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the four-byte frame header, ASCII "BNDP".
var Magic = [4]byte{'B', 'N', 'D', 'P'}

// HeaderSize is the fixed header length: magic(4) + payload_len(4) + message_type(2).
const HeaderSize = 10

// MaxPayloadLen bounds a single frame's payload at 16 MiB.
const MaxPayloadLen = 16 << 20

// Header is the decoded fixed portion of a frame.
type Header struct {
	PayloadLen  uint32
	MessageType uint16
}

var (
	// ErrNeedMoreData means fewer than HeaderSize bytes are available; the
	// caller should read more and retry.
	ErrNeedMoreData = errors.New("wire: need more data")
	// ErrBadMagic means the leading four bytes did not match Magic.
	ErrBadMagic = errors.New("wire: bad magic")
	// ErrPayloadTooLarge means the declared payload length exceeds MaxPayloadLen.
	ErrPayloadTooLarge = errors.New("wire: payload too large")
	// ErrShortPayload means the payload slice handed to DecodeRequest or
	// DecodeResponse is shorter
	// than the schema for its message type requires.
	ErrShortPayload = errors.New("wire: short payload")
	// ErrStringOverrun means a length-prefixed string's declared length
	// extends past the end of the payload.
	ErrStringOverrun = errors.New("wire: string length overruns payload")
	// ErrUnknownMessageType means the message_type has no registered schema.
	ErrUnknownMessageType = errors.New("wire: unknown message type")
)

// PeekHeader inspects buf (which may contain more than one frame's worth of
// bytes) and returns the decoded header without consuming anything. Callers
// drive a read loop: PeekHeader, then once PayloadLen bytes of payload are
// buffered, call DecodeRequest or DecodeResponse on that slice and advance
// their buffer by
// HeaderSize+PayloadLen.
func PeekHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrNeedMoreData
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return Header{}, ErrBadMagic
	}
	payloadLen := binary.LittleEndian.Uint32(buf[4:8])
	if payloadLen > MaxPayloadLen {
		return Header{}, ErrPayloadTooLarge
	}
	msgType := binary.LittleEndian.Uint16(buf[8:10])
	return Header{PayloadLen: payloadLen, MessageType: msgType}, nil
}

// EncodeFrame produces a complete frame (header + payload) for messageType
// and the given pre-encoded payload bytes.
func EncodeFrame(messageType uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint16(buf[8:10], messageType)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// reader is a small cursor over a payload slice used by the per-variant decoders.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrShortPayload
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) bool() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrShortPayload
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrShortPayload
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) f32() (float32, error) {
	v, err := r.u32()
	if err != nil {
		return 0, err
	}
	return float32FromBits(v), nil
}

// str reads a length-prefixed UTF-8 string: u16 len, then len bytes.
func (r *reader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", ErrStringOverrun
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// optStr reads the "absent string" convention: u16 len == 0xFFFF means absent,
// else a normal length-prefixed string.
func (r *reader) optStr() (string, bool, error) {
	if r.remaining() < 2 {
		return "", false, ErrShortPayload
	}
	n := binary.LittleEndian.Uint16(r.buf[r.pos:])
	if n == 0xFFFF {
		r.pos += 2
		return "", false, nil
	}
	s, err := r.str()
	return s, true, err
}

// optU32 reads the "optional scalar" convention: u8 present; value.
func (r *reader) optU32() (uint32, bool, error) {
	present, err := r.bool()
	if err != nil {
		return 0, false, err
	}
	if !present {
		return 0, false, nil
	}
	v, err := r.u32()
	return v, true, err
}

func (r *reader) rest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

func (r *reader) finished() bool { return r.pos == len(r.buf) }

// writer accumulates an encoded payload.
type writer struct {
	buf []byte
}

func (w *writer) u8(v byte)     { w.buf = append(w.buf, v) }
func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}
func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *writer) i32(v int32) { w.u32(uint32(v)) }
func (w *writer) f32(v float32) { w.u32(float32Bits(v)) }
func (w *writer) str(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}
func (w *writer) optStr(s string, present bool) {
	if !present {
		w.u16(0xFFFF)
		return
	}
	w.str(s)
}
func (w *writer) optU32(v uint32, present bool) {
	w.boolean(present)
	if present {
		w.u32(v)
	}
}
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) frame(messageType uint16) ([]byte, error) {
	return EncodeFrame(messageType, w.buf)
}

func fmtShort(msgType uint16) error {
	return fmt.Errorf("%w: message_type=0x%04x", ErrShortPayload, msgType)
}
