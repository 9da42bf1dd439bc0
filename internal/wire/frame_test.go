package wire

import (
	"bytes"
	"testing"
)

func TestEncodeFramePeekHeader(t *testing.T) {
	payload := []byte("hello")
	frame, err := EncodeFrame(OpPing, payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	hdr, err := PeekHeader(frame)
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	if hdr.MessageType != OpPing {
		t.Fatalf("message type = 0x%04x, want 0x%04x", hdr.MessageType, OpPing)
	}
	if int(hdr.PayloadLen) != len(payload) {
		t.Fatalf("payload len = %d, want %d", hdr.PayloadLen, len(payload))
	}
	if !bytes.Equal(frame[HeaderSize:], payload) {
		t.Fatalf("payload bytes mismatch")
	}
}

func TestPeekHeaderNeedMoreData(t *testing.T) {
	short := []byte{'B', 'N', 'D'}
	if _, err := PeekHeader(short); err != ErrNeedMoreData {
		t.Fatalf("err = %v, want ErrNeedMoreData", err)
	}
}

func TestPeekHeaderBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, []byte{'X', 'X', 'X', 'X'})
	if _, err := PeekHeader(buf); err != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestPeekHeaderPayloadTooLarge(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, Magic[:])
	buf[4], buf[5], buf[6], buf[7] = 0xFF, 0xFF, 0xFF, 0xFF
	if _, err := PeekHeader(buf); err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestEncodeFrameRejectsOversizePayload(t *testing.T) {
	big := make([]byte, MaxPayloadLen+1)
	if _, err := EncodeFrame(OpTsData, big); err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestStringOverrun(t *testing.T) {
	r := &reader{buf: []byte{0x05, 0x00, 'a', 'b'}}
	if _, err := r.str(); err != ErrStringOverrun {
		t.Fatalf("err = %v, want ErrStringOverrun", err)
	}
}

func TestOptStrAbsent(t *testing.T) {
	r := &reader{buf: []byte{0xFF, 0xFF}}
	s, present, err := r.optStr()
	if err != nil {
		t.Fatalf("optStr: %v", err)
	}
	if present || s != "" {
		t.Fatalf("optStr = %q, %v, want absent", s, present)
	}
}
