package wire

import (
	"bytes"
	"testing"
)

func TestEncodeReadFrame_RoundTrip(t *testing.T) {
	payload := []byte("hello world")
	b, err := EncodeFrame(TypeText, payload, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	typ, body, err := ReadFrame(bytes.NewReader(b), 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != TypeText {
		t.Fatalf("type = %v, want TEXT", typ)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("payload mismatch: got %q", body)
	}
}

func TestEncodeFrame_RejectsOversize(t *testing.T) {
	if _, err := EncodeFrame(TypeText, make([]byte, 100), 50); err == nil {
		t.Fatalf("expected error for frame exceeding maxFrameBytes")
	}
}

func TestReadFrame_RejectsOversizeDeclaredLength(t *testing.T) {
	b, err := EncodeFrame(TypeText, make([]byte, 100), 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, _, err := ReadFrame(bytes.NewReader(b), 50); err == nil {
		t.Fatalf("expected error reading frame whose declared length exceeds cap")
	}
}

func TestReadFrame_RejectsZeroLength(t *testing.T) {
	var hdr [4]byte // length = 0
	if _, _, err := ReadFrame(bytes.NewReader(hdr[:]), 0); err == nil {
		t.Fatalf("expected error for zero-length frame")
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	b, _ := EncodeFrame(TypeText, []byte("abc"), 0)
	if _, _, err := ReadFrame(bytes.NewReader(b[:len(b)-1]), 0); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestType_String(t *testing.T) {
	cases := map[Type]string{
		TypeHello:    "HELLO",
		TypeHelloAck: "HELLO_ACK",
		TypeBye:      "BYE",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
	if got := Type(200).String(); got != "UNKNOWN(200)" {
		t.Fatalf("unexpected unknown type string: %q", got)
	}
}
