package wire

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/duskline/p2pmsg/crypto"
)

func TestHello_EncodeDecodeRoundTrip(t *testing.T) {
	idPub, idPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	eph, err := crypto.GenerateExchange()
	if err != nil {
		t.Fatalf("GenerateExchange: %v", err)
	}
	h := Hello{IdentityPub: idPub, EphPub: eph.Public.Bytes()}
	h.Signature = ed25519.Sign(idPriv, h.SignedPrefix())

	got, err := DecodeHello(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHello: %v", err)
	}
	if !bytes.Equal(got.IdentityPub, idPub) || !bytes.Equal(got.EphPub, eph.Public.Bytes()) {
		t.Fatalf("decoded Hello mismatch")
	}
	if !ed25519.Verify(idPub, got.SignedPrefix(), got.Signature) {
		t.Fatalf("signature does not verify after round-trip")
	}
}

func TestDecodeHello_RejectsBadLength(t *testing.T) {
	if _, err := DecodeHello(make([]byte, 10)); err == nil {
		t.Fatalf("expected error for truncated Hello")
	}
}

func TestHelloAck_EncodeDecodeRoundTrip(t *testing.T) {
	idPub, idPriv, _ := ed25519.GenerateKey(nil)
	eph, _ := crypto.GenerateExchange()
	challenge, err := crypto.Random(32)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	a := HelloAck{IdentityPub: idPub, EphPub: eph.Public.Bytes(), Challenge: challenge}
	a.Signature = ed25519.Sign(idPriv, a.SignedPrefix())

	got, err := DecodeHelloAck(a.Encode())
	if err != nil {
		t.Fatalf("DecodeHelloAck: %v", err)
	}
	if !bytes.Equal(got.Challenge, challenge) {
		t.Fatalf("challenge mismatch after round-trip")
	}
	if !ed25519.Verify(idPub, got.SignedPrefix(), got.Signature) {
		t.Fatalf("signature does not verify after round-trip")
	}
}

func TestFilePayload_EncodeDecodeRoundTrip(t *testing.T) {
	f := FilePayload{Name: "notes.txt", Data: []byte("line one\nline two\n")}
	got, err := DecodeFilePayload(f.Encode())
	if err != nil {
		t.Fatalf("DecodeFilePayload: %v", err)
	}
	if got.Name != f.Name || !bytes.Equal(got.Data, f.Data) {
		t.Fatalf("FilePayload round-trip mismatch: got %+v", got)
	}
}

func TestDecodeFilePayload_RejectsSizeMismatch(t *testing.T) {
	f := FilePayload{Name: "a", Data: []byte("bcd")}
	b := f.Encode()
	b = b[:len(b)-1] // truncate the declared data
	if _, err := DecodeFilePayload(b); err == nil {
		t.Fatalf("expected error for size/length mismatch")
	}
}

func TestEnvelope_EncodeDecodeRoundTrip(t *testing.T) {
	nonce := RecordNonce(7, RoleInitiatorTag)
	ciphertext := []byte("sealed-bytes-and-tag")
	payload := EncodeEnvelope(nonce, ciphertext)

	gotNonce, gotCt, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if gotNonce != nonce {
		t.Fatalf("nonce mismatch: got %x want %x", gotNonce, nonce)
	}
	if !bytes.Equal(gotCt, ciphertext) {
		t.Fatalf("ciphertext mismatch")
	}
	if RecordCounter(gotNonce) != 7 {
		t.Fatalf("RecordCounter = %d, want 7", RecordCounter(gotNonce))
	}
}

func TestDecodeEnvelope_RejectsBadVersion(t *testing.T) {
	nonce := RecordNonce(1, RoleResponderTag)
	payload := EncodeEnvelope(nonce, []byte("ct"))
	payload[0] = 0xFF
	if _, _, err := DecodeEnvelope(payload); err == nil {
		t.Fatalf("expected error for unknown envelope version")
	}
}

func TestDecodeEnvelope_RejectsTruncated(t *testing.T) {
	if _, _, err := DecodeEnvelope([]byte{RecordVersion, 0x01}); err == nil {
		t.Fatalf("expected error for truncated envelope")
	}
}

func TestFloorToMinute(t *testing.T) {
	if got := FloorToMinute(125); got != 120 {
		t.Fatalf("FloorToMinute(125) = %d, want 120", got)
	}
	if got := FloorToMinute(120); got != 120 {
		t.Fatalf("FloorToMinute(120) = %d, want 120", got)
	}
}

func TestBuildAAD_Deterministic(t *testing.T) {
	var fp [32]byte
	for i := range fp {
		fp[i] = byte(i)
	}
	a := BuildAAD(TypeText, fp, 120)
	b := BuildAAD(TypeText, fp, 120)
	if !bytes.Equal(a, b) {
		t.Fatalf("BuildAAD is not deterministic")
	}
	if len(a) != 1+32+8 {
		t.Fatalf("BuildAAD length = %d, want 41", len(a))
	}
}
