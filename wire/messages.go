package wire

import (
	"crypto/ecdh"
	"crypto/ed25519"

	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/internal/bin"
)

const (
	ed25519PubLen = ed25519.PublicKeySize // 32
	x25519PubLen  = 32
	sigLen        = ed25519.SignatureSize // 64
	challengeLen  = 32
)

// Hello is the initiator's first handshake message (§4.D step 1):
// identity_pub || exchange_pub_ephemeral || sign_I(identity_pub || exchange_pub_ephemeral || "HELLO").
type Hello struct {
	IdentityPub ed25519.PublicKey
	EphPub      []byte // X25519 ephemeral public key, 32 bytes
	Signature   []byte // 64 bytes
}

// SignedPrefix returns the bytes the signature in Hello is computed over.
func (h Hello) SignedPrefix() []byte {
	buf := make([]byte, 0, ed25519PubLen+x25519PubLen+len("HELLO"))
	buf = append(buf, h.IdentityPub...)
	buf = append(buf, h.EphPub...)
	buf = append(buf, []byte("HELLO")...)
	return buf
}

// Encode serializes a Hello message.
func (h Hello) Encode() []byte {
	out := make([]byte, 0, ed25519PubLen+x25519PubLen+sigLen)
	out = append(out, h.IdentityPub...)
	out = append(out, h.EphPub...)
	out = append(out, h.Signature...)
	return out
}

// DecodeHello parses a Hello message, rejecting malformed key lengths.
func DecodeHello(b []byte) (Hello, error) {
	if len(b) != ed25519PubLen+x25519PubLen+sigLen {
		return Hello{}, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	h := Hello{
		IdentityPub: append(ed25519.PublicKey(nil), b[:ed25519PubLen]...),
		EphPub:      append([]byte(nil), b[ed25519PubLen:ed25519PubLen+x25519PubLen]...),
		Signature:   append([]byte(nil), b[ed25519PubLen+x25519PubLen:]...),
	}
	if _, err := ecdh.X25519().NewPublicKey(h.EphPub); err != nil {
		return Hello{}, errs.Wrap(errs.PathWire, errs.CodeBadFrame, err)
	}
	return h, nil
}

// HelloAck is the responder's reply (§4.D step 2):
// identity_pub || exchange_pub_ephemeral || challenge(32) || sign_R(identity_pub || exchange_pub_ephemeral || challenge || "ACK").
type HelloAck struct {
	IdentityPub ed25519.PublicKey
	EphPub      []byte
	Challenge   []byte
	Signature   []byte
}

// SignedPrefix returns the bytes the signature in HelloAck is computed over.
func (a HelloAck) SignedPrefix() []byte {
	buf := make([]byte, 0, ed25519PubLen+x25519PubLen+challengeLen+len("ACK"))
	buf = append(buf, a.IdentityPub...)
	buf = append(buf, a.EphPub...)
	buf = append(buf, a.Challenge...)
	buf = append(buf, []byte("ACK")...)
	return buf
}

// Encode serializes a HelloAck message.
func (a HelloAck) Encode() []byte {
	out := make([]byte, 0, ed25519PubLen+x25519PubLen+challengeLen+sigLen)
	out = append(out, a.IdentityPub...)
	out = append(out, a.EphPub...)
	out = append(out, a.Challenge...)
	out = append(out, a.Signature...)
	return out
}

// DecodeHelloAck parses a HelloAck message.
func DecodeHelloAck(b []byte) (HelloAck, error) {
	if len(b) != ed25519PubLen+x25519PubLen+challengeLen+sigLen {
		return HelloAck{}, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	off := 0
	idPub := append(ed25519.PublicKey(nil), b[off:off+ed25519PubLen]...)
	off += ed25519PubLen
	ephPub := append([]byte(nil), b[off:off+x25519PubLen]...)
	off += x25519PubLen
	challenge := append([]byte(nil), b[off:off+challengeLen]...)
	off += challengeLen
	sig := append([]byte(nil), b[off:]...)

	if _, err := ecdh.X25519().NewPublicKey(ephPub); err != nil {
		return HelloAck{}, errs.Wrap(errs.PathWire, errs.CodeBadFrame, err)
	}
	return HelloAck{IdentityPub: idPub, EphPub: ephPub, Challenge: challenge, Signature: sig}, nil
}

// FilePayload is the plaintext structure sealed inside a FILE record
// (§3 Message: "for files, logical name and byte size").
type FilePayload struct {
	Name string
	Data []byte
}

// Encode serializes a FilePayload to the plaintext later sealed by the record layer.
func (f FilePayload) Encode() []byte {
	nameBytes := []byte(f.Name)
	out := make([]byte, 0, 2+len(nameBytes)+8+len(f.Data))
	var u16 [2]byte
	bin.PutU16BE(u16[:], uint16(len(nameBytes)))
	out = append(out, u16[:]...)
	out = append(out, nameBytes...)
	var u64 [8]byte
	bin.PutU64BE(u64[:], uint64(len(f.Data)))
	out = append(out, u64[:]...)
	out = append(out, f.Data...)
	return out
}

// DecodeFilePayload parses a FilePayload.
func DecodeFilePayload(b []byte) (FilePayload, error) {
	if len(b) < 2 {
		return FilePayload{}, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	nameLen := int(bin.U16BE(b[:2]))
	off := 2
	if len(b) < off+nameLen+8 {
		return FilePayload{}, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	name := string(b[off : off+nameLen])
	off += nameLen
	size := bin.U64BE(b[off : off+8])
	off += 8
	if uint64(len(b)-off) != size {
		return FilePayload{}, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	return FilePayload{Name: name, Data: append([]byte(nil), b[off:]...)}, nil
}
