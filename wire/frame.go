// Package wire implements the length-prefixed frame codec and typed
// message encodings of §4.C: a fixed 4-byte big-endian length header
// followed by a 1-byte message type and the type-specific payload.
// It is grounded on the teacher's crypto/e2ee framing (EncodeHandshakeFrame/
// DecodeHandshakeFrame and the record header in crypto/e2ee/record.go),
// adapted from JSON handshake payloads to the specification's raw
// binary messages.
package wire

import (
	"fmt"
	"io"

	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/internal/bin"
)

// Type identifies the kind of message carried by a frame.
type Type uint8

const (
	TypeHello              Type = 1
	TypeHelloAck           Type = 2
	TypeChallengeResponse  Type = 3
	TypeReady              Type = 4
	TypeText               Type = 5
	TypeFile               Type = 6
	TypeHeartbeat          Type = 7
	TypeRekeyRequest       Type = 8
	TypeRekeyAck           Type = 9
	TypeBye                Type = 10
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeHelloAck:
		return "HELLO_ACK"
	case TypeChallengeResponse:
		return "CHALLENGE_RESPONSE"
	case TypeReady:
		return "READY"
	case TypeText:
		return "TEXT"
	case TypeFile:
		return "FILE"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeRekeyRequest:
		return "REKEY_REQUEST"
	case TypeRekeyAck:
		return "REKEY_ACK"
	case TypeBye:
		return "BYE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

const lengthHeaderSize = 4

// EncodeFrame builds length(4,BE) || type(1) || payload. maxFrameBytes
// bounds the encoded length field (§4.C: "value <= 10 MiB"); a zero or
// negative maxFrameBytes disables the check.
func EncodeFrame(t Type, payload []byte, maxFrameBytes int) ([]byte, error) {
	length := uint32(1 + len(payload))
	if maxFrameBytes > 0 && int(length) > maxFrameBytes {
		return nil, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	out := make([]byte, 0, lengthHeaderSize+int(length))
	var hdr [lengthHeaderSize]byte
	bin.PutU32BE(hdr[:], length)
	out = append(out, hdr[:]...)
	out = append(out, byte(t))
	out = append(out, payload...)
	return out, nil
}

// ReadFrame reads one frame from r, rejecting frames whose declared
// length exceeds maxFrameBytes (terminating the connection is the
// caller's responsibility, per §4.C "terminate the connection").
func ReadFrame(r io.Reader, maxFrameBytes int) (Type, []byte, error) {
	var hdr [lengthHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := bin.U32BE(hdr[:])
	if length == 0 {
		return 0, nil, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	if maxFrameBytes > 0 && int(length) > maxFrameBytes {
		return 0, nil, errs.New(errs.PathWire, errs.CodeBadFrame)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return Type(body[0]), body[1:], nil
}

// WriteFrame encodes and writes a frame in one call.
func WriteFrame(w io.Writer, t Type, payload []byte, maxFrameBytes int) error {
	b, err := EncodeFrame(t, payload, maxFrameBytes)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
