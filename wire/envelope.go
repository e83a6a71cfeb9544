package wire

import (
	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/internal/bin"
)

// RecordVersion is the only supported record-envelope version (§4.E).
const RecordVersion = uint8(1)

// RecordNonceLen is the length in bytes of the record-layer AEAD nonce:
// an 8-byte little-endian message counter followed by a 4-byte role tag.
const RecordNonceLen = 12

// RoleInitiatorTag and RoleResponderTag tag which side of the session sent a
// record, making the two directions' nonce spaces disjoint even when
// their counters collide (§4.E "nonce = counter_le(8) || role_tag(4)").
var (
	RoleInitiatorTag = [4]byte{0x00, 0x00, 0x00, 0x01}
	RoleResponderTag = [4]byte{0x00, 0x00, 0x00, 0x02}
)

// RecordNonce builds the 12-byte AEAD nonce for a given message counter
// and sender role.
func RecordNonce(counter uint64, roleTag [4]byte) [RecordNonceLen]byte {
	var n [RecordNonceLen]byte
	bin.PutU64LE(n[:8], counter)
	copy(n[8:], roleTag[:])
	return n
}

// RecordCounter extracts the 8-byte little-endian counter embedded in a
// record nonce.
func RecordCounter(nonce [RecordNonceLen]byte) uint64 {
	return bin.U64LE(nonce[:8])
}

// EncodeEnvelope builds the on-wire record payload:
// version(1) || nonce(12) || ciphertext_and_tag.
func EncodeEnvelope(nonce [RecordNonceLen]byte, ciphertext []byte) []byte {
	out := make([]byte, 0, 1+RecordNonceLen+len(ciphertext))
	out = append(out, RecordVersion)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out
}

// DecodeEnvelope parses a record payload, returning its nonce and the
// still-sealed ciphertext+tag.
func DecodeEnvelope(payload []byte) (nonce [RecordNonceLen]byte, ciphertext []byte, err error) {
	if len(payload) < 1+RecordNonceLen {
		return nonce, nil, errs.New(errs.PathRecord, errs.CodeBadFrame)
	}
	if payload[0] != RecordVersion {
		return nonce, nil, errs.New(errs.PathRecord, errs.CodeUnknownVersion)
	}
	copy(nonce[:], payload[1:1+RecordNonceLen])
	ciphertext = append([]byte(nil), payload[1+RecordNonceLen:]...)
	return nonce, ciphertext, nil
}

// BuildAAD builds the AEAD associated data for a record-layer payload
// (§4.C): type(1) || sender_fingerprint(32) || timestamp_minute(8,BE),
// where timestamp_minute is Unix-seconds floored to 60.
func BuildAAD(t Type, senderFingerprint [32]byte, timestampMinute int64) []byte {
	out := make([]byte, 0, 1+32+8)
	out = append(out, byte(t))
	out = append(out, senderFingerprint[:]...)
	var ts [8]byte
	bin.PutU64BE(ts[:], uint64(timestampMinute))
	out = append(out, ts[:]...)
	return out
}

// FloorToMinute floors a Unix-seconds timestamp to the preceding
// 60-second boundary.
func FloorToMinute(unixSeconds int64) int64 {
	return unixSeconds - (unixSeconds % 60)
}
