package vault

import (
	"errors"
	"time"

	"github.com/duskline/p2pmsg/internal/bin"
)

// Storage layout per key file (§4.B, §6):
//
//	magic(4) || version(1) || key_type(1) || salt(16) || nonce(12) ||
//	sealed_len(4) || sealed_bytes || public_len(2) || public_bytes || created_at(8)
//
// All fixed-width integers are little-endian.
const (
	fileMagic   = "VLT1"
	fileVersion = uint8(1)

	keyTypeIdentity uint8 = 0
	keyTypeExchange uint8 = 1

	saltLen  = 16
	nonceLen = 12
)

var (
	errBadMagic   = errors.New("vault: bad file magic")
	errBadVersion = errors.New("vault: unsupported file version")
	errTruncated  = errors.New("vault: truncated key file")
)

// keyRecord is the decoded on-disk representation of one long-term key.
type keyRecord struct {
	KeyType     uint8
	Salt        [saltLen]byte
	Nonce       [nonceLen]byte
	Sealed      []byte
	PublicKey   []byte
	CreatedAtMs int64
}

func encodeKeyRecord(r keyRecord) []byte {
	size := 4 + 1 + 1 + saltLen + nonceLen + 4 + len(r.Sealed) + 2 + len(r.PublicKey) + 8
	out := make([]byte, 0, size)
	out = append(out, []byte(fileMagic)...)
	out = append(out, fileVersion)
	out = append(out, r.KeyType)
	out = append(out, r.Salt[:]...)
	out = append(out, r.Nonce[:]...)

	lenBuf := make([]byte, 8)
	bin.PutU32LE(lenBuf[:4], uint32(len(r.Sealed)))
	out = append(out, lenBuf[:4]...)
	out = append(out, r.Sealed...)

	bin.PutU16LE(lenBuf[:2], uint16(len(r.PublicKey)))
	out = append(out, lenBuf[:2]...)
	out = append(out, r.PublicKey...)

	bin.PutU64LE(lenBuf, uint64(r.CreatedAtMs))
	out = append(out, lenBuf...)
	return out
}

func decodeKeyRecord(b []byte) (keyRecord, error) {
	var r keyRecord
	if len(b) < 4+1+1+saltLen+nonceLen+4 {
		return r, errTruncated
	}
	if string(b[:4]) != fileMagic {
		return r, errBadMagic
	}
	off := 4
	version := b[off]
	off++
	if version != fileVersion {
		return r, errBadVersion
	}
	r.KeyType = b[off]
	off++
	copy(r.Salt[:], b[off:off+saltLen])
	off += saltLen
	copy(r.Nonce[:], b[off:off+nonceLen])
	off += nonceLen

	sealedLen := int(bin.U32LE(b[off : off+4]))
	off += 4
	if len(b) < off+sealedLen+2 {
		return r, errTruncated
	}
	r.Sealed = append([]byte(nil), b[off:off+sealedLen]...)
	off += sealedLen

	pubLen := int(bin.U16LE(b[off : off+2]))
	off += 2
	if len(b) < off+pubLen+8 {
		return r, errTruncated
	}
	r.PublicKey = append([]byte(nil), b[off:off+pubLen]...)
	off += pubLen

	r.CreatedAtMs = int64(bin.U64LE(b[off : off+8]))
	return r, nil
}

func createdAtFromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func msFromCreatedAt(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UnixMilli()
}
