// Package bin provides fixed-width integer helpers. The big-endian
// helpers back the wire frame length header and the record-layer AAD
// timestamp field; the little-endian helpers back the record-layer
// nonce counter and the vault file format's fixed-width fields.
package bin

import "encoding/binary"

// PutU16BE writes a uint16 in big-endian order.
func PutU16BE(dst []byte, v uint16) { binary.BigEndian.PutUint16(dst, v) }

// PutU32BE writes a uint32 in big-endian order.
func PutU32BE(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }

// PutU64BE writes a uint64 in big-endian order.
func PutU64BE(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }

// U16BE reads a uint16 in big-endian order.
func U16BE(src []byte) uint16 { return binary.BigEndian.Uint16(src) }

// U32BE reads a uint32 in big-endian order.
func U32BE(src []byte) uint32 { return binary.BigEndian.Uint32(src) }

// U64BE reads a uint64 in big-endian order.
func U64BE(src []byte) uint64 { return binary.BigEndian.Uint64(src) }

// PutU64LE writes a uint64 in little-endian order, used by the vault
// file format's fixed-width integer fields.
func PutU64LE(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

// U64LE reads a uint64 in little-endian order.
func U64LE(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// PutU32LE writes a uint32 in little-endian order.
func PutU32LE(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }

// U32LE reads a uint32 in little-endian order.
func U32LE(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }

// PutU16LE writes a uint16 in little-endian order.
func PutU16LE(dst []byte, v uint16) { binary.LittleEndian.PutUint16(dst, v) }

// U16LE reads a uint16 in little-endian order.
func U16LE(src []byte) uint16 { return binary.LittleEndian.Uint16(src) }
