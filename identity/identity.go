// Package identity defines the endpoint's long-term key material and
// the fingerprint derived from it (§3 "Identity").
package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/duskline/p2pmsg/crypto"
)

// Identity is an endpoint's stable long-term keypairs: one Ed25519
// signature keypair and one X25519 exchange keypair.
type Identity struct {
	SigPublic  ed25519.PublicKey
	SigPrivate ed25519.PrivateKey
	ExPublic   *ecdh.PublicKey
	ExPrivate  *ecdh.PrivateKey

	SigCreatedAt time.Time
	ExCreatedAt  time.Time
}

// Fingerprint returns the lowercase hex SHA-256 of the identity
// public key, in colon-separated 2-byte groups for display.
func (id Identity) Fingerprint() string {
	return Fingerprint(id.SigPublic)
}

// Fingerprint computes the display fingerprint of a raw Ed25519 public key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := FingerprintBytes(pub)
	hexStr := hex.EncodeToString(sum[:])
	var b strings.Builder
	for i := 0; i < len(hexStr); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hexStr[i : i+2])
	}
	return b.String()
}

// FingerprintBytes returns the raw 32-byte SHA-256 fingerprint of an
// Ed25519 public key. The record layer's AEAD associated data carries
// this raw form rather than the colon-hex display string.
func FingerprintBytes(pub ed25519.PublicKey) [32]byte {
	return sha256.Sum256(pub)
}

// FingerprintBytes returns the raw 32-byte fingerprint of this identity.
func (id Identity) FingerprintBytes() [32]byte {
	return FingerprintBytes(id.SigPublic)
}

// Zero overwrites the private key material in place. Callers must call
// this once an Identity's private keys are no longer needed in this
// process (§3 invariant 1, §9 "secret zeroization").
func (id *Identity) Zero() {
	if id.SigPrivate != nil {
		crypto.Zeroize(id.SigPrivate)
	}
	if id.ExPrivate != nil {
		// crypto/ecdh.PrivateKey does not expose mutable backing bytes;
		// the raw bytes were already zeroized by the vault at the point
		// they were extracted (Vault.Initialize, Vault.RotatePassphrase,
		// Vault.Open) so there is nothing further to scrub here beyond
		// dropping the reference.
		id.ExPrivate = nil
	}
}
