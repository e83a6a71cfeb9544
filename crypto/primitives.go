// Package crypto is a thin typed façade over the cryptographic
// primitives the rest of the core uses: X25519 and Ed25519 key
// agreement/signing (stdlib crypto/ecdh and crypto/ed25519, the same
// choice the teacher module makes in crypto/e2ee/kdf.go), ChaCha20-
// Poly1305 AEAD and Argon2id (golang.org/x/crypto, already a pack
// dependency via shurlinet-shurli's vault and gosuda-portal), and
// HKDF-SHA256 (golang.org/x/crypto/hkdf). No caller reaches past this
// package for a primitive.
package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrAuthFailed is returned by Open when the AEAD tag does not verify.
var ErrAuthFailed = errors.New("crypto: authentication failed")

// IdentityKeyPair is a long-term Ed25519 signing keypair.
type IdentityKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// ExchangeKeyPair is an X25519 key-agreement keypair, long-term or ephemeral.
type ExchangeKeyPair struct {
	Public  *ecdh.PublicKey
	Private *ecdh.PrivateKey
}

// GenerateIdentity creates a new Ed25519 long-term identity keypair.
func GenerateIdentity() (IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return IdentityKeyPair{}, err
	}
	return IdentityKeyPair{Public: pub, Private: priv}, nil
}

// GenerateExchange creates a new X25519 keypair (long-term or ephemeral).
func GenerateExchange() (ExchangeKeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return ExchangeKeyPair{}, err
	}
	return ExchangeKeyPair{Public: priv.PublicKey(), Private: priv}, nil
}

// ParseExchangePublicKey parses a 32-byte X25519 public key.
func ParseExchangePublicKey(b []byte) (*ecdh.PublicKey, error) {
	return ecdh.X25519().NewPublicKey(b)
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify checks an Ed25519 signature in constant time (ed25519.Verify
// itself performs constant-time comparison of the recomputed point).
func Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}

// ECDH computes the X25519 shared secret between a local private key
// and a peer's public key.
func ECDH(sk *ecdh.PrivateKey, pk *ecdh.PublicKey) ([]byte, error) {
	return sk.ECDH(pk)
}

// HKDF derives outLen bytes from ikm/salt/info using HKDF-SHA256.
func HKDF(ikm, salt, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AEADSeal seals plaintext with ChaCha20-Poly1305, returning
// ciphertext||tag. key must be 32 bytes, nonce 12 bytes.
func AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errors.New("crypto: bad nonce size")
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADOpen opens a ChaCha20-Poly1305 sealed message, returning the bare
// ErrAuthFailed on any authentication failure (the underlying cause is
// not kept) -- callers must never branch on a more specific error here.
func AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrAuthFailed
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

// Argon2Params are the tunable Argon2id cost parameters (§4.I).
type Argon2Params struct {
	TimeCost    uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// Argon2id derives a 32-byte key from a passphrase and salt.
func Argon2id(passphrase []byte, salt []byte, params Argon2Params) []byte {
	return argon2.IDKey(passphrase, salt, params.TimeCost, params.MemoryKiB, params.Parallelism, 32)
}

// Random returns n cryptographically random bytes.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Zeroize overwrites b with zeros in place. It is the explicit wrapper
// type §9 calls for when a library does not zeroize natively: Ed25519
// and X25519 private key byte slices, derived session keys and vault
// passphrase-derived keys are all zeroized through this helper once
// they are no longer needed.
func Zeroize(b []byte) {
	subtle.XORBytes(b, b, b)
}
