package crypto

import (
	"bytes"
	"testing"
)

func TestSignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	msg := []byte("hello")
	sig := Sign(id.Private, msg)
	if !Verify(id.Public, msg, sig) {
		t.Fatalf("expected valid signature to verify")
	}
	sig[0] ^= 0xff
	if Verify(id.Public, msg, sig) {
		t.Fatalf("expected tampered signature to fail")
	}
}

func TestECDHAgreement(t *testing.T) {
	a, err := GenerateExchange()
	if err != nil {
		t.Fatalf("GenerateExchange a: %v", err)
	}
	b, err := GenerateExchange()
	if err != nil {
		t.Fatalf("GenerateExchange b: %v", err)
	}
	sharedA, err := ECDH(a.Private, b.Public)
	if err != nil {
		t.Fatalf("ECDH a: %v", err)
	}
	sharedB, err := ECDH(b.Private, a.Public)
	if err != nil {
		t.Fatalf("ECDH b: %v", err)
	}
	if !bytes.Equal(sharedA, sharedB) {
		t.Fatalf("expected both sides to agree on the shared secret")
	}
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	key, _ := Random(32)
	nonce, _ := Random(12)
	aad := []byte("aad")
	pt := []byte("secret message")

	ct, err := AEADSeal(key, nonce, aad, pt)
	if err != nil {
		t.Fatalf("AEADSeal: %v", err)
	}
	got, err := AEADOpen(key, nonce, aad, ct)
	if err != nil {
		t.Fatalf("AEADOpen: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, pt)
	}

	tampered := append([]byte{}, ct...)
	tampered[0] ^= 0xff
	if _, err := AEADOpen(key, nonce, aad, tampered); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed for tampered ciphertext, got %v", err)
	}
}

func TestHKDFDeterministic(t *testing.T) {
	ikm := []byte("input key material")
	salt := []byte("salt")
	info := []byte("info")
	a, err := HKDF(ikm, salt, info, 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	b, err := HKDF(ikm, salt, info, 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic output for identical inputs")
	}
	c, err := HKDF(ikm, salt, []byte("other info"), 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("expected different info to change output")
	}
}

func TestArgon2idDeterministicPerSalt(t *testing.T) {
	params := Argon2Params{TimeCost: 1, MemoryKiB: 8 * 1024, Parallelism: 1}
	salt := []byte("0123456789abcdef")
	a := Argon2id([]byte("pw"), salt, params)
	b := Argon2id([]byte("pw"), salt, params)
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic derivation for same salt/passphrase")
	}
	c := Argon2id([]byte("different"), salt, params)
	if bytes.Equal(a, c) {
		t.Fatalf("expected different passphrase to change derived key")
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zeroize(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %v", i, b)
		}
	}
}
