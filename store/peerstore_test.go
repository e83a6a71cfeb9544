package store

import (
	"crypto/ed25519"
	"testing"
)

func TestPeerStore_LookupMissReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	ps := NewPeerStore(s)

	pub, found, err := ps.Lookup("no:such:peer")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatalf("expected not found, got pub=%x", pub)
	}
}

func TestPeerStore_PinThenLookupRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ps := NewPeerStore(s)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := ps.Pin("ab:cd:ef", pub); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	got, found, err := ps.Lookup("ab:cd:ef")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatalf("expected pinned key to be found")
	}
	if !got.Equal(pub) {
		t.Fatalf("looked-up key does not match pinned key")
	}
}

func TestPeerStore_PinTwiceKeepsFirstKey(t *testing.T) {
	s := openTestStore(t)
	ps := NewPeerStore(s)

	first, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	second, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := ps.Pin("ab:cd:ef", first); err != nil {
		t.Fatalf("first Pin: %v", err)
	}
	if err := ps.Pin("ab:cd:ef", second); err != nil {
		t.Fatalf("second Pin: %v", err)
	}

	got, found, err := ps.Lookup("ab:cd:ef")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatalf("expected pinned key to be found")
	}
	if !got.Equal(first) {
		t.Fatalf("second Pin overwrote the originally pinned key; contact_keys.identity_public_key must stay fixed once set")
	}
}
