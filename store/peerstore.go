package store

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/duskline/p2pmsg/handshake"
)

// PeerStore adapts *Store's contact_keys table to handshake.PeerStore,
// so trust-on-first-use pinning (§4.D) persists across process restarts
// instead of living only in memory.
type PeerStore struct {
	store *Store
	now   func() time.Time
}

var _ handshake.PeerStore = (*PeerStore)(nil)

// NewPeerStore wraps store for use as the handshake package's pinning backend.
func NewPeerStore(store *Store) *PeerStore {
	return &PeerStore{store: store, now: time.Now}
}

// Lookup returns the pinned identity key for fingerprint, if any.
func (p *PeerStore) Lookup(fingerprint string) (ed25519.PublicKey, bool, error) {
	pub, found, err := p.store.LookupContact(context.Background(), fingerprint)
	if err != nil || !found {
		return nil, found, err
	}
	return ed25519.PublicKey(pub), true, nil
}

// Pin records pub as the trusted identity key for fingerprint,
// updating last-seen on an already-pinned contact.
func (p *PeerStore) Pin(fingerprint string, pub ed25519.PublicKey) error {
	return p.store.UpsertContact(context.Background(), fingerprint, []byte(pub), p.now())
}
