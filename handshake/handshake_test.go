package handshake

import (
	"context"
	"crypto/ed25519"
	"net"
	"sync"
	"testing"

	"github.com/duskline/p2pmsg/crypto"
	"github.com/duskline/p2pmsg/identity"
	"github.com/duskline/p2pmsg/wire"
)

// pipeTransport adapts a net.Conn (one end of a net.Pipe) to Transport.
type pipeTransport struct {
	conn net.Conn
}

func (p *pipeTransport) ReadFrame(_ context.Context) (wire.Type, []byte, error) {
	return wire.ReadFrame(p.conn, 0)
}

func (p *pipeTransport) WriteFrame(_ context.Context, t wire.Type, payload []byte) error {
	return wire.WriteFrame(p.conn, t, payload, 0)
}

// memPeerStore is an in-memory PeerStore for tests.
type memPeerStore struct {
	mu sync.Mutex
	m  map[string]ed25519.PublicKey
}

func newMemPeerStore() *memPeerStore { return &memPeerStore{m: make(map[string]ed25519.PublicKey)} }

func (s *memPeerStore) Lookup(fingerprint string) (ed25519.PublicKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.m[fingerprint]
	return pub, ok, nil
}

func (s *memPeerStore) Pin(fingerprint string, pub ed25519.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[fingerprint] = append(ed25519.PublicKey(nil), pub...)
	return nil
}

func newTestIdentity(t *testing.T) identity.Identity {
	t.Helper()
	sig, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	ex, err := crypto.GenerateExchange()
	if err != nil {
		t.Fatalf("GenerateExchange: %v", err)
	}
	return identity.Identity{
		SigPublic: sig.Public, SigPrivate: sig.Private,
		ExPublic: ex.Public, ExPrivate: ex.Private,
	}
}

func runPair(t *testing.T, initiatorStore, responderStore PeerStore) (Result, Result, error, error) {
	t.Helper()
	initiatorConn, responderConn := net.Pipe()
	defer initiatorConn.Close()
	defer responderConn.Close()

	initiatorID := newTestIdentity(t)
	responderID := newTestIdentity(t)

	var initResult, respResult Result
	var initErr, respErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		initResult, initErr = RunInitiator(context.Background(), &pipeTransport{conn: initiatorConn}, initiatorID, initiatorStore)
	}()
	go func() {
		defer wg.Done()
		respResult, respErr = RunResponder(context.Background(), &pipeTransport{conn: responderConn}, responderID, responderStore)
	}()
	wg.Wait()
	return initResult, respResult, initErr, respErr
}

func TestHandshake_SuccessfulFirstContact(t *testing.T) {
	initStore := newMemPeerStore()
	respStore := newMemPeerStore()

	initResult, respResult, initErr, respErr := runPair(t, initStore, respStore)
	if initErr != nil {
		t.Fatalf("initiator error: %v", initErr)
	}
	if respErr != nil {
		t.Fatalf("responder error: %v", respErr)
	}
	if initResult.SessionKey != respResult.SessionKey {
		t.Fatalf("session keys disagree: init=%x resp=%x", initResult.SessionKey, respResult.SessionKey)
	}
	if !initResult.FirstContact || !respResult.FirstContact {
		t.Fatalf("expected first contact on both sides")
	}
}

func TestHandshake_SecondHandshake_FreshIdentitiesAreFirstContact(t *testing.T) {
	initStore := newMemPeerStore()
	respStore := newMemPeerStore()

	_, _, err1, err2 := runPair(t, initStore, respStore)
	if err1 != nil || err2 != nil {
		t.Fatalf("first handshake failed: %v / %v", err1, err2)
	}

	// A second, unrelated handshake between two fresh identities still
	// pins cleanly; this test only exercises that stores persist pins
	// across calls within a process, not that the same peer reconnects.
	initResult, respResult, err1, err2 := runPair(t, initStore, respStore)
	if err1 != nil || err2 != nil {
		t.Fatalf("second handshake failed: %v / %v", err1, err2)
	}
	if !initResult.FirstContact || !respResult.FirstContact {
		t.Fatalf("expected first contact for distinct identities")
	}
}

func TestPin_FirstContactThenStableOnSameKey(t *testing.T) {
	store := newMemPeerStore()
	pub, _, _ := ed25519.GenerateKey(nil)

	fp1, first, err := pin(store, pub)
	if err != nil || !first {
		t.Fatalf("pin first contact: fp=%q first=%v err=%v", fp1, first, err)
	}
	fp2, first, err := pin(store, pub)
	if err != nil || first {
		t.Fatalf("pin repeat contact: fp=%q first=%v err=%v", fp2, first, err)
	}
	if fp1 != fp2 {
		t.Fatalf("fingerprint changed across calls: %q vs %q", fp1, fp2)
	}
}

func TestPin_RejectsIdentityMismatch(t *testing.T) {
	store := newMemPeerStore()
	genuine, _, _ := ed25519.GenerateKey(nil)
	impostor, _, _ := ed25519.GenerateKey(nil)

	fp, _, err := pin(store, genuine)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	// Make sure only the genuine key is pinned, under its own fingerprint,
	// so re-pinning the same key must succeed.
	store.mu.Lock()
	store.m[fp] = genuine
	store.mu.Unlock()
	store.mu.Lock()
	delete(store.m, identity.Fingerprint(impostor))
	store.m[identity.Fingerprint(genuine)] = genuine
	store.mu.Unlock()

	if _, _, err := pin(store, genuine); err != nil {
		t.Fatalf("expected no error re-pinning the same key: %v", err)
	}

	// Force the impostor's key under the genuine fingerprint to simulate
	// a stored key that differs from the one the peer presents.
	store.mu.Lock()
	store.m[identity.Fingerprint(genuine)] = impostor
	store.mu.Unlock()
	if _, _, err := pin(store, genuine); err == nil {
		t.Fatalf("expected identity mismatch when the stored key differs from the presented one")
	}
}

func TestSortedSalt_OrderIndependent(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{9, 9, 9}
	if string(sortedSalt(a, b)) != string(sortedSalt(b, a)) {
		t.Fatalf("sortedSalt is not order-independent")
	}
}

func TestRunInitiator_RejectsBadAck(t *testing.T) {
	initiatorConn, responderConn := net.Pipe()
	defer initiatorConn.Close()
	defer responderConn.Close()

	go func() {
		// Drain HELLO and reply with a garbage frame.
		_, _, _ = wire.ReadFrame(responderConn, 0)
		_ = wire.WriteFrame(responderConn, wire.TypeHelloAck, []byte("short"), 0)
	}()

	id := newTestIdentity(t)
	_, err := RunInitiator(context.Background(), &pipeTransport{conn: initiatorConn}, id, newMemPeerStore())
	if err == nil {
		t.Fatalf("expected error for malformed HELLO_ACK")
	}
}
