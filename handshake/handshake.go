// Package handshake implements the four-message authenticated key
// agreement of §4.D: HELLO / HELLO_ACK / CHALLENGE_RESPONSE / READY. It
// is grounded on the teacher's ClientHandshake/ServerHandshake pair in
// crypto/e2ee/handshake.go (context-scoped run-to-completion functions
// over a small transport interface, transcript-style signed prefixes,
// constant-time tag comparison) generalized from the teacher's
// PSK-authenticated exchange to mutual Ed25519 identity authentication
// with trust-on-first-use pinning.
package handshake

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"time"

	"github.com/duskline/p2pmsg/crypto"
	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/identity"
	"github.com/duskline/p2pmsg/wire"
)

const (
	sessionInfo   = "p2pmsg v1 session"
	challengeLen  = 32
	sessionKeyLen = 32
)

// Transport delivers and receives whole wire frames, with ctx governing
// the deadline of each call. The connection manager supplies the real
// implementation over a net.Conn; tests use a scripted in-memory one.
type Transport interface {
	ReadFrame(ctx context.Context) (wire.Type, []byte, error)
	WriteFrame(ctx context.Context, t wire.Type, payload []byte) error
}

// PeerStore pins identity public keys to fingerprints across sessions
// (§4.D "trust-on-first-use with pinning").
type PeerStore interface {
	Lookup(fingerprint string) (pub ed25519.PublicKey, found bool, err error)
	Pin(fingerprint string, pub ed25519.PublicKey) error
}

// Result is everything the record layer needs once the handshake reaches Established.
type Result struct {
	SessionKey      [sessionKeyLen]byte
	PeerIdentityPub ed25519.PublicKey
	PeerFingerprint string
	FirstContact    bool
}

func zero(b []byte) { crypto.Zeroize(b) }

// sortedSalt concatenates a and b in ascending byte order so both
// sides of the handshake derive the same HKDF salt regardless of role
// (§4.D "salt is order-independent").
func sortedSalt(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	if bytes.Compare(a, b) <= 0 {
		out = append(out, a...)
		out = append(out, b...)
	} else {
		out = append(out, b...)
		out = append(out, a...)
	}
	return out
}

func deriveSessionKey(shared, eph1, eph2 []byte) ([sessionKeyLen]byte, error) {
	var key [sessionKeyLen]byte
	salt := sortedSalt(eph1, eph2)
	out, err := crypto.HKDF(shared, salt, []byte(sessionInfo), sessionKeyLen)
	if err != nil {
		return key, errs.Wrap(errs.PathHandshake, errs.CodeAuthFail, err)
	}
	copy(key[:], out)
	zero(out)
	return key, nil
}

// pin checks a peer's identity key against the store, pinning it on
// first contact and rejecting a mismatch on subsequent contacts.
func pin(store PeerStore, pub ed25519.PublicKey) (fingerprint string, firstContact bool, err error) {
	fingerprint = identity.Fingerprint(pub)
	existing, found, lookupErr := store.Lookup(fingerprint)
	if lookupErr != nil {
		return "", false, errs.Wrap(errs.PathHandshake, errs.CodeIdentityMismatch, lookupErr)
	}
	if !found {
		if err := store.Pin(fingerprint, pub); err != nil {
			return "", false, errs.Wrap(errs.PathHandshake, errs.CodeIdentityMismatch, err)
		}
		return fingerprint, true, nil
	}
	if !bytes.Equal(existing, pub) {
		return "", false, errs.New(errs.PathHandshake, errs.CodeIdentityMismatch)
	}
	return fingerprint, false, nil
}

// candidateMinutes returns the timestamp_minute buckets a receiver
// should try when reconstructing record AAD, tolerating the sender's
// clock landing in an adjacent minute (§5 "suspension points ... honour
// cancellation within one I/O timeout quantum" motivates a small,
// bounded skew tolerance rather than an unbounded search).
func candidateMinutes(now time.Time) []int64 {
	cur := wire.FloorToMinute(now.Unix())
	return []int64{cur, cur - 60, cur + 60}
}

func sealRecord(key []byte, t wire.Type, senderFP [32]byte, counter uint64, roleTag [4]byte, plaintext []byte, now time.Time) ([]byte, error) {
	nonce := wire.RecordNonce(counter, roleTag)
	aad := wire.BuildAAD(t, senderFP, wire.FloorToMinute(now.Unix()))
	ct, err := crypto.AEADSeal(key, nonce[:], aad, plaintext)
	if err != nil {
		return nil, errs.Wrap(errs.PathHandshake, errs.CodeAuthFail, err)
	}
	return wire.EncodeEnvelope(nonce, ct), nil
}

func openRecord(key []byte, t wire.Type, senderFP [32]byte, wantCounter uint64, roleTag [4]byte, payload []byte, now time.Time) ([]byte, error) {
	nonce, ct, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if nonce != wire.RecordNonce(wantCounter, roleTag) {
		return nil, errs.New(errs.PathHandshake, errs.CodeBadFrame)
	}
	var lastErr error
	for _, minute := range candidateMinutes(now) {
		aad := wire.BuildAAD(t, senderFP, minute)
		pt, err := crypto.AEADOpen(key, nonce[:], aad, ct)
		if err == nil {
			return pt, nil
		}
		lastErr = err
	}
	return nil, errs.Wrap(errs.PathHandshake, errs.CodeBadChallengeResponse, lastErr)
}

// RunInitiator drives the dialer's side of the handshake to completion
// or failure. ctx bounds the whole exchange (the connection manager
// derives it from the configured handshake timeout).
func RunInitiator(ctx context.Context, tr Transport, self identity.Identity, store PeerStore) (Result, error) {
	eph, err := crypto.GenerateExchange()
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeAuthFail, err)
	}
	// eph.Private (crypto/ecdh.PrivateKey) does not expose mutable bytes to
	// zeroize; it is dropped with the rest of this function's stack frame.

	hello := wire.Hello{IdentityPub: self.SigPublic, EphPub: eph.Public.Bytes()}
	hello.Signature = crypto.Sign(self.SigPrivate, hello.SignedPrefix())
	if err := tr.WriteFrame(ctx, wire.TypeHello, hello.Encode()); err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}

	typ, body, err := tr.ReadFrame(ctx)
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}
	if typ != wire.TypeHelloAck {
		return Result{}, errs.New(errs.PathHandshake, errs.CodeUnexpectedState)
	}
	ack, err := wire.DecodeHelloAck(body)
	if err != nil {
		return Result{}, err
	}
	if !crypto.Verify(ack.IdentityPub, ack.SignedPrefix(), ack.Signature) {
		return Result{}, errs.New(errs.PathHandshake, errs.CodeBadSignature)
	}
	peerFP, firstContact, err := pin(store, ack.IdentityPub)
	if err != nil {
		return Result{}, err
	}
	peerEphPub, err := crypto.ParseExchangePublicKey(ack.EphPub)
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeBadFrame, err)
	}

	shared, err := crypto.ECDH(eph.Private, peerEphPub)
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeAuthFail, err)
	}
	sessionKey, err := deriveSessionKey(shared, hello.EphPub, ack.EphPub)
	zero(shared)
	if err != nil {
		return Result{}, err
	}

	selfFP := self.FingerprintBytes()
	sigOverChallenge := crypto.Sign(self.SigPrivate, ack.Challenge)
	envelope, err := sealRecord(sessionKey[:], wire.TypeChallengeResponse, selfFP, 0, wire.RoleInitiatorTag, sigOverChallenge, time.Now())
	if err != nil {
		zero(sessionKey[:])
		return Result{}, err
	}
	if err := tr.WriteFrame(ctx, wire.TypeChallengeResponse, envelope); err != nil {
		zero(sessionKey[:])
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}

	typ, body, err = tr.ReadFrame(ctx)
	if err != nil {
		zero(sessionKey[:])
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}
	if typ != wire.TypeReady {
		zero(sessionKey[:])
		return Result{}, errs.New(errs.PathHandshake, errs.CodeUnexpectedState)
	}
	peerFPBytes := identity.FingerprintBytes(ack.IdentityPub)
	if _, err := openRecord(sessionKey[:], wire.TypeReady, peerFPBytes, 0, wire.RoleResponderTag, body, time.Now()); err != nil {
		zero(sessionKey[:])
		return Result{}, err
	}

	return Result{
		SessionKey:      sessionKey,
		PeerIdentityPub: ack.IdentityPub,
		PeerFingerprint: peerFP,
		FirstContact:    firstContact,
	}, nil
}

// RunResponder drives the listener's side of the handshake to
// completion or failure.
func RunResponder(ctx context.Context, tr Transport, self identity.Identity, store PeerStore) (Result, error) {
	typ, body, err := tr.ReadFrame(ctx)
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}
	if typ != wire.TypeHello {
		return Result{}, errs.New(errs.PathHandshake, errs.CodeUnexpectedState)
	}
	hello, err := wire.DecodeHello(body)
	if err != nil {
		return Result{}, err
	}
	if !crypto.Verify(hello.IdentityPub, hello.SignedPrefix(), hello.Signature) {
		return Result{}, errs.New(errs.PathHandshake, errs.CodeBadSignature)
	}
	peerFP, firstContact, err := pin(store, hello.IdentityPub)
	if err != nil {
		return Result{}, err
	}
	peerEphPub, err := crypto.ParseExchangePublicKey(hello.EphPub)
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeBadFrame, err)
	}

	eph, err := crypto.GenerateExchange()
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeAuthFail, err)
	}
	// eph.Private (crypto/ecdh.PrivateKey) does not expose mutable bytes to
	// zeroize; it is dropped with the rest of this function's stack frame.
	challenge, err := crypto.Random(challengeLen)
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeAuthFail, err)
	}

	ack := wire.HelloAck{IdentityPub: self.SigPublic, EphPub: eph.Public.Bytes(), Challenge: challenge}
	ack.Signature = crypto.Sign(self.SigPrivate, ack.SignedPrefix())
	if err := tr.WriteFrame(ctx, wire.TypeHelloAck, ack.Encode()); err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}

	shared, err := crypto.ECDH(eph.Private, peerEphPub)
	if err != nil {
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeAuthFail, err)
	}
	sessionKey, err := deriveSessionKey(shared, hello.EphPub, ack.EphPub)
	zero(shared)
	if err != nil {
		return Result{}, err
	}

	typ, body, err = tr.ReadFrame(ctx)
	if err != nil {
		zero(sessionKey[:])
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}
	if typ != wire.TypeChallengeResponse {
		zero(sessionKey[:])
		return Result{}, errs.New(errs.PathHandshake, errs.CodeUnexpectedState)
	}
	initiatorFP := identity.FingerprintBytes(hello.IdentityPub)
	sig, err := openRecord(sessionKey[:], wire.TypeChallengeResponse, initiatorFP, 0, wire.RoleInitiatorTag, body, time.Now())
	if err != nil {
		zero(sessionKey[:])
		return Result{}, err
	}
	if !crypto.Verify(hello.IdentityPub, challenge, sig) {
		zero(sessionKey[:])
		return Result{}, errs.New(errs.PathHandshake, errs.CodeBadChallengeResponse)
	}

	selfFP := self.FingerprintBytes()
	envelope, err := sealRecord(sessionKey[:], wire.TypeReady, selfFP, 0, wire.RoleResponderTag, nil, time.Now())
	if err != nil {
		zero(sessionKey[:])
		return Result{}, err
	}
	if err := tr.WriteFrame(ctx, wire.TypeReady, envelope); err != nil {
		zero(sessionKey[:])
		return Result{}, errs.Wrap(errs.PathHandshake, errs.CodeUnexpectedState, err)
	}

	return Result{
		SessionKey:      sessionKey,
		PeerIdentityPub: hello.IdentityPub,
		PeerFingerprint: peerFP,
		FirstContact:    firstContact,
	}, nil
}
