// Package record implements the AEAD record layer of §4.E: per-direction
// sealing with a monotonically increasing counter, a sliding replay
// window on receive, rekey-threshold tracking and heartbeat liveness.
// It is grounded on the teacher's RecordKeyState / EncryptRecord /
// DecryptRecord in crypto/e2ee/record.go (direction-tagged nonces,
// sequence-bound AEAD, a staged rekey derivation function kept separate
// from the state it eventually replaces), adapted from the teacher's
// fixed two-party sequence numbers to this specification's independent
// per-direction counters, 1024-entry sliding replay window and
// session-lifetime rekey triggers.
package record

import (
	"crypto/ecdh"
	"sync"
	"time"

	"github.com/duskline/p2pmsg/crypto"
	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/wire"
)

const rekeyInfo = "p2pmsg v1 rekey"

// Role identifies which side of the session this Session instance is.
type Role uint8

const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

func (r Role) ownTag() [4]byte {
	if r == RoleInitiator {
		return wire.RoleInitiatorTag
	}
	return wire.RoleResponderTag
}

func (r Role) peerTag() [4]byte {
	if r == RoleInitiator {
		return wire.RoleResponderTag
	}
	return wire.RoleInitiatorTag
}

// Session owns the live cryptographic state of one connection's record
// layer: the current key, independent send/receive counters, and the
// replay window, all behind a single mutex (§5 "Session state ... is
// accessed through a mutex").
type Session struct {
	mu sync.Mutex

	role Role

	selfFP [32]byte
	peerFP [32]byte

	key        [32]byte
	prevKey    [32]byte
	hasPrevKey bool

	sendCounter uint64
	recvCounter uint64
	replay      *window
	prevReplay  *window

	rekeyMsgThreshold uint64
	rekeyTime         time.Duration
	msgSinceRekey     uint64
	lastRekey         time.Time

	heartbeatInterval time.Duration
	lastSent          time.Time
	lastReceived      time.Time
}

// New constructs a Session once the handshake has produced a session key.
//
// Both directions' counter 0 under sessionKey are already spent by the
// handshake itself (CHALLENGE_RESPONSE under the initiator's tag, READY
// under the responder's tag, §4.D), so the record layer's counters start
// at 1 rather than the Go zero value: a Session whose first Seal reused
// counter 0 would reuse the handshake's (key, nonce) pair outright.
func New(role Role, selfFP, peerFP [32]byte, sessionKey [32]byte, replayWindowSize uint64, rekeyMsgThreshold uint64, rekeyTime time.Duration, heartbeatInterval time.Duration, now time.Time) *Session {
	s := &Session{
		role:              role,
		selfFP:            selfFP,
		peerFP:            peerFP,
		key:               sessionKey,
		sendCounter:       1,
		recvCounter:       1,
		replay:            newWindow(replayWindowSize),
		rekeyMsgThreshold: rekeyMsgThreshold,
		rekeyTime:         rekeyTime,
		lastRekey:         now,
		heartbeatInterval: heartbeatInterval,
		lastSent:          now,
		lastReceived:      now,
	}
	return s
}

// Seal encrypts plaintext as the next outbound record of the given
// type and returns the wire payload to send, plus whether a rekey is
// now due (the caller should follow up with a REKEY_REQUEST).
func (s *Session) Seal(t wire.Type, plaintext []byte, now time.Time) (payload []byte, rekeyDue bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.sendCounter
	nonce := wire.RecordNonce(counter, s.role.ownTag())
	aad := wire.BuildAAD(t, s.selfFP, wire.FloorToMinute(now.Unix()))
	ct, err := crypto.AEADSeal(s.key[:], nonce[:], aad, plaintext)
	if err != nil {
		return nil, false, errs.Wrap(errs.PathRecord, errs.CodeAuthFail, err)
	}
	s.sendCounter++
	s.msgSinceRekey++
	s.lastSent = now

	rekeyDue = s.msgSinceRekey >= s.rekeyMsgThreshold || (s.rekeyTime > 0 && now.Sub(s.lastRekey) >= s.rekeyTime)
	return wire.EncodeEnvelope(nonce, ct), rekeyDue, nil
}

// Open authenticates and decrypts an inbound record payload, enforcing
// direction separation before the AEAD call and replay defense after
// it, so a frame that fails to authenticate never marks the replay window.
func (s *Session) Open(t wire.Type, payload []byte, now time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, ct, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	wantTag := s.role.peerTag()
	gotTag := [4]byte{nonce[8], nonce[9], nonce[10], nonce[11]}
	if gotTag == s.role.ownTag() {
		return nil, errs.New(errs.PathRecord, errs.CodeBadFrame)
	}
	if gotTag != wantTag {
		return nil, errs.New(errs.PathRecord, errs.CodeBadFrame)
	}
	counter := wire.RecordCounter(nonce)

	pt, openErr := aeadOpenAnyMinute(s.key[:], s.peerFP, t, nonce, ct, now)
	replay := s.replay
	if openErr != nil && s.hasPrevKey {
		if prevPt, prevErr := aeadOpenAnyMinute(s.prevKey[:], s.peerFP, t, nonce, ct, now); prevErr == nil {
			pt, openErr, replay = prevPt, nil, s.prevReplay
		}
	}
	if openErr != nil {
		return nil, openErr
	}
	if err := replay.checkAndSet(counter); err != nil {
		return nil, err
	}
	s.recvCounter = counter + 1
	s.lastReceived = now
	return pt, nil
}

// aeadOpenAnyMinute tries the AAD minute bucket for now and its immediate
// neighbours, tolerating clock skew between peers (§4.E).
func aeadOpenAnyMinute(key []byte, peerFP [32]byte, t wire.Type, nonce [wire.RecordNonceLen]byte, ct []byte, now time.Time) ([]byte, error) {
	var lastErr error
	for _, minute := range []int64{wire.FloorToMinute(now.Unix()), wire.FloorToMinute(now.Unix()) - 60, wire.FloorToMinute(now.Unix()) + 60} {
		aad := wire.BuildAAD(t, peerFP, minute)
		pt, err := crypto.AEADOpen(key, nonce[:], aad, ct)
		if err == nil {
			return pt, nil
		}
		lastErr = err
	}
	return nil, errs.Wrap(errs.PathRecord, errs.CodeAuthFail, lastErr)
}

// GenerateRekeyEphemeral creates a fresh X25519 keypair to carry in a
// REKEY_REQUEST or REKEY_ACK payload.
func GenerateRekeyEphemeral() (*ecdh.PrivateKey, []byte, error) {
	kp, err := crypto.GenerateExchange()
	if err != nil {
		return nil, nil, errs.Wrap(errs.PathRecord, errs.CodeAuthFail, err)
	}
	return kp.Private, kp.Public.Bytes(), nil
}

// DeriveRekeyKey computes the next session key from a fresh ECDH
// exchange, salted with the current session key (§4.E).
func (s *Session) DeriveRekeyKey(ownEphPriv *ecdh.PrivateKey, peerEphPubBytes []byte) ([32]byte, error) {
	s.mu.Lock()
	oldKey := s.key
	s.mu.Unlock()

	peerEphPub, err := crypto.ParseExchangePublicKey(peerEphPubBytes)
	if err != nil {
		return [32]byte{}, errs.Wrap(errs.PathRecord, errs.CodeBadFrame, err)
	}
	shared, err := crypto.ECDH(ownEphPriv, peerEphPub)
	if err != nil {
		return [32]byte{}, errs.Wrap(errs.PathRecord, errs.CodeAuthFail, err)
	}
	defer crypto.Zeroize(shared)

	out, err := crypto.HKDF(shared, oldKey[:], []byte(rekeyInfo), 32)
	if err != nil {
		return [32]byte{}, errs.Wrap(errs.PathRecord, errs.CodeAuthFail, err)
	}
	var newKey [32]byte
	copy(newKey[:], out)
	crypto.Zeroize(out)
	return newKey, nil
}

// ApplyRekey installs newKey as the current session key, resets both
// counters to zero and clears the replay window (§4.E).
//
// The outgoing key is kept, not wiped, as prevKey: a frame the peer sealed
// under the old key may still be in flight when this side switches, and
// Open falls back to prevKey for exactly one generation so that frame
// still decrypts (§4.E "in-flight frames before the switch use old key").
func (s *Session) ApplyRekey(newKey [32]byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPrevKey {
		crypto.Zeroize(s.prevKey[:])
	}
	s.prevKey = s.key
	s.prevReplay = s.replay
	s.hasPrevKey = true

	s.key = newKey
	s.sendCounter = 0
	s.recvCounter = 0
	s.replay = newWindow(s.replay.size)
	s.msgSinceRekey = 0
	s.lastRekey = now
}

// HeartbeatDue reports whether HeartbeatInterval of outbound silence
// has elapsed.
func (s *Session) HeartbeatDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSent) >= s.heartbeatInterval
}

// PeerUnreachable reports whether no inbound frame has arrived for
// 3x the heartbeat interval (§4.E).
func (s *Session) PeerUnreachable(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastReceived) >= 3*s.heartbeatInterval
}

// Zero wipes the current session key.
func (s *Session) Zero() {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.Zeroize(s.key[:])
	if s.hasPrevKey {
		crypto.Zeroize(s.prevKey[:])
	}
}
