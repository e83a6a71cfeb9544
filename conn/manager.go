package conn

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/duskline/p2pmsg/config"
	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/events"
	"github.com/duskline/p2pmsg/handshake"
	"github.com/duskline/p2pmsg/identity"
	"github.com/duskline/p2pmsg/internal/contextutil"
	"github.com/duskline/p2pmsg/metrics"
	"github.com/duskline/p2pmsg/record"
	"github.com/duskline/p2pmsg/store"
	"github.com/duskline/p2pmsg/wire"
)

// outboundFrame is one already-sealed frame waiting for the writer.
type outboundFrame struct {
	typ     wire.Type
	payload []byte
}

// logJob is one plaintext row waiting to be sealed and appended to the
// message log, off the reader/writer hot path (§4.G "asynchronously
// appended").
type logJob struct {
	dir      store.Direction
	kind     store.Kind
	body     []byte
	fileName string
	fileSize int64
	ts       time.Time
}

// peerConn is the live state of the single connection the manager may
// own at a time (§4.F "single-session invariant").
type peerConn struct {
	netConn net.Conn
	tr      *frameTransport
	rec     *record.Session
	role    record.Role
	peerFP  string
	convID  int64

	dialedHost string
	dialedPort int

	outbound chan outboundFrame
	logQueue chan logJob
	done     chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	rekeyMu          sync.Mutex
	pendingRekeyPriv *ecdh.PrivateKey
}

// Manager owns the TCP lifecycle and the per-connection reader,
// writer and heartbeat workers of §4.F. It is grounded on the
// teacher's context-scoped I/O pattern and on shurlinet-shurli's
// PeerManager reconnect loop, adapted to a single dialed peer.
type Manager struct {
	opts      config.Options
	self      identity.Identity
	peerStore handshake.PeerStore
	msgLog    *store.Store
	bus       *events.Bus
	logger    *log.Logger

	reg *metrics.AtomicRegistrar

	mu       sync.Mutex
	active   *peerConn
	listener net.Listener
}

// New constructs a Manager. msgLog may be nil to disable message
// persistence (e.g. in tests exercising only the wire protocol). The
// metrics registrar defaults to metrics.Noop; call SetRegistrar to
// attach a real one (e.g. metrics/prom.Observer).
func New(opts config.Options, self identity.Identity, peerStore handshake.PeerStore, msgLog *store.Store, bus *events.Bus, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{opts: opts, self: self, peerStore: peerStore, msgLog: msgLog, bus: bus, logger: logger, reg: metrics.NewAtomicRegistrar()}
}

// SetRegistrar attaches the metrics registrar the manager reports
// connection, handshake, record and rekey events to. Passing nil
// restores the no-op default. Safe to call while the manager is active.
func (m *Manager) SetRegistrar(reg metrics.Registrar) {
	m.reg.Set(reg)
}

// Listen binds 0.0.0.0:port and accepts a single peer (§4.F "accept
// one peer"), honouring ctx cancellation within AcceptPollInterval.
func (m *Manager) Listen(ctx context.Context, port int) error {
	if err := m.claim(); err != nil {
		return err
	}

	lc := net.ListenConfig{Control: controlReusePort}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		m.release()
		return errs.Wrap(errs.PathConn, errs.CodeBindFailed, err)
	}
	m.mu.Lock()
	m.listener = ln
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.listener = nil
		m.mu.Unlock()
		ln.Close()
	}()

	poll := m.opts.AcceptPollInterval
	if poll <= 0 {
		poll = time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			m.release()
			return err
		}
		if tcpLn, ok := ln.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(poll))
		}
		c, acceptErr := ln.Accept()
		if acceptErr != nil {
			var netErr net.Error
			if errors.As(acceptErr, &netErr) && netErr.Timeout() {
				continue
			}
			m.release()
			return errs.Wrap(errs.PathConn, errs.CodeIOError, acceptErr)
		}

		m.bus.Publish(events.Event{Kind: events.KindPeerConnecting, Addr: c.RemoteAddr().String()})
		pc, establishErr := m.establish(ctx, c, record.RoleResponder, "", 0)
		if establishErr != nil {
			c.Close()
			code, _ := errs.CodeOf(establishErr)
			m.bus.Publish(events.Event{Kind: events.KindError, ErrorKind: string(code), ErrorDetail: establishErr.Error()})
			m.mu.Lock()
			m.active = pendingMarker
			m.mu.Unlock()
			continue
		}
		m.mu.Lock()
		m.active = pc
		m.mu.Unlock()
		m.reg.ConnectionOpened()
		m.startWorkers(pc)
		return nil
	}
}

// Dial validates addr/port, connects within ConnectTimeout and runs
// the initiator handshake (§4.F "Dial").
func (m *Manager) Dial(ctx context.Context, host string, port int) error {
	if err := validateAddress(host, port); err != nil {
		return err
	}
	if err := m.claim(); err != nil {
		return err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialCtx, cancel := contextutil.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	c, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		m.release()
		return classifyDialError(err)
	}

	m.bus.Publish(events.Event{Kind: events.KindPeerConnecting, Addr: addr})
	pc, err := m.establish(ctx, c, record.RoleInitiator, host, port)
	if err != nil {
		c.Close()
		m.release()
		return err
	}
	m.mu.Lock()
	m.active = pc
	m.mu.Unlock()
	m.reg.ConnectionOpened()
	m.startWorkers(pc)
	return nil
}

// claim enforces the single-session invariant.
func (m *Manager) claim() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return errs.New(errs.PathConn, errs.CodeBusy)
	}
	m.active = pendingMarker
	return nil
}

// release clears a failed claim that never reached an established peerConn.
func (m *Manager) release() {
	m.mu.Lock()
	if m.active == pendingMarker {
		m.active = nil
	}
	m.mu.Unlock()
}

// pendingMarker occupies m.active between claim() and a successful
// establish(), so a concurrent Dial/Listen call sees Busy rather than
// racing the handshake.
var pendingMarker = &peerConn{}

func validateAddress(host string, port int) error {
	if host == "" {
		return errs.New(errs.PathConn, errs.CodeInvalidAddress)
	}
	if port <= 0 || port > 65535 {
		return errs.New(errs.PathConn, errs.CodeInvalidPort)
	}
	return nil
}

func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.PathConn, errs.CodeTimeout, err)
	}
	return classifyIOError(err)
}

// establish drives the handshake over netConn and constructs the
// record-layer session on success.
func (m *Manager) establish(ctx context.Context, netConn net.Conn, role record.Role, dialedHost string, dialedPort int) (*peerConn, error) {
	hsCtx, cancel := contextutil.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()
	tr := newFrameTransport(netConn, m.opts.MaxFrameBytes)

	var result handshake.Result
	var err error
	if role == record.RoleInitiator {
		result, err = handshake.RunInitiator(hsCtx, tr, m.self, m.peerStore)
	} else {
		result, err = handshake.RunResponder(hsCtx, tr, m.self, m.peerStore)
	}
	if err != nil {
		m.reg.HandshakeResult(false)
		return nil, err
	}
	m.reg.HandshakeResult(true)

	now := time.Now()
	selfFP := m.self.FingerprintBytes()
	peerFPBytes := identity.FingerprintBytes(result.PeerIdentityPub)
	rec := record.New(role, selfFP, peerFPBytes, result.SessionKey, m.opts.ReplayWindow, m.opts.RekeyMsgThreshold, m.opts.RekeyTime, m.opts.HeartbeatInterval, now)

	var convID int64
	if m.msgLog != nil {
		convID, err = m.msgLog.ConversationID(ctx, result.PeerFingerprint, now)
		if err != nil {
			return nil, err
		}
	}

	pc := &peerConn{
		netConn:    netConn,
		tr:         tr,
		rec:        rec,
		role:       role,
		peerFP:     result.PeerFingerprint,
		convID:     convID,
		dialedHost: dialedHost,
		dialedPort: dialedPort,
		outbound:   make(chan outboundFrame, m.opts.OutboundQueueCapacity),
		logQueue:   make(chan logJob, m.opts.OutboundQueueCapacity),
		done:       make(chan struct{}),
	}
	m.bus.Publish(events.Event{Kind: events.KindHandshakeComplete, PeerFingerprint: result.PeerFingerprint, FirstContact: result.FirstContact})
	return pc, nil
}

func (m *Manager) startWorkers(pc *peerConn) {
	pc.wg.Add(3)
	go m.readLoop(pc)
	go m.writeLoop(pc)
	go m.heartbeatLoop(pc)
	if m.msgLog != nil {
		pc.wg.Add(1)
		go m.logLoop(pc)
	}
}

func (m *Manager) readLoop(pc *peerConn) {
	defer pc.wg.Done()
	for {
		typ, payload, err := pc.tr.ReadFrame(context.Background())
		if err != nil {
			m.teardown(pc, "ReadError", err)
			return
		}
		switch typ {
		case wire.TypeHeartbeat:
			if _, err := pc.rec.Open(typ, payload, time.Now()); err != nil {
				m.recordOpenFailure(err)
				m.teardown(pc, "AuthFail", err)
				return
			}
			m.reg.RecordReceived()
		case wire.TypeText, wire.TypeFile:
			pt, err := pc.rec.Open(typ, payload, time.Now())
			if err != nil {
				m.recordOpenFailure(err)
				m.teardown(pc, "AuthFail", err)
				return
			}
			m.reg.RecordReceived()
			if err := m.deliverInbound(pc, typ, pt); err != nil {
				m.teardown(pc, "BadFrame", err)
				return
			}
		case wire.TypeRekeyRequest:
			if err := m.handleRekeyRequest(pc, payload); err != nil {
				m.teardown(pc, "ProtocolError", err)
				return
			}
		case wire.TypeRekeyAck:
			if err := m.handleRekeyAck(pc, payload); err != nil {
				m.teardown(pc, "ProtocolError", err)
				return
			}
		case wire.TypeBye:
			m.teardown(pc, "PeerClosed", nil)
			return
		default:
			m.teardown(pc, "BadFrame", errs.New(errs.PathConn, errs.CodeBadFrame))
			return
		}
	}
}

// recordOpenFailure reports a replay-window rejection distinctly from
// other Open failures (bad tag, auth failure, unknown peer).
func (m *Manager) recordOpenFailure(err error) {
	if code, ok := errs.CodeOf(err); ok && code == errs.CodeReplay {
		m.reg.ReplayRejected()
	}
}

func (m *Manager) writeLoop(pc *peerConn) {
	defer pc.wg.Done()
	for {
		select {
		case job, ok := <-pc.outbound:
			if !ok {
				return
			}
			if err := pc.tr.WriteFrame(context.Background(), job.typ, job.payload); err != nil {
				m.teardown(pc, "WriteError", err)
				return
			}
		case <-pc.done:
			return
		}
	}
}

func (m *Manager) logLoop(pc *peerConn) {
	defer pc.wg.Done()
	for {
		select {
		case job, ok := <-pc.logQueue:
			if !ok {
				return
			}
			if err := m.msgLog.AppendMessage(context.Background(), pc.convID, job.dir, job.kind, job.body, job.fileName, job.fileSize, job.ts); err != nil {
				m.logger.Printf("conn: message log append failed: %v", err)
			}
		case <-pc.done:
			return
		}
	}
}

func (m *Manager) heartbeatLoop(pc *peerConn) {
	defer pc.wg.Done()
	interval := m.opts.HeartbeatInterval / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if pc.rec.PeerUnreachable(now) {
				m.teardown(pc, "PeerUnreachable", errs.New(errs.PathConn, errs.CodeUnreachable))
				return
			}
			if pc.rec.HeartbeatDue(now) {
				if err := m.sealAndSend(pc, wire.TypeHeartbeat, nil, false); err != nil {
					m.teardown(pc, "WriteError", err)
					return
				}
			}
		case <-pc.done:
			return
		}
	}
}

// sealAndSend seals plaintext under the session's current key and
// enqueues it for the writer. triggerRekey gates whether a threshold
// crossing starts a REKEY_REQUEST, so control frames sent as a
// consequence of an in-flight rekey never start another one.
func (m *Manager) sealAndSend(pc *peerConn, typ wire.Type, plaintext []byte, triggerRekey bool) error {
	payload, rekeyDue, err := pc.rec.Seal(typ, plaintext, time.Now())
	if err != nil {
		return err
	}
	select {
	case pc.outbound <- outboundFrame{typ: typ, payload: payload}:
		m.reg.RecordSent()
	case <-pc.done:
		return errs.New(errs.PathConn, errs.CodeIOError)
	}
	if triggerRekey && rekeyDue {
		m.maybeInitiateRekey(pc)
	}
	return nil
}

func (m *Manager) maybeInitiateRekey(pc *peerConn) {
	pc.rekeyMu.Lock()
	if pc.pendingRekeyPriv != nil {
		pc.rekeyMu.Unlock()
		return
	}
	priv, pub, err := record.GenerateRekeyEphemeral()
	if err != nil {
		pc.rekeyMu.Unlock()
		m.logger.Printf("conn: rekey ephemeral generation failed: %v", err)
		return
	}
	pc.pendingRekeyPriv = priv
	pc.rekeyMu.Unlock()

	if err := m.sealAndSend(pc, wire.TypeRekeyRequest, pub, false); err != nil {
		pc.rekeyMu.Lock()
		pc.pendingRekeyPriv = nil
		pc.rekeyMu.Unlock()
		m.logger.Printf("conn: rekey request send failed: %v", err)
	}
}

func (m *Manager) handleRekeyRequest(pc *peerConn, payload []byte) error {
	peerEphBytes, err := pc.rec.Open(wire.TypeRekeyRequest, payload, time.Now())
	if err != nil {
		return err
	}
	ownPriv, ownPub, err := record.GenerateRekeyEphemeral()
	if err != nil {
		return err
	}
	newKey, err := pc.rec.DeriveRekeyKey(ownPriv, peerEphBytes)
	if err != nil {
		return err
	}
	if err := m.sealAndSend(pc, wire.TypeRekeyAck, ownPub, false); err != nil {
		return err
	}
	pc.rec.ApplyRekey(newKey, time.Now())
	m.reg.Rekey()
	return nil
}

func (m *Manager) handleRekeyAck(pc *peerConn, payload []byte) error {
	peerEphBytes, err := pc.rec.Open(wire.TypeRekeyAck, payload, time.Now())
	if err != nil {
		return err
	}
	pc.rekeyMu.Lock()
	priv := pc.pendingRekeyPriv
	pc.pendingRekeyPriv = nil
	pc.rekeyMu.Unlock()
	if priv == nil {
		return errs.New(errs.PathConn, errs.CodeUnexpectedState)
	}
	newKey, err := pc.rec.DeriveRekeyKey(priv, peerEphBytes)
	if err != nil {
		return err
	}
	pc.rec.ApplyRekey(newKey, time.Now())
	m.reg.Rekey()
	return nil
}

func (m *Manager) deliverInbound(pc *peerConn, typ wire.Type, plaintext []byte) error {
	now := time.Now()
	switch typ {
	case wire.TypeText:
		m.bus.Publish(events.Event{Kind: events.KindMessageReceived, PeerFingerprint: pc.peerFP, MessageKind: events.MessageKindText, Body: plaintext, At: now})
		m.enqueueLog(pc, store.DirectionReceived, store.KindText, plaintext, "", 0, now)
	case wire.TypeFile:
		fp, err := wire.DecodeFilePayload(plaintext)
		if err != nil {
			return err
		}
		m.bus.Publish(events.Event{Kind: events.KindMessageReceived, PeerFingerprint: pc.peerFP, MessageKind: events.MessageKindFile, Body: fp.Data, FileName: fp.Name, At: now})
		m.enqueueLog(pc, store.DirectionReceived, store.KindFile, fp.Data, fp.Name, int64(len(fp.Data)), now)
	}
	return nil
}

func (m *Manager) enqueueLog(pc *peerConn, dir store.Direction, kind store.Kind, body []byte, fileName string, fileSize int64, ts time.Time) {
	if m.msgLog == nil {
		return
	}
	select {
	case pc.logQueue <- logJob{dir: dir, kind: kind, body: body, fileName: fileName, fileSize: fileSize, ts: ts}:
	case <-pc.done:
	}
}

// SendText seals and enqueues a text message on the active session.
func (m *Manager) SendText(text string) error {
	pc, err := m.requireActive()
	if err != nil {
		return err
	}
	if err := m.sealAndSend(pc, wire.TypeText, []byte(text), true); err != nil {
		return err
	}
	now := time.Now()
	m.bus.Publish(events.Event{Kind: events.KindMessageSent, PeerFingerprint: pc.peerFP, MessageKind: events.MessageKindText, Body: []byte(text), At: now})
	m.enqueueLog(pc, store.DirectionSent, store.KindText, []byte(text), "", 0, now)
	return nil
}

// SendFile seals and enqueues a file transfer on the active session.
func (m *Manager) SendFile(name string, data []byte) error {
	pc, err := m.requireActive()
	if err != nil {
		return err
	}
	if int64(len(data)) > m.opts.MaxFileBytes {
		return errs.New(errs.PathConn, errs.CodeFileTooLarge)
	}
	fp := wire.FilePayload{Name: name, Data: data}
	if err := m.sealAndSend(pc, wire.TypeFile, fp.Encode(), true); err != nil {
		return err
	}
	now := time.Now()
	m.bus.Publish(events.Event{Kind: events.KindMessageSent, PeerFingerprint: pc.peerFP, MessageKind: events.MessageKindFile, Body: data, FileName: name, At: now})
	m.enqueueLog(pc, store.DirectionSent, store.KindFile, data, name, int64(len(data)), now)
	return nil
}

func (m *Manager) requireActive() (*peerConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active == pendingMarker {
		return nil, errs.New(errs.PathConn, errs.CodeUnexpectedState)
	}
	return m.active, nil
}

// CurrentPeer returns the fingerprint of the connected peer, if any.
func (m *Manager) CurrentPeer() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active == pendingMarker {
		return "", false
	}
	return m.active.peerFP, true
}

// Disconnect enqueues a BYE frame and tears down the active session.
// Teardown closes the connection at once and does not wait for the
// writer to put the queued BYE on the wire, so the peer may see the
// connection close without receiving a BYE.
func (m *Manager) Disconnect(reason string) error {
	m.mu.Lock()
	pc := m.active
	m.mu.Unlock()
	if pc == nil || pc == pendingMarker {
		return nil
	}
	_ = m.sealAndSend(pc, wire.TypeBye, nil, false)
	m.teardown(pc, reason, nil)
	pc.wg.Wait()
	return nil
}

// teardown closes a session exactly once, clears it from m.active,
// zeroizes its key material, publishes the terminal events and, for a
// dialed connection that failed rather than closed locally, schedules
// a backoff reconnect.
func (m *Manager) teardown(pc *peerConn, reason string, cause error) {
	pc.closeOnce.Do(func() {
		m.mu.Lock()
		if m.active == pc {
			m.active = nil
		}
		m.mu.Unlock()

		close(pc.done)
		pc.netConn.Close()
		pc.rec.Zero()
		m.reg.ConnectionClosed()

		if cause != nil {
			code, _ := errs.CodeOf(cause)
			m.bus.Publish(events.Event{Kind: events.KindError, ErrorKind: string(code), ErrorDetail: cause.Error()})
		}
		m.bus.Publish(events.Event{Kind: events.KindPeerDisconnected, PeerFingerprint: pc.peerFP, Reason: reason})

		if pc.dialedHost != "" && cause != nil {
			go m.reconnect(pc.dialedHost, pc.dialedPort)
		}
	})
}

// reconnect retries Dial with exponential backoff (base 1s, factor 2,
// cap 30s, jitter +-20%) up to ReconnectMaxAttempts (§4.F "Dial").
func (m *Manager) reconnect(host string, port int) {
	delay := m.opts.ReconnectBaseDelay
	for attempt := 1; attempt <= m.opts.ReconnectMaxAttempts; attempt++ {
		time.Sleep(jitter(delay, m.opts.ReconnectJitter))
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
		err := m.Dial(ctx, host, port)
		cancel()
		if err == nil {
			return
		}
		m.logger.Printf("conn: reconnect attempt %d to %s:%d failed: %v", attempt, host, port, err)
		delay = time.Duration(float64(delay) * m.opts.ReconnectFactor)
		if delay > m.opts.ReconnectCapDelay {
			delay = m.opts.ReconnectCapDelay
		}
	}
	m.bus.Publish(events.Event{Kind: events.KindError, ErrorKind: string(errs.CodeUnreachable), ErrorDetail: "reconnect attempts exhausted"})
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac
	return time.Duration(float64(d) * (1 + delta))
}
