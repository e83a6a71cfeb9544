// Package conn implements the connection manager of §4.F: the TCP
// listener/dialer lifecycle and the reader/writer/heartbeat workers
// that carry a handshake.Transport through to an established
// record.Session. It is grounded on the teacher's context-scoped I/O
// pattern (internal/contextutil.WithTimeout feeding per-call deadlines
// into a small transport interface, as crypto/e2ee/handshake.go does
// over its own BinaryTransport) and on shurlinet-shurli's
// pkg/p2pnet.PeerManager for the reconnect-with-backoff shape
// (ManagedPeer.ConsecFailures/BackoffUntil, doubling backoff capped at
// a ceiling) — adapted from shurli's libp2p multi-peer watchlist to
// this specification's single dialed peer and single-session
// invariant.
package conn

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/wire"
)

// frameTransport implements handshake.Transport over a net.Conn,
// deriving each call's read/write deadline from ctx so the handshake
// engine's own timeout governs the underlying socket operation.
type frameTransport struct {
	conn          net.Conn
	maxFrameBytes int
}

func newFrameTransport(c net.Conn, maxFrameBytes int) *frameTransport {
	return &frameTransport{conn: c, maxFrameBytes: maxFrameBytes}
}

func (t *frameTransport) ReadFrame(ctx context.Context) (wire.Type, []byte, error) {
	if err := t.applyDeadline(ctx, t.conn.SetReadDeadline); err != nil {
		return 0, nil, err
	}
	typ, payload, err := wire.ReadFrame(t.conn, t.maxFrameBytes)
	if err != nil {
		return 0, nil, classifyIOError(err)
	}
	return typ, payload, nil
}

func (t *frameTransport) WriteFrame(ctx context.Context, typ wire.Type, payload []byte) error {
	if err := t.applyDeadline(ctx, t.conn.SetWriteDeadline); err != nil {
		return err
	}
	if err := wire.WriteFrame(t.conn, typ, payload, t.maxFrameBytes); err != nil {
		return classifyIOError(err)
	}
	return nil
}

func (t *frameTransport) applyDeadline(ctx context.Context, set func(time.Time) error) error {
	dl, ok := ctx.Deadline()
	if !ok {
		return set(time.Time{})
	}
	return set(dl)
}

// classifyIOError maps a raw net/io error to the §7 NetworkError
// taxonomy so callers branch on errs.Code rather than net.Error.
func classifyIOError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.PathConn, errs.CodeTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
				return errs.Wrap(errs.PathConn, errs.CodeConnRefused, err)
			}
			return errs.Wrap(errs.PathConn, errs.CodeUnreachable, err)
		}
	}
	return errs.Wrap(errs.PathConn, errs.CodeIOError, err)
}
