// Package metrics defines the optional observer the connection manager
// reports to: connection lifecycle, handshake outcomes, record traffic,
// rekeys and replay rejections (§4.F, §4.E). It is grounded on the
// teacher's observability.AtomicTunnelObserver (a swappable delegate
// behind atomic.Value with a no-op default), generalized from the
// teacher's websocket-tunnel-specific event set (attach/replace/channel
// counts) to this specification's connection-manager and record-layer
// events. The core never imports net/http; only cmd/p2pmsg-agent wires
// a concrete exporter (metrics/prom) to an HTTP handler.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Registrar receives connection-manager and record-layer metric events.
// Every method must be safe to call concurrently and must not block.
type Registrar interface {
	ConnectionOpened()
	ConnectionClosed()
	HandshakeResult(ok bool)
	RecordSent()
	RecordReceived()
	Rekey()
	ReplayRejected()
}

type noopRegistrar struct{}

func (noopRegistrar) ConnectionOpened()    {}
func (noopRegistrar) ConnectionClosed()    {}
func (noopRegistrar) HandshakeResult(bool) {}
func (noopRegistrar) RecordSent()          {}
func (noopRegistrar) RecordReceived()      {}
func (noopRegistrar) Rekey()               {}
func (noopRegistrar) ReplayRejected()      {}

// Noop is a zero-cost Registrar used when metrics are disabled.
var Noop Registrar = noopRegistrar{}

// AtomicRegistrar lets a long-running process swap the active Registrar
// at runtime (e.g. toggling Prometheus export on a signal) without the
// connection manager ever seeing a nil delegate.
type AtomicRegistrar struct {
	once sync.Once
	v    atomic.Value
}

type registrarHolder struct {
	reg Registrar
}

// NewAtomicRegistrar returns an initialized atomic registrar defaulting to Noop.
func NewAtomicRegistrar() *AtomicRegistrar {
	a := &AtomicRegistrar{}
	a.once.Do(func() { a.v.Store(&registrarHolder{reg: Noop}) })
	return a
}

// Set replaces the delegate, falling back to Noop on nil.
func (a *AtomicRegistrar) Set(reg Registrar) {
	if reg == nil {
		reg = Noop
	}
	a.once.Do(func() { a.v.Store(&registrarHolder{reg: Noop}) })
	a.v.Store(&registrarHolder{reg: reg})
}

func (a *AtomicRegistrar) load() Registrar {
	a.once.Do(func() { a.v.Store(&registrarHolder{reg: Noop}) })
	return a.v.Load().(*registrarHolder).reg
}

func (a *AtomicRegistrar) ConnectionOpened()       { a.load().ConnectionOpened() }
func (a *AtomicRegistrar) ConnectionClosed()       { a.load().ConnectionClosed() }
func (a *AtomicRegistrar) HandshakeResult(ok bool) { a.load().HandshakeResult(ok) }
func (a *AtomicRegistrar) RecordSent()             { a.load().RecordSent() }
func (a *AtomicRegistrar) RecordReceived()         { a.load().RecordReceived() }
func (a *AtomicRegistrar) Rekey()                  { a.load().Rekey() }
func (a *AtomicRegistrar) ReplayRejected()         { a.load().ReplayRejected() }
