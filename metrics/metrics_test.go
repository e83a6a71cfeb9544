package metrics_test

import (
	"sync/atomic"
	"testing"

	"github.com/duskline/p2pmsg/metrics"
)

type countingRegistrar struct {
	opened   int64
	closed   int64
	hsOK     int64
	hsFailed int64
	sent     int64
	received int64
	rekeys   int64
	replays  int64
}

func (c *countingRegistrar) ConnectionOpened() { atomic.AddInt64(&c.opened, 1) }
func (c *countingRegistrar) ConnectionClosed() { atomic.AddInt64(&c.closed, 1) }
func (c *countingRegistrar) HandshakeResult(ok bool) {
	if ok {
		atomic.AddInt64(&c.hsOK, 1)
		return
	}
	atomic.AddInt64(&c.hsFailed, 1)
}
func (c *countingRegistrar) RecordSent()     { atomic.AddInt64(&c.sent, 1) }
func (c *countingRegistrar) RecordReceived() { atomic.AddInt64(&c.received, 1) }
func (c *countingRegistrar) Rekey()          { atomic.AddInt64(&c.rekeys, 1) }
func (c *countingRegistrar) ReplayRejected() { atomic.AddInt64(&c.replays, 1) }

func TestAtomicRegistrar_DefaultsToNoop(t *testing.T) {
	var a metrics.AtomicRegistrar
	// Must not panic before Set is ever called.
	a.ConnectionOpened()
	a.HandshakeResult(true)
	a.Rekey()
}

func TestAtomicRegistrar_Swap(t *testing.T) {
	var a metrics.AtomicRegistrar
	a.ConnectionOpened()

	counting := &countingRegistrar{}
	a.Set(counting)
	a.ConnectionOpened()
	a.ConnectionClosed()
	a.HandshakeResult(true)
	a.HandshakeResult(false)
	a.RecordSent()
	a.RecordReceived()
	a.Rekey()
	a.ReplayRejected()

	if got := atomic.LoadInt64(&counting.opened); got != 1 {
		t.Fatalf("opened = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&counting.closed); got != 1 {
		t.Fatalf("closed = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&counting.hsOK); got != 1 {
		t.Fatalf("hsOK = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&counting.hsFailed); got != 1 {
		t.Fatalf("hsFailed = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&counting.sent); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&counting.received); got != 1 {
		t.Fatalf("received = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&counting.rekeys); got != 1 {
		t.Fatalf("rekeys = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&counting.replays); got != 1 {
		t.Fatalf("replays = %d, want 1", got)
	}

	// Setting nil restores the no-op default rather than panicking.
	a.Set(nil)
	a.ConnectionOpened()
}
