// Package events implements the typed event bus the core publishes to
// the UI (§4.H). It is grounded on the teacher's AtomicTunnelObserver /
// AtomicRPCObserver pattern (a swappable delegate behind atomic.Value
// with a no-op default, also the basis of this repo's metrics package),
// generalized here from a single metrics sink into a multi-subscriber,
// per-connection FIFO fan-out, since §4.H calls for a genuine
// subscription interface rather than one fixed observer.
package events

import (
	"sync"
	"time"
)

// Kind identifies the shape of an Event.
type Kind string

const (
	KindPeerConnecting    Kind = "peer_connecting"
	KindHandshakeComplete Kind = "handshake_complete"
	KindMessageReceived   Kind = "message_received"
	KindMessageSent       Kind = "message_sent"
	KindPeerDisconnected  Kind = "peer_disconnected"
	KindError             Kind = "error"
)

// MessageKind distinguishes text from file payloads in message events.
type MessageKind string

const (
	MessageKindText MessageKind = "text"
	MessageKindFile MessageKind = "file"
)

// Event is the single typed envelope carried on the bus. Only the
// fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind
	At   time.Time

	// PeerConnecting
	Addr string

	// HandshakeComplete
	PeerFingerprint string
	FirstContact    bool

	// MessageReceived / MessageSent
	MessageKind MessageKind
	Body        []byte
	FileName    string

	// PeerDisconnected
	Reason string

	// Error
	ErrorKind   string
	ErrorDetail string
}

// Subscription is a live handle into the bus. Events() is closed once
// Unsubscribe is called or the bus itself is closed.
type Subscription struct {
	id     uint64
	ch     chan Event
	bus    *Bus
	closed bool
	mu     sync.Mutex
}

// Events returns the channel events for this subscription arrive on.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe detaches this subscription from the bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.remove(s.id)
	close(s.ch)
}

// Bus delivers events to subscribers in the order Publish is called.
// One Bus may outlive many connections: the connection manager
// publishes every connection it handles to the same Bus.
// Slow subscribers never block Publish: a full subscriber channel
// drops the event and increments that subscriber's drop count (read
// with Bus.Dropped) rather than stalling the record layer or
// connection manager that published it.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*subEntry
	capacity int
}

type subEntry struct {
	sub     *Subscription
	dropped uint64
}

// New returns a Bus whose subscriber channels are buffered to capacity
// events. A non-positive capacity defaults to 64.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{subs: make(map[uint64]*subEntry), capacity: capacity}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Event, b.capacity), bus: b}
	b.subs[sub.id] = &subEntry{sub: sub}
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers e to every current subscriber, in the order calls
// to Publish are made (FIFO per connection, §4.H).
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range b.subs {
		select {
		case entry.sub.ch <- e:
		default:
			entry.dropped++
		}
	}
}

// Dropped reports how many events were dropped for a subscription
// because its channel was full when Publish ran.
func (b *Bus) Dropped(s *Subscription) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.subs[s.id]
	if !ok {
		return 0
	}
	return entry.dropped
}

// Close unsubscribes and closes the channel of every current subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	entries := make([]*subEntry, 0, len(b.subs))
	for _, entry := range b.subs {
		entries = append(entries, entry)
	}
	b.subs = make(map[uint64]*subEntry)
	b.mu.Unlock()

	for _, entry := range entries {
		entry.sub.mu.Lock()
		if !entry.sub.closed {
			entry.sub.closed = true
			close(entry.sub.ch)
		}
		entry.sub.mu.Unlock()
	}
}
