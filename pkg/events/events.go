// Package events delivers control-surface notifications to whatever
// is driving this node (CLI, companion app, test harness) over a
// single bounded channel, instead of the raw function-pointer
// callbacks a C implementation would register. Grounded on the
// bounded per-kind channel + read-only getter pattern used for
// operator-facing notifications in the allstar-nexus core state
// manager (internal/core/state.go's talkerOut/linkTxOut channels and
// their TalkerEvents()/LinkTxEvents() accessors), collapsed here into
// one channel of a closed Event interface since the control surface
// defines a single ordered notification stream rather than several
// independent ones.
package events

// Event is the sum type of every notification the control surface can
// emit: on_message, on_link_established, on_link_closed,
// on_bundle_delivered, on_sos_received.
type Event interface {
	isEvent()
}

// Message reports a data payload delivered to this node, mirroring
// on_message(src, bytes, rssi, snr).
type Message struct {
	Source  uint32
	Payload []byte
	RSSI    int16
	SNR     int8
}

func (Message) isEvent() {}

// LinkEstablished reports a completed handshake with peer, mirroring
// on_link_established(peer).
type LinkEstablished struct {
	Peer uint32
}

func (LinkEstablished) isEvent() {}

// LinkClosed reports a link torn down (timeout, explicit close, or
// handshake failure), mirroring on_link_closed(peer).
type LinkClosed struct {
	Peer uint32
}

func (LinkClosed) isEvent() {}

// BundleDelivered reports a DTN bundle that reached this node as its
// final destination, mirroring on_bundle_delivered(id, bytes).
type BundleDelivered struct {
	BundleID uint32
	Payload  []byte
}

func (BundleDelivered) isEvent() {}

// SOSReceived reports a distress or test broadcast heard from another
// node, mirroring on_sos_received(src, msg, rssi). Payload carries the
// already-decoded SOS message encoding (type, flags, position,
// battery, timestamp, text) so callers don't need to import pkg/sos
// just to read this event.
type SOSReceived struct {
	Source  uint32
	Payload []byte
	RSSI    int16
}

func (SOSReceived) isEvent() {}

// DefaultCapacity is the channel depth used when the caller doesn't
// need a different one.
const DefaultCapacity = 64

// Bus is a bounded, single-reader event stream. A slow or absent
// consumer must never stall the mesh core's tick, so Emit never
// blocks: a full bus drops the new event and counts it instead.
type Bus struct {
	ch      chan Event
	dropped uint64
}

// NewBus creates a Bus buffering up to capacity undelivered events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Emit enqueues e, returning false (and counting a drop) if the bus is
// full.
func (b *Bus) Emit(e Event) bool {
	select {
	case b.ch <- e:
		return true
	default:
		b.dropped++
		return false
	}
}

// Events returns the read-only channel callers range over to receive
// notifications.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Dropped reports how many events have been discarded because the bus
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped
}
