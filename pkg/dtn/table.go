package dtn

import (
	"container/list"
	"time"

	"github.com/loramesh/meshnet/internal/seenset"
	"github.com/loramesh/meshnet/pkg/packet"
)

// Capacity bounds the number of in-flight reassemblies and, separately,
// the number of custody-held bundles a node tracks at once, per the data model's
// "bounded slot table (16 by default); when full, expire oldest before
// insert".
const Capacity = 16

// epidemicSeenCapacity bounds the relay-dedup set sized well above
// Capacity since it also needs to remember bundles already fully
// delivered and retired from the table.
const epidemicSeenCapacity = 256

// Bundle is a fully reassembled delay-tolerant message.
type Bundle struct {
	ID          uint32
	Source      uint32
	Destination uint32
	Custodian   uint32
	CreatedAt   uint32
	TTL         uint32
	Flags       Flags
	Priority    packet.Priority
	HopCount    byte
	MaxHops     byte
	Payload     []byte
}

func (b Bundle) expired(now time.Time) bool {
	created := time.Unix(int64(b.CreatedAt), 0)
	return now.Sub(created) > time.Duration(b.TTL)*time.Second
}

type reassembly struct {
	id        uint32
	header    Header
	fragments map[byte][]byte
}

func (r *reassembly) complete() bool {
	return len(r.fragments) == int(r.header.FragCount)
}

func (r *reassembly) payload() []byte {
	out := make([]byte, 0)
	for i := byte(0); i < r.header.FragCount; i++ {
		out = append(out, r.fragments[i]...)
	}
	return out
}

func bundleFromHeader(h Header, payload []byte) Bundle {
	return Bundle{
		ID: h.BundleID, Source: h.Source, Destination: h.Destination, Custodian: h.Custodian,
		CreatedAt: h.CreationTime, TTL: h.TTL, Flags: h.Flags, Priority: h.Priority,
		HopCount: h.HopCount, MaxHops: h.MaxHops, Payload: payload,
	}
}

// custodyEntry tracks a bundle this node has accepted responsibility
// for and is still trying to hand to the next custodian.
type custodyEntry struct {
	bundle      Bundle
	nextHop     uint32
	acceptedAt  time.Time
	lastAttempt time.Time
	attempted   bool
}

// Table holds in-progress reassemblies and held-for-custody bundles,
// bounded to Capacity entries each, plus the epidemic relay dedup set.
type Table struct {
	reassemblies *list.List // front = oldest; value *reassembly
	custody      *list.List // front = oldest; value *custodyEntry
	relayed      *seenset.Set
	nextBundleID uint32
}

// NewTable builds an empty bundle table.
func NewTable() *Table {
	return &Table{
		reassemblies: list.New(),
		custody:      list.New(),
		relayed:      seenset.New(epidemicSeenCapacity),
	}
}

// NextBundleID allocates a locally-unique bundle identifier.
func (t *Table) NextBundleID() uint32 {
	t.nextBundleID++
	return t.nextBundleID
}

// ShouldRelay reports whether a bundle fragment from this (source,
// bundleID) pair has not yet been relayed, marking it seen either way.
// Used to cap epidemic flooding to a single forward per node per
// bundle, independent of the bundle's own hop budget.
func (t *Table) ShouldRelay(source, bundleID uint32) bool {
	return !t.relayed.Seen(seenset.Key(source, bundleID))
}

func (t *Table) findReassembly(id uint32) *list.Element {
	for el := t.reassemblies.Front(); el != nil; el = el.Next() {
		if el.Value.(*reassembly).id == id {
			return el
		}
	}
	return nil
}

// Reassemble admits one fragment of a bundle, returning the completed
// Bundle once every fragment has arrived. A single-fragment bundle
// completes immediately.
func (t *Table) Reassemble(h Header, fragment []byte) (Bundle, bool) {
	if h.FragCount <= 1 {
		return bundleFromHeader(h, append([]byte{}, fragment...)), true
	}

	el := t.findReassembly(h.BundleID)
	var r *reassembly
	if el == nil {
		r = &reassembly{id: h.BundleID, header: h, fragments: make(map[byte][]byte)}
		t.reassemblies.PushBack(r)
		if t.reassemblies.Len() > Capacity {
			t.reassemblies.Remove(t.reassemblies.Front())
		}
	} else {
		r = el.Value.(*reassembly)
	}
	r.fragments[h.FragOffset] = fragment

	if !r.complete() {
		return Bundle{}, false
	}
	if el != nil {
		t.reassemblies.Remove(el)
	} else {
		t.reassemblies.Remove(t.reassemblies.Back())
	}
	return bundleFromHeader(h, r.payload()), true
}

// AcceptCustody records that this node has taken custody of bundle,
// responsible for forwarding it on until the next hop accepts custody
// in turn or CustodyTimeout elapses.
func (t *Table) AcceptCustody(bundle Bundle, nextHop uint32, now time.Time) {
	t.custody.PushBack(&custodyEntry{bundle: bundle, nextHop: nextHop, acceptedAt: now})
	if t.custody.Len() > Capacity {
		t.custody.Remove(t.custody.Front())
	}
}

// ReleaseCustody drops a held bundle once the next hop has accepted
// custody of it.
func (t *Table) ReleaseCustody(bundleID uint32) {
	for el := t.custody.Front(); el != nil; el = el.Next() {
		if el.Value.(*custodyEntry).bundle.ID == bundleID {
			t.custody.Remove(el)
			return
		}
	}
}

// CustodyResender hands a held bundle back to the mesh layer for
// another forwarding attempt toward its recorded next hop.
type CustodyResender func(bundle Bundle, nextHop uint32) error

// Tick re-forwards any custody-held bundle that has waited past
// CustodyTimeout without the next hop accepting custody.
func (t *Table) Tick(now time.Time, resend CustodyResender) {
	for el := t.custody.Front(); el != nil; el = el.Next() {
		c := el.Value.(*custodyEntry)
		last := c.acceptedAt
		if c.attempted {
			last = c.lastAttempt
		}
		if now.Sub(last) < CustodyTimeout {
			continue
		}
		c.attempted = true
		c.lastAttempt = now
		_ = resend(c.bundle, c.nextHop)
	}
}

// HeldCount reports how many bundles are currently held pending
// custody acceptance by the next hop.
func (t *Table) HeldCount() int { return t.custody.Len() }

// Held returns a snapshot of every bundle currently held pending
// custody acceptance, for the control surface's list_bundles().
func (t *Table) Held() []Bundle {
	out := make([]Bundle, 0, t.custody.Len())
	for el := t.custody.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*custodyEntry).bundle)
	}
	return out
}
