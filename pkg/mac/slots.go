package mac

import (
	"time"

	"github.com/loramesh/meshnet/pkg/packet"
)

// SlotKind is the occupancy state of a TDMA slot.
type SlotKind byte

const (
	SlotFree SlotKind = iota
	SlotReserved
	SlotPeer
	SlotBeacon
	SlotContention
)

// SlotEntry describes one slot's current owner and lease.
type SlotEntry struct {
	Kind     SlotKind
	Owner    uint32
	Expires  time.Time
	Priority packet.Priority
}

// SlotTable is the fixed-size, bounded array of per-frame slot leases —
// an "indexed slot table" per the design notes, sized to SlotsPerFrame
// and never grown.
type SlotTable struct {
	slots [SlotsPerFrame]SlotEntry
}

// NewSlotTable reserves slot 0 for beacons, as mandated.
func NewSlotTable(selfAddr uint32) *SlotTable {
	t := &SlotTable{}
	t.slots[BeaconSlot] = SlotEntry{Kind: SlotBeacon, Owner: packet.BroadcastAddress}
	t.slots[PreferredSlot(selfAddr)] = SlotEntry{Kind: SlotReserved, Owner: selfAddr}
	return t
}

// Get returns the entry for a slot index.
func (t *SlotTable) Get(slot int) SlotEntry {
	return t.slots[slot]
}

// Reserve grants slot ownership to addr until expires, unless the slot
// is the permanent beacon slot.
func (t *SlotTable) Reserve(slot int, owner uint32, expires time.Time, prio packet.Priority) {
	if slot == BeaconSlot {
		return
	}
	t.slots[slot] = SlotEntry{Kind: SlotReserved, Owner: owner, Expires: expires, Priority: prio}
}

// Expire frees any non-beacon slot whose lease has passed.
func (t *SlotTable) Expire(now time.Time) {
	for i := 1; i < SlotsPerFrame; i++ {
		e := &t.slots[i]
		if e.Kind == SlotReserved && !e.Expires.IsZero() && now.After(e.Expires) {
			*e = SlotEntry{}
		}
	}
}

// OwnedByMe reports whether slot is Reserved for self at this instant.
func (t *SlotTable) OwnedByMe(slot int, self uint32) bool {
	e := t.slots[slot]
	return e.Kind == SlotReserved && e.Owner == self
}
