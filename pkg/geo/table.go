package geo

import "time"

type locationEntry struct {
	beacon   Beacon
	lastSeen time.Time
}

// Table is the bounded set of recently-heard node positions.
//
// Grounded on pkg/neighbor.Table's map-keyed-by-address, age-pruned
// shape, generalized here with an explicit Capacity-bounded insert
// (evicting the single oldest entry) since positions, unlike
// neighbors, are not naturally bounded by radio range.
type Table struct {
	entries map[uint32]*locationEntry
}

// NewTable builds an empty location table.
func NewTable() *Table {
	return &Table{entries: make(map[uint32]*locationEntry)}
}

// Observe records or refreshes a node's last known position.
func (t *Table) Observe(b Beacon, now time.Time) {
	if _, known := t.entries[b.Address]; !known && len(t.entries) >= TableCapacity {
		t.evictOldest()
	}
	t.entries[b.Address] = &locationEntry{beacon: b, lastSeen: now}
}

func (t *Table) evictOldest() {
	var oldestAddr uint32
	var oldestTime time.Time
	first := true
	for addr, e := range t.entries {
		if first || e.lastSeen.Before(oldestTime) {
			oldestAddr, oldestTime, first = addr, e.lastSeen, false
		}
	}
	if !first {
		delete(t.entries, oldestAddr)
	}
}

// Get returns the last known position for addr, if present and not
// pruned by a caller-driven Prune pass.
func (t *Table) Get(addr uint32) (Beacon, bool) {
	e, ok := t.entries[addr]
	if !ok {
		return Beacon{}, false
	}
	return e.beacon, true
}

// Prune drops every entry older than ExpireAge, returning the
// addresses removed.
func (t *Table) Prune(now time.Time) []uint32 {
	var removed []uint32
	for addr, e := range t.entries {
		if now.Sub(e.lastSeen) > ExpireAge {
			delete(t.entries, addr)
			removed = append(removed, addr)
		}
	}
	return removed
}

// All returns a snapshot of every tracked position.
func (t *Table) All() []Beacon {
	out := make([]Beacon, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.beacon)
	}
	return out
}

// Len reports the number of tracked positions.
func (t *Table) Len() int { return len(t.entries) }
