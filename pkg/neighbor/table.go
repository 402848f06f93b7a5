// Package neighbor maintains the table of directly-heard peers: RSSI,
// SNR, an EWMA link-quality score, and age-based pruning, keyed by a
// single 32-bit mesh address.
package neighbor

import (
	"time"
)

// PruneAge is how long an entry survives without a fresh beacon/packet.
const PruneAge = 5 * time.Minute

// ewmaAlpha weights the newest RSSI-derived sample against the running
// quality average.
const ewmaAlpha = 0.25

// rssiFloor/rssiCeil bound the linear RSSI-to-quality mapping.
const (
	rssiFloorDBm = -110
	rssiCeilDBm  = -50
)

// Entry is one directly-heard peer.
type Entry struct {
	Address         uint32
	LastRSSI        int16
	LastSNR         int8
	Quality         float64 // 0..255
	LastSeen        time.Time
	PacketsReceived uint32
}

// Table is the set of currently-known neighbors. It has no fixed
// capacity: entries leave only through Prune.
type Table struct {
	entries map[uint32]*Entry
	onKnown func(addr uint32)
}

// New builds an empty neighbor table. onKnown, if non-nil, is invoked
// whenever a previously-unknown neighbor is first observed, so that
// store-and-forward and DTN can drain queued traffic for it.
func New(onKnown func(addr uint32)) *Table {
	return &Table{entries: make(map[uint32]*Entry), onKnown: onKnown}
}

// rssiToQuality linearly maps RSSI in [rssiFloorDBm,rssiCeilDBm] to
// [0,255].
func rssiToQuality(rssi int16) float64 {
	if rssi <= rssiFloorDBm {
		return 0
	}
	if rssi >= rssiCeilDBm {
		return 255
	}
	span := float64(rssiCeilDBm - rssiFloorDBm)
	return float64(rssi-rssiFloorDBm) / span * 255
}

// Observe records (or refreshes) a neighbor from a received frame with
// the given signal characteristics.
func (t *Table) Observe(addr uint32, rssi int16, snr int8, now time.Time) *Entry {
	e, known := t.entries[addr]
	qNew := rssiToQuality(rssi)

	if !known {
		e = &Entry{Address: addr, Quality: qNew}
		t.entries[addr] = e
		if t.onKnown != nil {
			t.onKnown(addr)
		}
	} else {
		e.Quality = ewmaAlpha*qNew + (1-ewmaAlpha)*e.Quality
	}

	e.LastRSSI = rssi
	e.LastSNR = snr
	e.LastSeen = now
	e.PacketsReceived++
	return e
}

// Get returns the entry for addr, if known and not yet pruned by a
// caller-driven Prune pass.
func (t *Table) Get(addr uint32) (Entry, bool) {
	e, ok := t.entries[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Prune removes entries whose last-seen time is strictly older than
// PruneAge — "pruned iff now - last_seen > timeout", so an
// entry exactly at the boundary is kept.
func (t *Table) Prune(now time.Time) []uint32 {
	var removed []uint32
	for addr, e := range t.entries {
		if now.Sub(e.LastSeen) > PruneAge {
			delete(t.entries, addr)
			removed = append(removed, addr)
		}
	}
	return removed
}

// All returns a snapshot of every known neighbor, for status reporting.
func (t *Table) All() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// Len reports the number of known neighbors.
func (t *Table) Len() int { return len(t.entries) }
