// Package routing implements on-demand AODV-style route discovery:
// RREQ/RREP/RERR messages and a per-destination next-hop cache with a
// link-quality metric. Installed routes live in a map keyed by destination,
// replaced wholesale on a shorter-hop-then-higher-quality candidate;
// RREQ duplicate suppression reuses internal/seenset.
package routing

import (
	"time"

	"github.com/loramesh/meshnet/internal/seenset"
)

// RouteTimeout is the default route lifetime, used when a node's
// configuration does not override it.
const RouteTimeout = 5 * time.Minute

// requestHistoryCapacity bounds RREQ duplicate suppression.
const requestHistoryCapacity = 256

// RREQ is a route request flooded to discover a path to Destination.
type RREQ struct {
	RequestID   uint32
	Source      uint32
	Destination uint32
	HopCount    byte
	Quality     float64 // minimum link quality observed along the path so far
}

// RREP is a route reply traveling the reverse path, installing a route
// at each intermediate hop.
type RREP struct {
	RequestID   uint32
	Source      uint32 // original RREQ source, the reply's destination
	Destination uint32 // the node the reply is routing to (originator of RREP)
	HopCount    byte
	Quality     float64
}

// RERR invalidates routes whose next hop is UnreachableHop.
type RERR struct {
	UnreachableHop uint32
	Destinations   []uint32
}

// Entry is one installed route.
type Entry struct {
	Destination uint32
	NextHop     uint32
	HopCount    byte
	Quality     float64
	InstalledAt time.Time
	Valid       bool
}

func (e Entry) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(e.InstalledAt) > timeout
}

// Table is the per-destination route cache plus RREQ dedup state.
type Table struct {
	routes  map[uint32]*Entry
	pending *seenset.Set // (source, request_id) dedup for RREQ flooding

	lastDiscoveryAttempt map[uint32]time.Time // per-destination RREQ throttle
	timeout              time.Duration
}

// NewTable builds an empty route table whose installed routes and
// discovery throttle both use timeout as their lifetime. Pass
// RouteTimeout for the documented default.
func NewTable(timeout time.Duration) *Table {
	return &Table{
		routes:               make(map[uint32]*Entry),
		pending:              seenset.New(requestHistoryCapacity),
		lastDiscoveryAttempt: make(map[uint32]time.Time),
		timeout:              timeout,
	}
}

// ShouldFloodRREQ reports whether an incoming RREQ is new (not a
// duplicate flood) and marks it seen.
func (t *Table) ShouldFloodRREQ(source, requestID uint32) bool {
	return !t.pending.Seen(seenset.Key(source, requestID))
}

// Lookup returns the currently valid route to dest, if any, pruning it
// first if it has silently expired.
func (t *Table) Lookup(dest uint32, now time.Time) (Entry, bool) {
	e, ok := t.routes[dest]
	if !ok || !e.Valid {
		return Entry{}, false
	}
	if e.expired(now, t.timeout) {
		delete(t.routes, dest)
		return Entry{}, false
	}
	return *e, true
}

// Install considers a candidate route (typically from an RREP) for
// admission, preferring a shorter hop count and, on a tie, higher
// quality Returns true if the candidate replaced (or
// created) the table entry.
func (t *Table) Install(dest, nextHop uint32, hopCount byte, quality float64, now time.Time) bool {
	existing, ok := t.routes[dest]
	if ok && existing.Valid && !existing.expired(now, t.timeout) {
		if existing.HopCount < hopCount {
			return false
		}
		if existing.HopCount == hopCount && existing.Quality >= quality {
			return false
		}
	}

	t.routes[dest] = &Entry{
		Destination: dest,
		NextHop:     nextHop,
		HopCount:    hopCount,
		Quality:     quality,
		InstalledAt: now,
		Valid:       true,
	}
	return true
}

// HandleRERR invalidates every route whose next hop matches the failed
// hop, returning the destinations that were removed.
func (t *Table) HandleRERR(failedHop uint32) []uint32 {
	var removed []uint32
	for dest, e := range t.routes {
		if e.NextHop == failedHop {
			delete(t.routes, dest)
			removed = append(removed, dest)
		}
	}
	return removed
}

// ExpireStale drops any route untouched for longer than the table's
// timeout.
func (t *Table) ExpireStale(now time.Time) []uint32 {
	var removed []uint32
	for dest, e := range t.routes {
		if e.expired(now, t.timeout) {
			delete(t.routes, dest)
			removed = append(removed, dest)
		}
	}
	return removed
}

// ShouldDiscover reports whether a new RREQ for dest may be started:
// at most once per timeout window, per destination.
func (t *Table) ShouldDiscover(dest uint32, now time.Time) bool {
	last, ok := t.lastDiscoveryAttempt[dest]
	if ok && now.Sub(last) < t.timeout {
		return false
	}
	t.lastDiscoveryAttempt[dest] = now
	return true
}

// All returns a snapshot of every installed route, for status reporting.
func (t *Table) All() []Entry {
	out := make([]Entry, 0, len(t.routes))
	for _, e := range t.routes {
		out = append(out, *e)
	}
	return out
}
