package geo

import (
	"math"

	"github.com/loramesh/meshnet/pkg/neighbor"
)

// NeighborDistance pairs a neighbor address with its RSSI and its
// Haversine distance to some reference point (only populated when that
// neighbor's position is known).
type NeighborDistance struct {
	Address  uint32
	RSSI     int16
	Distance float64
	HasFix   bool
}

// GreedyNextHop picks the neighbor whose distance to destE7 is
// strictly less than ours, preferring the closest such neighbor. ok is
// false if no neighbor is closer than selfLatE7/selfLonE7 itself
// (including when we have no fix at all, which greedy forwarding
// treats as "infinitely far").
func GreedyNextHop(locations *Table, neighbors *neighbor.Table, selfLatE7, selfLonE7, destLatE7, destLonE7 int32, haveSelfFix bool) (uint32, bool) {
	selfDistance := math.MaxFloat64
	if haveSelfFix {
		selfDistance = Distance(selfLatE7, selfLonE7, destLatE7, destLonE7)
	}

	var best uint32
	bestDistance := selfDistance
	found := false
	for _, n := range neighbors.All() {
		loc, ok := locations.Get(n.Address)
		if !ok {
			continue
		}
		d := Distance(loc.LatE7, loc.LonE7, destLatE7, destLonE7)
		if d < bestDistance {
			best, bestDistance, found = n.Address, d, true
		}
	}
	return best, found
}

// PerimeterNextHop is the simplified GPSR perimeter-mode fallback used
// when no neighbor is geographically closer to the destination than we
// are: it picks the neighbor with the strongest RSSI as carrier. A full
// planar-graph right-hand-rule perimeter walk is a permitted but not
// required extension (resolved as out of scope; see DESIGN.md).
func PerimeterNextHop(neighbors *neighbor.Table) (uint32, bool) {
	var best uint32
	var bestRSSI int16 = math.MinInt16
	found := false
	for _, n := range neighbors.All() {
		if !found || n.LastRSSI > bestRSSI {
			best, bestRSSI, found = n.Address, n.LastRSSI, true
		}
	}
	return best, found
}

// GeocastTargets returns every neighbor whose distance to the region
// center is under 2*radius, per geocast's flood-by-distance rule.
func GeocastTargets(locations *Table, neighbors *neighbor.Table, centerLatE7, centerLonE7 int32, radiusMeters float64) []uint32 {
	limit := 2 * radiusMeters
	var targets []uint32
	for _, n := range neighbors.All() {
		loc, ok := locations.Get(n.Address)
		if !ok {
			continue
		}
		if Distance(loc.LatE7, loc.LonE7, centerLatE7, centerLonE7) < limit {
			targets = append(targets, n.Address)
		}
	}
	return targets
}

// WithinRegion reports whether a position is inside a geocast region.
func WithinRegion(latE7, lonE7, centerLatE7, centerLonE7 int32, radiusMeters float64) bool {
	return Distance(latE7, lonE7, centerLatE7, centerLonE7) <= radiusMeters
}
