package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loramesh/meshnet/pkg/neighbor"
)

func TestGreedyNextHopPicksCloserNeighbor(t *testing.T) {
	locs := NewTable()
	neighbors := neighbor.New(nil)
	now := time.Now()

	neighbors.Observe(2, -60, 10, now)
	neighbors.Observe(3, -60, 10, now)
	// neighbor 2 is closer to the destination (lat 20) than neighbor 3 or self (lat 0).
	locs.Observe(Beacon{Address: 2, LatE7: 150000000, Fix: 3}, now)
	locs.Observe(Beacon{Address: 3, LatE7: 0, Fix: 3}, now)

	hop, ok := GreedyNextHop(locs, neighbors, 0, 0, 200000000, 0, true)
	require.True(t, ok)
	assert.Equal(t, uint32(2), hop)
}

func TestGreedyNextHopFailsWhenNoNeighborCloser(t *testing.T) {
	locs := NewTable()
	neighbors := neighbor.New(nil)
	now := time.Now()

	neighbors.Observe(2, -60, 10, now)
	locs.Observe(Beacon{Address: 2, LatE7: 0, Fix: 3}, now) // exactly as far as self from dest

	_, ok := GreedyNextHop(locs, neighbors, 0, 0, 200000000, 0, true)
	assert.False(t, ok)
}

func TestPerimeterNextHopPicksStrongestRSSI(t *testing.T) {
	neighbors := neighbor.New(nil)
	now := time.Now()
	neighbors.Observe(2, -80, 5, now)
	neighbors.Observe(3, -55, 8, now)

	hop, ok := PerimeterNextHop(neighbors)
	require.True(t, ok)
	assert.Equal(t, uint32(3), hop)
}

func TestGeocastTargetsWithinDoubleRadius(t *testing.T) {
	locs := NewTable()
	neighbors := neighbor.New(nil)
	now := time.Now()

	neighbors.Observe(2, -60, 10, now)
	neighbors.Observe(3, -60, 10, now)
	locs.Observe(Beacon{Address: 2, LatE7: 50000000, Fix: 3}, now)  // within 2x radius
	locs.Observe(Beacon{Address: 3, LatE7: 900000000, Fix: 3}, now) // far outside

	targets := GeocastTargets(locs, neighbors, 0, 0, 2000000)
	assert.Contains(t, targets, uint32(2))
	assert.NotContains(t, targets, uint32(3))
}

func TestWithinRegion(t *testing.T) {
	assert.True(t, WithinRegion(0, 0, 0, 0, 1000))
	assert.False(t, WithinRegion(900000000, 0, 0, 0, 1000))
}
