package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRREQThenRREPInstallsRouteThenRERRRemovesIt(t *testing.T) {
	tbl := NewTable(RouteTimeout)
	now := time.Now()

	assert.True(t, tbl.ShouldFloodRREQ(0x1, 1))
	assert.False(t, tbl.ShouldFloodRREQ(0x1, 1)) // duplicate flood suppressed

	installed := tbl.Install(0xC, 0xB, 2, 200, now)
	assert.True(t, installed)

	r, ok := tbl.Lookup(0xC, now)
	require.True(t, ok)
	assert.Equal(t, uint32(0xB), r.NextHop)
	assert.Equal(t, byte(2), r.HopCount)

	removed := tbl.HandleRERR(0xB)
	assert.Equal(t, []uint32{0xC}, removed)
	_, ok = tbl.Lookup(0xC, now)
	assert.False(t, ok)
}

func TestInstallPrefersShorterHopCount(t *testing.T) {
	tbl := NewTable(RouteTimeout)
	now := time.Now()

	tbl.Install(1, 10, 3, 50, now)
	ok := tbl.Install(1, 20, 5, 250, now) // worse hop count, higher quality
	assert.False(t, ok)

	r, _ := tbl.Lookup(1, now)
	assert.Equal(t, uint32(10), r.NextHop)

	ok = tbl.Install(1, 30, 2, 10, now) // better hop count wins despite low quality
	assert.True(t, ok)
	r, _ = tbl.Lookup(1, now)
	assert.Equal(t, uint32(30), r.NextHop)
}

func TestInstallPrefersHigherQualityOnHopCountTie(t *testing.T) {
	tbl := NewTable(RouteTimeout)
	now := time.Now()

	tbl.Install(1, 10, 2, 50, now)
	ok := tbl.Install(1, 20, 2, 200, now)
	assert.True(t, ok)

	r, _ := tbl.Lookup(1, now)
	assert.Equal(t, uint32(20), r.NextHop)
}

func TestRouteExpiresAfterTimeout(t *testing.T) {
	tbl := NewTable(RouteTimeout)
	now := time.Now()
	tbl.Install(1, 10, 1, 100, now)

	_, ok := tbl.Lookup(1, now.Add(RouteTimeout+time.Second))
	assert.False(t, ok)
}

func TestShouldDiscoverThrottlesPerDestination(t *testing.T) {
	tbl := NewTable(RouteTimeout)
	now := time.Now()
	assert.True(t, tbl.ShouldDiscover(5, now))
	assert.False(t, tbl.ShouldDiscover(5, now.Add(time.Second)))
	assert.True(t, tbl.ShouldDiscover(5, now.Add(RouteTimeout+time.Second)))
}
