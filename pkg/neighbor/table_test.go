package neighbor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCreatesAndNotifiesOnce(t *testing.T) {
	var notified []uint32
	tbl := New(func(addr uint32) { notified = append(notified, addr) })

	now := time.Now()
	tbl.Observe(1, -60, 5, now)
	tbl.Observe(1, -60, 5, now.Add(time.Second))

	assert.Equal(t, []uint32{1}, notified)
	assert.Equal(t, 1, tbl.Len())
}

func TestQualityEWMAConverges(t *testing.T) {
	tbl := New(nil)
	now := time.Now()
	e := tbl.Observe(1, -110, 0, now) // worst RSSI -> quality near 0
	assert.InDelta(t, 0, e.Quality, 0.01)

	for i := 0; i < 50; i++ {
		e = tbl.Observe(1, -50, 0, now.Add(time.Duration(i)*time.Second)) // best RSSI
	}
	assert.InDelta(t, 255, e.Quality, 1)
}

func TestPruneBoundaryKeepsExactAge(t *testing.T) {
	tbl := New(nil)
	now := time.Now()
	tbl.Observe(1, -60, 0, now)

	// Exactly at the timeout: pruned iff strictly greater.
	removed := tbl.Prune(now.Add(PruneAge))
	assert.Empty(t, removed)
	_, ok := tbl.Get(1)
	assert.True(t, ok)

	removed = tbl.Prune(now.Add(PruneAge + time.Nanosecond))
	assert.Equal(t, []uint32{1}, removed)
	_, ok = tbl.Get(1)
	assert.False(t, ok)
}

func TestObserveUpdatesLastSeen(t *testing.T) {
	tbl := New(nil)
	now := time.Now()
	tbl.Observe(1, -70, 2, now)

	later := now.Add(time.Minute)
	e := tbl.Observe(1, -70, 2, later)
	require.Equal(t, later, e.LastSeen)
	assert.Equal(t, uint32(2), e.PacketsReceived)
}
