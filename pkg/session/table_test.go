package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablePutGetRemove(t *testing.T) {
	tbl := NewTable()
	s, _ := establishedPair(t)

	tbl.Put(s)
	got, ok := tbl.Get(s.Peer)
	require.True(t, ok)
	assert.Equal(t, s, got)

	tbl.Remove(s.Peer)
	_, ok = tbl.Get(s.Peer)
	assert.False(t, ok)
	assert.Equal(t, StateClosed, s.State)
}

func TestTableExpireIdleRemovesStaleSessions(t *testing.T) {
	tbl := NewTable()
	s, _ := establishedPair(t)
	tbl.Put(s)

	removed := tbl.ExpireIdle(s.LastActivity.Add(LinkTimeout + time.Second))
	assert.Equal(t, []uint32{s.Peer}, removed)
	assert.Equal(t, 0, tbl.Len())
}

func TestTableFullAtCapacity(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < MaxSessions; i++ {
		s, _ := establishedPair(t)
		s.Peer = uint32(i + 1)
		tbl.Put(s)
	}
	assert.True(t, tbl.Full())
}
