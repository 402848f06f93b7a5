package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loramesh/meshnet/pkg/packet"
)

var errUnreachable = errors.New("unreachable")

func TestEnqueueEvictsOldestBeyondCapacity(t *testing.T) {
	q := New()
	now := time.Now()
	for i := 0; i < Capacity+1; i++ {
		require.NoError(t, q.Enqueue(uint32(i), []byte("x"), packet.TypeData, packet.PriorityNormal, false, now))
	}
	assert.Equal(t, Capacity, q.Len())
	// the first-enqueued (dest 0) should have been evicted
	for _, e := range q.All() {
		assert.NotEqual(t, uint32(0), e.Dest)
	}
}

func TestTickDeliversWhenSenderSucceeds(t *testing.T) {
	q := New()
	now := time.Now()
	require.NoError(t, q.Enqueue(5, []byte("hi"), packet.TypeData, packet.PriorityNormal, false, now))

	q.Tick(now, func(e Entry) error { return nil })
	assert.Equal(t, 0, q.Len())
}

func TestTickRetriesUntilMaxAttemptsThenDrops(t *testing.T) {
	q := New()
	now := time.Now()
	require.NoError(t, q.Enqueue(5, []byte("hi"), packet.TypeData, packet.PriorityNormal, false, now))

	for i := 0; i < MaxAttempts; i++ {
		q.Tick(now, func(e Entry) error { return errUnreachable })
		now = now.Add(RetryInterval)
	}
	assert.Equal(t, 0, q.Len())
}

func TestTickSkipsEntriesNotYetDue(t *testing.T) {
	q := New()
	now := time.Now()
	require.NoError(t, q.Enqueue(5, []byte("hi"), packet.TypeData, packet.PriorityNormal, false, now))

	attempts := 0
	q.Tick(now, func(e Entry) error { attempts++; return errUnreachable })
	q.Tick(now.Add(time.Second), func(e Entry) error { attempts++; return errUnreachable })
	assert.Equal(t, 1, attempts, "second tick too soon after the first should not retry yet")
}

func TestNeighborKnownTriggersImmediateDelivery(t *testing.T) {
	q := New()
	now := time.Now()
	require.NoError(t, q.Enqueue(5, []byte("hi"), packet.TypeData, packet.PriorityNormal, false, now))

	q.NeighborKnown(5, now, func(e Entry) error { return nil })
	assert.Equal(t, 0, q.Len())
}

func TestExpireStaleDropsOldMessages(t *testing.T) {
	q := New()
	now := time.Now()
	require.NoError(t, q.Enqueue(5, []byte("hi"), packet.TypeData, packet.PriorityNormal, false, now))

	dropped := q.ExpireStale(now.Add(TTL + time.Second))
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 0, q.Len())
}
