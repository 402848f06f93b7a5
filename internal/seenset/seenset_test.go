package seenset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenMarksAndDetectsDuplicates(t *testing.T) {
	s := New(4)
	assert.False(t, s.Seen(Key(1, 100)))
	assert.True(t, s.Seen(Key(1, 100)))
}

func TestSeenEvictsOldestBeyondCapacity(t *testing.T) {
	s := New(2)
	s.Seen(Key(1, 1))
	s.Seen(Key(1, 2))
	s.Seen(Key(1, 3)) // evicts Key(1,1)

	assert.False(t, s.Seen(Key(1, 1))) // re-admitted, was evicted
	assert.Equal(t, 2, s.Len())
}

func TestSeenRefreshesRecencyOnHit(t *testing.T) {
	s := New(2)
	s.Seen(Key(1, 1))
	s.Seen(Key(1, 2))
	s.Seen(Key(1, 1)) // touch 1 again, making 2 the oldest
	s.Seen(Key(1, 3)) // should evict 2, not 1

	assert.False(t, s.Seen(Key(1, 2))) // 2 was evicted
	assert.True(t, s.Seen(Key(1, 1)))  // 1 survived
}
