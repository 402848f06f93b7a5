package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesSetGetTruncatesOverlongName(t *testing.T) {
	n := NewNames()
	n.Set(1, "this-name-is-definitely-too-long")
	name, ok := n.Get(1)
	require.True(t, ok)
	assert.LessOrEqual(t, len(name), MaxNameLen)
}

func TestNamesSaveLoadRoundTrip(t *testing.T) {
	store := newMemStore()
	n := NewNames()
	n.Set(1, "alice")
	n.Set(2, "bob-station")
	require.NoError(t, n.Save(store))

	loaded, err := LoadNames(store)
	require.NoError(t, err)

	name, ok := loaded.Get(1)
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	name, ok = loaded.Get(2)
	require.True(t, ok)
	assert.Equal(t, "bob-station", name)
}

func TestLoadNamesMissingBlobReturnsEmptyTable(t *testing.T) {
	store := newMemStore()
	n, err := LoadNames(store)
	require.NoError(t, err)
	_, ok := n.Get(1)
	assert.False(t, ok)
}
