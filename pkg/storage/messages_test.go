package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLogAppendAndAll(t *testing.T) {
	l := NewMessageLog()
	l.Append(StoredMessage{Source: 1, Destination: 2, Text: "hi"})
	assert.Equal(t, 1, l.Len())
}

func TestMessageLogEvictsOldestBeyondCapacity(t *testing.T) {
	l := NewMessageLog()
	for i := 0; i < MessageCapacity+5; i++ {
		l.Append(StoredMessage{Source: uint32(i)})
	}
	assert.Equal(t, MessageCapacity, l.Len())
	all := l.All()
	assert.Equal(t, uint32(5), all[0].Source)
	assert.Equal(t, uint32(MessageCapacity+4), all[len(all)-1].Source)
}

func TestMessageLogSaveLoadRoundTrip(t *testing.T) {
	store := newMemStore()
	l := NewMessageLog()
	now := time.Now().Truncate(time.Second).UTC()
	l.Append(StoredMessage{
		Timestamp: now, Source: 1, Destination: 2, Channel: 0,
		Flags: 3, RSSI: -72, SNR: 9, Text: "hello mesh",
	})
	require.NoError(t, l.Save(store))

	loaded, err := LoadMessages(store)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	got := loaded.All()[0]
	assert.Equal(t, now, got.Timestamp)
	assert.Equal(t, uint32(1), got.Source)
	assert.Equal(t, int16(-72), got.RSSI)
	assert.Equal(t, "hello mesh", got.Text)
}

func TestLoadMessagesMissingBlobReturnsEmptyLog(t *testing.T) {
	store := newMemStore()
	l, err := LoadMessages(store)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestFormatTimestampUsesDefaultLayoutWhenEmpty(t *testing.T) {
	m := StoredMessage{Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	s, err := m.FormatTimestamp("")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02 03:04:05", s)
}
