package simradio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversToOtherNodesNotSelf(t *testing.T) {
	medium := NewMedium()
	a := NewNode(medium)
	b := NewNode(medium)

	require.True(t, a.Send([]byte("hello")))

	frame, _, _, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, "hello", string(frame))

	_, _, _, ok = a.Poll()
	assert.False(t, ok, "sender should not hear its own transmission")
}

func TestSendReportsConfiguredSignalQuality(t *testing.T) {
	medium := NewMedium()
	a := NewNode(medium)
	b := NewNode(medium)
	a.SetSignal(-90, 3)

	require.True(t, a.Send([]byte("x")))
	_, rssi, snr, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, int16(-90), rssi)
	assert.Equal(t, int8(3), snr)
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	medium := NewMedium()
	a := NewNode(medium)
	big := make([]byte, 300)
	assert.False(t, a.Send(big))
}

func TestSleepDropsQueueAndRejectsSend(t *testing.T) {
	medium := NewMedium()
	a := NewNode(medium)
	b := NewNode(medium)

	require.True(t, a.Send([]byte("one")))
	b.Sleep()
	assert.Equal(t, 0, b.QueueLen())

	_, _, _, ok := b.Poll()
	assert.False(t, ok)

	b.Wake()
	require.True(t, a.Send([]byte("two")))
	frame, _, _, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, "two", string(frame))
}

func TestDetachStopsReceiving(t *testing.T) {
	medium := NewMedium()
	a := NewNode(medium)
	b := NewNode(medium)
	b.Detach()

	require.True(t, a.Send([]byte("one")))
	assert.Equal(t, 0, b.QueueLen())
}

func TestRSSINowReportsAmbientDefaultThenOverride(t *testing.T) {
	medium := NewMedium()
	a := NewNode(medium)
	assert.Equal(t, DefaultAmbientRSSI, a.RSSINow())

	a.SetAmbientRSSI(-40)
	assert.Equal(t, int16(-40), a.RSSINow())
}
