package serialradio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncapsulateUnescapeRoundTrip(t *testing.T) {
	payload := []byte{0x01, fend, 0x02, fesc, 0x03}
	wrapped := encapsulate(payload)

	assert.Equal(t, byte(fend), wrapped[0])
	assert.Equal(t, byte(fend), wrapped[len(wrapped)-1])

	got := unescape(wrapped[1 : len(wrapped)-1])
	assert.Equal(t, payload, got)
}

func TestSendFramesOverTransport(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	r := New(connA)
	defer r.Close()

	go func() { _ = r.Send([]byte("hello mesh")) }()

	buf := make([]byte, 64)
	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := connB.Read(buf)
	require.NoError(t, err)

	raw := buf[:n]
	require.Equal(t, byte(fend), raw[0])
	require.Equal(t, byte(fend), raw[len(raw)-1])
	assert.Equal(t, "hello mesh", string(unescape(raw[1:len(raw)-1])))
}

func TestPollReassemblesFramesFromTransport(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	r := New(connA)
	defer r.Close()

	go func() { _, _ = connB.Write(encapsulate([]byte("inbound frame"))) }()

	var frame []byte
	var ok bool
	require.Eventually(t, func() bool {
		frame, _, _, ok = r.Poll()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "inbound frame", string(frame))
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	r := New(connA)
	defer r.Close()

	big := make([]byte, 300)
	assert.False(t, r.Send(big))
}
