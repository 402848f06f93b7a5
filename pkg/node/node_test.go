package node

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loramesh/meshnet/pkg/config"
	"github.com/loramesh/meshnet/pkg/events"
	"github.com/loramesh/meshnet/pkg/session"
	"github.com/loramesh/meshnet/pkg/sos"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// pairRadio connects two Node instances back to back over Go channels,
// standing in for a shared RF channel the way net.Pipe stands in for a
// serial link in pkg/radio/serialradio's tests.
type pairRadio struct {
	out chan<- []byte
	in  <-chan []byte
}

func newPairedRadios() (a, b *pairRadio) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &pairRadio{out: ab, in: ba}, &pairRadio{out: ba, in: ab}
}

func (r *pairRadio) Send(frame []byte) bool {
	cp := append([]byte(nil), frame...)
	select {
	case r.out <- cp:
		return true
	default:
		return false
	}
}

func (r *pairRadio) Poll() (frame []byte, rssiDBm int16, snrDB int8, ok bool) {
	select {
	case f := <-r.in:
		return f, -60, 10, true
	default:
		return nil, 0, 0, false
	}
}

// RSSINow reports a clear channel so CSMA transmits on its first
// attempt instead of backing off, keeping these tests fast.
func (r *pairRadio) RSSINow() int16 { return -100 }
func (r *pairRadio) Sleep()         {}
func (r *pairRadio) Wake()          {}

func newTestNode(t *testing.T, addr uint32, r Radio, forwardSecrecy bool) *Node {
	t.Helper()
	cfg := config.Default()
	cfg.NodeAddress = addr
	cfg.TDMAEnabled = false
	cfg.ForwardSecrecyEnabled = forwardSecrecy
	cfg.BeaconIntervalMS = 3600000 // quiet; these tests drive traffic explicitly

	var identity [session.IdentitySize]byte
	identity[0] = byte(addr)

	n, err := New(cfg, identity, r, nil, nil, nil, testLogger(), time.Now())
	require.NoError(t, err)
	return n
}

// runPaired starts both nodes' core goroutines and returns a cleanup
// that stops them.
func runPaired(t *testing.T, a, b *Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	go b.Run(ctx)
	t.Cleanup(cancel)
}

const eventWait = 2 * time.Second
const eventTick = 5 * time.Millisecond

func TestLinkHandshakeWithoutForwardSecrecy(t *testing.T) {
	ra, rb := newPairedRadios()
	a := newTestNode(t, 1, ra, false)
	b := newTestNode(t, 2, rb, false)
	runPaired(t, a, b)

	require.NoError(t, a.RequestLink(2))

	require.Eventually(t, func() bool {
		return a.GetStatus().SessionCount == 1 && b.GetStatus().SessionCount == 1
	}, eventWait, eventTick)
}

func TestLinkHandshakeWithForwardSecrecyRoundTripsEncryptedData(t *testing.T) {
	ra, rb := newPairedRadios()
	a := newTestNode(t, 1, ra, true)
	b := newTestNode(t, 2, rb, true)
	runPaired(t, a, b)

	require.NoError(t, a.RequestLink(2))
	require.Eventually(t, func() bool {
		return a.GetStatus().SessionCount == 1 && b.GetStatus().SessionCount == 1
	}, eventWait, eventTick)

	require.NoError(t, a.Send(2, []byte("ratchet me"), false))

	select {
	case ev := <-b.Events().Events():
		msg, ok := ev.(events.Message)
		require.True(t, ok, "expected events.Message, got %T", ev)
		assert.Equal(t, uint32(1), msg.Source)
		assert.Equal(t, "ratchet me", string(msg.Payload))
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for on_message event")
	}
}

func TestSendWithoutSessionFallsBackToPlainData(t *testing.T) {
	ra, rb := newPairedRadios()
	a := newTestNode(t, 1, ra, false)
	b := newTestNode(t, 2, rb, false)
	runPaired(t, a, b)

	require.NoError(t, a.Send(2, []byte("plain hello"), false))

	require.Eventually(t, func() bool {
		select {
		case <-b.Events().Events():
			return true
		default:
			return false
		}
	}, eventWait, eventTick)
}

func TestCloseLinkTearsDownSessionBothSides(t *testing.T) {
	ra, rb := newPairedRadios()
	a := newTestNode(t, 1, ra, false)
	b := newTestNode(t, 2, rb, false)
	runPaired(t, a, b)

	require.NoError(t, a.RequestLink(2))
	require.Eventually(t, func() bool {
		return a.GetStatus().SessionCount == 1 && b.GetStatus().SessionCount == 1
	}, eventWait, eventTick)

	a.CloseLink(2)

	require.Eventually(t, func() bool {
		return a.GetStatus().SessionCount == 0 && b.GetStatus().SessionCount == 0
	}, eventWait, eventTick)
}

func TestActivateAndCancelSOSReflectsInStatusAndReachesPeer(t *testing.T) {
	ra, rb := newPairedRadios()
	a := newTestNode(t, 1, ra, false)
	b := newTestNode(t, 2, rb, false)
	runPaired(t, a, b)

	require.NoError(t, a.ActivateSOS(sos.TypeTest, "drill"))
	st := a.GetStatus()
	assert.True(t, st.SOSActive)
	assert.Equal(t, sos.TypeTest, st.SOSType)

	require.Eventually(t, func() bool {
		select {
		case ev := <-b.Events().Events():
			sosEv, ok := ev.(events.SOSReceived)
			return ok && sosEv.Source == 1
		default:
			return false
		}
	}, eventWait, eventTick)

	a.CancelSOS()
	assert.False(t, a.GetStatus().SOSActive)
}

func TestListNeighborsPopulatedAfterHandshake(t *testing.T) {
	ra, rb := newPairedRadios()
	a := newTestNode(t, 1, ra, false)
	b := newTestNode(t, 2, rb, false)
	runPaired(t, a, b)

	require.NoError(t, a.RequestLink(2))
	require.Eventually(t, func() bool {
		return len(a.ListNeighbors()) == 1 && len(b.ListNeighbors()) == 1
	}, eventWait, eventTick)

	neighbors := a.ListNeighbors()
	require.Len(t, neighbors, 1)
	assert.Equal(t, uint32(2), neighbors[0].Address)
}
