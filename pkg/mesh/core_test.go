package mesh

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loramesh/meshnet/pkg/neighbor"
	"github.com/loramesh/meshnet/pkg/packet"
	"github.com/loramesh/meshnet/pkg/routing"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// pairedLink wires two cores' Enqueue calls directly into each other's
// Receive, simulating a lossless single-hop radio channel for tests.
type pairedLink struct {
	peer *Core
}

func (l *pairedLink) Enqueue(frame []byte, prio packet.Priority, broadcast bool, now time.Time) {
	_ = l.peer.Receive(frame, -60, 10, now)
}

func newLinkedPair(t *testing.T, selfA, selfB uint32) (*Core, *Core) {
	t.Helper()
	now := time.Now()

	a := NewCore(selfA, nil, neighbor.New(nil), routing.NewTable(routing.RouteTimeout), testLogger(), DefaultConfig())
	b := NewCore(selfB, nil, neighbor.New(nil), routing.NewTable(routing.RouteTimeout), testLogger(), DefaultConfig())
	a.out = &pairedLink{peer: b}
	b.out = &pairedLink{peer: a}

	// Seed each side's neighbor table so resolveNextHop treats the
	// other as directly reachable, as it would once a HELLO/beacon had
	// been heard.
	a.neighbors.Observe(selfB, -60, 10, now)
	b.neighbors.Observe(selfA, -60, 10, now)
	return a, b
}

func TestSendDataDeliversToHandler(t *testing.T) {
	a, b := newLinkedPair(t, 1, 2)
	now := time.Now()

	var got []byte
	b.RegisterHandler(packet.TypeData, func(h packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
		got = payload
	})

	_, err := a.Send(2, packet.TypeData, []byte("hi"), packet.PriorityNormal, false, now)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestAckRequestedClearsPendingOnAck(t *testing.T) {
	a, b := newLinkedPair(t, 1, 2)
	now := time.Now()
	b.RegisterHandler(packet.TypeData, func(h packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {})

	_, err := a.Send(2, packet.TypeData, []byte("hi"), packet.PriorityNormal, true, now)
	require.NoError(t, err)
	assert.Equal(t, 0, a.PendingCount(), "ack should have round-tripped synchronously in the test harness")
}

func TestUnackedDeliveryRetriesThenGivesUp(t *testing.T) {
	a := NewCore(1, &blackhole{}, neighbor.New(nil), routing.NewTable(routing.RouteTimeout), testLogger(), DefaultConfig())
	now := time.Now()
	a.neighbors.Observe(2, -60, 10, now)

	_, err := a.Send(2, packet.TypeData, []byte("hi"), packet.PriorityNormal, true, now)
	require.NoError(t, err)
	assert.Equal(t, 1, a.PendingCount())

	for i := 0; i < MaxRetries; i++ {
		now = now.Add(AckTimeout + time.Millisecond)
		a.Tick(now)
	}
	assert.Equal(t, 0, a.PendingCount(), "gives up after MaxRetries")
}

type blackhole struct{}

func (blackhole) Enqueue(frame []byte, prio packet.Priority, broadcast bool, now time.Time) {}

func TestDuplicateBroadcastNotRedelivered(t *testing.T) {
	a := NewCore(1, &blackhole{}, neighbor.New(nil), routing.NewTable(routing.RouteTimeout), testLogger(), DefaultConfig())
	now := time.Now()

	calls := 0
	a.RegisterHandler(packet.TypeHello, func(h packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
		calls++
	})

	h := packet.Header{Version: packet.Version, Type: packet.TypeHello, TTL: 10, Flags: packet.FlagBroadcast,
		Source: 5, Destination: packet.BroadcastAddress, NextHop: packet.BroadcastAddress, PacketID: 42}
	frame, err := h.Encode(nil)
	require.NoError(t, err)

	require.NoError(t, a.Receive(frame, -60, 10, now))
	require.NoError(t, a.Receive(frame, -60, 10, now))
	assert.Equal(t, 1, calls)
}

func TestRREQDiscoversRouteAndInstallsReverseRoute(t *testing.T) {
	a, b := newRelayTrio(t)
	now := time.Now()

	// node 1 has no neighbor/route entry for node 3; it must flood an
	// RREQ which node 2 relays and node 3 answers with an RREP.
	ok := a.core.DiscoverRoute(3, now)
	require.True(t, ok)

	route, found := a.core.routes.Lookup(3, now)
	assert.True(t, found)
	assert.Equal(t, uint32(2), route.NextHop)

	// node 3 learned the reverse route back to node 1 from the relayed RREQ.
	reverse, found := b.core.routes.Lookup(1, now)
	assert.True(t, found)
	assert.Equal(t, uint32(2), reverse.NextHop)
}

// relayNode bundles a Core with its own transmitter plumbing so three
// of them can be wired node-1 <-> node-2 <-> node-3 for multi-hop tests.
type relayNode struct {
	core *Core
}

// broadcastBus delivers an enqueued frame only to the radio neighbors
// listed in reach, modeling a chain topology rather than a fully
// connected one.
type broadcastBus struct {
	nodes []*relayNode
	self  uint32
	reach map[uint32]bool
}

func (bus *broadcastBus) Enqueue(frame []byte, prio packet.Priority, broadcast bool, now time.Time) {
	for _, n := range bus.nodes {
		if n.core.self == bus.self || !bus.reach[n.core.self] {
			continue
		}
		_ = n.core.Receive(frame, -60, 10, now)
	}
}

func newRelayTrio(t *testing.T) (*relayNode, *relayNode) {
	t.Helper()
	now := time.Now()

	n1 := &relayNode{core: NewCore(1, nil, neighbor.New(nil), routing.NewTable(routing.RouteTimeout), testLogger(), DefaultConfig())}
	n2 := &relayNode{core: NewCore(2, nil, neighbor.New(nil), routing.NewTable(routing.RouteTimeout), testLogger(), DefaultConfig())}
	n3 := &relayNode{core: NewCore(3, nil, neighbor.New(nil), routing.NewTable(routing.RouteTimeout), testLogger(), DefaultConfig())}
	all := []*relayNode{n1, n2, n3}

	n1.core.out = &broadcastBus{nodes: all, self: 1, reach: map[uint32]bool{2: true}}
	n2.core.out = &broadcastBus{nodes: all, self: 2, reach: map[uint32]bool{1: true, 3: true}}
	n3.core.out = &broadcastBus{nodes: all, self: 3, reach: map[uint32]bool{2: true}}

	// node 2 can directly hear both 1 and 3; 1 and 3 cannot hear each
	// other, forcing the RREQ/RREP to relay through 2.
	n2.core.neighbors.Observe(1, -60, 10, now)
	n2.core.neighbors.Observe(3, -60, 10, now)

	return n1, n3
}
