package dtn

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loramesh/meshnet/pkg/mesh"
	"github.com/loramesh/meshnet/pkg/neighbor"
	"github.com/loramesh/meshnet/pkg/packet"
	"github.com/loramesh/meshnet/pkg/routing"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

type pairedLink struct{ peer *mesh.Core }

func (l *pairedLink) Enqueue(frame []byte, prio packet.Priority, broadcast bool, now time.Time) {
	_ = l.peer.Receive(frame, -60, 10, now)
}

// newLinkedServices builds two directly-reachable nodes, each running
// its own DTN service over its own mesh core, delivering any bundle
// addressed to it into a recorded slice.
func newLinkedServices(t *testing.T) (coreA, coreB *mesh.Core, svcA, svcB *Service, deliveredA, deliveredB *[]Bundle) {
	t.Helper()
	now := time.Now()

	neighborsA := neighbor.New(nil)
	neighborsB := neighbor.New(nil)

	var linkA, linkB pairedLink
	coreA = mesh.NewCore(1, &linkA, neighborsA, routing.NewTable(routing.RouteTimeout), testLogger(), mesh.DefaultConfig())
	coreB = mesh.NewCore(2, &linkB, neighborsB, routing.NewTable(routing.RouteTimeout), testLogger(), mesh.DefaultConfig())
	linkA.peer = coreB
	linkB.peer = coreA

	neighborsA.Observe(2, -60, 10, now)
	neighborsB.Observe(1, -60, 10, now)

	a := []Bundle{}
	b := []Bundle{}
	deliveredA = &a
	deliveredB = &b

	svcA = NewService(1, coreA, testLogger(), true, func(bd Bundle, now time.Time) { a = append(a, bd); *deliveredA = a })
	svcB = NewService(2, coreB, testLogger(), true, func(bd Bundle, now time.Time) { b = append(b, bd); *deliveredB = b })
	return
}

func TestSendBundleSmallPayloadDeliversWhole(t *testing.T) {
	_, _, svcA, _, _, deliveredB := newLinkedServices(t)
	now := time.Now()

	require.NoError(t, svcA.SendBundle(2, []byte("hello mesh"), false, packet.PriorityNormal, now))
	require.Len(t, *deliveredB, 1)
	assert.Equal(t, "hello mesh", string((*deliveredB)[0].Payload))
}

func TestSendBundleFragmentedPayloadReassembles(t *testing.T) {
	_, _, svcA, _, _, deliveredB := newLinkedServices(t)
	now := time.Now()

	payload := make([]byte, FragmentThreshold*2+7)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, svcA.SendBundle(2, payload, false, packet.PriorityNormal, now))
	require.Len(t, *deliveredB, 1)
	assert.Equal(t, payload, (*deliveredB)[0].Payload)
}

func TestCustodyRequestedBundleTriggersDeliveryReport(t *testing.T) {
	_, _, svcA, _, _, deliveredB := newLinkedServices(t)
	now := time.Now()

	require.NoError(t, svcA.SendBundle(2, []byte("urgent"), true, packet.PriorityNormal, now))
	require.Len(t, *deliveredB, 1)
	assert.True(t, (*deliveredB)[0].Flags.Has(FlagCustodyRequested))

	// Once A has processed the delivery-report bundle B sends back, A
	// holds no bundles pending custody.
	assert.Equal(t, 0, svcA.HeldCount())
}

func TestBroadcastBundleDeliversLocallyWithoutCustody(t *testing.T) {
	_, _, svcA, svcB, _, deliveredB := newLinkedServices(t)
	now := time.Now()

	require.NoError(t, svcA.SendBundle(packet.BroadcastAddress, []byte("mayday"), true, packet.PriorityExpedited, now))

	require.Len(t, *deliveredB, 1)
	assert.Equal(t, "mayday", string((*deliveredB)[0].Payload))

	// Custody is undefined for broadcast bundles: B must not have taken
	// custody, and A must not be left holding anything pending a
	// custody signal that will never come.
	assert.Equal(t, 0, svcA.HeldCount())
	assert.Empty(t, svcB.Held())
}
