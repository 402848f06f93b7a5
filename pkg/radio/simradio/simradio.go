// Package simradio is an in-memory, loopback radio adapter for tests
// and local simulation: every Node attached to a shared Medium hears
// every other Node's transmissions, fanned out synchronously under a
// mutex.
//
// Grounded on the simulated-device pattern in the meshtastic
// message-relay pack's `pkg/meshtastic/simulator` Device — a
// mutex-guarded in-process stand-in for real hardware that other
// components talk to through the same adapter interface a real radio
// would satisfy, generalized here from one simulated device's
// loopback queue to a shared bus fanning out to many attached nodes.
package simradio

import (
	"sync"

	"github.com/loramesh/meshnet/pkg/radio"
)

// DefaultHeardRSSI and DefaultHeardSNR are the signal quality other
// nodes report hearing this node at, absent a more specific
// SetSignal call.
const (
	DefaultHeardRSSI int16 = -60
	DefaultHeardSNR  int8  = 10
)

// DefaultAmbientRSSI is what RSSINow reports on a quiet, idle medium.
const DefaultAmbientRSSI int16 = -120

type heardFrame struct {
	frame []byte
	rssi  int16
	snr   int8
}

// Medium is a shared half-duplex channel connecting any number of
// Nodes; transmitting on one Node enqueues the frame for every other
// attached Node.
type Medium struct {
	mu      sync.Mutex
	members map[*Node]struct{}
}

// NewMedium returns an empty shared channel.
func NewMedium() *Medium {
	return &Medium{members: make(map[*Node]struct{})}
}

func (m *Medium) attach(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[n] = struct{}{}
}

func (m *Medium) detach(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, n)
}

func (m *Medium) transmit(from *Node, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	heard := heardFrame{frame: append([]byte(nil), frame...), rssi: from.heardRSSI, snr: from.heardSNR}
	for n := range m.members {
		if n == from {
			continue
		}
		n.mu.Lock()
		n.queue = append(n.queue, heard)
		n.mu.Unlock()
	}
}

// Node is one simulated radio attached to a Medium, satisfying
// radio.Radio.
type Node struct {
	medium *Medium

	mu          sync.Mutex
	queue       []heardFrame
	heardRSSI   int16
	heardSNR    int8
	ambientRSSI int16
	asleep      bool
}

var _ radio.Radio = (*Node)(nil)

// NewNode attaches a new simulated radio to medium.
func NewNode(medium *Medium) *Node {
	n := &Node{
		medium:      medium,
		heardRSSI:   DefaultHeardRSSI,
		heardSNR:    DefaultHeardSNR,
		ambientRSSI: DefaultAmbientRSSI,
	}
	medium.attach(n)
	return n
}

// Detach removes the node from its medium; it will no longer receive
// transmissions.
func (n *Node) Detach() { n.medium.detach(n) }

// SetSignal configures the RSSI/SNR other nodes will report hearing
// this node's transmissions at.
func (n *Node) SetSignal(rssiDBm int16, snrDB int8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.heardRSSI = rssiDBm
	n.heardSNR = snrDB
}

// SetAmbientRSSI configures what RSSINow reports, for simulating a
// busy channel ahead of CSMA-CA's clear-channel assessment.
func (n *Node) SetAmbientRSSI(rssiDBm int16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ambientRSSI = rssiDBm
}

// Send fans frame out to every other node on the medium. It always
// succeeds unless the node is asleep.
func (n *Node) Send(frame []byte) bool {
	n.mu.Lock()
	asleep := n.asleep
	n.mu.Unlock()
	if asleep || len(frame) > radio.MaxFrameSize {
		return false
	}
	n.medium.transmit(n, frame)
	return true
}

// Poll returns the oldest queued inbound frame, if any.
func (n *Node) Poll() ([]byte, int16, int8, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return nil, 0, 0, false
	}
	next := n.queue[0]
	n.queue = n.queue[1:]
	return next.frame, next.rssi, next.snr, true
}

// RSSINow reports the configured ambient channel RSSI.
func (n *Node) RSSINow() int16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ambientRSSI
}

// Sleep suspends reception; queued frames are dropped as a real
// transceiver would not have heard them while powered down.
func (n *Node) Sleep() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.asleep = true
	n.queue = nil
}

// Wake resumes reception.
func (n *Node) Wake() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.asleep = false
}

// QueueLen reports the number of frames waiting to be polled, for
// tests.
func (n *Node) QueueLen() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}
