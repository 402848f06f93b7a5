package node

import (
	"time"

	"github.com/loramesh/meshnet/pkg/mac"
	"github.com/loramesh/meshnet/pkg/packet"
)

// helloInterval is read from cfg.BeaconIntervalMS on every call; Hello
// carries no payload, since mesh.Core already harvests
// neighbor RSSI/SNR from any directly-heard frame's hop_count==0 (see
// pkg/mesh/core.go's Receive) — Hello's only job is giving an
// otherwise-silent node something to be heard saying.
func (n *Node) helloInterval() time.Duration {
	return time.Duration(n.cfg.BeaconIntervalMS) * time.Millisecond
}

func (n *Node) tickBeacon(now time.Time) {
	if n.lastHello.IsZero() || now.Sub(n.lastHello) >= n.helloInterval() {
		if _, err := n.core.Send(packet.BroadcastAddress, packet.TypeHello, nil, packet.PriorityBulk, false, now); err != nil {
			n.logger.Debug("hello broadcast failed", "err", err)
		}
		n.lastHello = now
	}
}

func (n *Node) tickTimeSync(now time.Time) {
	n.mac.TimeElection().Tick(now)
	if !n.mac.TimeElection().ShouldRebroadcast(now) {
		return
	}
	te := n.mac.TimeElection()
	msg := mac.TimeSyncMessage{
		TimestampSec: uint32(now.Unix()),
		TimestampUS:  uint32(now.Nanosecond() / 1000),
		SourceType:   te.Source(),
		Stratum:      te.Stratum(),
		SourceNode:   n.self,
		OffsetUS:     int32(te.OffsetUS()),
	}
	if _, err := n.core.Send(packet.BroadcastAddress, packet.TypeTimeSync, msg.Encode(), packet.PriorityBulk, false, now); err != nil {
		n.logger.Debug("time sync broadcast failed", "err", err)
	}
}

func (n *Node) handleTimeSync(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	msg, err := mac.DecodeTimeSyncMessage(payload)
	if err != nil {
		n.logger.Warn("malformed time sync", "from", hdr.Source, "err", err)
		return
	}
	msg.HopCount++
	n.mac.TimeElection().Accept(msg, now)
}
