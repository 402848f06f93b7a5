package node

import (
	"time"

	"github.com/loramesh/meshnet/pkg/mesh"
	"github.com/loramesh/meshnet/pkg/packet"
	"github.com/loramesh/meshnet/pkg/session"
	"github.com/loramesh/meshnet/pkg/sos"
)

// Send delivers payload to dest, per the send control-surface
// operation. An established session with dest is preferred, carrying
// the payload encrypted as TypeLinkData; otherwise it goes out as
// plain TypeData, falling back to the store-and-forward queue if no
// route exists yet.
func (n *Node) Send(dest uint32, payload []byte, ackRequested bool) error {
	var err error
	n.submit(func(now time.Time) {
		if s, ok := n.sessions.Get(dest); ok && s.State == session.StateEstablished {
			err = n.sendLinkData(s, payload, now)
			return
		}
		_, sendErr := n.core.Send(dest, packet.TypeData, payload, packet.PriorityNormal, ackRequested, now)
		if sendErr == mesh.ErrNoRoute {
			err = n.outbox.Enqueue(dest, payload, packet.TypeData, packet.PriorityNormal, ackRequested, now)
			return
		}
		err = sendErr
	})
	return err
}

// Broadcast sends payload to every neighbor, per the broadcast
// control-surface operation. Broadcasts are never queued for later
// delivery: there is no single neighbor arrival to wait for.
func (n *Node) Broadcast(payload []byte) error {
	var err error
	n.submit(func(now time.Time) {
		_, err = n.core.Send(packet.BroadcastAddress, packet.TypeData, payload, packet.PriorityNormal, false, now)
	})
	return err
}

// RequestLink opens an encrypted link to peer, per request_link.
func (n *Node) RequestLink(peer uint32) error {
	var err error
	n.submit(func(now time.Time) {
		err = n.requestLink(peer, now)
	})
	return err
}

// CloseLink tears down any link with peer, per close_link.
func (n *Node) CloseLink(peer uint32) {
	n.submit(func(now time.Time) {
		n.closeLink(peer, now)
	})
}

// ActivateSOS begins periodic boosted distress broadcasts, per
// activate_sos.
func (n *Node) ActivateSOS(t sos.Type, text string) error {
	var err error
	n.submit(func(now time.Time) {
		err = n.sosSvc.Activate(t, text, now)
	})
	return err
}

// CancelSOS stops any active distress broadcast, per cancel_sos.
func (n *Node) CancelSOS() {
	n.submit(func(now time.Time) {
		n.sosSvc.Cancel()
	})
}

// SetNodeName assigns this node's human-readable name, per
// set_node_name, persisting it immediately if a blob store is
// configured.
func (n *Node) SetNodeName(name string) error {
	var err error
	n.submit(func(now time.Time) {
		n.names.Set(n.self, name)
		if n.blobs != nil {
			err = n.names.Save(n.blobs)
		}
	})
	return err
}

// GetStatus reports this node's identity, time-sync, and SOS state,
// per get_status.
func (n *Node) GetStatus() Status {
	var st Status
	n.submit(func(now time.Time) {
		name, _ := n.names.Get(n.self)
		te := n.mac.TimeElection()
		lat, lon, alt, hasFix := n.Position()
		sosType, sosActive := n.sosSvc.IsActive()
		st = Status{
			Address:        n.self,
			Name:           name,
			BatteryPercent: n.battery,
			TimeSynced:     te.Synced(now),
			TimeSource:     te.Source().String(),
			TimeStratum:    te.Stratum(),
			HasFix:         hasFix,
			LatE7:          lat,
			LonE7:          lon,
			AltM:           alt,
			SOSActive:      sosActive,
			SOSType:        sosType,
			NeighborCount:  n.neighbors.Len(),
			RouteCount:     len(n.routes.All()),
			SessionCount:   n.sessions.Len(),
			HeldBundles:    n.dtnSvc.HeldCount(),
		}
	})
	return st
}

// ListNeighbors reports every neighbor heard recently, per
// list_neighbors.
func (n *Node) ListNeighbors() []NeighborInfo {
	var out []NeighborInfo
	n.submit(func(now time.Time) {
		for _, e := range n.neighbors.All() {
			name, _ := n.names.Get(e.Address)
			out = append(out, NeighborInfo{
				Address:  e.Address,
				Name:     name,
				RSSI:     e.LastRSSI,
				SNR:      e.LastSNR,
				Quality:  e.Quality,
				LastSeen: e.LastSeen,
			})
		}
	})
	return out
}

// ListRoutes reports every installed AODV route, per list_routes.
func (n *Node) ListRoutes() []RouteInfo {
	var out []RouteInfo
	n.submit(func(now time.Time) {
		for _, e := range n.routes.All() {
			out = append(out, RouteInfo{
				Destination: e.Destination,
				NextHop:     e.NextHop,
				HopCount:    e.HopCount,
				Quality:     e.Quality,
				InstalledAt: e.InstalledAt,
			})
		}
	})
	return out
}

// ListBundles reports every DTN bundle this node currently holds in
// custody, per list_bundles.
func (n *Node) ListBundles() []BundleInfo {
	var out []BundleInfo
	n.submit(func(now time.Time) {
		for _, b := range n.dtnSvc.Held() {
			out = append(out, BundleInfo{
				ID:          b.ID,
				Source:      b.Source,
				Destination: b.Destination,
				Payload:     b.Payload,
				CreatedAt:   time.Unix(int64(b.CreatedAt), 0),
			})
		}
	})
	return out
}
