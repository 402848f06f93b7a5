package geo

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/loramesh/meshnet/pkg/mesh"
	"github.com/loramesh/meshnet/pkg/neighbor"
	"github.com/loramesh/meshnet/pkg/packet"
)

// GeocastHandler receives a geocast payload once this node's own
// position falls within the target region.
type GeocastHandler func(payload []byte, from uint32, now time.Time)

// Service runs location beaconing, the location table, and geocast
// flood/deliver logic on top of a mesh.Core. Greedy and perimeter next-
// hop selection (route.go) are exposed as pure functions for pkg/node
// to consult when an AODV route is unavailable but a position fix is.
type Service struct {
	self      uint32
	core      *mesh.Core
	neighbors *neighbor.Table
	locations *Table
	logger    *log.Logger
	deliver   GeocastHandler

	haveFix    bool
	selfBeacon Beacon
	lastBeacon time.Time
}

// NewService builds a geographic-routing service wired to core.
func NewService(self uint32, core *mesh.Core, neighbors *neighbor.Table, logger *log.Logger, deliver GeocastHandler) *Service {
	s := &Service{
		self:      self,
		core:      core,
		neighbors: neighbors,
		locations: NewTable(),
		logger:    logger.With("component", "geo"),
		deliver:   deliver,
	}
	core.RegisterHandler(packet.TypeLocation, s.handleLocation)
	core.RegisterHandler(packet.TypeGeocast, s.handleGeocast)
	return s
}

// SetPosition records this node's own current fix, used for both
// beaconing and the greedy/geocast "am I in scope" checks.
func (s *Service) SetPosition(b Beacon) {
	b.Address = s.self
	s.selfBeacon = b
	s.haveFix = b.Fix >= 2
}

// Locations exposes the location table for status reporting and for
// pkg/node's route-fallback lookups.
func (s *Service) Locations() *Table { return s.locations }

// Tick rebroadcasts this node's position every BeaconInterval, if a
// fix is known, and should be called once per mesh tick.
func (s *Service) Tick(now time.Time) {
	if !s.haveFix {
		return
	}
	if !s.lastBeacon.IsZero() && now.Sub(s.lastBeacon) < BeaconInterval {
		return
	}
	if _, err := s.core.Send(packet.BroadcastAddress, packet.TypeLocation, s.selfBeacon.Encode(), packet.PriorityBulk, false, now); err != nil {
		s.logger.Debug("could not broadcast position", "err", err)
		return
	}
	s.lastBeacon = now
}

func (s *Service) handleLocation(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	b, err := DecodeBeacon(payload)
	if err != nil {
		s.logger.Warn("malformed location beacon", "from", hdr.Source, "err", err)
		return
	}
	s.locations.Observe(b, now)
}

// SendGeocast originates a geocast to every node within radiusMeters of
// the given center. Propagation beyond the first hop is mesh.Core's
// own TTL-bounded broadcast flood; this layer only decides, on each
// hop's receipt, whether the local node is inside the target region.
func (s *Service) SendGeocast(centerLatE7, centerLonE7 int32, radiusMeters float64, payload []byte, now time.Time) error {
	h := GeocastHeader{CenterLatE7: centerLatE7, CenterLonE7: centerLonE7, RadiusM: uint32(radiusMeters)}
	_, err := s.core.Send(packet.BroadcastAddress, packet.TypeGeocast, h.Encode(payload), packet.PriorityNormal, false, now)
	return err
}

func (s *Service) handleGeocast(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	h, body, err := DecodeGeocast(payload)
	if err != nil {
		s.logger.Warn("malformed geocast frame", "from", hdr.Source, "err", err)
		return
	}
	if !s.haveFix || !WithinRegion(s.selfBeacon.LatE7, s.selfBeacon.LonE7, h.CenterLatE7, h.CenterLonE7, float64(h.RadiusM)) {
		return
	}
	if s.deliver != nil {
		s.deliver(body, hdr.Source, now)
	}
}
