package dtn

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/loramesh/meshnet/pkg/mesh"
	"github.com/loramesh/meshnet/pkg/packet"
)

// DeliveryHandler receives a fully reassembled bundle addressed to
// this node.
type DeliveryHandler func(b Bundle, now time.Time)

// Service is the delay-tolerant application layer riding on top of a
// mesh.Core: it fragments outgoing bundles, reassembles incoming ones,
// runs the custody-transfer handshake, falls back to a broadcast send
// when no route to the destination is known yet, and (when enabled)
// relays broadcast bundles in a hop-bounded epidemic flood.
type Service struct {
	core            *mesh.Core
	table           *Table
	self            uint32
	logger          *log.Logger
	deliver         DeliveryHandler
	epidemicEnabled bool
}

// NewService builds a DTN service wired to core, registering itself as
// the handler for TypeDTNBundle and TypeDTNCustody. epidemicEnabled
// gates opportunistic flooding of uncustodied broadcast bundles; with
// it false, a bundle that isn't custody-requested is sent once and
// never speculatively relayed.
func NewService(self uint32, core *mesh.Core, logger *log.Logger, epidemicEnabled bool, deliver DeliveryHandler) *Service {
	s := &Service{
		core:            core,
		table:           NewTable(),
		self:            self,
		logger:          logger.With("component", "dtn"),
		epidemicEnabled: epidemicEnabled,
		deliver:         deliver,
	}
	core.RegisterHandler(packet.TypeDTNBundle, s.handleBundle)
	core.RegisterHandler(packet.TypeDTNCustody, s.handleCustody)
	return s
}

// SendBundle originates a new bundle for dest, fragmenting payload if
// needed and requesting custody transfer from intermediate relays when
// custodyRequested is set. When custody is not requested and dest is
// the broadcast address, the bundle is also eligible for epidemic
// relay (bounded to MaxEpidemicCopies hops) if epidemic flooding is
// enabled; a unicast bundle with no custody request gets a single
// best-effort send and no epidemic fallback, since flooding toward a
// single destination has no bearing on reachability the way it does
// for a broadcast.
func (s *Service) SendBundle(dest uint32, payload []byte, custodyRequested bool, prio packet.Priority, now time.Time) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("dtn: bundle payload %d bytes exceeds %d", len(payload), MaxPayload)
	}
	id := s.table.NextBundleID()
	var flags Flags
	switch {
	case custodyRequested:
		flags = FlagCustodyRequested
	case s.epidemicEnabled && dest == packet.BroadcastAddress:
		flags = FlagEpidemic
	}
	return s.sendFragments(id, dest, s.self, flags, MaxEpidemicCopies, payload, prio, now)
}

func (s *Service) sendFragments(id, dest, custodian uint32, flags Flags, maxHops byte, payload []byte, prio packet.Priority, now time.Time) error {
	headers := FragmentBundle(id, s.self, dest, custodian, now, flags, prio, maxHops, payload)
	for i, h := range headers {
		frag := FragmentData(payload, i, len(headers))
		if err := s.sendFrame(h, frag, prio, now); err != nil {
			return err
		}
	}
	return nil
}

// sendFrame sends one (possibly the only) fragment, falling back to a
// broadcast flood if no unicast route exists yet so the bundle still
// makes progress while route discovery is in flight.
func (s *Service) sendFrame(h Header, frag []byte, prio packet.Priority, now time.Time) error {
	wire := h.Encode(frag)
	if _, err := s.core.Send(h.Destination, packet.TypeDTNBundle, wire, prio, false, now); err == mesh.ErrNoRoute {
		_, err := s.core.Send(packet.BroadcastAddress, packet.TypeDTNBundle, wire, prio, false, now)
		return err
	} else if err != nil {
		return err
	}
	return nil
}

func (s *Service) handleBundle(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	h, frag, err := Decode(payload)
	if err != nil {
		s.logger.Warn("malformed bundle", "from", hdr.Source, "err", err)
		return
	}

	bundle, complete := s.table.Reassemble(h, frag)
	if !complete {
		return
	}
	if bundle.expired(now) {
		return
	}

	// A broadcast bundle is delivered locally *and* considered for
	// relay; custody transfer is undefined for broadcast (see DESIGN.md)
	// so deliverLocally/relayOnward each skip their custody branch when
	// the destination is the broadcast address.
	if bundle.Destination == s.self || bundle.Destination == packet.BroadcastAddress {
		s.deliverLocally(bundle, hdr, now)
	}
	if bundle.Destination != s.self {
		s.relayOnward(bundle, hdr, now)
	}
}

func (s *Service) deliverLocally(bundle Bundle, hdr packet.Header, now time.Time) {
	broadcast := bundle.Destination == packet.BroadcastAddress

	if bundle.Flags.Has(FlagDeliveryReport) {
		report, err := DecodeDeliveryReport(bundle.Payload)
		if err != nil {
			s.logger.Warn("malformed delivery report", "err", err)
			return
		}
		s.table.ReleaseCustody(report.ReportedID)
		if s.deliver != nil {
			s.deliver(bundle, now)
		}
		return
	}

	if bundle.Flags.Has(FlagCustodyRequested) && !broadcast {
		s.sendCustodySignal(hdr.Source, bundle.ID, true, now)
	}
	if s.deliver != nil {
		s.deliver(bundle, now)
	}

	if broadcast {
		// No single custodian to report delivery to, and custody was
		// never accepted for a broadcast bundle in the first place.
		return
	}

	report := DeliveryReport{ReportedID: bundle.ID, DeliveredAt: uint32(now.Unix())}
	id := s.table.NextBundleID()
	_ = s.sendFragments(id, bundle.Source, s.self, FlagDeliveryReport, 1, report.Encode(), packet.PriorityNormal, now)
}

func (s *Service) relayOnward(bundle Bundle, hdr packet.Header, now time.Time) {
	if bundle.Flags.Has(FlagCustodyRequested) && bundle.Destination != packet.BroadcastAddress {
		// Reusing the bundle's logical destination as the custody
		// bookkeeping key: mesh.Core re-resolves the physical next
		// hop itself on every retried Send, so there is no single
		// fixed "next hop" address worth recording here.
		bundle.Custodian = s.self
		s.table.AcceptCustody(bundle, bundle.Destination, now)
		s.sendCustodySignal(hdr.Source, bundle.ID, true, now)
		s.forwardBundle(bundle, now)
		return
	}

	if !s.epidemicEnabled || !bundle.Flags.Has(FlagEpidemic) {
		return // neither custody-backed nor epidemic-eligible: this relay does not forward it
	}
	if bundle.Destination != packet.BroadcastAddress {
		return // epidemic relay only ever applies to broadcast bundles
	}
	if bundle.HopCount >= bundle.MaxHops {
		return // epidemic hop budget exhausted
	}
	if !s.table.ShouldRelay(bundle.Source, bundle.ID) {
		return // already relayed this bundle once
	}
	bundle.HopCount++
	s.forwardBundle(bundle, now)
}

func (s *Service) forwardBundle(bundle Bundle, now time.Time) {
	headers := FragmentBundle(bundle.ID, bundle.Source, bundle.Destination, bundle.Custodian, time.Unix(int64(bundle.CreatedAt), 0), bundle.Flags, bundle.Priority, bundle.MaxHops, bundle.Payload)
	for i, h := range headers {
		h.HopCount = bundle.HopCount
		frag := FragmentData(bundle.Payload, i, len(headers))
		if err := s.sendFrame(h, frag, bundle.Priority, now); err != nil {
			s.logger.Debug("bundle forward attempt failed", "bundle", bundle.ID, "err", err)
		}
	}
}

func (s *Service) handleCustody(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	sig, err := DecodeCustodySignal(payload)
	if err != nil {
		s.logger.Warn("malformed custody signal", "from", hdr.Source, "err", err)
		return
	}
	if sig.Accept {
		s.table.ReleaseCustody(sig.BundleID)
	}
}

func (s *Service) sendCustodySignal(to uint32, bundleID uint32, accept bool, now time.Time) {
	sig := CustodySignal{BundleID: bundleID, Accept: accept}
	if _, err := s.core.Send(to, packet.TypeDTNCustody, sig.Encode(), packet.PriorityExpedited, false, now); err != nil {
		s.logger.Debug("could not send custody signal", "to", to, "err", err)
	}
}

// Tick re-forwards any custody-held bundle whose next custodian has
// not yet acknowledged acceptance within CustodyTimeout.
func (s *Service) Tick(now time.Time) {
	s.table.Tick(now, func(bundle Bundle, nextHop uint32) error {
		s.forwardBundle(bundle, now)
		return nil
	})
}

// HeldCount reports how many bundles are held pending custody
// acceptance, for status reporting.
func (s *Service) HeldCount() int { return s.table.HeldCount() }

// Held returns a snapshot of every bundle currently held pending
// custody acceptance, for the control surface's list_bundles().
func (s *Service) Held() []Bundle { return s.table.Held() }
