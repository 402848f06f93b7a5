// Package mesh is the dispatch and reliability core: it de-duplicates
// inbound traffic, drives unicast ACK/retry, floods broadcasts, relays
// unicast traffic along routes (discovering one on demand when none
// exists), and hands every packet type it does not own outright (link
// handshakes, bundles, SOS, geocast, ...) to a registered upper-layer
// handler.
package mesh

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/loramesh/meshnet/internal/seenset"
	"github.com/loramesh/meshnet/pkg/neighbor"
	"github.com/loramesh/meshnet/pkg/packet"
	"github.com/loramesh/meshnet/pkg/routing"
)

// SeenSetCapacity bounds the mesh-wide (source, packet_id) dedup set,
// "size >= 256 with LRU eviction".
const SeenSetCapacity = 256

// MaxRetries and AckTimeout are the documented defaults for unicast
// ACK_REQ delivery, used when a node's configuration does not override
// them.
const (
	MaxRetries = 3
	AckTimeout = 5 * time.Second
)

// DefaultTTL is the documented default hop budget given to
// locally-originated packets.
const DefaultTTL = packet.MaxTTL - 1

// Config tunes the reliability/framing knobs a node's configuration
// table exposes. A zero Config is invalid; use DefaultConfig.
type Config struct {
	MaxRetries byte
	AckTimeout time.Duration
	MaxTTL     byte
	MaxPayload uint16
}

// DefaultConfig returns the compiled-in defaults, for callers (mostly
// tests) that don't need a node's configured values.
func DefaultConfig() Config {
	return Config{
		MaxRetries: MaxRetries,
		AckTimeout: AckTimeout,
		MaxTTL:     packet.MaxTTL,
		MaxPayload: packet.MaxPayload,
	}
}

// Handler processes a packet type the mesh core itself does not own
// (link handshakes, DTN bundles, SOS, geocast, location, telemetry).
type Handler func(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time)

// Transmitter is the outbound side of the radio, satisfied by *mac.MAC.
type Transmitter interface {
	Enqueue(frame []byte, prio packet.Priority, broadcast bool, now time.Time)
}

type pendingAck struct {
	frame    []byte
	dest     uint32
	packetID byte
	prio     packet.Priority
	attempts int
	lastSent time.Time
}

// Core is the mesh-wide reliability and dispatch layer for one node.
type Core struct {
	self       uint32
	out        Transmitter
	neighbors  *neighbor.Table
	routes     *routing.Table
	seen       *seenset.Set
	logger     *log.Logger
	cfg        Config
	defaultTTL byte

	handlers map[packet.Type]Handler
	pending  map[uint64]*pendingAck

	nextPacketID  byte
	nextRequestID uint32
}

// NewCore builds a mesh core wired to the given MAC transmitter,
// neighbor table, and route table. cfg's MaxTTL is clamped below
// packet.MaxTTL (the header's hard wire ceiling) since the originating
// hop's TTL must still leave room for Forwarded to decrement it at
// every relay; MaxPayload is clamped at packet.MaxPayload for the same
// reason.
func NewCore(self uint32, out Transmitter, neighbors *neighbor.Table, routes *routing.Table, logger *log.Logger, cfg Config) *Core {
	ttl := cfg.MaxTTL
	if ttl == 0 || ttl > packet.MaxTTL {
		ttl = packet.MaxTTL
	}
	if cfg.MaxPayload == 0 || cfg.MaxPayload > packet.MaxPayload {
		cfg.MaxPayload = packet.MaxPayload
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = MaxRetries
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = AckTimeout
	}
	return &Core{
		self:       self,
		out:        out,
		neighbors:  neighbors,
		routes:     routes,
		seen:       seenset.New(SeenSetCapacity),
		logger:     logger.With("component", "mesh"),
		cfg:        cfg,
		defaultTTL: ttl - 1,
		handlers:   make(map[packet.Type]Handler),
		pending:    make(map[uint64]*pendingAck),
	}
}

// RegisterHandler installs the upper-layer handler for a packet type
// the mesh core does not interpret itself.
func (c *Core) RegisterHandler(t packet.Type, h Handler) {
	c.handlers[t] = h
}

func (c *Core) allocPacketID() byte {
	c.nextPacketID++
	return c.nextPacketID
}

// Send originates a new packet of the given type to dest (which may be
// packet.BroadcastAddress). If ackRequested and dest is a unicast
// address, the frame is sent up to the configured MaxRetries times in
// all, AckTimeout apart, until an ACK arrives. ErrNoRoute is returned
// if dest is unreachable; DiscoverRoute is called first, and sends an
// RREQ unless one for dest went out within the throttle window.
func (c *Core) Send(dest uint32, typ packet.Type, payload []byte, prio packet.Priority, ackRequested bool, now time.Time) (byte, error) {
	if len(payload) > int(c.cfg.MaxPayload) {
		return 0, fmt.Errorf("%w: payload length %d exceeds configured max %d", packet.ErrMalformedHeader, len(payload), c.cfg.MaxPayload)
	}
	nextHop, err := c.resolveNextHop(dest, now)
	if err != nil {
		return 0, err
	}

	h := packet.Header{
		Version:     packet.Version,
		Type:        typ,
		TTL:         c.defaultTTL,
		Source:      c.self,
		Destination: dest,
		NextHop:     nextHop,
		PacketID:    c.allocPacketID(),
	}
	if dest != packet.BroadcastAddress && ackRequested {
		h.Flags |= packet.FlagAckRequested
	}

	frame, err := h.Encode(payload)
	if err != nil {
		return 0, err
	}

	broadcast := dest == packet.BroadcastAddress
	c.out.Enqueue(frame, prio, broadcast, now)

	if h.Flags.Has(packet.FlagAckRequested) {
		key := seenset.Key(dest, uint32(h.PacketID))
		c.pending[key] = &pendingAck{frame: frame, dest: dest, packetID: h.PacketID, prio: prio, attempts: 1, lastSent: now}
	}
	return h.PacketID, nil
}

// ErrNoRoute is returned by Send when dest is neither broadcast, a
// direct neighbor, nor reachable via an installed route. DiscoverRoute
// is called before this error returns; it sends an RREQ unless throttled.
var ErrNoRoute = errors.New("mesh: no route to destination")

// nextHopTowards resolves a next hop from either the neighbor table
// (destination is one radio hop away) or an installed route, without
// triggering route discovery as a side effect.
func (c *Core) nextHopTowards(dest uint32, now time.Time) (uint32, bool) {
	if _, ok := c.neighbors.Get(dest); ok {
		return dest, true
	}
	if route, ok := c.routes.Lookup(dest, now); ok {
		return route.NextHop, true
	}
	return 0, false
}

func (c *Core) resolveNextHop(dest uint32, now time.Time) (uint32, error) {
	if dest == packet.BroadcastAddress {
		return packet.BroadcastAddress, nil
	}
	if hop, ok := c.nextHopTowards(dest, now); ok {
		return hop, nil
	}
	c.DiscoverRoute(dest, now)
	return 0, ErrNoRoute
}

// DiscoverRoute floods an RREQ for dest if one has not already been
// sent within the route-discovery throttle window. Returns true if an
// RREQ was actually sent.
func (c *Core) DiscoverRoute(dest uint32, now time.Time) bool {
	if !c.routes.ShouldDiscover(dest, now) {
		return false
	}
	c.nextRequestID++
	req := routing.RREQ{RequestID: c.nextRequestID, Source: c.self, Destination: dest, HopCount: 0, Quality: 255}
	// Seed our own dedup entry so a neighbor's echoed rebroadcast of
	// this same request doesn't get reprocessed as if it were new.
	c.routes.ShouldFloodRREQ(c.self, req.RequestID)

	h := packet.Header{
		Version:     packet.Version,
		Type:        packet.TypeRREQ,
		TTL:         c.defaultTTL,
		Flags:       packet.FlagBroadcast,
		Source:      c.self,
		Destination: packet.BroadcastAddress,
		NextHop:     packet.BroadcastAddress,
		PacketID:    c.allocPacketID(),
	}
	frame, err := h.Encode(req.Encode())
	if err != nil {
		c.logger.Error("encoding rreq", "err", err)
		return false
	}
	c.out.Enqueue(frame, packet.PriorityNormal, true, now)
	return true
}

// Tick drives ACK retry/give-up bookkeeping and should be called once
// per MAC tick.
func (c *Core) Tick(now time.Time) {
	for key, p := range c.pending {
		if now.Sub(p.lastSent) < c.cfg.AckTimeout {
			continue
		}
		if p.attempts >= int(c.cfg.MaxRetries) {
			c.logger.Warn("giving up on unicast delivery", "dest", p.dest, "packet_id", p.packetID)
			delete(c.pending, key)
			continue
		}
		p.attempts++
		p.lastSent = now
		c.out.Enqueue(p.frame, p.prio, false, now)
		c.logger.Debug("retrying unicast delivery", "dest", p.dest, "packet_id", p.packetID, "attempt", p.attempts)
	}
	for _, removed := range c.routes.ExpireStale(now) {
		c.logger.Debug("route expired", "destination", removed)
	}
}

// Receive processes one inbound decoded frame from the radio.
func (c *Core) Receive(frame []byte, rssi int16, snr int8, now time.Time) error {
	h, payload, err := packet.Decode(frame)
	if err != nil {
		return err
	}

	if h.HopCount == 0 {
		c.neighbors.Observe(h.Source, rssi, snr, now)
	}

	dupeKey := seenset.Key(h.Source, uint32(h.PacketID))
	alreadySeen := c.seen.Seen(dupeKey)

	switch h.Type {
	case packet.TypeAck:
		c.handleAck(payload)
		return nil
	case packet.TypeRREQ:
		return c.handleRREQ(payload, h, now)
	case packet.TypeRREP:
		if h.NextHop != c.self {
			return nil // overheard, but addressed to a different next hop
		}
		return c.handleRREP(payload, h, now)
	case packet.TypeRERR:
		return c.handleRERR(payload)
	}

	if alreadySeen {
		return nil
	}

	forMe := h.Destination == c.self || h.Destination == packet.BroadcastAddress
	if forMe {
		c.dispatch(h, payload, rssi, snr, now)
		if h.Flags.Has(packet.FlagAckRequested) && h.Destination == c.self {
			c.sendAck(h, now)
		}
	}

	if h.Destination == packet.BroadcastAddress {
		c.forwardBroadcast(h, payload, now)
		return nil
	}

	if !forMe {
		c.relayUnicast(h, payload, now)
	}
	return nil
}

func (c *Core) dispatch(h packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	if handler, ok := c.handlers[h.Type]; ok {
		handler(h, payload, rssi, snr, now)
	}
}

func (c *Core) sendAck(h packet.Header, now time.Time) {
	ackPayload := []byte{h.PacketID}
	if _, err := c.Send(h.Source, packet.TypeAck, ackPayload, packet.PriorityExpedited, false, now); err != nil {
		c.logger.Warn("could not send ack", "to", h.Source, "err", err)
	}
}

func (c *Core) handleAck(payload []byte) {
	if len(payload) < 1 {
		return
	}
	ackedID := payload[0]
	for key, p := range c.pending {
		if p.packetID == ackedID {
			delete(c.pending, key)
			return
		}
	}
}

func (c *Core) forwardBroadcast(h packet.Header, payload []byte, now time.Time) {
	if h.Expired() {
		return
	}
	fh := h.Forwarded()
	frame, err := fh.Encode(payload)
	if err != nil {
		return
	}
	c.out.Enqueue(frame, packet.PriorityNormal, true, now)
}

func (c *Core) relayUnicast(h packet.Header, payload []byte, now time.Time) {
	if h.Expired() {
		return
	}
	nextHop, err := c.resolveNextHop(h.Destination, now)
	if err != nil {
		return
	}
	fh := h.Forwarded()
	fh.NextHop = nextHop
	frame, err := fh.Encode(payload)
	if err != nil {
		return
	}
	c.out.Enqueue(frame, packet.PriorityNormal, false, now)
}

func (c *Core) handleRREQ(payload []byte, h packet.Header, now time.Time) error {
	req, err := routing.DecodeRREQ(payload)
	if err != nil {
		return err
	}
	if !c.routes.ShouldFloodRREQ(req.Source, req.RequestID) {
		return nil
	}

	linkQuality := 255.0
	if n, ok := c.neighbors.Get(h.Source); ok {
		linkQuality = n.Quality
	}
	if linkQuality > req.Quality {
		linkQuality = req.Quality
	}

	c.routes.Install(req.Source, h.Source, req.HopCount+1, linkQuality, now)

	if req.Destination == c.self {
		rep := routing.RREP{RequestID: req.RequestID, Source: req.Source, Destination: c.self, HopCount: 0, Quality: 255}
		_, err := c.Send(req.Source, packet.TypeRREP, rep.Encode(), packet.PriorityExpedited, false, now)
		return err
	}

	fwd := routing.RREQ{RequestID: req.RequestID, Source: req.Source, Destination: req.Destination, HopCount: req.HopCount + 1, Quality: linkQuality}
	hdr := packet.Header{Version: packet.Version, Type: packet.TypeRREQ, TTL: c.defaultTTL, Flags: packet.FlagBroadcast,
		Source: c.self, Destination: packet.BroadcastAddress, NextHop: packet.BroadcastAddress, PacketID: c.allocPacketID()}
	frame, err := hdr.Encode(fwd.Encode())
	if err != nil {
		return err
	}
	c.out.Enqueue(frame, packet.PriorityNormal, true, now)
	return nil
}

// handleRREP processes an RREP traveling the reverse path back toward
// its original requester. h is this specific hop's frame header, whose
// Source identifies whichever node just relayed the RREP to us — that
// is the correct next hop for a route toward rep.Destination (the
// responder), regardless of how many hops rep.HopCount already counts.
func (c *Core) handleRREP(payload []byte, h packet.Header, now time.Time) error {
	rep, err := routing.DecodeRREP(payload)
	if err != nil {
		return err
	}
	c.routes.Install(rep.Destination, h.Source, rep.HopCount+1, rep.Quality, now)

	if rep.Source == c.self {
		return nil // we were the original requester; nothing further to relay
	}

	reverseHop, ok := c.nextHopTowards(rep.Source, now)
	if !ok {
		return nil // no reverse path; drop
	}

	fwd := routing.RREP{RequestID: rep.RequestID, Source: rep.Source, Destination: rep.Destination, HopCount: rep.HopCount + 1, Quality: rep.Quality}
	hdr := packet.Header{Version: packet.Version, Type: packet.TypeRREP, TTL: c.defaultTTL,
		Source: c.self, Destination: rep.Source, NextHop: reverseHop, PacketID: c.allocPacketID()}
	frame, err := hdr.Encode(fwd.Encode())
	if err != nil {
		return err
	}
	c.out.Enqueue(frame, packet.PriorityNormal, false, now)
	return nil
}

func (c *Core) handleRERR(payload []byte) error {
	rerr, err := routing.DecodeRERR(payload)
	if err != nil {
		return err
	}
	c.routes.HandleRERR(rerr.UnreachableHop)
	return nil
}

// PendingCount reports the number of unicast frames awaiting ACK, for
// status reporting and tests.
func (c *Core) PendingCount() int { return len(c.pending) }
