// Package node assembles every subsystem — packet framing, the hybrid
// MAC, neighbor/route tables, the mesh core, the encrypted link layer
// (with optional Double Ratchet forward secrecy), store-and-forward,
// DTN bundles, geographic routing, SOS, and naming/message persistence
// — into one runnable mesh node, and exposes the control surface an
// operator UI or companion CLI drives it through.
//
// Many producers (radio RX, GPS, the control surface) feed one
// consumer goroutine over channels, so every shared table in the
// subsystems above is only ever touched from that one goroutine.
package node

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"

	"github.com/loramesh/meshnet/pkg/config"
	"github.com/loramesh/meshnet/pkg/dtn"
	"github.com/loramesh/meshnet/pkg/events"
	"github.com/loramesh/meshnet/pkg/geo"
	"github.com/loramesh/meshnet/pkg/gps"
	"github.com/loramesh/meshnet/pkg/mac"
	"github.com/loramesh/meshnet/pkg/mesh"
	"github.com/loramesh/meshnet/pkg/neighbor"
	"github.com/loramesh/meshnet/pkg/packet"
	"github.com/loramesh/meshnet/pkg/ratchet"
	"github.com/loramesh/meshnet/pkg/routing"
	"github.com/loramesh/meshnet/pkg/session"
	"github.com/loramesh/meshnet/pkg/sos"
	"github.com/loramesh/meshnet/pkg/storage"
	"github.com/loramesh/meshnet/pkg/store"
)

// TickInterval is the cooperative tick period driving the MAC, mesh
// core, and every subsystem's own Tick.
const TickInterval = 20 * time.Millisecond

// GPSPollInterval is how often the optional GPS source is polled.
const GPSPollInterval = 1 * time.Second

// radioIdleSleep is how long the radio poll loop backs off after an
// empty Poll, so it does not spin a core at 100% with nothing to do.
const radioIdleSleep = 5 * time.Millisecond

// cmdQueueDepth and rxQueueDepth bound the channels feeding the core
// goroutine; a full queue means the core is falling behind and newer
// work waits rather than being dropped (unlike the lossy events.Bus).
const (
	cmdQueueDepth = 32
	rxQueueDepth  = 64
)

type rxFrame struct {
	frame []byte
	rssi  int16
	snr   int8
}

type cmd struct {
	run  func(now time.Time)
	done chan struct{}
}

// Node is one fully assembled mesh participant.
type Node struct {
	self     uint32
	identity [session.IdentitySize]byte
	cfg      config.Config
	logger   *log.Logger

	radio  Radio
	gpsSrc gps.Source
	tuner  sos.RadioTuner
	blobs  storage.BlobStore

	neighbors *neighbor.Table
	routes    *routing.Table
	mac       *mac.MAC
	core      *mesh.Core

	sessions *session.Table
	ratchets map[uint32]*ratchet.Session

	dtnSvc *dtn.Service
	geoSvc *geo.Service
	sosSvc *sos.Service
	outbox *store.Queue

	names    *storage.Names
	messages *storage.MessageLog
	events   *events.Bus

	battery   byte
	lastHello time.Time

	rx   chan rxFrame
	cmds chan cmd
}

// Radio is the adapter contract this node drives both directions
// through; it is pkg/radio.Radio, redeclared here so callers needn't
// import that package just to satisfy New.
type Radio interface {
	Send(frame []byte) bool
	Poll() (frame []byte, rssiDBm int16, snrDB int8, ok bool)
	RSSINow() int16
	Sleep()
	Wake()
}

// New builds a node from its collaborators. gpsSrc, tuner, and blobs
// may all be nil: GPS/SOS-boost/persistence are each optional.
// cfg.NodeAddress must already be resolved (see DeriveAddress), and
// identity is this node's static handshake identity, sent verbatim in
// every LinkRequest.
func New(cfg config.Config, identity [session.IdentitySize]byte, r Radio, gpsSrc gps.Source, tuner sos.RadioTuner, blobs storage.BlobStore, logger *log.Logger, now time.Time) (*Node, error) {
	if cfg.NodeAddress == 0 || cfg.NodeAddress == packet.BroadcastAddress {
		return nil, fmt.Errorf("node: invalid node_address %d", cfg.NodeAddress)
	}

	n := &Node{
		self:     cfg.NodeAddress,
		identity: identity,
		cfg:      cfg,
		logger:   logger.With("node", cfg.NodeAddress),
		radio:    r,
		gpsSrc:   gpsSrc,
		tuner:    tuner,
		blobs:    blobs,
		sessions: session.NewTable(),
		ratchets: make(map[uint32]*ratchet.Session),
		outbox:   store.New(),
		events:   events.NewBus(events.DefaultCapacity),
		rx:       make(chan rxFrame, rxQueueDepth),
		cmds:     make(chan cmd, cmdQueueDepth),
	}

	n.neighbors = neighbor.New(n.onNeighborKnown)
	n.routes = routing.NewTable(durationMS(cfg.RouteTimeoutMS, routing.RouteTimeout))
	n.mac = mac.New(n.self, now, cfg.TDMAEnabled, rand.New(rand.NewSource(int64(n.self))), n.logger)
	n.core = mesh.NewCore(n.self, n.mac, n.neighbors, n.routes, n.logger, mesh.Config{
		MaxRetries: cfg.MaxRetries,
		AckTimeout: durationMS(cfg.AckTimeoutMS, mesh.AckTimeout),
		MaxTTL:     cfg.MaxTTL,
		MaxPayload: cfg.MaxPayload,
	})

	n.core.RegisterHandler(packet.TypeData, n.handleData)
	n.core.RegisterHandler(packet.TypeTimeSync, n.handleTimeSync)
	n.core.RegisterHandler(packet.TypeLinkRequest, n.handleLinkRequest)
	n.core.RegisterHandler(packet.TypeLinkAccept, n.handleLinkAccept)
	n.core.RegisterHandler(packet.TypeLinkData, n.handleLinkData)
	n.core.RegisterHandler(packet.TypeLinkClose, n.handleLinkCloseFrame)

	n.dtnSvc = dtn.NewService(n.self, n.core, n.logger, cfg.EpidemicEnabled, n.onBundleDelivered)
	n.geoSvc = geo.NewService(n.self, n.core, n.neighbors, n.logger, n.onGeocast)
	n.sosSvc = sos.NewService(n.self, n.core, n.tuner, n, n.logger, n.onSOSReceived)

	n.names = storage.NewNames()
	n.messages = storage.NewMessageLog()
	if blobs != nil {
		if names, err := storage.LoadNames(blobs); err == nil {
			n.names = names
		} else {
			n.logger.Warn("loading names", "err", err)
		}
		if msgs, err := storage.LoadMessages(blobs); err == nil {
			n.messages = msgs
		} else {
			n.logger.Warn("loading messages", "err", err)
		}
	}

	return n, nil
}

// durationMS converts a configured millisecond duration into a
// time.Duration, falling back to def when ms is zero (an unset or
// zero-valued config field defers to the compiled-in default rather
// than collapsing every timeout to zero).
func durationMS(ms uint32, def time.Duration) time.Duration {
	if ms == 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Position implements sos.StatusProvider from the node's own geo fix.
func (n *Node) Position() (latE7, lonE7, altM int32, hasFix bool) {
	b, ok := n.geoSvc.Locations().Get(n.self)
	if !ok {
		return 0, 0, 0, false
	}
	return b.LatE7, b.LonE7, b.AltM, true
}

// BatteryPercent implements sos.StatusProvider. No battery adapter is
// named anywhere in the external interfaces this stack is built
// against, so this is a settable field defaulting to 0 rather than a
// collaborator interface nothing would ever implement differently.
func (n *Node) BatteryPercent() byte { return n.battery }

// SetBatteryPercent records the charge level future SOS broadcasts
// report.
func (n *Node) SetBatteryPercent(pct byte) { n.battery = pct }

// Events returns the bus a caller ranges over for on_message/
// on_link_established/on_link_closed/on_bundle_delivered/
// on_sos_received notifications.
func (n *Node) Events() *events.Bus { return n.events }

func (n *Node) onNeighborKnown(addr uint32) {
	n.outbox.NeighborKnown(addr, time.Now(), n.deliverQueued)
}

func (n *Node) deliverQueued(e store.Entry) error {
	_, err := n.core.Send(e.Dest, e.Type, e.Payload, e.Priority, e.AckRequested, time.Now())
	return err
}

func (n *Node) handleData(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	n.recordAndEmitMessage(hdr.Source, hdr.Destination, payload, rssi, snr, now)
}

func (n *Node) recordAndEmitMessage(source, dest uint32, payload []byte, rssi int16, snr int8, now time.Time) {
	n.messages.Append(storage.StoredMessage{Timestamp: now, Source: source, Destination: dest, RSSI: rssi, SNR: snr, Text: string(payload)})
	n.events.Emit(events.Message{Source: source, Payload: payload, RSSI: rssi, SNR: snr})
}

func (n *Node) onBundleDelivered(b dtn.Bundle, now time.Time) {
	n.events.Emit(events.BundleDelivered{BundleID: b.ID, Payload: b.Payload})
}

func (n *Node) onGeocast(payload []byte, from uint32, now time.Time) {
	n.recordAndEmitMessage(from, n.self, payload, 0, 0, now)
}

func (n *Node) onSOSReceived(e sos.Entry) {
	n.events.Emit(events.SOSReceived{Source: e.Source, Payload: e.Message.Encode(), RSSI: e.RSSI})
}

// Tick advances every subsystem by one cooperative step: MAC transmit
// selection, mesh retry/route aging, link/session expiry, store-and-
// forward retries, and each upper-layer service's own timers. It must
// be called from the same goroutine as Receive and every control-
// surface operation (Run does this for you).
func (n *Node) Tick(now time.Time) {
	n.neighbors.Prune(now)
	n.core.Tick(now)
	n.outbox.ExpireStale(now)
	n.outbox.Tick(now, n.deliverQueued)
	n.dtnSvc.Tick(now)
	n.geoSvc.Tick(now)
	n.sosSvc.Tick(now)
	n.tickSessions(now)
	n.tickTimeSync(now)
	n.tickBeacon(now)

	result := n.mac.Tick(now, n.radio.RSSINow())
	if result.Transmitted != nil {
		n.radio.Send(result.Transmitted.Frame)
	}
	if result.Dropped != nil {
		n.logger.Warn("frame dropped by mac", "bytes", len(result.Dropped.Frame))
	}
}

func (n *Node) tickSessions(now time.Time) {
	for _, peer := range n.sessions.ExpireIdle(now) {
		delete(n.ratchets, peer)
		n.events.Emit(events.LinkClosed{Peer: peer})
	}
	for _, s := range n.sessions.All() {
		if s.NeedsKeepalive(now) {
			if err := n.sendLinkData(s, nil, now); err != nil {
				n.logger.Debug("keepalive failed", "peer", s.Peer, "err", err)
			}
		}
	}
}

// Receive hands one inbound frame, as heard by the radio, to the mesh
// core. Called only from the core goroutine (see enqueueRX/Run).
func (n *Node) Receive(frame []byte, rssi int16, snr int8, now time.Time) {
	if err := n.core.Receive(frame, rssi, snr, now); err != nil {
		n.logger.Debug("dropping frame", "err", err)
	}
}

// Run drives the node until ctx is canceled: one goroutine polls the
// radio, one polls GPS (if present), and this call itself is the
// single core goroutine every shared table belongs to.
func (n *Node) Run(ctx context.Context) {
	go n.pollRadio(ctx)
	if n.gpsSrc != nil {
		go n.pollGPS(ctx)
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-n.rx:
			n.Receive(f.frame, f.rssi, f.snr, time.Now())
		case c := <-n.cmds:
			c.run(time.Now())
			close(c.done)
		case t := <-ticker.C:
			n.Tick(t)
		}
	}
}

func (n *Node) pollRadio(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, rssi, snr, ok := n.radio.Poll()
		if !ok {
			time.Sleep(radioIdleSleep)
			continue
		}
		select {
		case n.rx <- rxFrame{frame: frame, rssi: rssi, snr: snr}:
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) pollGPS(ctx context.Context) {
	ticker := time.NewTicker(GPSPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fix, ok := n.gpsSrc.Poll()
			if !ok || !fix.HasPosition() {
				continue
			}
			n.submit(func(now time.Time) {
				n.geoSvc.SetPosition(geo.Beacon{
					Address: n.self,
					LatE7:   fix.LatE7,
					LonE7:   fix.LonE7,
					AltM:    fix.AltM,
					Sats:    fix.Sats,
					Fix:     byte(fix.Quality),
				})
			})
		}
	}
}

// submit runs fn on the core goroutine and blocks until it completes,
// serializing every control-surface call the same way dlq_rec_frame
// serializes every producer onto direwolf's one receive-processing
// thread.
func (n *Node) submit(fn func(now time.Time)) {
	c := cmd{run: fn, done: make(chan struct{})}
	n.cmds <- c
	<-c.done
}
