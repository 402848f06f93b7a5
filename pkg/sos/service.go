package sos

import (
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/loramesh/meshnet/pkg/mesh"
	"github.com/loramesh/meshnet/pkg/packet"
)

// BroadcastInterval and MaxDuration govern a running SOS: rebroadcast
// every 10s, auto-cancel after 1h.
const (
	BroadcastInterval = 10 * time.Second
	MaxDuration       = time.Hour
)

// ErrAlreadyActive is returned by Activate when a real distress SOS is
// already running and another distress activation is requested. A
// TypeTest activation is exempt — a drill never blocks another drill
// or a genuine distress call.
var ErrAlreadyActive = errors.New("sos: a distress SOS is already active")

// RadioTuner pushes out-of-band radio parameter changes, the same role
// KISS's SetHardware command plays for TXDELAY/persistence/slot-time:
// data frames carry no parameters, so the tuning channel is separate
// from the packet stream. SOS activation boosts TX power and
// spreading factor for range; cancellation restores normal parameters.
type RadioTuner interface {
	SetBoosted(boosted bool)
}

// StatusProvider supplies the local position and battery level an SOS
// broadcast reports. The mesh core and packet layer have no notion of
// GPS fix or battery, so this is a narrow collaborator interface
// rather than a dependency on pkg/geo.
type StatusProvider interface {
	Position() (latE7, lonE7, altM int32, hasFix bool)
	BatteryPercent() byte
}

// ReceivedHandler is invoked for every distinct SOS heard from another
// node, the `on_sos_received(src,msg,rssi)` control-surface event.
type ReceivedHandler func(e Entry)

type activeState struct {
	kind        Type
	text        string
	activatedAt time.Time
	lastSent    time.Time
}

// Service owns local SOS activation/broadcast and the received-SOS log.
type Service struct {
	self   uint32
	core   *mesh.Core
	tuner  RadioTuner
	status StatusProvider
	logger *log.Logger

	active  *activeState
	log     *Log
	deliver ReceivedHandler
}

// NewService wires an SOS service onto a mesh core, registering the
// handler for inbound TypeSOS broadcasts. tuner and deliver may be nil.
func NewService(self uint32, core *mesh.Core, tuner RadioTuner, status StatusProvider, logger *log.Logger, deliver ReceivedHandler) *Service {
	s := &Service{
		self:    self,
		core:    core,
		tuner:   tuner,
		status:  status,
		logger:  logger,
		log:     NewLog(),
		deliver: deliver,
	}
	core.RegisterHandler(packet.TypeSOS, s.handleSOS)
	return s
}

// Activate starts (or restarts) a local SOS broadcast of the given
// type and optional free-text message. A second TypeDistress
// activation while one is already active fails with ErrAlreadyActive;
// TypeTest is exempt and may run regardless of what is already active.
func (s *Service) Activate(t Type, text string, now time.Time) error {
	if s.active != nil && s.active.kind == TypeDistress && t == TypeDistress {
		return ErrAlreadyActive
	}
	if len(text) > MaxMessageLen {
		text = text[:MaxMessageLen]
	}
	s.active = &activeState{kind: t, text: text, activatedAt: now}
	if s.tuner != nil {
		s.tuner.SetBoosted(true)
	}
	s.broadcast(now)
	return nil
}

// Cancel stops any locally-active SOS and restores normal radio
// parameters.
func (s *Service) Cancel() {
	s.active = nil
	if s.tuner != nil {
		s.tuner.SetBoosted(false)
	}
}

// IsActive reports whether a local SOS is currently broadcasting, and
// its type.
func (s *Service) IsActive() (Type, bool) {
	if s.active == nil {
		return 0, false
	}
	return s.active.kind, true
}

// Log returns the bounded log of SOS broadcasts received from others.
func (s *Service) Log() *Log { return s.log }

// AckSender marks the most recent entry from source as acknowledged.
func (s *Service) AckSender(source uint32) bool { return s.log.Ack(source) }

// Tick drives auto-cancel after MaxDuration and periodic rebroadcast
// every BroadcastInterval while a local SOS is active.
func (s *Service) Tick(now time.Time) {
	if s.active == nil {
		return
	}
	if now.Sub(s.active.activatedAt) >= MaxDuration {
		s.logger.Info("sos auto-cancelled", "elapsed", now.Sub(s.active.activatedAt))
		s.Cancel()
		return
	}
	if now.Sub(s.active.lastSent) >= BroadcastInterval {
		s.broadcast(now)
	}
}

func (s *Service) broadcast(now time.Time) {
	var lat, lon, alt int32
	var hasFix bool
	var battery byte
	if s.status != nil {
		lat, lon, alt, hasFix = s.status.Position()
		battery = s.status.BatteryPercent()
	}
	flags := Flags(0)
	if hasFix {
		flags |= FlagHasFix
	}
	msg := Message{
		Type:      s.active.kind,
		Flags:     flags,
		LatE7:     lat,
		LonE7:     lon,
		AltM:      alt,
		Battery:   battery,
		Timestamp: uint32(now.Unix()),
		Text:      s.active.text,
	}
	s.active.lastSent = now
	if _, err := s.core.Send(packet.BroadcastAddress, packet.TypeSOS, msg.Encode(), packet.PriorityEmergency, false, now); err != nil {
		s.logger.Warn("sos broadcast failed", "err", err)
	}
}

func (s *Service) handleSOS(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	msg, err := Decode(payload)
	if err != nil {
		s.logger.Warn("malformed sos frame", "source", hdr.Source, "err", err)
		return
	}
	entry := Entry{Source: hdr.Source, Message: msg, RSSI: rssi, ReceivedAt: now}
	s.log.Append(entry)
	if s.deliver != nil {
		s.deliver(entry)
	}
}
