package mac

import (
	"fmt"
	"time"

	"github.com/loramesh/meshnet/internal/wire"
)

// TimeSource orders the authority of a time reference. Higher is
// better: Crystal(0) < Synced(1) < Serial(2) < NTP(3) <
// GPS(4).
type TimeSource byte

const (
	SourceCrystal TimeSource = iota
	SourceSynced
	SourceSerial
	SourceNTP
	SourceGPS
)

func (s TimeSource) String() string {
	switch s {
	case SourceCrystal:
		return "crystal"
	case SourceSynced:
		return "synced"
	case SourceSerial:
		return "serial"
	case SourceNTP:
		return "ntp"
	case SourceGPS:
		return "gps"
	default:
		return "unknown"
	}
}

// baseQuality is the time-quality ceiling for a freshly-accepted
// reference of this source; it decays with minutes_since_sync.
func (s TimeSource) baseQuality() int {
	switch s {
	case SourceCrystal:
		return 20
	case SourceSynced:
		return 60
	case SourceSerial:
		return 80
	case SourceNTP:
		return 90
	case SourceGPS:
		return 100
	default:
		return 0
	}
}

// DegradedStratum is the stratum a node resets to once it falls back
// to its own crystal oscillator.
const DegradedStratum = 15

// RefreshTimeout is how long a reference may go unrefreshed before the
// node degrades back to Crystal.
const RefreshTimeout = 10 * time.Minute

// RebroadcastInterval is how often a node better than Synced re-emits
// its own TimeSyncMessage.
const RebroadcastInterval = 60 * time.Second

// SyncedWithin is the window within which a non-Crystal source still
// counts as "synced" for TDMA eligibility.
const SyncedWithin = 5 * time.Minute

// propagationEstimateUS is a small fixed estimate added to the offset
// on acceptance, covering typical LoRa air time plus processing delay.
const propagationEstimateUS = 50_000

// TimeSyncMessage is the wire-level time reference broadcast.
type TimeSyncMessage struct {
	TimestampSec uint32
	TimestampUS  uint32
	SourceType   TimeSource
	HopCount     byte
	Stratum      byte
	SourceNode   uint32
	OffsetUS     int32
}

// timeSyncMessageSize is ts_sec(4) | ts_usec(4) | source_type(1) |
// hop_count(1) | stratum(1) | reserved(1) | source_node(4) | offset_us(4).
const timeSyncMessageSize = 4 + 4 + 1 + 1 + 1 + 1 + 4 + 4

// Encode serializes a TimeSyncMessage to its fixed wire layout .
func (m TimeSyncMessage) Encode() []byte {
	buf := make([]byte, timeSyncMessageSize)
	off := 0
	wire.PutU32(buf[off:off+4], m.TimestampSec)
	off += 4
	wire.PutU32(buf[off:off+4], m.TimestampUS)
	off += 4
	buf[off] = byte(m.SourceType)
	off++
	buf[off] = m.HopCount
	off++
	buf[off] = m.Stratum
	off++
	off++ // reserved
	wire.PutU32(buf[off:off+4], m.SourceNode)
	off += 4
	wire.PutI32(buf[off:off+4], m.OffsetUS)
	return buf
}

// DecodeTimeSyncMessage parses a TimeSyncMessage from the wire.
func DecodeTimeSyncMessage(b []byte) (TimeSyncMessage, error) {
	if len(b) != timeSyncMessageSize {
		return TimeSyncMessage{}, fmt.Errorf("mac: time sync message size %d", len(b))
	}
	var m TimeSyncMessage
	off := 0
	m.TimestampSec = wire.U32(b[off : off+4])
	off += 4
	m.TimestampUS = wire.U32(b[off : off+4])
	off += 4
	m.SourceType = TimeSource(b[off])
	off++
	m.HopCount = b[off]
	off++
	m.Stratum = b[off]
	off++
	off++ // reserved
	m.SourceNode = wire.U32(b[off : off+4])
	off += 4
	m.OffsetUS = wire.I32(b[off : off+4])
	return m, nil
}

// TimeElection holds a node's view of network time authority.
type TimeElection struct {
	source      TimeSource
	stratum     byte
	offsetUS    int64
	lastAccept  time.Time
	lastRebcast time.Time
	hasSynced   bool
}

// NewTimeElection starts a node at Crystal/degraded stratum, as if it
// has never synced.
func NewTimeElection() *TimeElection {
	return &TimeElection{
		source:  SourceCrystal,
		stratum: DegradedStratum,
	}
}

// Accept evaluates an incoming TimeSyncMessage against the current
// reference and, if it is better, adopts it. Returns true if accepted.
func (e *TimeElection) Accept(msg TimeSyncMessage, now time.Time) bool {
	better := msg.SourceType > e.source ||
		(msg.SourceType == e.source && int(msg.Stratum)+1 < int(e.stratum))
	if !better {
		return false
	}

	e.source = msg.SourceType
	e.stratum = msg.Stratum + 1
	e.offsetUS = int64(msg.OffsetUS) + propagationEstimateUS
	e.lastAccept = now
	e.hasSynced = true
	return true
}

// Tick degrades the reference back to Crystal if it has gone unrefreshed
// for longer than RefreshTimeout.
func (e *TimeElection) Tick(now time.Time) {
	if !e.hasSynced || e.source == SourceCrystal {
		return
	}
	if now.Sub(e.lastAccept) > RefreshTimeout {
		e.source = SourceCrystal
		e.stratum = DegradedStratum
		e.hasSynced = false
	}
}

// ShouldRebroadcast reports whether this node should re-emit its time
// reference now: better than Synced, and RebroadcastInterval has
// elapsed since the last rebroadcast.
func (e *TimeElection) ShouldRebroadcast(now time.Time) bool {
	if e.source <= SourceSynced {
		return false
	}
	if now.Sub(e.lastRebcast) < RebroadcastInterval {
		return false
	}
	e.lastRebcast = now
	return true
}

// Synced reports whether the node is currently synchronized to a
// non-Crystal source within SyncedWithin of its last acceptance — the
// condition required for TDMA-slot transmission.
func (e *TimeElection) Synced(now time.Time) bool {
	return e.source != SourceCrystal && now.Sub(e.lastAccept) <= SyncedWithin
}

// Source, Stratum, and OffsetUS expose the current election state.
func (e *TimeElection) Source() TimeSource { return e.source }
func (e *TimeElection) Stratum() byte      { return e.stratum }
func (e *TimeElection) OffsetUS() int64    { return e.offsetUS }

// Quality returns the time quality in [0,100]: base(source) minus
// minutes since the last acceptance, clipped.
func (e *TimeElection) Quality(now time.Time) int {
	base := e.source.baseQuality()
	if !e.hasSynced {
		return clip(base, 0, 100)
	}
	minutes := int(now.Sub(e.lastAccept) / time.Minute)
	q := base - minutes
	return clip(q, 0, 100)
}

func clip(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
