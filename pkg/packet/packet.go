// Package packet implements the mesh wire header: a fixed 20-byte
// header followed by up to 255 payload bytes, all multi-byte scalars
// little-endian, byte-precise encode/decode with an explicit length
// check before slicing the payload.
package packet

import (
	"errors"
	"fmt"

	"github.com/loramesh/meshnet/internal/wire"
)

// HeaderSize is the fixed on-wire header length. packet_id is carried
// as a single byte rather than two, which is plenty of range for
// de-duplication within the seen-set's retention window on a
// low-bandwidth link, and keeps the header at 20 bytes. See DESIGN.md.
const HeaderSize = 20

// MaxPayload is the largest payload a header can describe.
const MaxPayload = 255

// BroadcastAddress is the sentinel destination meaning "all neighbors".
const BroadcastAddress uint32 = 0xFFFFFFFF

// UnknownAddress is the reserved "no address" value.
const UnknownAddress uint32 = 0

// MaxTTL is the hop-count ceiling; hop_count must stay below this.
const MaxTTL = 15

// Version is the only protocol version this stack understands.
const Version = 1

// Type identifies the payload kind carried after the header.
type Type byte

const (
	TypeData Type = iota
	TypeAck
	TypeRREQ
	TypeRREP
	TypeRERR
	TypeHello
	TypeTelemetry
	TypeBeacon
	TypeTimeSync
	TypeSOS
	TypeGeocast
	TypeLocation
	TypeLinkRequest
	TypeLinkAccept
	TypeLinkData
	TypeLinkClose
	TypeDTNBundle
	TypeDTNCustody
)

func (t Type) valid() bool {
	return t <= TypeDTNCustody
}

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypeRREQ:
		return "RREQ"
	case TypeRREP:
		return "RREP"
	case TypeRERR:
		return "RERR"
	case TypeHello:
		return "HELLO"
	case TypeTelemetry:
		return "TELEMETRY"
	case TypeBeacon:
		return "BEACON"
	case TypeTimeSync:
		return "TIME_SYNC"
	case TypeSOS:
		return "SOS"
	case TypeGeocast:
		return "GEOCAST"
	case TypeLocation:
		return "LOCATION"
	case TypeLinkRequest:
		return "LINK_REQUEST"
	case TypeLinkAccept:
		return "LINK_ACCEPT"
	case TypeLinkData:
		return "LINK_DATA"
	case TypeLinkClose:
		return "LINK_CLOSE"
	case TypeDTNBundle:
		return "DTN_BUNDLE"
	case TypeDTNCustody:
		return "DTN_CUSTODY"
	default:
		return fmt.Sprintf("TYPE(%d)", byte(t))
	}
}

// Flags are the per-packet boolean bits.
type Flags byte

const (
	FlagAckRequested Flags = 1 << iota
	FlagEncrypted
	FlagBroadcast
	FlagRetransmission
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Header is the fixed 20-byte mesh packet header.
type Header struct {
	Version       byte
	Type          Type
	TTL           byte
	Flags         Flags
	PacketID      byte
	Source        uint32
	Destination   uint32
	NextHop       uint32
	HopCount      byte
	Seq           byte
	PayloadLength uint16
}

// ErrMalformedHeader is returned when a frame fails to parse.
var ErrMalformedHeader = errors.New("packet: malformed header")

// NewDataHeader builds a header for an application data packet, setting
// the broadcast flag consistently with the destination.
func NewDataHeader(source, destination uint32, ttl byte) Header {
	h := Header{
		Version:     Version,
		Type:        TypeData,
		TTL:         ttl,
		Source:      source,
		Destination: destination,
	}
	if destination == BroadcastAddress {
		h.Flags |= FlagBroadcast
	}
	return h
}

// Encode writes the header followed by payload into a new byte slice of
// exactly HeaderSize+len(payload) bytes.
func (h Header) Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload length %d exceeds %d", ErrMalformedHeader, len(payload), MaxPayload)
	}
	if h.HopCount >= MaxTTL {
		return nil, fmt.Errorf("%w: hop_count %d >= max_ttl %d", ErrMalformedHeader, h.HopCount, MaxTTL)
	}
	if h.Destination == BroadcastAddress {
		h.Flags |= FlagBroadcast
		h.Flags &^= FlagAckRequested
	}
	h.PayloadLength = uint16(len(payload))

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = (h.Version & 0x0F) | (byte(h.Type) << 4)
	buf[1] = h.TTL
	buf[2] = byte(h.Flags)
	buf[3] = h.PacketID
	wire.PutU32(buf[4:8], h.Source)
	wire.PutU32(buf[8:12], h.Destination)
	wire.PutU32(buf[12:16], h.NextHop)
	buf[16] = h.HopCount
	buf[17] = h.Seq
	wire.PutU16(buf[18:20], h.PayloadLength)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses a frame into a Header and its payload slice (a view
// into frame, not a copy).
func Decode(frame []byte) (Header, []byte, error) {
	if len(frame) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrMalformedHeader, len(frame))
	}

	var h Header
	h.Version = frame[0] & 0x0F
	h.Type = Type(frame[0] >> 4)
	h.TTL = frame[1]
	h.Flags = Flags(frame[2])
	h.PacketID = frame[3]
	h.Source = wire.U32(frame[4:8])
	h.Destination = wire.U32(frame[8:12])
	h.NextHop = wire.U32(frame[12:16])
	h.HopCount = frame[16]
	h.Seq = frame[17]
	h.PayloadLength = wire.U16(frame[18:20])

	if h.Version != Version {
		return Header{}, nil, fmt.Errorf("%w: unknown version %d", ErrMalformedHeader, h.Version)
	}
	if !h.Type.valid() {
		return Header{}, nil, fmt.Errorf("%w: unknown type %d", ErrMalformedHeader, h.Type)
	}
	if int(h.PayloadLength) > MaxPayload {
		return Header{}, nil, fmt.Errorf("%w: payload_length %d exceeds %d", ErrMalformedHeader, h.PayloadLength, MaxPayload)
	}
	if len(frame)-HeaderSize < int(h.PayloadLength) {
		return Header{}, nil, fmt.Errorf("%w: payload_length %d exceeds received frame", ErrMalformedHeader, h.PayloadLength)
	}
	if h.HopCount >= MaxTTL {
		return Header{}, nil, fmt.Errorf("%w: hop_count %d >= max_ttl %d", ErrMalformedHeader, h.HopCount, MaxTTL)
	}
	if h.Destination == BroadcastAddress && !h.Flags.Has(FlagBroadcast) {
		return Header{}, nil, fmt.Errorf("%w: broadcast destination without broadcast flag", ErrMalformedHeader)
	}

	payload := frame[HeaderSize : HeaderSize+int(h.PayloadLength)]
	return h, payload, nil
}

// Expired reports whether the packet must be dropped: TTL exhausted or
// hop_count at its ceiling.
func (h Header) Expired() bool {
	return h.TTL == 0 || h.HopCount >= MaxTTL-1
}

// Forwarded returns a copy of h with TTL decremented and hop_count
// incremented, as happens at each relay.
func (h Header) Forwarded() Header {
	h2 := h
	if h2.TTL > 0 {
		h2.TTL--
	}
	h2.HopCount++
	h2.Flags |= FlagRetransmission
	return h2
}
