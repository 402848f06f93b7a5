// Package dtn implements delay-tolerant bundle transport for traffic
// that must survive a destination being unreachable for longer than
// pkg/store's hour-long TTL: custody transfer between intermediate
// custodians, fragmentation/reassembly of oversized payloads, and a
// bounded epidemic flood mode for broadcast bundles.
package dtn

import (
	"fmt"
	"time"

	"github.com/loramesh/meshnet/internal/wire"
	"github.com/loramesh/meshnet/pkg/packet"
)

// FragmentThreshold is the payload size above which a bundle is split
// into multiple fragments.
const FragmentThreshold = 200

// MaxPayload is the largest bundle payload accepted before
// fragmentation.
const MaxPayload = 512

// MaxEpidemicCopies bounds how many times a broadcast bundle may be
// relayed in epidemic mode, carried as the wire header's
// max_hops field when FlagEpidemic is set.
const MaxEpidemicCopies = 3

// CustodyTimeout is how long a custodian waits for the next hop to
// accept custody before re-forwarding.
const CustodyTimeout = 60 * time.Second

// DefaultTTL is how long an undelivered bundle is kept before being
// expired, distinct from pkg/store's shorter store-and-forward TTL.
const DefaultTTL = 24 * time.Hour

// Flags are the per-bundle boolean bits.
type Flags byte

const (
	FlagFragment Flags = 1 << iota
	FlagCustodyRequested
	FlagEpidemic
	_ // reserved
	_ // reserved
	_ // reserved
	FlagDeliveryReport Flags = 0x40
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Header is the fixed 32-byte prefix of every DTN_BUNDLE payload.
type Header struct {
	BundleID     uint32
	Source       uint32
	Destination  uint32
	Custodian    uint32
	CreationTime uint32
	TTL          uint32
	Flags        Flags
	Priority     packet.Priority
	FragOffset   byte // fragment index, not byte offset
	FragCount    byte
	HopCount     byte
	MaxHops      byte
}

const headerSize = 4*6 + 1*6 + 2

// Encode serializes the bundle header followed by this fragment's data.
func (h Header) Encode(fragment []byte) []byte {
	buf := make([]byte, headerSize+len(fragment))
	wire.PutU32(buf[0:4], h.BundleID)
	wire.PutU32(buf[4:8], h.Source)
	wire.PutU32(buf[8:12], h.Destination)
	wire.PutU32(buf[12:16], h.Custodian)
	wire.PutU32(buf[16:20], h.CreationTime)
	wire.PutU32(buf[20:24], h.TTL)
	buf[24] = byte(h.Flags)
	buf[25] = byte(h.Priority)
	buf[26] = h.FragOffset
	buf[27] = h.FragCount
	buf[28] = h.HopCount
	buf[29] = h.MaxHops
	wire.PutU16(buf[30:32], uint16(len(fragment)))
	copy(buf[headerSize:], fragment)
	return buf
}

// Decode parses a bundle header and its fragment data.
func Decode(b []byte) (Header, []byte, error) {
	if len(b) < headerSize {
		return Header{}, nil, fmt.Errorf("dtn: bundle frame too short (%d bytes)", len(b))
	}
	var h Header
	h.BundleID = wire.U32(b[0:4])
	h.Source = wire.U32(b[4:8])
	h.Destination = wire.U32(b[8:12])
	h.Custodian = wire.U32(b[12:16])
	h.CreationTime = wire.U32(b[16:20])
	h.TTL = wire.U32(b[20:24])
	h.Flags = Flags(b[24])
	h.Priority = packet.Priority(b[25])
	h.FragOffset = b[26]
	h.FragCount = b[27]
	h.HopCount = b[28]
	h.MaxHops = b[29]
	fragLen := int(wire.U16(b[30:32]))
	rest := b[headerSize:]
	if fragLen > len(rest) {
		return Header{}, nil, fmt.Errorf("dtn: fragment length %d exceeds frame", fragLen)
	}
	return h, rest[:fragLen], nil
}

// CustodySignal is the DTN_CUSTODY control payload.
type CustodySignal struct {
	BundleID uint32
	Accept   bool
}

// Encode serializes a CustodySignal.
func (c CustodySignal) Encode() []byte {
	buf := make([]byte, 5)
	wire.PutU32(buf[0:4], c.BundleID)
	if c.Accept {
		buf[4] = 1
	}
	return buf
}

// DecodeCustodySignal parses a DTN_CUSTODY control payload.
func DecodeCustodySignal(b []byte) (CustodySignal, error) {
	if len(b) != 5 {
		return CustodySignal{}, fmt.Errorf("dtn: malformed custody signal, size %d", len(b))
	}
	return CustodySignal{BundleID: wire.U32(b[0:4]), Accept: b[4] != 0}, nil
}

// DeliveryReport is the resolved payload shape for a FlagDeliveryReport
// bundle's fragment data: which bundle was delivered, and when.
type DeliveryReport struct {
	ReportedID  uint32
	DeliveredAt uint32
}

// Encode serializes a DeliveryReport.
func (d DeliveryReport) Encode() []byte {
	buf := make([]byte, 8)
	wire.PutU32(buf[0:4], d.ReportedID)
	wire.PutU32(buf[4:8], d.DeliveredAt)
	return buf
}

// DecodeDeliveryReport parses a DeliveryReport fragment payload.
func DecodeDeliveryReport(b []byte) (DeliveryReport, error) {
	if len(b) != 8 {
		return DeliveryReport{}, fmt.Errorf("dtn: malformed delivery report, size %d", len(b))
	}
	return DeliveryReport{ReportedID: wire.U32(b[0:4]), DeliveredAt: wire.U32(b[4:8])}, nil
}

// FragmentBundle splits payload into one or more wire frames' worth of
// Header metadata. A payload at or under FragmentThreshold is sent as
// a single, unfragmented bundle (FragCount=1).
func FragmentBundle(bundleID, source, destination, custodian uint32, createdAt time.Time, flags Flags, prio packet.Priority, maxHops byte, payload []byte) []Header {
	created := uint32(createdAt.Unix())
	ttl := uint32(DefaultTTL.Seconds())

	if len(payload) <= FragmentThreshold {
		return []Header{{
			BundleID: bundleID, Source: source, Destination: destination, Custodian: custodian,
			CreationTime: created, TTL: ttl, Flags: flags, Priority: prio,
			FragOffset: 0, FragCount: 1, HopCount: 0, MaxHops: maxHops,
		}}
	}

	fragCount := 0
	for remaining := len(payload); remaining > 0; remaining -= FragmentThreshold {
		fragCount++
	}

	headers := make([]Header, 0, fragCount)
	for i := 0; i < fragCount; i++ {
		headers = append(headers, Header{
			BundleID: bundleID, Source: source, Destination: destination, Custodian: custodian,
			CreationTime: created, TTL: ttl, Flags: flags | FlagFragment, Priority: prio,
			FragOffset: byte(i), FragCount: byte(fragCount), HopCount: 0, MaxHops: maxHops,
		})
	}
	return headers
}

// FragmentData returns the slice of payload belonging to fragment
// index i of fragCount, given FragmentBundle's fixed-size splitting.
func FragmentData(payload []byte, i, fragCount int) []byte {
	start := i * FragmentThreshold
	end := start + FragmentThreshold
	if end > len(payload) {
		end = len(payload)
	}
	return payload[start:end]
}
