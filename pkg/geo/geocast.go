package geo

import (
	"fmt"

	"github.com/loramesh/meshnet/internal/wire"
)

// GeocastHeader describes the target region of a geocast packet: its
// payload follows immediately after. Propagation itself rides on
// pkg/packet's own TTL/hop_count and mesh.Core's seen-set-deduped
// broadcast flood (the same mechanism RREQ uses) rather than a second,
// independent relay decision layered on top of it — see DESIGN.md.
type GeocastHeader struct {
	CenterLatE7 int32
	CenterLonE7 int32
	RadiusM     uint32
}

const geocastHeaderSize = 4 + 4 + 4

// Encode serializes a GeocastHeader followed by payload.
func (h GeocastHeader) Encode(payload []byte) []byte {
	buf := make([]byte, geocastHeaderSize+len(payload))
	wire.PutI32(buf[0:4], h.CenterLatE7)
	wire.PutI32(buf[4:8], h.CenterLonE7)
	wire.PutU32(buf[8:12], h.RadiusM)
	copy(buf[geocastHeaderSize:], payload)
	return buf
}

// DecodeGeocast parses a GeocastHeader and its payload.
func DecodeGeocast(b []byte) (GeocastHeader, []byte, error) {
	if len(b) < geocastHeaderSize {
		return GeocastHeader{}, nil, fmt.Errorf("geo: geocast frame too short (%d bytes)", len(b))
	}
	h := GeocastHeader{
		CenterLatE7: wire.I32(b[0:4]),
		CenterLonE7: wire.I32(b[4:8]),
		RadiusM:     wire.U32(b[8:12]),
	}
	return h, b[geocastHeaderSize:], nil
}
