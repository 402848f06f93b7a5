package routing

import (
	"fmt"

	"github.com/loramesh/meshnet/internal/wire"
)

// ErrMalformed is returned when an AODV control message fails to parse.
var ErrMalformed = fmt.Errorf("routing: malformed control message")

const rreqWireSize = 4 + 4 + 4 + 1 + 1

// Encode serializes an RREQ as request_id|source|destination|hop_count|
// quality (quality scaled to a single byte, 0..255).
func (r RREQ) Encode() []byte {
	buf := make([]byte, rreqWireSize)
	wire.PutU32(buf[0:4], r.RequestID)
	wire.PutU32(buf[4:8], r.Source)
	wire.PutU32(buf[8:12], r.Destination)
	buf[12] = r.HopCount
	buf[13] = qualityByte(r.Quality)
	return buf
}

// DecodeRREQ parses an RREQ control payload.
func DecodeRREQ(b []byte) (RREQ, error) {
	if len(b) != rreqWireSize {
		return RREQ{}, fmt.Errorf("%w: rreq size %d", ErrMalformed, len(b))
	}
	return RREQ{
		RequestID:   wire.U32(b[0:4]),
		Source:      wire.U32(b[4:8]),
		Destination: wire.U32(b[8:12]),
		HopCount:    b[12],
		Quality:     float64(b[13]),
	}, nil
}

const rrepWireSize = 4 + 4 + 4 + 1 + 1

// Encode serializes an RREP identically to an RREQ's layout.
func (r RREP) Encode() []byte {
	buf := make([]byte, rrepWireSize)
	wire.PutU32(buf[0:4], r.RequestID)
	wire.PutU32(buf[4:8], r.Source)
	wire.PutU32(buf[8:12], r.Destination)
	buf[12] = r.HopCount
	buf[13] = qualityByte(r.Quality)
	return buf
}

// DecodeRREP parses an RREP control payload.
func DecodeRREP(b []byte) (RREP, error) {
	if len(b) != rrepWireSize {
		return RREP{}, fmt.Errorf("%w: rrep size %d", ErrMalformed, len(b))
	}
	return RREP{
		RequestID:   wire.U32(b[0:4]),
		Source:      wire.U32(b[4:8]),
		Destination: wire.U32(b[8:12]),
		HopCount:    b[12],
		Quality:     float64(b[13]),
	}, nil
}

// Encode serializes an RERR as unreachable_hop|count|destinations...
func (r RERR) Encode() []byte {
	buf := make([]byte, 4+1+4*len(r.Destinations))
	wire.PutU32(buf[0:4], r.UnreachableHop)
	buf[4] = byte(len(r.Destinations))
	off := 5
	for _, d := range r.Destinations {
		wire.PutU32(buf[off:off+4], d)
		off += 4
	}
	return buf
}

// DecodeRERR parses an RERR control payload.
func DecodeRERR(b []byte) (RERR, error) {
	if len(b) < 5 {
		return RERR{}, fmt.Errorf("%w: rerr too short", ErrMalformed)
	}
	r := RERR{UnreachableHop: wire.U32(b[0:4])}
	count := int(b[4])
	if len(b) != 5+4*count {
		return RERR{}, fmt.Errorf("%w: rerr size mismatch for %d destinations", ErrMalformed, count)
	}
	off := 5
	for i := 0; i < count; i++ {
		r.Destinations = append(r.Destinations, wire.U32(b[off:off+4]))
		off += 4
	}
	return r, nil
}

func qualityByte(q float64) byte {
	if q < 0 {
		return 0
	}
	if q > 255 {
		return 255
	}
	return byte(q)
}
