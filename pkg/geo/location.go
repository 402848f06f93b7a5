// Package geo implements location-aware routing: a bounded table of
// recently-heard node positions, Haversine-distance greedy forwarding
// toward a destination's last known fix, a simplified GPSR "perimeter
// mode" fallback, and geocast delivery to nodes inside a region.
package geo

import (
	"math"
	"time"

	"github.com/golang/geo/s2"

	"github.com/loramesh/meshnet/internal/wire"
)

// BeaconInterval is how often a node broadcasts its own position, once
// a fix is known.
const BeaconInterval = 60 * time.Second

// TableCapacity bounds the number of tracked node positions.
const TableCapacity = 32

// ExpireAge is how long a location fix is trusted before it is pruned.
const ExpireAge = 10 * time.Minute

// EarthRadiusMeters is the sphere radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

// CoordScale converts between the wire's 1e7-scaled integer degrees
// and floating-point degrees.
const CoordScale = 1e7

// Beacon is one node's self-reported position, carried on the wire as
// a LocationBeacon.
type Beacon struct {
	Address uint32
	LatE7   int32
	LonE7   int32
	AltM    int32
	Heading uint16
	SpeedCm uint16
	Sats    byte
	Fix     byte // 0=none, 2=2D, 3=3D
}

const beaconWireSize = 4 + 4 + 4 + 4 + 2 + 2 + 1 + 1

// Encode serializes a Beacon for the wire.
func (b Beacon) Encode() []byte {
	buf := make([]byte, beaconWireSize)
	wire.PutU32(buf[0:4], b.Address)
	wire.PutI32(buf[4:8], b.LatE7)
	wire.PutI32(buf[8:12], b.LonE7)
	wire.PutI32(buf[12:16], b.AltM)
	wire.PutU16(buf[16:18], b.Heading)
	wire.PutU16(buf[18:20], b.SpeedCm)
	buf[20] = b.Sats
	buf[21] = b.Fix
	return buf
}

// DecodeBeacon parses a Beacon from the wire.
func DecodeBeacon(b []byte) (Beacon, error) {
	if len(b) != beaconWireSize {
		return Beacon{}, errShortBeacon
	}
	return Beacon{
		Address: wire.U32(b[0:4]),
		LatE7:   wire.I32(b[4:8]),
		LonE7:   wire.I32(b[8:12]),
		AltM:    wire.I32(b[12:16]),
		Heading: wire.U16(b[16:18]),
		SpeedCm: wire.U16(b[18:20]),
		Sats:    b[20],
		Fix:     b[21],
	}, nil
}

var errShortBeacon = malformedError("geo: malformed location beacon")

type malformedError string

func (e malformedError) Error() string { return string(e) }

// LatLng returns the beacon's position as floating-point degrees.
func (b Beacon) LatLng() (lat, lon float64) {
	return float64(b.LatE7) / CoordScale, float64(b.LonE7) / CoordScale
}

// Distance returns the Haversine great-circle distance, in meters,
// between two positions given as 1e7-scaled integer degrees.
func Distance(lat1E7, lon1E7, lat2E7, lon2E7 int32) float64 {
	lat1 := s2.LatLngFromDegrees(float64(lat1E7)/CoordScale, float64(lon1E7)/CoordScale)
	lat2 := s2.LatLngFromDegrees(float64(lat2E7)/CoordScale, float64(lon2E7)/CoordScale)

	phi1 := lat1.Lat.Radians()
	phi2 := lat2.Lat.Radians()
	dPhi := phi2 - phi1
	dLambda := lat2.Lng.Radians() - lat1.Lng.Radians()

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}
