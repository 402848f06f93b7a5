package geo

import (
	"fmt"
	"math"

	"github.com/tzneal/coordconv"
)

// latHemisphere and lonHemisphere pick the coordconv hemisphere for a
// signed degree value, mirroring coordconv.go's rune<->Hemisphere
// conversion but driven off sign rather than a parsed NMEA character.
func latHemisphere(lat float64) coordconv.Hemisphere {
	if lat < 0 {
		return coordconv.HemisphereSouth
	}
	return coordconv.HemisphereNorth
}

func lonHemisphere(lon float64) coordconv.Hemisphere {
	if lon < 0 {
		return coordconv.HemisphereSouth // reused as "west" for formatting purposes below
	}
	return coordconv.HemisphereNorth // reused as "east"
}

// FormatCoordinate renders a beacon's position for status/log output as
// e.g. "12.345678N 98.765432W".
func FormatCoordinate(b Beacon) string {
	lat, lon := b.LatLng()

	latHemi := 'N'
	if latHemisphere(lat) == coordconv.HemisphereSouth {
		latHemi = 'S'
	}
	lonHemi := 'E'
	if lonHemisphere(lon) == coordconv.HemisphereSouth {
		lonHemi = 'W'
	}

	return fmt.Sprintf("%.6f%c %.6f%c", math.Abs(lat), latHemi, math.Abs(lon), lonHemi)
}
