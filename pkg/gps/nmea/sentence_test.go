package nmea

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGPRMCValidFix(t *testing.T) {
	fix, err := parseGPRMC("$GPRMC,003413.710,A,4237.1240,N,07120.8333,W,5.07,291.42,160614,,,A*7F")
	require.NoError(t, err)
	assert.InDelta(t, 42.61873, float64(fix.latE7)/1e7, 1e-4)
	assert.InDelta(t, -71.34722, float64(fix.lonE7)/1e7, 1e-4)
	assert.InDelta(t, 5.07, fix.speedKnots, 1e-6)
}

func TestParseGPRMCVoidFixReturnsError(t *testing.T) {
	_, err := parseGPRMC("$GPRMC,001431.00,V,,,,,,,121015,,,N*7C")
	assert.ErrorIs(t, err, errVoidFix)
}

func TestParseGPRMCBadChecksumReturnsError(t *testing.T) {
	_, err := parseGPRMC("$GPRMC,003413.710,A,4237.1240,N,07120.8333,W,5.07,291.42,160614,,,A*00")
	assert.ErrorIs(t, err, errBadChecksum)
}

func TestParseGPGGAValidFix(t *testing.T) {
	fix, err := parseGPGGA("$GPGGA,003518.710,4237.1250,N,07120.8327,W,1,03,5.9,33.5,M,-33.5,M,,0000*5B")
	require.NoError(t, err)
	assert.InDelta(t, 42.61875, float64(fix.latE7)/1e7, 1e-4)
	assert.InDelta(t, -71.34721, float64(fix.lonE7)/1e7, 1e-4)
	assert.Equal(t, int32(33), fix.altM)
	assert.Equal(t, byte(3), fix.sats)
}

func TestParseGPGGANoFixReturnsError(t *testing.T) {
	_, err := parseGPGGA("$GPGGA,001429.00,,,,,0,00,99.99,,,,,,*68")
	assert.ErrorIs(t, err, errVoidFix)
}

func TestCoordE7FromNMEAAppliesHemisphereSign(t *testing.T) {
	north, err := latitudeE7FromNMEA("4237.1240", 'N')
	require.NoError(t, err)
	south, err := latitudeE7FromNMEA("4237.1240", 'S')
	require.NoError(t, err)
	assert.Equal(t, north, -south)
}
