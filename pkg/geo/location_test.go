package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeaconEncodeDecodeRoundTrip(t *testing.T) {
	b := Beacon{Address: 7, LatE7: 512345670, LonE7: -1234567890, AltM: 120, Heading: 90, SpeedCm: 500, Sats: 8, Fix: 3}
	got, err := DecodeBeacon(b.Encode())
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestDecodeBeaconRejectsWrongSize(t *testing.T) {
	_, err := DecodeBeacon([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDistanceZeroForSamePoint(t *testing.T) {
	d := Distance(512345670, -1234567, 512345670, -1234567)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestDistanceIsSymmetric(t *testing.T) {
	lat1, lon1 := int32(407128000), int32(-740060000)  // New York, roughly
	lat2, lon2 := int32(514074000), int32(-1278000) // London, roughly

	d1 := Distance(lat1, lon1, lat2, lon2)
	d2 := Distance(lat2, lon2, lat1, lon1)
	assert.InDelta(t, d1, d2, 1.0)
	assert.Greater(t, d1, 1000000.0) // sanity: should be a few thousand km
}

func TestDistanceOneDegreeLatitudeIsRoughly111Km(t *testing.T) {
	d := Distance(0, 0, 10000000, 0) // one degree of latitude north
	assert.InDelta(t, 111195.0, d, 1000.0)
}

func TestFormatCoordinateHemispheres(t *testing.T) {
	north := Beacon{LatE7: 512345670, LonE7: -1234567}
	s := FormatCoordinate(north)
	assert.Contains(t, s, "N")
	assert.Contains(t, s, "W")
}
