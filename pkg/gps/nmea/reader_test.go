package nmea

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loramesh/meshnet/pkg/gps"
)

func TestReaderPollBeforeAnySentenceReportsNoFix(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, ok := r.Poll()
	assert.False(t, ok)
}

func TestReaderParsesGGASentenceIntoFix(t *testing.T) {
	stream := strings.NewReader("$GPGGA,003518.710,4237.1250,N,07120.8327,W,1,03,5.9,33.5,M,-33.5,M,,0000*5B\n")
	r := NewReader(stream)

	var fix gps.Fix
	var ok bool
	require.Eventually(t, func() bool {
		fix, ok = r.Poll()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, fix.HasPosition())
	assert.Equal(t, gps.Fix3D, fix.Quality)
	assert.Equal(t, byte(3), fix.Sats)
}

func TestReaderIgnoresMalformedSentences(t *testing.T) {
	stream := strings.NewReader("$GPRMC,garbage*00\n")
	r := NewReader(stream)

	time.Sleep(50 * time.Millisecond)
	_, ok := r.Poll()
	assert.False(t, ok)
}
