package nmea

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/loramesh/meshnet/pkg/gps"
)

// Reader consumes NMEA sentences from an io.Reader (a serial port, a
// pty, or any line-oriented stream) in a background goroutine and
// exposes the latest fix, mirroring dwgps.go's mutex-protected
// "most recent fix deposited here, read back on demand" design —
// generalized from a single process-wide global to a per-instance
// Reader satisfying gps.Source.
type Reader struct {
	mu   sync.Mutex
	fix  gps.Fix
	have bool
}

var _ gps.Source = (*Reader)(nil)

// NewReader starts reading NMEA sentences from r until it returns an
// error (typically io.EOF on close).
func NewReader(r io.Reader) *Reader {
	reader := &Reader{}
	go reader.readLoop(r)
	return reader
}

func (r *Reader) readLoop(stream io.Reader) {
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		r.handleSentence(strings.TrimSpace(scanner.Text()), time.Now())
	}
}

func (r *Reader) handleSentence(sentence string, now time.Time) {
	switch {
	case strings.HasPrefix(sentence, "$GPRMC"), strings.HasPrefix(sentence, "$GNRMC"):
		fix, err := parseGPRMC(sentence)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.fix.LatE7, r.fix.LonE7 = fix.latE7, fix.lonE7
		if r.fix.Quality < gps.Fix2D {
			r.fix.Quality = gps.Fix2D
		}
		r.fix.Timestamp = now
		r.have = true
		r.mu.Unlock()

	case strings.HasPrefix(sentence, "$GPGGA"), strings.HasPrefix(sentence, "$GNGGA"):
		fix, err := parseGPGGA(sentence)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.fix.LatE7, r.fix.LonE7 = fix.latE7, fix.lonE7
		r.fix.AltM = fix.altM
		r.fix.Sats = fix.sats
		r.fix.Quality = gps.Fix3D
		r.fix.Timestamp = now
		r.have = true
		r.mu.Unlock()
	}
}

// Poll returns the most recent fix assembled from NMEA sentences, if
// any sentence has been successfully parsed yet.
func (r *Reader) Poll() (gps.Fix, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fix, r.have
}
