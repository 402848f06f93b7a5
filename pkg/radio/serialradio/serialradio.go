// Package serialradio is a radio.Radio adapter over a byte-stream
// transport — a serial port or pseudo-terminal — framing each whole
// mesh packet the way KISS frames an AX.25 packet: bracketed by FEND
// (0xC0), with FEND/FESC bytes inside the frame escaped so the framing
// byte never appears in frame content. The real serial port is opened
// via github.com/pkg/term; a github.com/creack/pty-backed pseudo-
// terminal stands in for loopback testing without a real device.
package serialradio

import (
	"bytes"
	"io"
	"sync"

	"github.com/creack/pty"
	"github.com/pkg/term"

	"github.com/loramesh/meshnet/pkg/radio"
)

const (
	fend  = 0xC0
	fesc  = 0xDB
	tfend = 0xDC
	tfesc = 0xDD
)

// encapsulate wraps a frame in FEND delimiters, escaping any FEND/FESC
// bytes in the content, per kiss_frame.go's kiss_encapsulate.
func encapsulate(in []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(fend)
	for _, b := range in {
		switch b {
		case fend:
			buf.WriteByte(fesc)
			buf.WriteByte(tfend)
		case fesc:
			buf.WriteByte(fesc)
			buf.WriteByte(tfesc)
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(fend)
	return buf.Bytes()
}

// unescape reverses encapsulate's byte-stuffing on a frame's content
// (no leading/trailing FEND), per kiss_frame.go's kiss_unwrap.
func unescape(in []byte) []byte {
	var buf bytes.Buffer
	escaped := false
	for _, b := range in {
		if escaped {
			switch b {
			case tfend:
				buf.WriteByte(fend)
			case tfesc:
				buf.WriteByte(fesc)
			default:
				buf.WriteByte(b)
			}
			escaped = false
			continue
		}
		if b == fesc {
			escaped = true
			continue
		}
		buf.WriteByte(b)
	}
	return buf.Bytes()
}

// transport is the byte-stream collaborator: *term.Term for a real
// serial port, *os.File for a pty, or any io.ReadWriteCloser in tests.
type transport io.ReadWriteCloser

// Radio frames whole mesh packets over a byte-stream transport.
type Radio struct {
	conn transport

	mu     sync.Mutex
	queue  [][]byte
	closed chan struct{}
}

var _ radio.Radio = (*Radio)(nil)

// New wraps an already-open transport (a serial port, a pty, or a
// test double) in the radio.Radio contract.
func New(conn transport) *Radio {
	r := &Radio{conn: conn, closed: make(chan struct{})}
	go r.readLoop()
	return r
}

// Open opens devicename at baud via github.com/pkg/term, mirroring
// src/serial_port.go's serial_port_open.
func Open(devicename string, baud int) (*Radio, error) {
	t, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, err
	}
	if baud > 0 {
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, err
		}
	}
	return New(t), nil
}

// OpenPTY creates a pseudo-terminal pair via github.com/creack/pty,
// mirroring src/kiss.go's kisspt_open_pt. It returns a Radio wrapping
// the master end and the slave device path an external application
// can attach to.
func OpenPTY() (*Radio, string, error) {
	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, "", err
	}
	return New(ptmx), pts.Name(), nil
}

func (r *Radio) readLoop() {
	reader := newFrameReader(r.conn)
	for {
		frame, err := reader.next()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.queue = append(r.queue, frame)
		r.mu.Unlock()
	}
}

// Send writes frame to the transport wrapped in FEND delimiters.
func (r *Radio) Send(frame []byte) bool {
	if len(frame) > radio.MaxFrameSize {
		return false
	}
	_, err := r.conn.Write(encapsulate(frame))
	return err == nil
}

// Poll returns the oldest queued inbound frame, if any. Plain
// byte-stream transports carry no sideband signal-quality telemetry,
// so rssiDBm/snrDB are always reported as 0 — a simplification noted
// where this adapter is wired in.
func (r *Radio) Poll() ([]byte, int16, int8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, 0, 0, false
	}
	next := r.queue[0]
	r.queue = r.queue[1:]
	return next, 0, 0, true
}

// RSSINow always reports a quiet -120 dBm: a byte-stream transport has
// no ambient RSSI to sample, so clear-channel assessment always finds
// the channel clear.
func (r *Radio) RSSINow() int16 { return -120 }

// Sleep and Wake are no-ops: a plain serial/pty transport has no
// distinct low-power transceiver state to enter.
func (r *Radio) Sleep() {}
func (r *Radio) Wake()  {}

// Close releases the underlying transport.
func (r *Radio) Close() error {
	close(r.closed)
	return r.conn.Close()
}

// frameReader incrementally reassembles FEND-delimited frames from a
// byte stream, one byte at a time, mirroring kiss_frame.go's
// byte-at-a-time state machine.
type frameReader struct {
	conn transport
	buf  bytes.Buffer
	byte [1]byte
}

func newFrameReader(conn transport) *frameReader {
	return &frameReader{conn: conn}
}

// next blocks until a complete frame (leading FEND skipped if present,
// trailing FEND consumed) has been read, or the transport errors.
func (f *frameReader) next() ([]byte, error) {
	f.buf.Reset()
	started := false
	for {
		n, err := f.conn.Read(f.byte[:])
		if n == 0 || err != nil {
			return nil, err
		}
		b := f.byte[0]
		if b == fend {
			if !started || f.buf.Len() == 0 {
				started = true
				continue
			}
			return unescape(f.buf.Bytes()), nil
		}
		started = true
		f.buf.WriteByte(b)
	}
}
