// Package sos implements the emergency broadcast subsystem: boosted,
// high-priority periodic distress broadcasts and a bounded log of
// SOS traffic heard from other nodes. An activation needs an
// out-of-band parameter push — boosted TX power and a higher spreading
// factor — so the Service talks to an optional RadioTuner collaborator
// rather than encoding power/SF into the packet itself.
package sos

import (
	"errors"

	"github.com/loramesh/meshnet/internal/wire"
)

// Magic prefixes every SOS broadcast on the wire.
var Magic = [2]byte{0x53, 0x4F}

// Type distinguishes a genuine distress call from a drill.
type Type byte

const (
	TypeDistress Type = iota
	TypeTest
)

// Flags on an SOSMessage.
type Flags byte

const (
	FlagHasFix Flags = 1 << iota
	FlagAcked
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// MaxMessageLen bounds the free-text field.
const MaxMessageLen = 64

// messageWireSize is sosType(1) + flags(1) + lat(4) + lon(4) + alt(4) +
// battery(1) + timestamp(4) + message(64).
const messageWireSize = 1 + 1 + 4 + 4 + 4 + 1 + 4 + MaxMessageLen

// frameSize is the magic prefix plus the message body.
const frameSize = len(Magic) + messageWireSize

var errShortFrame = errors.New("sos: frame shorter than a complete message")
var errBadMagic = errors.New("sos: missing SO magic prefix")

// Message is the decoded distress payload.
type Message struct {
	Type      Type
	Flags     Flags
	LatE7     int32
	LonE7     int32
	AltM      int32
	Battery   byte
	Timestamp uint32
	Text      string
}

// Encode renders the message with its magic prefix, the
// `0x53 0x4F | SOSMessage` layout.
func (m Message) Encode() []byte {
	buf := make([]byte, frameSize)
	buf[0], buf[1] = Magic[0], Magic[1]
	body := buf[len(Magic):]
	body[0] = byte(m.Type)
	body[1] = byte(m.Flags)
	wire.PutI32(body[2:6], m.LatE7)
	wire.PutI32(body[6:10], m.LonE7)
	wire.PutI32(body[10:14], m.AltM)
	body[14] = m.Battery
	wire.PutU32(body[15:19], m.Timestamp)
	text := []byte(m.Text)
	if len(text) > MaxMessageLen {
		text = text[:MaxMessageLen]
	}
	copy(body[19:19+MaxMessageLen], text)
	return buf
}

// Decode parses an SOS broadcast frame, validating the magic prefix
// and minimum length.
func Decode(b []byte) (Message, error) {
	if len(b) < frameSize {
		return Message{}, errShortFrame
	}
	if b[0] != Magic[0] || b[1] != Magic[1] {
		return Message{}, errBadMagic
	}
	body := b[len(Magic):]
	m := Message{
		Type:      Type(body[0]),
		Flags:     Flags(body[1]),
		LatE7:     wire.I32(body[2:6]),
		LonE7:     wire.I32(body[6:10]),
		AltM:      wire.I32(body[10:14]),
		Battery:   body[14],
		Timestamp: wire.U32(body[15:19]),
	}
	text := body[19 : 19+MaxMessageLen]
	end := len(text)
	for end > 0 && text[end-1] == 0 {
		end--
	}
	m.Text = string(text[:end])
	return m, nil
}
