// Package session implements the per-peer link layer: an X25519
// handshake, BLAKE2b-derived directional AEAD keys, anti-replay
// sequence enforcement, and keepalive/idle-timeout bookkeeping.
// Sessions are found-or-created by peer identity and removed on
// disconnect; sensitive buffers are wiped and directional chain keys
// kept separate, the same conventions pkg/ratchet uses for the
// optional forward-secrecy layer.
package session

import (
	"errors"
	"fmt"

	"github.com/loramesh/meshnet/internal/wire"
)

const (
	LinkIDSize   = 16
	PublicKeyAX  = 32 // X25519 public key size
	IdentitySize = 32
	ProofSize    = 16
	AEADTagSize  = 16
	NonceSize    = 24 // XChaCha20-Poly1305
)

// ErrMalformedMessage is returned when a handshake or transport message
// fails to parse.
var ErrMalformedMessage = errors.New("session: malformed message")

// LinkRequest is the initiator's handshake opener.
type LinkRequest struct {
	LinkID    [LinkIDSize]byte
	PublicKey [PublicKeyAX]byte
	Identity  [IdentitySize]byte
	Ts        uint32
	Flags     byte
}

const linkRequestSize = LinkIDSize + PublicKeyAX + IdentitySize + 4 + 1

// Encode serializes a LinkRequest to its fixed wire size.
func (r LinkRequest) Encode() []byte {
	buf := make([]byte, linkRequestSize)
	off := 0
	copy(buf[off:], r.LinkID[:])
	off += LinkIDSize
	copy(buf[off:], r.PublicKey[:])
	off += PublicKeyAX
	copy(buf[off:], r.Identity[:])
	off += IdentitySize
	wire.PutU32(buf[off:off+4], r.Ts)
	off += 4
	buf[off] = r.Flags
	return buf
}

// DecodeLinkRequest parses a LinkRequest from the wire.
func DecodeLinkRequest(b []byte) (LinkRequest, error) {
	if len(b) != linkRequestSize {
		return LinkRequest{}, fmt.Errorf("%w: link request size %d", ErrMalformedMessage, len(b))
	}
	var r LinkRequest
	off := 0
	copy(r.LinkID[:], b[off:off+LinkIDSize])
	off += LinkIDSize
	copy(r.PublicKey[:], b[off:off+PublicKeyAX])
	off += PublicKeyAX
	copy(r.Identity[:], b[off:off+IdentitySize])
	off += IdentitySize
	r.Ts = wire.U32(b[off : off+4])
	off += 4
	r.Flags = b[off]
	return r, nil
}

// LinkAccept is the responder's handshake reply.
type LinkAccept struct {
	LinkID    [LinkIDSize]byte
	PublicKey [PublicKeyAX]byte
	Proof     [ProofSize]byte
}

const linkAcceptSize = LinkIDSize + PublicKeyAX + ProofSize

// Encode serializes a LinkAccept to its fixed wire size.
func (a LinkAccept) Encode() []byte {
	buf := make([]byte, linkAcceptSize)
	off := 0
	copy(buf[off:], a.LinkID[:])
	off += LinkIDSize
	copy(buf[off:], a.PublicKey[:])
	off += PublicKeyAX
	copy(buf[off:], a.Proof[:])
	return buf
}

// DecodeLinkAccept parses a LinkAccept from the wire.
func DecodeLinkAccept(b []byte) (LinkAccept, error) {
	if len(b) != linkAcceptSize {
		return LinkAccept{}, fmt.Errorf("%w: link accept size %d", ErrMalformedMessage, len(b))
	}
	var a LinkAccept
	off := 0
	copy(a.LinkID[:], b[off:off+LinkIDSize])
	off += LinkIDSize
	copy(a.PublicKey[:], b[off:off+PublicKeyAX])
	off += PublicKeyAX
	copy(a.Proof[:], b[off:off+ProofSize])
	return a, nil
}

// LinkDataHeader is the plaintext-visible prefix of an encrypted
// transport frame.
type LinkDataHeader struct {
	LinkID [LinkIDSize]byte
	Seq    uint32
	Length uint16
	Flags  byte
}

const linkDataHeaderSize = LinkIDSize + 4 + 2 + 1

// FlagRatchet marks a LinkData frame as ratchet-encrypted .
const FlagRatchet byte = 0x80

// Encode serializes the LinkData header (not the ciphertext/tag).
func (h LinkDataHeader) Encode() []byte {
	buf := make([]byte, linkDataHeaderSize)
	off := 0
	copy(buf[off:], h.LinkID[:])
	off += LinkIDSize
	wire.PutU32(buf[off:off+4], h.Seq)
	off += 4
	wire.PutU16(buf[off:off+2], h.Length)
	off += 2
	buf[off] = h.Flags
	return buf
}

// DecodeLinkDataHeader parses the fixed-size LinkData header prefix.
func DecodeLinkDataHeader(b []byte) (LinkDataHeader, error) {
	if len(b) < linkDataHeaderSize {
		return LinkDataHeader{}, fmt.Errorf("%w: link data header too short", ErrMalformedMessage)
	}
	var h LinkDataHeader
	off := 0
	copy(h.LinkID[:], b[off:off+LinkIDSize])
	off += LinkIDSize
	h.Seq = wire.U32(b[off : off+4])
	off += 4
	h.Length = wire.U16(b[off : off+2])
	off += 2
	h.Flags = b[off]
	return h, nil
}
