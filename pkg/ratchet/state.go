// Package ratchet implements the optional Double Ratchet forward-secrecy
// layer a link may switch into once its session.Session X25519
// handshake has completed, giving per-message key rotation and
// bounded reordering tolerance via a skipped-key cache. It is a
// three-chain design (root/sending/receiving) concretized to a single
// backend — X25519 DH, BLAKE2b KDFs, XChaCha20-Poly1305 AEAD — rather
// than a pluggable cipher interface, since this stack only ever needs
// the one backend.
package ratchet

import (
	"errors"
	"fmt"

	"github.com/loramesh/meshnet/internal/wire"
)

// MaxSkip bounds how many out-of-order message keys a single chain
// will cache before refusing to skip further.
const MaxSkip = 100

// RootKey, ChainKey, and MessageKey are always 32 bytes.
type (
	RootKey    [32]byte
	ChainKey   [32]byte
	MessageKey [32]byte
)

// Header travels alongside each ratchet-encrypted message: the
// sender's current ratchet public key, the length of its previous
// sending chain, and the message's index within its current chain.
type Header struct {
	PublicKey [32]byte
	PN        uint32
	N         uint32
}

const headerWireSize = 32 + 4 + 4

// Encode serializes a Header to its fixed wire size.
func (h Header) Encode() []byte {
	buf := make([]byte, headerWireSize)
	copy(buf[0:32], h.PublicKey[:])
	wire.PutU32(buf[32:36], h.PN)
	wire.PutU32(buf[36:40], h.N)
	return buf
}

// DecodeHeader parses a Header from the wire.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != headerWireSize {
		return Header{}, fmt.Errorf("ratchet: malformed header, size %d", len(b))
	}
	var h Header
	copy(h.PublicKey[:], b[0:32])
	h.PN = wire.U32(b[32:36])
	h.N = wire.U32(b[36:40])
	return h, nil
}

// State is the ratchet state for one end of a session.
type State struct {
	DHs [32]byte // our current ratchet private key
	dhsPublic [32]byte
	DHr [32]byte // peer's current ratchet public key
	haveDHr bool

	RK  RootKey
	CKs ChainKey
	haveCKs bool
	CKr ChainKey
	haveCKr bool

	Ns uint32 // messages sent on the current sending chain
	Nr uint32 // messages received on the current receiving chain
	PN uint32 // length of the previous sending chain
}

func (s *State) wipe() {
	wipeBytes(s.DHs[:])
	wipeBytes(s.DHr[:])
	wipeBytes(s.RK[:])
	wipeBytes(s.CKs[:])
	wipeBytes(s.CKr[:])
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ErrNotFound is returned by Store when a skipped message key is absent.
var ErrNotFound = errors.New("ratchet: key not found")

// ErrTooManySkipped is returned when a single chain would need to skip
// more than MaxSkip messages to catch up.
var ErrTooManySkipped = errors.New("ratchet: too many skipped messages")

// Store holds skipped-message keys, keyed by (Nr, sender public key).
// Only a bounded in-memory form is needed, so there is no
// Save/persistence hook.
type Store interface {
	StoreKey(nr uint32, pub [32]byte, key MessageKey) error
	LoadKey(nr uint32, pub [32]byte) (MessageKey, error)
	DeleteKey(nr uint32, pub [32]byte)
	Len() int
}

type skippedKey struct {
	nr  uint32
	pub [32]byte
}

type memoryStore struct {
	maxSkip int
	keys    map[skippedKey]MessageKey
}

// NewMemoryStore builds a bounded in-memory skipped-key cache.
func NewMemoryStore(maxSkip int) Store {
	return &memoryStore{maxSkip: maxSkip, keys: make(map[skippedKey]MessageKey)}
}

func (m *memoryStore) StoreKey(nr uint32, pub [32]byte, key MessageKey) error {
	if len(m.keys) >= m.maxSkip {
		return ErrTooManySkipped
	}
	m.keys[skippedKey{nr, pub}] = key
	return nil
}

func (m *memoryStore) LoadKey(nr uint32, pub [32]byte) (MessageKey, error) {
	k, ok := m.keys[skippedKey{nr, pub}]
	if !ok {
		return MessageKey{}, ErrNotFound
	}
	return k, nil
}

func (m *memoryStore) DeleteKey(nr uint32, pub [32]byte) {
	delete(m.keys, skippedKey{nr, pub})
}

func (m *memoryStore) Len() int { return len(m.keys) }
