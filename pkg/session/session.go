package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

// LinkTimeout is the idle duration after which a session is torn down
// for want of keepalive traffic.
const LinkTimeout = 5 * time.Minute

// KeepaliveInterval is how often an idle, established session emits a
// zero-length LinkData keepalive.
const KeepaliveInterval = 60 * time.Second

// roleInitiator and roleResponder tag the two directional key-derivation
// contexts so that the initiator's tx_key equals the responder's rx_key,
// and vice versa.
const (
	roleInitiator byte = 0x01
	roleResponder byte = 0x02
)

// ratchetLabel is kdf's role byte when deriving the Double Ratchet
// bootstrap seed, kept distinct from roleInitiator/roleResponder so the
// ratchet seed can never collide with either directional AEAD key.
const ratchetLabel byte = 0xFF

// State is the handshake/session lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequested // we sent LinkRequest, awaiting LinkAccept
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrReplay is returned when an incoming LinkData sequence number does
// not strictly exceed the last accepted one.
var ErrReplay = errors.New("session: replayed or out-of-order sequence number")

// Session is one end of an encrypted link to a single peer.
type Session struct {
	LinkID [LinkIDSize]byte
	Peer   uint32
	State  State

	privateKey [32]byte
	PublicKey  [32]byte

	txKey [32]byte
	rxKey [32]byte

	ratchetSeed    [32]byte
	ratchetSeedSet bool
	bootstrapPriv  [32]byte
	bootstrapSet   bool

	txSeq    uint32
	rxSeq    uint32
	rxSeqSet bool

	LastActivity  time.Time
	lastKeepalive time.Time
}

// NewInitiator generates an ephemeral X25519 keypair and returns a
// Session in StateRequested along with the LinkRequest to send.
func NewInitiator(peer uint32, identity [IdentitySize]byte, now time.Time) (*Session, LinkRequest, error) {
	s := &Session{Peer: peer, State: StateRequested, LastActivity: now}
	if _, err := rand.Read(s.LinkID[:]); err != nil {
		return nil, LinkRequest{}, fmt.Errorf("session: generating link id: %w", err)
	}
	if err := s.generateKeypair(); err != nil {
		return nil, LinkRequest{}, err
	}

	req := LinkRequest{
		LinkID:    s.LinkID,
		PublicKey: s.PublicKey,
		Identity:  identity,
		Ts:        uint32(now.Unix()),
	}
	return s, req, nil
}

// AcceptRequest responds to an incoming LinkRequest, deriving keys
// immediately and returning a Session in StateEstablished along with
// the LinkAccept to send back.
func AcceptRequest(peer uint32, req LinkRequest, now time.Time) (*Session, LinkAccept, error) {
	s := &Session{LinkID: req.LinkID, Peer: peer, State: StateEstablished, LastActivity: now}
	if err := s.generateKeypair(); err != nil {
		return nil, LinkAccept{}, err
	}

	shared, err := curve25519.X25519(s.privateKey[:], req.PublicKey[:])
	if err != nil {
		return nil, LinkAccept{}, fmt.Errorf("session: x25519: %w", err)
	}
	s.deriveKeys(shared, roleResponder)
	s.ratchetSeed = kdf(shared, s.LinkID, ratchetLabel)
	s.ratchetSeedSet = true
	s.bootstrapPriv = s.privateKey
	s.bootstrapSet = true

	proof, err := proofOf(shared)
	if err != nil {
		return nil, LinkAccept{}, err
	}

	return s, LinkAccept{LinkID: s.LinkID, PublicKey: s.PublicKey, Proof: proof}, nil
}

// CompleteInitiator consumes the peer's LinkAccept, finishing the
// initiator side of the handshake and transitioning to StateEstablished.
// The proof is verified to catch a responder that derived a different
// shared secret (e.g. a corrupted public key).
func (s *Session) CompleteInitiator(accept LinkAccept, now time.Time) error {
	if s.State != StateRequested {
		return fmt.Errorf("session: CompleteInitiator called in state %s", s.State)
	}
	if accept.LinkID != s.LinkID {
		return fmt.Errorf("session: link accept for wrong link id")
	}

	shared, err := curve25519.X25519(s.privateKey[:], accept.PublicKey[:])
	if err != nil {
		return fmt.Errorf("session: x25519: %w", err)
	}

	wantProof, err := proofOf(shared)
	if err != nil {
		return err
	}
	if wantProof != accept.Proof {
		return errors.New("session: link accept proof mismatch")
	}

	s.deriveKeys(shared, roleInitiator)
	s.ratchetSeed = kdf(shared, s.LinkID, ratchetLabel)
	s.ratchetSeedSet = true
	s.State = StateEstablished
	s.LastActivity = now
	s.wipePrivateKey()
	return nil
}

func (s *Session) generateKeypair() error {
	if _, err := rand.Read(s.privateKey[:]); err != nil {
		return fmt.Errorf("session: generating private key: %w", err)
	}
	curve25519.ScalarBaseMult(&s.PublicKey, &s.privateKey)
	return nil
}

// deriveKeys computes directional tx/rx AEAD keys from the shared
// secret, the link id, and this end's role: each key is
// BLAKE2b(shared || link_id || role_byte), and the two ends' tx/rx keys
// cross-match by construction because role bytes are swapped.
func (s *Session) deriveKeys(shared []byte, role byte) {
	txRole, rxRole := role, otherRole(role)
	s.txKey = kdf(shared, s.LinkID, txRole)
	s.rxKey = kdf(shared, s.LinkID, rxRole)
}

func otherRole(role byte) byte {
	if role == roleInitiator {
		return roleResponder
	}
	return roleInitiator
}

func kdf(shared []byte, linkID [LinkIDSize]byte, role byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(shared)
	h.Write(linkID[:])
	h.Write([]byte{role})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func proofOf(shared []byte) ([ProofSize]byte, error) {
	h, err := blake2b.New(ProofSize, nil)
	if err != nil {
		return [ProofSize]byte{}, fmt.Errorf("session: blake2b proof: %w", err)
	}
	h.Write(shared)
	var out [ProofSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// wipePrivateKey zeroes the ephemeral private key once it is no longer
// needed, mirroring the buffer-wiping discipline in ericlagergren/dr.
func (s *Session) wipePrivateKey() {
	for i := range s.privateKey {
		s.privateKey[i] = 0
	}
}

// Idle reports whether the session has exceeded LinkTimeout without
// activity and should be torn down.
func (s *Session) Idle(now time.Time) bool {
	return now.Sub(s.LastActivity) > LinkTimeout
}

// NeedsKeepalive reports whether it is time to send an empty keepalive
// LinkData frame to hold the link open: the session has been idle for
// KeepaliveInterval and no keepalive went out in the last
// KeepaliveInterval. A true result records now as the last keepalive.
func (s *Session) NeedsKeepalive(now time.Time) bool {
	if s.State != StateEstablished || now.Sub(s.LastActivity) < KeepaliveInterval {
		return false
	}
	if !s.lastKeepalive.IsZero() && now.Sub(s.lastKeepalive) < KeepaliveInterval {
		return false
	}
	s.lastKeepalive = now
	return true
}

// Close wipes both directional keys, so that no later bug can reuse
// them after the link is torn down.
func (s *Session) Close() {
	for i := range s.txKey {
		s.txKey[i] = 0
	}
	for i := range s.rxKey {
		s.rxKey[i] = 0
	}
	s.ratchetSeed = [32]byte{}
	s.ratchetSeedSet = false
	s.bootstrapPriv = [32]byte{}
	s.bootstrapSet = false
	s.wipePrivateKey()
	s.State = StateClosed
}
