package ratchet

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Session encapsulates one end of an asynchronous, forward-secret
// conversation. Unlike pkg/session's fixed-key transport, every message
// here is encrypted under its own single-use key, and the ratchet key
// pair rotates on every direction change.
type Session struct {
	state *State
	store Store
}

// Message is one ratchet-encrypted wire unit.
type Message struct {
	Header     Header
	Ciphertext []byte
}

// Encode serializes a Message as header || ciphertext.
func (m Message) Encode() []byte {
	return append(m.Header.Encode(), m.Ciphertext...)
}

// DecodeMessage parses a Message from the wire.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < headerWireSize {
		return Message{}, fmt.Errorf("ratchet: message too short")
	}
	h, err := DecodeHeader(b[:headerWireSize])
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Ciphertext: b[headerWireSize:]}, nil
}

// NewSend starts a session as the initiating party: sk is the shared
// secret negotiated out-of-band (e.g. via pkg/session's X25519
// handshake), and peerRatchetKey is the responder's first ratchet
// public key.
func NewSend(sk RootKey, peerRatchetKey [32]byte) (*Session, error) {
	priv, pub, err := generateKeypair()
	if err != nil {
		return nil, err
	}
	d, err := dh(priv, peerRatchetKey)
	if err != nil {
		return nil, err
	}
	rk, ck := kdfRK(sk, d)

	s := &State{DHs: priv, dhsPublic: pub, DHr: peerRatchetKey, haveDHr: true, RK: rk, CKs: ck, haveCKs: true}
	return &Session{state: s, store: NewMemoryStore(MaxSkip)}, nil
}

// NewRecv starts a session as the responding party: priv is this end's
// own first ratchet private key (whose public half was sent to the
// initiator out-of-band as peerRatchetKey above).
func NewRecv(sk RootKey, priv [32]byte) *Session {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	s := &State{DHs: priv, dhsPublic: pub, RK: sk}
	return &Session{state: s, store: NewMemoryStore(MaxSkip)}
}

// Seal encrypts plaintext, advancing the sending chain by one step.
func (s *Session) Seal(plaintext, additionalData []byte) (Message, error) {
	state := s.state
	cks, mk := kdfCK(state.CKs)

	h := Header{PublicKey: state.dhsPublic, PN: state.PN, N: state.Ns}
	aad := concat(additionalData, h)

	ciphertext, err := seal(mk, plaintext, aad)
	if err != nil {
		return Message{}, err
	}

	state.CKs = cks
	state.Ns++
	return Message{Header: h, Ciphertext: ciphertext}, nil
}

// Open decrypts msg, ratcheting forward (and, if msg's header carries a
// new peer public key, DH-ratcheting) as needed. Messages may arrive
// out of order up to MaxSkip positions within a chain; further reorder
// returns ErrTooManySkipped.
func (s *Session) Open(msg Message, additionalData []byte) ([]byte, error) {
	h := msg.Header
	aad := concat(additionalData, h)

	if mk, err := s.store.LoadKey(h.N, h.PublicKey); err == nil {
		plaintext, err := open(mk, msg.Ciphertext, aad)
		if err != nil {
			return nil, err
		}
		s.store.DeleteKey(h.N, h.PublicKey)
		return plaintext, nil
	}

	tmp := *s.state

	if !s.state.haveDHr || !bytes.Equal(h.PublicKey[:], s.state.DHr[:]) {
		if err := tmp.skip(s.store, h.PN); err != nil {
			return nil, err
		}
		if err := tmp.dhRatchet(h.PublicKey); err != nil {
			return nil, err
		}
	}
	if err := tmp.skip(s.store, h.N); err != nil {
		return nil, err
	}

	ck, mk := kdfCK(tmp.CKr)
	tmp.CKr = ck
	tmp.Nr++

	plaintext, err := open(mk, msg.Ciphertext, aad)
	if err != nil {
		return nil, err
	}

	s.state.wipe()
	*s.state = tmp
	return plaintext, nil
}

// skip advances the receiving chain up to (but not including) until,
// caching a message key for each skipped index so a late-arriving
// message can still be decrypted.
func (s *State) skip(store Store, until uint32) error {
	if !s.haveCKr {
		return nil
	}
	if until-s.Nr > MaxSkip {
		return ErrTooManySkipped
	}
	for s.Nr < until {
		ck, mk := kdfCK(s.CKr)
		s.CKr = ck
		if err := store.StoreKey(s.Nr, s.DHr, mk); err != nil {
			return err
		}
		s.Nr++
	}
	return nil
}

// dhRatchet performs the Diffie-Hellman ratchet step on receipt of a
// message carrying a new peer public key: the receiving chain is
// derived from the old key pair, then a fresh key pair is generated
// and the sending chain derived from it, exactly mirroring dr.go's
// State.ratchet.
func (s *State) dhRatchet(peerPub [32]byte) error {
	s.PN = s.Ns
	s.Ns = 0
	s.Nr = 0
	s.DHr = peerPub
	s.haveDHr = true

	d, err := dh(s.DHs, s.DHr)
	if err != nil {
		return err
	}
	s.RK, s.CKr = kdfRK(s.RK, d)
	s.haveCKr = true

	priv, pub, err := generateKeypair()
	if err != nil {
		return err
	}
	s.DHs = priv
	s.dhsPublic = pub

	d, err = dh(s.DHs, s.DHr)
	if err != nil {
		return err
	}
	s.RK, s.CKs = kdfRK(s.RK, d)
	s.haveCKs = true
	return nil
}

func concat(additionalData []byte, h Header) []byte {
	return append(append([]byte{}, additionalData...), h.Encode()...)
}
