package session

// RatchetRootKey returns the seed a pkg/ratchet Session should be
// bootstrapped from, derived from this link's X25519 shared secret
// under a label distinct from either directional AEAD key. It is
// consumed once: a second call returns the zero value and false, so
// the seed cannot outlive the handshake that produced it.
//
// The caller is expected to import pkg/ratchet and wrap the returned
// 32 bytes in a ratchet.RootKey; this package does not import
// pkg/ratchet itself to keep the plain (non-forward-secret) transport
// usable without pulling in the ratchet implementation.
func (s *Session) RatchetRootKey() ([32]byte, bool) {
	if !s.ratchetSeedSet {
		return [32]byte{}, false
	}
	seed := s.ratchetSeed
	s.ratchetSeed = [32]byte{}
	s.ratchetSeedSet = false
	return seed, true
}

// RatchetBootstrapPriv returns the responder's own ephemeral X25519
// private key from the handshake, whose public half was already sent
// to the initiator as this LinkAccept's PublicKey. pkg/ratchet's
// NewRecv needs this exact key pair as its first receiving-side DH
// key. Only set on the responder side (AcceptRequest); the initiator
// has no use for it since pkg/ratchet's NewSend generates its own
// fresh ratchet key pair. Consumed once, like RatchetRootKey.
func (s *Session) RatchetBootstrapPriv() ([32]byte, bool) {
	if !s.bootstrapSet {
		return [32]byte{}, false
	}
	priv := s.bootstrapPriv
	s.bootstrapPriv = [32]byte{}
	s.bootstrapSet = false
	return priv, true
}
