package node

import (
	"errors"
	"time"

	"github.com/loramesh/meshnet/pkg/events"
	"github.com/loramesh/meshnet/pkg/packet"
	"github.com/loramesh/meshnet/pkg/ratchet"
	"github.com/loramesh/meshnet/pkg/session"
)

// linkDataHeaderWireSize is session.LinkDataHeader's fixed encoded
// size: link_id(16) | seq(4) | length(2) | flags(1)
const linkDataHeaderWireSize = session.LinkIDSize + 4 + 2 + 1

// ErrLinkTableFull is returned by requestLink when the session table
// has reached session.MaxSessions.
var ErrLinkTableFull = errors.New("node: session table full")

// ErrNoLink is returned when an operation needs an established session
// that does not exist.
var ErrNoLink = errors.New("node: no link to peer")

// requestLink opens an encrypted link to peer, per the request_link
// control-surface operation.
func (n *Node) requestLink(peer uint32, now time.Time) error {
	if s, ok := n.sessions.Get(peer); ok && s.State != session.StateClosed {
		return nil // already established or in flight
	}
	if n.sessions.Full() {
		return ErrLinkTableFull
	}

	s, req, err := session.NewInitiator(peer, n.identity, now)
	if err != nil {
		return err
	}
	n.sessions.Put(s)

	_, err = n.core.Send(peer, packet.TypeLinkRequest, req.Encode(), packet.PriorityExpedited, false, now)
	return err
}

// closeLink tears down any session with peer, per the close_link
// control-surface operation.
func (n *Node) closeLink(peer uint32, now time.Time) {
	if _, ok := n.sessions.Get(peer); !ok {
		return
	}
	n.sessions.Remove(peer)
	delete(n.ratchets, peer)
	_, _ = n.core.Send(peer, packet.TypeLinkClose, nil, packet.PriorityExpedited, false, now)
	n.events.Emit(events.LinkClosed{Peer: peer})
}

func (n *Node) handleLinkRequest(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	req, err := session.DecodeLinkRequest(payload)
	if err != nil {
		n.logger.Warn("malformed link request", "from", hdr.Source, "err", err)
		return
	}
	if n.sessions.Full() {
		n.logger.Warn("rejecting link request: table full", "from", hdr.Source)
		return
	}

	s, accept, err := session.AcceptRequest(hdr.Source, req, now)
	if err != nil {
		n.logger.Warn("accepting link request", "from", hdr.Source, "err", err)
		return
	}
	n.sessions.Put(s)

	if n.cfg.ForwardSecrecyEnabled {
		if seed, ok := s.RatchetRootKey(); ok {
			if priv, ok := s.RatchetBootstrapPriv(); ok {
				n.ratchets[s.Peer] = ratchet.NewRecv(ratchet.RootKey(seed), priv)
			}
		}
	}

	if _, err := n.core.Send(hdr.Source, packet.TypeLinkAccept, accept.Encode(), packet.PriorityExpedited, false, now); err != nil {
		n.logger.Warn("sending link accept", "to", hdr.Source, "err", err)
		return
	}
	n.events.Emit(events.LinkEstablished{Peer: s.Peer})
}

func (n *Node) handleLinkAccept(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	accept, err := session.DecodeLinkAccept(payload)
	if err != nil {
		n.logger.Warn("malformed link accept", "from", hdr.Source, "err", err)
		return
	}
	s, ok := n.sessions.Get(hdr.Source)
	if !ok || s.State != session.StateRequested {
		return // stray or duplicate accept
	}
	if err := s.CompleteInitiator(accept, now); err != nil {
		n.logger.Warn("completing link handshake", "from", hdr.Source, "err", err)
		n.sessions.Remove(hdr.Source)
		return
	}

	if n.cfg.ForwardSecrecyEnabled {
		if seed, ok := s.RatchetRootKey(); ok {
			if rs, err := ratchet.NewSend(ratchet.RootKey(seed), accept.PublicKey); err == nil {
				n.ratchets[s.Peer] = rs
			} else {
				n.logger.Warn("starting ratchet session", "peer", s.Peer, "err", err)
			}
		}
	}

	n.events.Emit(events.LinkEstablished{Peer: s.Peer})
}

func (n *Node) handleLinkCloseFrame(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	if _, ok := n.sessions.Get(hdr.Source); !ok {
		return
	}
	n.sessions.Remove(hdr.Source)
	delete(n.ratchets, hdr.Source)
	n.events.Emit(events.LinkClosed{Peer: hdr.Source})
}

// sendLinkData encrypts plaintext for peer's session, engaging the
// Double Ratchet when one is active for that peer, and sends it as a
// TypeLinkData frame.
func (n *Node) sendLinkData(s *session.Session, plaintext []byte, now time.Time) error {
	var frame []byte
	if rs, ok := n.ratchets[s.Peer]; ok {
		header := session.LinkDataHeader{LinkID: s.LinkID, Flags: session.FlagRatchet}
		aad := header.Encode()
		msg, err := rs.Seal(plaintext, aad)
		if err != nil {
			return err
		}
		body := msg.Encode()
		header.Length = uint16(len(body))
		frame = append(header.Encode(), body...)
	} else {
		var err error
		frame, err = s.Encrypt(plaintext)
		if err != nil {
			return err
		}
	}
	_, err := n.core.Send(s.Peer, packet.TypeLinkData, frame, packet.PriorityNormal, false, now)
	return err
}

func (n *Node) handleLinkData(hdr packet.Header, payload []byte, rssi int16, snr int8, now time.Time) {
	s, ok := n.sessions.Get(hdr.Source)
	if !ok || s.State != session.StateEstablished {
		return
	}
	s.LastActivity = now

	header, err := session.DecodeLinkDataHeader(payload)
	if err != nil {
		n.logger.Warn("malformed link data", "from", hdr.Source, "err", err)
		return
	}

	var plaintext []byte
	if header.Flags&session.FlagRatchet != 0 {
		rs, ok := n.ratchets[hdr.Source]
		if !ok {
			n.logger.Warn("ratchet frame with no active ratchet session", "from", hdr.Source)
			return
		}
		msg, err := ratchet.DecodeMessage(payload[linkDataHeaderWireSize:])
		if err != nil {
			n.logger.Warn("malformed ratchet message", "from", hdr.Source, "err", err)
			return
		}
		aad := session.LinkDataHeader{LinkID: header.LinkID, Flags: session.FlagRatchet}.Encode()
		plaintext, err = rs.Open(msg, aad)
		if err != nil {
			n.logger.Warn("ratchet open failed", "from", hdr.Source, "err", err)
			return
		}
	} else {
		plaintext, err = s.Decrypt(payload)
		if err != nil {
			n.logger.Warn("link data decrypt failed", "from", hdr.Source, "err", err)
			return
		}
	}

	if len(plaintext) == 0 {
		return // keepalive
	}
	n.recordAndEmitMessage(hdr.Source, n.self, plaintext, rssi, snr, now)
}
