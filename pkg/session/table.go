package session

import "time"

// MaxSessions bounds how many concurrent peer sessions a node will
// hold open at once.
const MaxSessions = 16

// Table is a bounded, peer-addressed collection of live sessions: a
// capacity-bounded map keyed by peer address, so a low-power mesh
// node can't let an unbounded number of handshakes exhaust memory.
type Table struct {
	byPeer map[uint32]*Session
}

// NewTable builds an empty session table.
func NewTable() *Table {
	return &Table{byPeer: make(map[uint32]*Session)}
}

// Get returns the session for peer, if one is established or pending.
func (t *Table) Get(peer uint32) (*Session, bool) {
	s, ok := t.byPeer[peer]
	return s, ok
}

// Put installs a session, evicting nothing; callers should check Len
// against MaxSessions before creating a new one for an unknown peer.
func (t *Table) Put(s *Session) {
	t.byPeer[s.Peer] = s
}

// Remove closes and discards the session for peer, if any.
func (t *Table) Remove(peer uint32) {
	if s, ok := t.byPeer[peer]; ok {
		s.Close()
		delete(t.byPeer, peer)
	}
}

// Len reports the number of tracked sessions.
func (t *Table) Len() int { return len(t.byPeer) }

// Full reports whether the table has reached MaxSessions.
func (t *Table) Full() bool { return len(t.byPeer) >= MaxSessions }

// ExpireIdle closes and removes every session that has exceeded
// LinkTimeout without activity, returning the peers removed.
func (t *Table) ExpireIdle(now time.Time) []uint32 {
	var removed []uint32
	for peer, s := range t.byPeer {
		if s.Idle(now) {
			s.Close()
			delete(t.byPeer, peer)
			removed = append(removed, peer)
		}
	}
	return removed
}

// All returns a snapshot of every tracked session, for status reporting.
func (t *Table) All() []*Session {
	out := make([]*Session, 0, len(t.byPeer))
	for _, s := range t.byPeer {
		out = append(out, s)
	}
	return out
}
