package sos

import "time"

// LogCapacity bounds the received-SOS log: up to 8 entries, oldest
// evicted first.
const LogCapacity = 8

// Entry records one SOS broadcast heard from another node.
type Entry struct {
	Source     uint32
	Message    Message
	RSSI       int16
	ReceivedAt time.Time
	Acked      bool
}

// Log is a bounded FIFO of received SOS entries, oldest evicted first.
type Log struct {
	entries []Entry
}

// NewLog returns an empty received-SOS log.
func NewLog() *Log {
	return &Log{entries: make([]Entry, 0, LogCapacity)}
}

// Append records a newly-received SOS, evicting the oldest entry if
// the log is already at capacity.
func (l *Log) Append(e Entry) {
	if len(l.entries) >= LogCapacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, e)
}

// All returns the log entries, oldest first.
func (l *Log) All() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the current number of log entries.
func (l *Log) Len() int { return len(l.entries) }

// Ack marks the most recent entry from source as acknowledged,
// reporting whether a matching entry was found.
func (l *Log) Ack(source uint32) bool {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Source == source {
			l.entries[i].Acked = true
			return true
		}
	}
	return false
}
