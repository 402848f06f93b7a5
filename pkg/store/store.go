// Package store implements store-and-forward queuing: messages bound
// for a destination with no current neighbor or route are held and
// retried periodically, or immediately once that neighbor is
// (re)discovered, until delivery succeeds, the message's TTL expires,
// or its retry budget is exhausted.
package store

import (
	"container/list"
	"errors"
	"time"

	"github.com/loramesh/meshnet/pkg/packet"
)

// Capacity bounds the number of messages held at once.
const Capacity = 32

// TTL is how long a message is held before being given up on.
const TTL = time.Hour

// RetryInterval is the minimum spacing between delivery attempts for a
// single message.
const RetryInterval = 30 * time.Second

// MaxAttempts bounds how many delivery attempts a message receives
// before being dropped.
const MaxAttempts = 10

// ErrQueueFull is returned by Enqueue when the store is at Capacity.
var ErrQueueFull = errors.New("store: queue full")

// Entry is one held message.
type Entry struct {
	Dest         uint32
	Payload      []byte
	Type         packet.Type
	Priority     packet.Priority
	AckRequested bool

	QueuedAt    time.Time
	Attempts    int
	LastAttempt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.QueuedAt) > TTL
}

func (e *Entry) dueForRetry(now time.Time) bool {
	return e.Attempts == 0 || now.Sub(e.LastAttempt) >= RetryInterval
}

// Sender hands one entry to the mesh layer, returning an error (e.g.
// mesh.ErrNoRoute) if the destination is still unreachable. A nil
// return means the message was handed off to the mesh core's own
// reliable delivery path and the entry can be retired from the store.
type Sender func(Entry) error

// Queue is a bounded, FIFO-evicting store-and-forward message queue.
type Queue struct {
	order *list.List // front = oldest
}

// New builds an empty store-and-forward queue.
func New() *Queue {
	return &Queue{order: list.New()}
}

// Enqueue admits a new message, evicting the single oldest entry if
// the queue is already at Capacity.
func (q *Queue) Enqueue(dest uint32, payload []byte, typ packet.Type, prio packet.Priority, ackRequested bool, now time.Time) error {
	e := &Entry{Dest: dest, Payload: payload, Type: typ, Priority: prio, AckRequested: ackRequested, QueuedAt: now}
	q.order.PushBack(e)
	if q.order.Len() > Capacity {
		q.order.Remove(q.order.Front())
	}
	return nil
}

// Len reports the number of held messages.
func (q *Queue) Len() int { return q.order.Len() }

// ExpireStale drops every message older than TTL, returning how many
// were dropped.
func (q *Queue) ExpireStale(now time.Time) int {
	dropped := 0
	for el := q.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Entry).expired(now) {
			q.order.Remove(el)
			dropped++
		}
		el = next
	}
	return dropped
}

// Tick attempts delivery of every message due for retry. A message
// whose MaxAttempts-th attempt fails is dropped; messages that send
// successfully are removed from the store.
func (q *Queue) Tick(now time.Time, send Sender) {
	for el := q.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.dueForRetry(now) {
			q.attempt(el, e, now, send)
		}
		el = next
	}
}

// NeighborKnown attempts immediate delivery of every message queued
// for addr, called from the neighbor table's first-seen callback so a
// reconnecting peer drains its backlog without waiting for the next
// retry tick.
func (q *Queue) NeighborKnown(addr uint32, now time.Time, send Sender) {
	for el := q.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.Dest == addr {
			q.attempt(el, e, now, send)
		}
		el = next
	}
}

func (q *Queue) attempt(el *list.Element, e *Entry, now time.Time, send Sender) {
	e.Attempts++
	e.LastAttempt = now
	if send(*e) == nil {
		q.order.Remove(el)
		return
	}
	if e.Attempts >= MaxAttempts {
		q.order.Remove(el)
	}
}

// All returns a snapshot of every held message, for status reporting.
func (q *Queue) All() []Entry {
	out := make([]Entry, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}
