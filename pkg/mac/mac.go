package mac

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/loramesh/meshnet/pkg/packet"
)

// QueuedFrame is one outbound frame waiting for channel access.
type QueuedFrame struct {
	Frame     []byte
	Priority  packet.Priority
	QueuedAt  time.Time
	Broadcast bool
}

// Method names how a frame was (or would be) transmitted.
type Method string

const (
	MethodTDMA Method = "tdma"
	MethodCSMA Method = "csma"
)

// TickResult reports what, if anything, happened on this tick.
type TickResult struct {
	Transmitted *QueuedFrame
	Method      Method
	Dropped     *QueuedFrame // collision after MaxCSMARetries
}

// MAC is the hybrid TDMA/CSMA-CA transmit scheduler for one node.
type MAC struct {
	self        uint32
	clock       *Clock
	slots       *SlotTable
	time        *TimeElection
	tdmaEnabled bool
	rnd         Rand
	logger      *log.Logger

	queue      []*QueuedFrame
	current    *QueuedFrame
	csma       *CSMA
	lastSlot   int
	haveLast   bool
}

// New builds a MAC for a node. rnd supplies backoff randomness; the
// node is responsible for injecting a real source (e.g. math/rand.New).
func New(self uint32, epoch time.Time, tdmaEnabled bool, rnd Rand, logger *log.Logger) *MAC {
	return &MAC{
		self:        self,
		clock:       NewClock(epoch),
		slots:       NewSlotTable(self),
		time:        NewTimeElection(),
		tdmaEnabled: tdmaEnabled,
		rnd:         rnd,
		logger:      logger.With("component", "mac"),
	}
}

// TimeElection exposes the time synchronization state for the node's
// TIME_SYNC handling and status reporting.
func (m *MAC) TimeElection() *TimeElection { return m.time }

// SlotTable exposes the slot allocation table for status reporting and
// route/neighbor-driven reservation of peer slots.
func (m *MAC) SlotTable() *SlotTable { return m.slots }

// Enqueue admits a new outbound frame. The queue depth is not capped:
// every frame passed in waits until it is transmitted or dropped.
func (m *MAC) Enqueue(frame []byte, prio packet.Priority, broadcast bool, now time.Time) {
	m.queue = append(m.queue, &QueuedFrame{
		Frame:     frame,
		Priority:  prio,
		QueuedAt:  now,
		Broadcast: broadcast,
	})
}

// QueueLen reports the number of frames waiting for channel access.
func (m *MAC) QueueLen() int { return len(m.queue) }

// selectHead finds the highest-priority, earliest-queued frame.
func (m *MAC) selectHead() *QueuedFrame {
	if len(m.queue) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(m.queue); i++ {
		a, b := m.queue[i], m.queue[best]
		if a.Priority > b.Priority || (a.Priority == b.Priority && a.QueuedAt.Before(b.QueuedAt)) {
			best = i
		}
	}
	return m.queue[best]
}

func (m *MAC) removeCurrent() {
	for i, f := range m.queue {
		if f == m.current {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	m.current = nil
	m.csma = nil
}

// Tick advances the MAC state machine by one cooperative step. now is
// the current time and rssiNowDBm is the instantaneous channel RSSI
// used for clear-channel assessment.
func (m *MAC) Tick(now time.Time, rssiNowDBm int16) TickResult {
	m.time.Tick(now)
	m.slots.Expire(now)

	slot := m.clock.Slot(now)
	if m.haveLast && slot != m.lastSlot && m.csma != nil {
		m.csma.SlotTick()
	}
	m.lastSlot = slot
	m.haveLast = true

	head := m.selectHead()
	if head == nil {
		return TickResult{}
	}
	if head != m.current {
		m.current = head
		m.csma = NewCSMA()
	}

	if m.clock.InGuard(now) {
		return TickResult{}
	}

	if m.tdmaEnabled && m.time.Synced(now) && m.slots.OwnedByMe(slot, m.self) {
		tx := m.current
		m.removeCurrent()
		m.logger.Debug("tdma transmit", "slot", slot, "bytes", len(tx.Frame))
		return TickResult{Transmitted: tx, Method: MethodTDMA}
	}

	if m.csma.Dropped() {
		dropped := m.current
		m.removeCurrent()
		m.logger.Warn("frame dropped: csma collision", "retries", MaxCSMARetries)
		return TickResult{Dropped: dropped}
	}

	if m.csma.Attempt(rssiNowDBm, m.rnd) {
		tx := m.current
		m.removeCurrent()
		m.logger.Debug("csma transmit", "slot", slot, "bytes", len(tx.Frame))
		return TickResult{Transmitted: tx, Method: MethodCSMA}
	}

	return TickResult{}
}
