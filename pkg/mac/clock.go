// Package mac implements the hybrid TDMA/CSMA-CA medium access layer:
// frame/slot clock, per-node slot reservation, carrier-sense backoff,
// and stratum-based time election, driven by a single cooperative tick
// call.
package mac

import "time"

// Frame/slot geometry.
const (
	FrameDuration = 1000 * time.Millisecond
	SlotDuration  = 100 * time.Millisecond
	SlotsPerFrame = 10
	GuardDuration = 5 * time.Millisecond
)

// BeaconSlot is always reserved for beacons and contention traffic.
const BeaconSlot = 0

// PreferredSlot deterministically maps an address to the TDMA slot it
// asserts Reserved ownership of. Slot 0 is excluded (BEACON/contention).
func PreferredSlot(addr uint32) int {
	return int(addr%9) + 1
}

// Clock tracks the current position within the TDMA frame relative to
// a fixed epoch.
type Clock struct {
	epoch time.Time
}

// NewClock starts a clock with the given epoch (usually time.Now() at
// node start).
func NewClock(epoch time.Time) *Clock {
	return &Clock{epoch: epoch}
}

// Slot returns the slot index for the given instant.
func (c *Clock) Slot(now time.Time) int {
	elapsed := now.Sub(c.epoch)
	if elapsed < 0 {
		elapsed = 0
	}
	into := elapsed % FrameDuration
	return int(into / SlotDuration)
}

// InGuard reports whether now falls within the last GuardDuration of
// its slot — transmission is never permitted there.
func (c *Clock) InGuard(now time.Time) bool {
	elapsed := now.Sub(c.epoch)
	if elapsed < 0 {
		elapsed = 0
	}
	intoSlot := elapsed % SlotDuration
	return intoSlot >= SlotDuration-GuardDuration
}

// FrameNumber returns a monotonically increasing frame counter, used to
// detect the slot-0-after-slot-9 frame boundary in tests.
func (c *Clock) FrameNumber(now time.Time) uint64 {
	elapsed := now.Sub(c.epoch)
	if elapsed < 0 {
		elapsed = 0
	}
	return uint64(elapsed / FrameDuration)
}
