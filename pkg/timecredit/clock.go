package timecredit

import "sync"

// Clock supplies monotonic seconds for all accounting computations.
//
// Only differences between readings are meaningful, not absolute values.
// Implementations must never move backward within one boot; a rewind across
// readings is interpreted by the engine as a device restart.
type Clock interface {
	// Now returns monotonic seconds since an arbitrary epoch.
	Now() int64
}

// SystemClock reads the platform boot-time clock, which keeps counting
// across process restarts and resets to zero on reboot. That is exactly the
// base the engine's rewind guards assume.
type SystemClock struct{}

// NewSystemClock returns the production clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now implements Clock.
func (c *SystemClock) Now() int64 {
	return bootSeconds()
}

// ManualClock is a controllable clock for deterministic tests.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock returns a ManualClock starting at the given second.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by the given seconds.
func (c *ManualClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

// Set moves the clock to an absolute reading. Tests use this to simulate a
// reboot (the reading may go backward).
func (c *ManualClock) Set(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = seconds
}
