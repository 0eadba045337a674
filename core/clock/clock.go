// Package clock provides the 32-bit millisecond tick counter that drives the
// poll loop's interval timers.
//
// Tick values wrap around roughly every 49.7 days. All interval arithmetic
// goes through Since, which uses unsigned subtraction and is therefore
// correct across a wrap as long as the measured interval is shorter than
// the wrap period.
package clock

import (
	"sync"
	"time"
)

// Clock returns the number of milliseconds since it was created, truncated
// to 32 bits.
type Clock struct {
	mu    sync.Mutex
	nowFn func() uint32 // overridable for testing
}

// New creates a Clock that counts from the current instant.
func New() *Clock {
	start := time.Now()
	return &Clock{
		nowFn: func() uint32 {
			return uint32(time.Since(start).Milliseconds())
		},
	}
}

// NewWithOffset creates a Clock that starts at offset instead of zero. Useful
// for exercising counter wraparound.
func NewWithOffset(offset uint32) *Clock {
	start := time.Now()
	return &Clock{
		nowFn: func() uint32 {
			return offset + uint32(time.Since(start).Milliseconds())
		},
	}
}

// Now returns the current tick count in milliseconds.
func (c *Clock) Now() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn()
}

// Since returns the ticks elapsed from then to now, correct across a
// counter wrap.
func Since(now, then uint32) uint32 {
	return now - then
}

// Due reports whether at least interval has elapsed since then.
func Due(now, then uint32, interval time.Duration) bool {
	return Since(now, then) >= Millis(interval)
}

// Millis converts a duration to a tick interval, saturating at the largest
// representable value.
func Millis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// Timer is an interval timer compared against the tick count.
type Timer struct {
	Interval time.Duration
	last     uint32
	armed    bool
}

// Due reports whether the timer's interval has elapsed since the last Reset.
// A timer that has never been reset is always due.
func (t *Timer) Due(now uint32) bool {
	if !t.armed {
		return true
	}
	return Due(now, t.last, t.Interval)
}

// Reset records now as the last firing time.
func (t *Timer) Reset(now uint32) {
	t.last = now
	t.armed = true
}

// Last returns the last firing time and whether the timer has fired.
func (t *Timer) Last() (uint32, bool) {
	return t.last, t.armed
}
