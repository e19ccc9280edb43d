package session

import (
	"sync"
	"time"
)

// WarningLead is how long before the study end the warning fires.
const WarningLead = 2 * time.Minute

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d elapses.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, f func()) Timer

func (fn SchedulerFunc) AfterFunc(d time.Duration, f func()) Timer { return fn(d, f) }

// RealScheduler schedules with time.AfterFunc.
var RealScheduler Scheduler = SchedulerFunc(func(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
})

// Clock owns the two end-of-study callbacks: a warning WarningLead before the
// study end and a forced logout at the study end. At most one pair is armed.
type Clock struct {
	mu        sync.Mutex
	sched     Scheduler
	now       func() time.Time
	onWarning func(gen uint64)
	onLogout  func(gen uint64)

	gen      uint64
	warning  Timer
	logout   Timer
	armedFor time.Time
}

// NewClock creates a disarmed Clock. The callbacks receive the generation they
// were armed under; see Current.
func NewClock(now func() time.Time, sched Scheduler, onWarning, onLogout func(gen uint64)) *Clock {
	if now == nil {
		now = time.Now
	}
	if sched == nil {
		sched = RealScheduler
	}
	return &Clock{sched: sched, now: now, onWarning: onWarning, onLogout: onLogout}
}

// Arm cancels any armed callbacks and schedules a fresh pair for studyEnd.
// The warning is skipped when its moment has passed. A study end that has
// already passed fires the logout immediately. A zero studyEnd just disarms.
func (c *Clock) Arm(studyEnd time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disarmLocked()
	if studyEnd.IsZero() {
		return
	}
	c.armedFor = studyEnd
	gen := c.gen
	now := c.now()

	if at := studyEnd.Add(-WarningLead); at.After(now) {
		c.warning = c.sched.AfterFunc(at.Sub(now), c.guard(gen, c.onWarning))
	}
	c.logout = c.sched.AfterFunc(max(studyEnd.Sub(now), 0), c.guard(gen, c.onLogout))
}

// Cancel disarms both callbacks.
func (c *Clock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
}

// Current reports whether gen is still the armed generation. Callbacks that
// take another lock before acting re-check it there, since the clock may be
// re-armed between the callback starting and that lock being acquired.
func (c *Clock) Current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// ArmedFor returns the study end the clock is armed for, or zero.
func (c *Clock) ArmedFor() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armedFor
}

func (c *Clock) disarmLocked() {
	if c.warning != nil {
		c.warning.Stop()
		c.warning = nil
	}
	if c.logout != nil {
		c.logout.Stop()
		c.logout = nil
	}
	c.armedFor = time.Time{}
	// Invalidates callbacks whose timer already fired but have not run yet.
	c.gen++
}

// guard drops the callback when the clock was re-armed or cancelled after
// scheduling. The lock is released before f runs so f may call back into the
// clock.
func (c *Clock) guard(gen uint64, f func(uint64)) func() {
	return func() {
		if c.Current(gen) && f != nil {
			f(gen)
		}
	}
}
