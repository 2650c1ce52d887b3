package engine

import "github.com/umts-sim/umts-sim/sim"

// Timer is a single pending-timer slot. Resetting it cancels whatever was armed,
// so a procedure never has two outstanding expiries.
type Timer struct {
	sched Scheduler
	id    EventID
	at    sim.Time
	armed bool
}

// NewTimer creates an unarmed timer on s.
func NewTimer(s Scheduler) *Timer {
	if s == nil {
		panic("NewTimer: scheduler must not be nil")
	}
	return &Timer{sched: s}
}

// Reset (re)arms the timer to fire fn after delay.
func (t *Timer) Reset(delay sim.Time, fn Handler) {
	t.Stop()
	t.armed = true
	t.at = t.sched.Now() + delay
	t.id = t.sched.Schedule(delay, func(now sim.Time) {
		t.armed = false
		fn(now)
	})
}

// Stop disarms the timer. Returns true if a pending expiry was cancelled.
func (t *Timer) Stop() bool {
	if !t.armed {
		return false
	}
	t.armed = false
	return t.sched.Cancel(t.id)
}

// Armed reports whether an expiry is pending.
func (t *Timer) Armed() bool {
	return t.armed
}

// Deadline returns the time of the pending expiry; meaningful only while Armed.
func (t *Timer) Deadline() sim.Time {
	return t.at
}

// Ticker fires fn every period until stopped. The first tick happens after offset.
type Ticker struct {
	timer  *Timer
	period sim.Time
	fn     Handler
}

// Every starts a periodic ticker. period must be positive.
func Every(s Scheduler, offset, period sim.Time, fn Handler) *Ticker {
	if period <= 0 {
		panic("engine.Every: period must be positive")
	}
	tk := &Ticker{timer: NewTimer(s), period: period, fn: fn}
	tk.timer.Reset(offset, tk.tick)
	return tk
}

func (tk *Ticker) tick(now sim.Time) {
	tk.timer.Reset(tk.period, tk.tick)
	tk.fn(now)
}

// Stop halts the ticker. Safe to call more than once.
func (tk *Ticker) Stop() {
	if tk == nil {
		return
	}
	tk.timer.Stop()
}

// Running reports whether the ticker still has a pending tick.
func (tk *Ticker) Running() bool {
	return tk != nil && tk.timer.Armed()
}
