package session

import (
	"sync"
	"time"

	"assessment-attempt-service/internal/clock"
)

// Deadline is one countdown toward an absolute end time. Every tick
// re-reads the clock instead of decrementing a counter, so late or
// throttled ticks never drift from the real deadline. onExpire runs at
// most once.
type Deadline struct {
	clock    clock.Clock
	end      time.Time
	tick     time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	mu    sync.Mutex
	timer clock.Timer
	armed bool
	fired bool
}

func NewDeadline(c clock.Clock, end time.Time, tick time.Duration, onTick func(time.Duration), onExpire func()) *Deadline {
	if tick <= 0 {
		tick = time.Second
	}
	return &Deadline{clock: c, end: end, tick: tick, onTick: onTick, onExpire: onExpire}
}

// Remaining is max(end - now, 0).
func (d *Deadline) Remaining() time.Duration {
	if r := d.end.Sub(d.clock.Now()); r > 0 {
		return r
	}
	return 0
}

// Arm starts the countdown. Re-arming a running or fired deadline is a no-op.
func (d *Deadline) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed || d.fired {
		return
	}
	d.armed = true
	d.scheduleLocked()
}

// Disarm stops the countdown without firing.
func (d *Deadline) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Fired reports whether onExpire has been triggered.
func (d *Deadline) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

func (d *Deadline) scheduleLocked() {
	wait := d.tick
	if r := d.Remaining(); r < wait {
		wait = r
	}
	d.timer = d.clock.AfterFunc(wait, d.onTimer)
}

func (d *Deadline) onTimer() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	remaining := d.Remaining()
	expired := remaining <= 0
	if expired {
		d.armed = false
		d.fired = true
		d.timer = nil
	} else {
		d.scheduleLocked()
	}
	d.mu.Unlock()

	if d.onTick != nil {
		d.onTick(remaining)
	}
	if expired && d.onExpire != nil {
		d.onExpire()
	}
}
