package syncx

import (
	"time"
)

// Debouncer coalesces bursts of triggers into a single firing once no new
// trigger arrived for the quiet window, or once the max delay since the first
// trigger of the burst elapsed.
//
// It is meant to be owned by a single goroutine which selects on C().
type Debouncer struct {
	quiet    time.Duration
	maxDelay time.Duration
	now      func() time.Time

	timer   *time.Timer
	pending bool
	first   time.Time
}

func NewDebouncer(quiet, maxDelay time.Duration) *Debouncer {
	if maxDelay < quiet {
		maxDelay = quiet
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	return &Debouncer{
		quiet:    quiet,
		maxDelay: maxDelay,
		now:      time.Now,
		timer:    timer,
	}
}

// Trigger records an event and (re)arms the timer.
func (d *Debouncer) Trigger() {
	now := d.now()

	if !d.pending {
		d.pending = true
		d.first = now
	}

	delay := d.quiet
	if remaining := d.first.Add(d.maxDelay).Sub(now); remaining < delay {
		delay = max(remaining, 0)
	}

	d.timer.Reset(delay)
}

// C returns the channel the burst is signaled on, or nil when nothing is
// pending so that a select on it blocks forever.
func (d *Debouncer) C() <-chan time.Time {
	if !d.pending {
		return nil
	}

	return d.timer.C
}

// Done must be called once the value received from C() has been handled.
func (d *Debouncer) Done() {
	d.pending = false
}

func (d *Debouncer) Stop() {
	d.timer.Stop()
	d.pending = false
}
