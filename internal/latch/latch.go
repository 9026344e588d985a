// Package latch provides a coalescing binary signal used to hand events
// between interrupt handlers, BLE stack callbacks and long-lived tasks.
//
// A Latch is either set or clear. Any number of Post calls made before the
// consumer takes the latch collapse into a single pending wake.
package latch

import (
	"context"
	"time"
)

// Result is the outcome of a timed wait.
type Result int

const (
	// Signaled means the latch was taken before the deadline.
	Signaled Result = iota
	// TimedOut means the deadline elapsed with the latch clear.
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Signaled:
		return "signaled"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Latch is a single-bit, coalescing signal. The zero value is not usable;
// create one with New.
type Latch struct {
	ch chan struct{}
}

// New returns a clear latch.
func New() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Post sets the latch. It never blocks, never allocates and does no other
// work, so it may be called from an interrupt handler.
func (l *Latch) Post() {
	select {
	case l.ch <- struct{}{}:
	default: // already set
	}
}

// Drain clears the latch without blocking and reports whether it was set.
// Not for use from interrupt context.
func (l *Latch) Drain() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Pending reports whether the latch is set, without consuming it.
func (l *Latch) Pending() bool {
	return len(l.ch) == 1
}

// Wait blocks until the latch is set, then clears it. It returns ctx.Err()
// if ctx is done first. Not for use from interrupt context.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks for at most d waiting for the latch to be set. On
// Signaled the latch has been cleared. Not for use from interrupt context.
func (l *Latch) WaitTimeout(d time.Duration) Result {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-l.ch:
		return Signaled
	case <-timer.C:
		return TimedOut
	}
}
