// Package lock runs the door lock's actuator task: it waits for unlock
// requests, swings the actuator open, holds it for the dwell time and
// locks again.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/ble-doorlock/internal/latch"
)

// Actuator moves the bolt. SetAngle is synchronous and idempotent.
type Actuator interface {
	SetAngle(deg int) error
}

// State is the lock's physical state.
type State int

const (
	Locked State = iota
	Unlocking
	Dwelling
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Dwelling:
		return "dwelling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures the actuator task.
type Options struct {
	LockedAngle   int           // degrees (default 10)
	UnlockedAngle int           // degrees (default 110)
	Dwell         time.Duration // time held open (default 3s)
}

// DefaultOptions returns the lock's fixed geometry and dwell.
func DefaultOptions() Options {
	return Options{
		LockedAngle:   10,
		UnlockedAngle: 110,
		Dwell:         3 * time.Second,
	}
}

// Task owns the lock's physical state. Only Run changes it.
type Task struct {
	actuator Actuator
	unlock   *latch.Latch
	opts     Options

	mu     sync.Mutex
	state  State
	cycles int
}

// NewTask creates an actuator task consuming unlock. A zero Dwell takes
// the default.
func NewTask(actuator Actuator, unlock *latch.Latch, opts Options) *Task {
	if opts.Dwell <= 0 {
		opts.Dwell = DefaultOptions().Dwell
	}
	return &Task{actuator: actuator, unlock: unlock, opts: opts}
}

// State returns the current physical state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cycles returns the number of completed unlock cycles.
func (t *Task) Cycles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles
}

// Run drives the actuator to the locked angle once, then serves unlock
// requests until ctx is done. Requests posted while a cycle is in progress
// coalesce into one further cycle. On return the actuator has been driven
// back to the locked angle.
func (t *Task) Run(ctx context.Context) {
	t.drive(t.opts.LockedAngle)
	t.setState(Locked)
	slog.Info("[LOCK] locked", "angle", t.opts.LockedAngle)

	for {
		if err := t.unlock.Wait(ctx); err != nil {
			return
		}

		t.setState(Unlocking)
		slog.Info("[LOCK] unlocking", "angle", t.opts.UnlockedAngle)
		t.drive(t.opts.UnlockedAngle)

		t.setState(Dwelling)
		timer := time.NewTimer(t.opts.Dwell)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}

		t.drive(t.opts.LockedAngle)
		t.mu.Lock()
		t.state = Locked
		t.cycles++
		t.mu.Unlock()
		slog.Info("[LOCK] locked", "angle", t.opts.LockedAngle, "pending", t.unlock.Pending())

		if ctx.Err() != nil {
			return
		}
	}
}

func (t *Task) drive(deg int) {
	if err := t.actuator.SetAngle(deg); err != nil {
		slog.Error("[LOCK] actuator failed", "angle", deg, "error", err)
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
