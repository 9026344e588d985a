// Package hw is the lock's physical I/O: the confirm button, the pairing
// indicator and the bolt servo. Backends exist for the Raspberry Pi, for
// TinyGo microcontrollers and for a desktop simulator.
package hw

import (
	"errors"
	"fmt"
	"time"
)

// Servo signal geometry: a 50 Hz carrier whose pulse width maps linearly
// from 0..180 degrees onto 0.5..2.5 ms.
const (
	ServoPeriod = 20 * time.Millisecond
	MinPulse    = 500 * time.Microsecond
	MaxPulse    = 2500 * time.Microsecond
	MaxAngle    = 180
)

// ErrInvalidAngle is returned for angles outside 0..180.
var ErrInvalidAngle = errors.New("hw: angle out of range")

// PulseWidth returns the servo pulse width for angle.
func PulseWidth(angle int) (time.Duration, error) {
	if angle < 0 || angle > MaxAngle {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAngle, angle)
	}
	return MinPulse + (MaxPulse-MinPulse)*time.Duration(angle)/MaxAngle, nil
}

// Button is an active-low, edge-triggered input.
type Button interface {
	// Listen installs onPress, called once per falling edge. onPress may
	// run in interrupt context and must only post a signal.
	Listen(onPress func()) error
	Close() error
}

// Indicator is a digital output.
type Indicator interface {
	Set(on bool)
}

// Servo positions the bolt.
type Servo interface {
	SetAngle(deg int) error
}

// Board groups one backend's devices.
type Board struct {
	Button    Button
	Indicator Indicator
	Servo     Servo

	close func() error
}

// Close stops the button and releases the backend.
func (b *Board) Close() error {
	var errs []error
	if b.Button != nil {
		errs = append(errs, b.Button.Close())
	}
	if b.close != nil {
		errs = append(errs, b.close())
	}
	return errors.Join(errs...)
}
