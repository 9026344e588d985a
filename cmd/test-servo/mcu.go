//go:build tinygo && nrf52840

// Command test-servo on nRF52840 boards sweeps the bolt servo between the
// stock locked and unlocked angles and lights the LED while unlocked. A
// button press starts the next cycle.
//
// Usage:
//
//	tinygo flash -target=feather-nrf52840 ./cmd/test-servo
package main

import (
	"log/slog"
	"machine"
	"time"

	"github.com/chaz8081/ble-doorlock/internal/hw"
	"github.com/chaz8081/ble-doorlock/internal/latch"
	"github.com/chaz8081/ble-doorlock/internal/lock"
)

var pins = hw.MachinePins{
	Button:    machine.BUTTON,
	Indicator: machine.LED,
	Servo:     machine.D9,
	PWM:       machine.PWM0,
}

func main() {
	// Give a serial monitor time to attach.
	time.Sleep(2 * time.Second)

	board, err := hw.OpenMachine(pins)
	if err != nil {
		halt("open hardware", err)
	}

	pressed := latch.New()
	if err := board.Button.Listen(pressed.Post); err != nil {
		halt("listen for button", err)
	}

	opts := lock.DefaultOptions()
	move := func(a int) {
		slog.Info("[HW] moving servo", "angle", a)
		if err := board.Servo.SetAngle(a); err != nil {
			slog.Error("[HW] set angle failed", "angle", a, "error", err)
		}
	}

	move(opts.LockedAngle)
	for {
		if pressed.WaitTimeout(opts.Dwell) == latch.TimedOut {
			continue
		}
		board.Indicator.Set(true)
		move(opts.UnlockedAngle)
		time.Sleep(opts.Dwell)
		move(opts.LockedAngle)
		board.Indicator.Set(false)
	}
}

// halt logs err forever; there is nothing to return to on a microcontroller.
func halt(what string, err error) {
	for {
		slog.Error("[HW] "+what+" failed", "error", err)
		time.Sleep(time.Second)
	}
}
