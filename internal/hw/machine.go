//go:build tinygo

package hw

import (
	"machine"

	"tinygo.org/x/drivers/servo"
)

// MachinePins selects the MCU pins and the PWM peripheral driving the servo.
type MachinePins struct {
	Button    machine.Pin
	Indicator machine.Pin
	Servo     machine.Pin
	PWM       servo.PWM
}

// OpenMachine configures the pins on a TinyGo target.
func OpenMachine(pins MachinePins) (*Board, error) {
	pins.Indicator.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pins.Indicator.Low()

	// Pull resistors disabled; the board has an external pull-up.
	pins.Button.Configure(machine.PinConfig{Mode: machine.PinInput})

	s, err := servo.New(pins.PWM, pins.Servo)
	if err != nil {
		return nil, err
	}

	return &Board{
		Button:    &machineButton{pin: pins.Button},
		Indicator: machineIndicator{pin: pins.Indicator},
		Servo:     machineServo{s: s},
	}, nil
}

type machineIndicator struct {
	pin machine.Pin
}

func (i machineIndicator) Set(on bool) {
	i.pin.Set(on)
}

type machineServo struct {
	s servo.Servo
}

func (m machineServo) SetAngle(deg int) error {
	width, err := PulseWidth(deg)
	if err != nil {
		return err
	}
	m.s.SetMicroseconds(int16(width.Microseconds()))
	return nil
}

type machineButton struct {
	pin machine.Pin
}

// Listen runs onPress in interrupt context.
func (b *machineButton) Listen(onPress func()) error {
	return b.pin.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		onPress()
	})
}

func (b *machineButton) Close() error {
	return b.pin.SetInterrupt(0, nil)
}
