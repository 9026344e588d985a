//go:build linux && !tinygo

package hw

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// pwmClock is the PWM clock; one tick is one microsecond.
const pwmClock = 1_000_000

// buttonPollInterval is how often the edge detect register is sampled.
const buttonPollInterval = 10 * time.Millisecond

// RPiPins are BCM pin numbers. The servo needs a hardware PWM pin
// (12, 13, 18 or 19).
type RPiPins struct {
	Button    int
	Indicator int
	Servo     int
}

// OpenRPi maps the GPIO registers and configures the pins.
func OpenRPi(pins RPiPins) (*Board, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("hw: open gpio: %w", err)
	}

	ind := &rpiIndicator{pin: rpio.Pin(pins.Indicator)}
	ind.pin.Output()
	ind.pin.Low()

	servo := &rpiServo{pin: rpio.Pin(pins.Servo)}
	servo.pin.Mode(rpio.Pwm)
	servo.pin.Freq(pwmClock)

	btn := &rpiButton{pin: rpio.Pin(pins.Button), done: make(chan struct{})}
	btn.pin.Input()
	btn.pin.PullOff()

	slog.Info("[HW] raspberry pi gpio ready",
		"button", pins.Button, "indicator", pins.Indicator, "servo", pins.Servo)

	return &Board{
		Button:    btn,
		Indicator: ind,
		Servo:     servo,
		close: func() error {
			ind.pin.Low()
			return rpio.Close()
		},
	}, nil
}

type rpiIndicator struct {
	pin rpio.Pin
}

func (i *rpiIndicator) Set(on bool) {
	if on {
		i.pin.High()
	} else {
		i.pin.Low()
	}
}

type rpiServo struct {
	pin rpio.Pin
}

func (s *rpiServo) SetAngle(deg int) error {
	width, err := PulseWidth(deg)
	if err != nil {
		return err
	}
	s.pin.DutyCycle(uint32(width.Microseconds()), uint32(ServoPeriod.Microseconds()))
	return nil
}

// rpiButton polls the falling-edge detect status; the kernel owns the
// GPIO interrupt line.
type rpiButton struct {
	pin  rpio.Pin
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (b *rpiButton) Listen(onPress func()) error {
	b.pin.Detect(rpio.FallEdge)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(buttonPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				if b.pin.EdgeDetected() {
					onPress()
				}
			}
		}
	}()
	return nil
}

func (b *rpiButton) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.pin.Detect(rpio.NoEdge)
	})
	return nil
}
