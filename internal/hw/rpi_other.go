//go:build !linux && !tinygo

package hw

import "errors"

// RPiPins are BCM pin numbers.
type RPiPins struct {
	Button    int
	Indicator int
	Servo     int
}

// OpenRPi is only available on linux.
func OpenRPi(pins RPiPins) (*Board, error) {
	return nil, errors.New("hw: raspberry pi backend requires linux")
}
