//go:build !tinygo

package hw

import (
	"log/slog"
	"sync"

	"github.com/chaz8081/ble-doorlock/internal/hotkey"
)

// NewSim returns a desktop board: the confirm button is a global hotkey
// and the outputs are logged.
func NewSim(confirmKeys []string) *Board {
	return &Board{
		Button:    &simButton{keys: confirmKeys},
		Indicator: &SimIndicator{},
		Servo:     &SimServo{},
	}
}

type simButton struct {
	keys     []string
	mu       sync.Mutex
	listener *hotkey.Listener
}

func (b *simButton) Listen(onPress func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = hotkey.NewListener(b.keys, onPress)
	go b.listener.Start()
	slog.Info("[HW] simulated confirm button", "keys", b.keys)
	return nil
}

func (b *simButton) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener != nil {
		b.listener.Stop()
	}
	return nil
}

// SimIndicator logs and remembers its level.
type SimIndicator struct {
	mu sync.Mutex
	on bool
}

func (i *SimIndicator) Set(on bool) {
	i.mu.Lock()
	i.on = on
	i.mu.Unlock()
	slog.Info("[HW] indicator", "on", on)
}

// On reports the last level set.
func (i *SimIndicator) On() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.on
}

// SimServo logs and remembers its angle.
type SimServo struct {
	mu    sync.Mutex
	angle int
	moves int
}

func (s *SimServo) SetAngle(deg int) error {
	width, err := PulseWidth(deg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.angle = deg
	s.moves++
	s.mu.Unlock()
	slog.Info("[HW] servo", "angle", deg, "pulse", width)
	return nil
}

// Angle returns the last angle set.
func (s *SimServo) Angle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// Moves returns how many times the servo was driven.
func (s *SimServo) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}
