// Package hotkey provides a global hotkey listener using gohook. Every
// press of the key combination calls the listener's press handler; the
// desktop simulator uses it as the lock's confirm button.
package hotkey

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	hook "github.com/robotn/gohook"
)

// Listener watches a global key combination.
type Listener struct {
	keys    []string
	onPress func()
	done    chan struct{}
	once    sync.Once
	presses atomic.Int64
}

// NewListener creates a Listener for the given key combo. keys should be
// lowercase key names (e.g., ["ctrl", "shift", "c"]). onPress is called
// from the hook goroutine and must not block.
func NewListener(keys []string, onPress func()) *Listener {
	return &Listener{
		keys:    keys,
		onPress: onPress,
		done:    make(chan struct{}),
	}
}

// ParseCombo splits "ctrl+shift+c" into ["ctrl", "shift", "c"].
func ParseCombo(combo string) ([]string, error) {
	var keys []string
	for _, k := range strings.Split(combo, "+") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			return nil, fmt.Errorf("hotkey: empty key in %q", combo)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Keys returns the watched combination.
func (l *Listener) Keys() []string {
	return l.keys
}

// Presses returns how many presses have been delivered.
func (l *Listener) Presses() int64 {
	return l.presses.Load()
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(e hook.Event) {
		l.press()
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
}

func (l *Listener) press() {
	l.presses.Add(1)
	if l.onPress != nil {
		l.onPress()
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
