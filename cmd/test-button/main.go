// Command test-button is a manual test for the confirm button and the
// indicator LED. Each press toggles the LED.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-button [--backend rpi|sim] [--button 21] [--indicator 17]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/ble-doorlock/internal/hotkey"
	"github.com/chaz8081/ble-doorlock/internal/hw"
	"github.com/chaz8081/ble-doorlock/internal/latch"
)

func main() {
	backend := flag.String("backend", "rpi", "hardware backend: rpi or sim")
	button := flag.Int("button", 21, "BCM pin of the button")
	indicator := flag.Int("indicator", 17, "BCM pin of the indicator LED")
	keys := flag.String("keys", "ctrl+shift+c", "confirm hotkey for the sim backend")
	flag.Parse()

	var board *hw.Board
	switch *backend {
	case "rpi":
		b, err := hw.OpenRPi(hw.RPiPins{Button: *button, Indicator: *indicator, Servo: 18})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		board = b
	case "sim":
		combo, err := hotkey.ParseCombo(*keys)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		board = hw.NewSim(combo)
	default:
		fmt.Printf("Error: unknown backend %q\n", *backend)
		os.Exit(1)
	}

	pressed := latch.New()
	if err := board.Button.Listen(pressed.Post); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Listening for presses on the %s backend...\n", *backend)
	fmt.Println("Press Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	presses := 0
	on := false
	for pressed.Wait(ctx) == nil {
		presses++
		on = !on
		board.Indicator.Set(on)
		fmt.Printf(">>> press %d (indicator %v)\n", presses, on)
	}

	fmt.Println("\nShutting down...")
	board.Indicator.Set(false)
	board.Close()
	fmt.Printf("Done. %d presses.\n", presses)
	// Exit directly to avoid gohook's C cleanup crash.
	os.Exit(0)
}
