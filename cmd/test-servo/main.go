//go:build !tinygo

// Command test-servo is a manual test for the bolt servo on a Raspberry Pi.
// It sweeps between the locked and unlocked angles.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-servo [--pin 18] [--locked 10] [--unlocked 110] [--cycles 3]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/ble-doorlock/internal/hw"
)

func main() {
	pin := flag.Int("pin", 18, "BCM pin of the servo (hardware PWM)")
	locked := flag.Int("locked", 10, "locked angle in degrees")
	unlocked := flag.Int("unlocked", 110, "unlocked angle in degrees")
	cycles := flag.Int("cycles", 3, "number of unlock cycles")
	flag.Parse()

	for _, a := range []int{*locked, *unlocked} {
		w, err := hw.PulseWidth(a)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%3d° -> %s pulse\n", a, w)
	}

	// Button and indicator are unused; park them on pins no servo test needs.
	board, err := hw.OpenRPi(hw.RPiPins{Button: 21, Indicator: 17, Servo: *pin})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer board.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	move := func(a int) {
		fmt.Printf("Moving to %d°\n", a)
		if err := board.Servo.SetAngle(a); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	move(*locked)
	for i := 0; i < *cycles; i++ {
		select {
		case <-sig:
			fmt.Println("\nShutting down...")
			move(*locked)
			return
		case <-time.After(2 * time.Second):
		}
		move(*unlocked)
		time.Sleep(2 * time.Second)
		move(*locked)
	}
	fmt.Println("Done.")
}
