package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/ble-doorlock/internal/ble"
	"github.com/chaz8081/ble-doorlock/internal/config"
	"github.com/chaz8081/ble-doorlock/internal/doorlock"
	"github.com/chaz8081/ble-doorlock/internal/hw"
	"github.com/chaz8081/ble-doorlock/internal/lock"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Advertise the lock service and drive the bolt until interrupted",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("config validation: %v", err)
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: config.ParseLogLevel(cfg.LogLevel),
		})))

		printBanner(cfg)

		board, err := openBoard(cfg)
		if err != nil {
			log.Fatalf("Failed to open %s hardware: %v", cfg.Hardware.Backend, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stack := ble.NewBluetoothStack()
		if err := stack.Enable(ctx); err != nil {
			board.Close()
			log.Fatalf("Failed to enable bluetooth: %v\n\nCheck that bluetoothd is running and the adapter is powered.", err)
		}

		opts := doorlock.DefaultOptions()
		opts.DeviceName = cfg.DeviceName
		opts.TxPower = int8(cfg.Advertising.TxPower)
		opts.Lock = lock.Options{
			LockedAngle:   cfg.Lock.LockedAngle,
			UnlockedAngle: cfg.Lock.UnlockedAngle,
			Dwell:         lock.DefaultOptions().Dwell,
		}

		dev := doorlock.New(stack, board, opts)
		if err := dev.Start(ctx); err != nil {
			stack.Close()
			board.Close()
			log.Fatalf("Failed to start door lock: %v", err)
		}
		log.Println("Ready! Ctrl+C to quit.")

		<-ctx.Done()
		log.Println("Shutting down...")
		dev.Wait()
		if err := stack.Close(); err != nil {
			slog.Warn("[BLE] close failed", "error", err)
		}
		if err := board.Close(); err != nil {
			slog.Warn("[HW] close failed", "error", err)
		}
		log.Println("Goodbye!")

		if cfg.Hardware.Backend == "sim" {
			// Exit directly to avoid gohook's C cleanup crash.
			os.Exit(0)
		}
	},
}

func openBoard(cfg *config.Config) (*hw.Board, error) {
	switch cfg.Hardware.Backend {
	case "rpi":
		return hw.OpenRPi(hw.RPiPins{
			Button:    cfg.Hardware.ButtonPin,
			Indicator: cfg.Hardware.IndicatorPin,
			Servo:     cfg.Hardware.ServoPin,
		})
	case "sim":
		return hw.NewSim(cfg.Sim.ConfirmKeys), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Hardware.Backend)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== ble-doorlock ===")
	fmt.Printf("  Name:     %s\n", cfg.DeviceName)
	fmt.Printf("  Service:  %s\n", ble.ServiceUUID)
	fmt.Printf("  Hardware: %s\n", cfg.Hardware.Backend)
	if cfg.Hardware.Backend == "sim" {
		fmt.Printf("  Confirm:  %s\n", strings.Join(cfg.Sim.ConfirmKeys, "+"))
	} else {
		fmt.Printf("  Pins:     button=%d indicator=%d servo=%d\n",
			cfg.Hardware.ButtonPin, cfg.Hardware.IndicatorPin, cfg.Hardware.ServoPin)
	}
	fmt.Printf("  Bolt:     locked %d°, unlocked %d°\n", cfg.Lock.LockedAngle, cfg.Lock.UnlockedAngle)
	fmt.Printf("  TX power: %d dBm\n", cfg.Advertising.TxPower)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
