// Package doorlock assembles the lock: it wires the BLE handlers, the
// confirm button, the indicator and the actuator task around two latches
// and runs the one-shot startup sequence.
package doorlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/ble-doorlock/internal/ble"
	"github.com/chaz8081/ble-doorlock/internal/hw"
	"github.com/chaz8081/ble-doorlock/internal/latch"
	"github.com/chaz8081/ble-doorlock/internal/lock"
)

// Options configures a Device.
type Options struct {
	DeviceName string
	TxPower    int8 // dBm
	Lock       lock.Options
	Pairing    ble.PairingOptions
}

// DefaultOptions returns the lock's stock settings.
func DefaultOptions() Options {
	return Options{
		DeviceName: ble.DeviceName,
		TxPower:    -9,
		Lock:       lock.DefaultOptions(),
		Pairing:    ble.DefaultPairingOptions(),
	}
}

// Device is a fully wired door lock.
type Device struct {
	stack ble.Stack
	board *hw.Board
	opts  Options

	unlock  *latch.Latch
	confirm *latch.Latch

	gatt      *ble.GATTServer
	adv       *ble.Advertiser
	confirmer *ble.Confirmer
	task      *lock.Task

	started bool
	wg      sync.WaitGroup
}

// New wires a Device. Nothing runs and no command is sent until Start.
func New(stack ble.Stack, board *hw.Board, opts Options) *Device {
	def := DefaultOptions()
	if opts.DeviceName == "" {
		opts.DeviceName = def.DeviceName
	}

	d := &Device{
		stack:   stack,
		board:   board,
		opts:    opts,
		unlock:  latch.New(),
		confirm: latch.New(),
	}

	advOpts := ble.DefaultAdvertiserOptions()
	advOpts.DeviceName = opts.DeviceName
	d.adv = ble.NewAdvertiser(stack, advOpts)
	d.gatt = ble.NewGATTServer(stack, d.unlock, d.adv)
	d.confirmer = ble.NewConfirmer(stack, board.Indicator, d.confirm, opts.Pairing)
	d.task = lock.NewTask(board.Servo, d.unlock, opts.Lock)
	return d
}

// Start runs the startup sequence and returns on the first fatal error.
// The actuator task keeps running until ctx is done; see Wait.
func (d *Device) Start(ctx context.Context) error {
	if d.started {
		return fmt.Errorf("doorlock: already started")
	}
	d.started = true

	d.board.Indicator.Set(false)
	if err := d.board.Button.Listen(d.confirm.Post); err != nil {
		return fmt.Errorf("doorlock: listen for button: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.task.Run(ctx)
	}()

	if err := d.stack.SetTxPower(d.opts.TxPower); err != nil {
		slog.Warn("[BLE] set tx power failed", "dbm", d.opts.TxPower, "error", err)
	}

	if err := d.stack.RegisterGATTHandler(d.gatt); err != nil {
		return fmt.Errorf("doorlock: register gatt handler: %w", err)
	}
	if err := d.stack.RegisterGAPHandler(ble.GAPHandlers{d.adv, d.confirmer, d.gatt}); err != nil {
		return fmt.Errorf("doorlock: register gap handler: %w", err)
	}
	if err := d.stack.RegisterApp(ble.AppID); err != nil {
		return fmt.Errorf("doorlock: register app: %w", err)
	}
	if err := d.stack.SetSecurityParams(ble.LockSecurityParams()); err != nil {
		return fmt.Errorf("doorlock: set security params: %w", err)
	}

	slog.Info("[BLE] door lock started", "name", d.opts.DeviceName, "app_id", fmt.Sprintf("0x%02x", ble.AppID))
	return nil
}

// Wait blocks until the actuator task has exited, which happens after the
// context passed to Start is done.
func (d *Device) Wait() {
	d.wg.Wait()
}

// GATT returns the GATT service state machine.
func (d *Device) GATT() *ble.GATTServer { return d.gatt }

// Advertiser returns the advertising controller.
func (d *Device) Advertiser() *ble.Advertiser { return d.adv }

// Confirmer returns the pairing confirmation coordinator.
func (d *Device) Confirmer() *ble.Confirmer { return d.confirmer }

// Task returns the actuator task.
func (d *Device) Task() *lock.Task { return d.task }
