package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/ble-doorlock/internal/ble/advdata"
)

// AdvState is the advertising lifecycle state.
type AdvState int

const (
	AdvIdle AdvState = iota
	AdvPrivacyConfiguring
	AdvDataSetting
	AdvAdvertising
	AdvConnected
	// AdvFailed is terminal for the boot.
	AdvFailed
)

func (s AdvState) String() string {
	switch s {
	case AdvIdle:
		return "idle"
	case AdvPrivacyConfiguring:
		return "privacy configuring"
	case AdvDataSetting:
		return "adv data set"
	case AdvAdvertising:
		return "advertising"
	case AdvConnected:
		return "connected"
	case AdvFailed:
		return "failed"
	default:
		return fmt.Sprintf("adv(%d)", int(s))
	}
}

// AdvertiserOptions configures what the lock advertises.
type AdvertiserOptions struct {
	DeviceName string
	Payload    advdata.Payload
	Params     AdvParams
}

// DefaultAdvertiserOptions returns the lock's fixed advertising setup.
func DefaultAdvertiserOptions() AdvertiserOptions {
	return AdvertiserOptions{
		DeviceName: DeviceName,
		Payload:    LockAdvPayload(),
		Params:     LockAdvParams(),
	}
}

// Advertiser owns the advertising lifecycle. It is driven by the GATT
// server through SessionListener and by the stack's GAP events.
type Advertiser struct {
	gap  GAPCommands
	opts AdvertiserOptions

	mu       sync.Mutex
	state    AdvState
	restarts int
}

// NewAdvertiser creates an advertiser. Zero fields in opts take the
// defaults.
func NewAdvertiser(gap GAPCommands, opts AdvertiserOptions) *Advertiser {
	def := DefaultAdvertiserOptions()
	if opts.DeviceName == "" {
		opts.DeviceName = def.DeviceName
	}
	if opts.Payload.Flags == 0 && len(opts.Payload.ManufacturerData) == 0 && len(opts.Payload.ServiceUUIDs) == 0 {
		opts.Payload = def.Payload
	}
	if opts.Params == (AdvParams{}) {
		opts.Params = def.Params
	}
	return &Advertiser{gap: gap, opts: opts}
}

// State returns the current advertising state.
func (a *Advertiser) State() AdvState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Restarts returns how many times advertising was restarted after a
// disconnect.
func (a *Advertiser) Restarts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restarts
}

// AppRegistered sets the device name and requests a resolvable private
// address. Advertising data follows once privacy is configured.
func (a *Advertiser) AppRegistered() {
	if err := a.gap.SetDeviceName(a.opts.DeviceName); err != nil {
		slog.Error("[GAP] set device name failed", "name", a.opts.DeviceName, "error", err)
	}
	a.setState(AdvPrivacyConfiguring)
	if err := a.gap.ConfigLocalPrivacy(true); err != nil {
		slog.Error("[GAP] config local privacy failed", "error", err)
		a.setState(AdvFailed)
	}
}

// PeerConnected implements SessionListener.
func (a *Advertiser) PeerConnected(peer Address) {
	a.setState(AdvConnected)
	slog.Debug("[GAP] advertising stopped by connection", "peer", peer)
}

// PeerDisconnected restarts advertising whatever the reason or the state
// of pairing.
func (a *Advertiser) PeerDisconnected(peer Address, reason uint8) {
	a.mu.Lock()
	a.restarts++
	a.mu.Unlock()
	slog.Info("[GAP] restarting advertising", "peer", peer, "reason", fmt.Sprintf("0x%02x", reason))
	a.start()
}

// HandleGAP implements GAPHandler.
func (a *Advertiser) HandleGAP(ev GAPEvent) {
	switch e := ev.(type) {
	case PrivacyConfiguredEvent:
		if e.Status != StatusOK {
			slog.Error("[GAP] config local privacy failed", "status", e.Status)
			a.setState(AdvFailed)
			return
		}
		a.setState(AdvDataSetting)
		if err := a.gap.ConfigAdvData(a.opts.Payload); err != nil {
			slog.Error("[GAP] config adv data failed", "error", err)
			a.setState(AdvFailed)
		}
	case AdvDataSetEvent:
		if e.Status != StatusOK {
			slog.Error("[GAP] set adv data failed", "status", e.Status)
			a.setState(AdvFailed)
			return
		}
		a.start()
	case AdvStartedEvent:
		if e.Status != StatusOK {
			slog.Error("[GAP] advertising start failed", "status", e.Status)
			a.setState(AdvFailed)
			return
		}
		a.setState(AdvAdvertising)
		slog.Info("[GAP] advertising", "name", a.opts.DeviceName,
			"interval_min", a.opts.Params.IntervalMin.Duration(),
			"interval_max", a.opts.Params.IntervalMax.Duration())
	}
}

func (a *Advertiser) start() {
	if err := a.gap.StartAdvertising(a.opts.Params); err != nil {
		slog.Error("[GAP] start advertising failed", "error", err)
	}
}

func (a *Advertiser) setState(st AdvState) {
	a.mu.Lock()
	a.state = st
	a.mu.Unlock()
}
