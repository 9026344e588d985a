//go:build linux && !tinygo

package ble

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService        = "org.bluez"
	bluezAgentInterface = "org.bluez.Agent1"
	bluezAgentManager   = "org.bluez.AgentManager1"
	bluezDevice         = "org.bluez.Device1"
	bluezRoot           = dbus.ObjectPath("/org/bluez")
	agentPath           = dbus.ObjectPath("/org/bluez/doorlock/agent")
	propertiesChanged   = "org.freedesktop.DBus.Properties.PropertiesChanged"

	// smpNumericComparisonFailed is the SMP reason reported when the
	// operator declines or lets the comparison time out.
	smpNumericComparisonFailed = 0x0C

	// agentReplyTimeout bounds how long a D-Bus call waits for ConfirmReply.
	// BlueZ cancels on its own well before this.
	agentReplyTimeout = 30 * time.Second
)

var errRejected = dbus.NewError("org.bluez.Error.Rejected", []interface{}{"rejected"})

// bluezAgent is an org.bluez.Agent1 that forwards numeric comparison to
// the GAP handler and waits for ConfirmReply. It also reports pairing
// outcomes by watching the Paired property of BlueZ devices.
type bluezAgent struct {
	conn    *dbus.Conn
	emit    func(GAPEvent)
	signals chan *dbus.Signal

	mu      sync.Mutex
	pending map[Address]chan bool
}

func newPairingAgent(emit func(GAPEvent)) (pairingAgent, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &bluezAgent{
		conn:    conn,
		emit:    emit,
		pending: make(map[Address]chan bool),
	}, nil
}

func (a *bluezAgent) Register(cap IOCap) error {
	if err := a.conn.Export(a, agentPath, bluezAgentInterface); err != nil {
		return fmt.Errorf("export agent: %w", err)
	}
	manager := a.conn.Object(bluezService, bluezRoot)
	if call := manager.Call(bluezAgentManager+".RegisterAgent", 0, agentPath, cap.String()); call.Err != nil {
		return fmt.Errorf("RegisterAgent: %w", call.Err)
	}
	if call := manager.Call(bluezAgentManager+".RequestDefaultAgent", 0, agentPath); call.Err != nil {
		return fmt.Errorf("RequestDefaultAgent: %w", call.Err)
	}

	if err := a.conn.AddMatchSignal(
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchArg(0, bluezDevice),
	); err != nil {
		return fmt.Errorf("watch device properties: %w", err)
	}
	a.signals = make(chan *dbus.Signal, 16)
	a.conn.Signal(a.signals)
	go a.watch()
	return nil
}

// watch turns Paired changes into AuthCompleteEvents until the bus
// connection closes.
func (a *bluezAgent) watch() {
	for sig := range a.signals {
		ev, ok := authEventFromSignal(sig)
		if !ok {
			continue
		}
		ev.AddrType = a.addressType(sig.Path)
		slog.Info("[BLE] agent: pairing state changed", "peer", ev.Peer, "paired", ev.Success)
		a.emit(ev)
	}
}

// addressType reads Device1.AddressType and maps it to the HCI encoding.
func (a *bluezAgent) addressType(device dbus.ObjectPath) uint8 {
	v, err := a.conn.Object(bluezService, device).GetProperty(bluezDevice + ".AddressType")
	if err != nil {
		slog.Debug("[BLE] agent: address type", "path", device, "error", err)
		return 0
	}
	if t, _ := v.Value().(string); t == "random" {
		return 1
	}
	return 0
}

// authEventFromSignal recognizes a Device1 PropertiesChanged signal that
// carries Paired.
func authEventFromSignal(sig *dbus.Signal) (AuthCompleteEvent, bool) {
	if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return AuthCompleteEvent{}, false
	}
	if iface, _ := sig.Body[0].(string); iface != bluezDevice {
		return AuthCompleteEvent{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return AuthCompleteEvent{}, false
	}
	v, ok := changed["Paired"]
	if !ok {
		return AuthCompleteEvent{}, false
	}
	paired, ok := v.Value().(bool)
	if !ok {
		return AuthCompleteEvent{}, false
	}
	peer, err := addressFromDevicePath(sig.Path)
	if err != nil {
		return AuthCompleteEvent{}, false
	}
	return AuthCompleteEvent{Peer: peer, Success: paired}, true
}

func (a *bluezAgent) Reply(addr Address, accept bool) error {
	a.mu.Lock()
	ch, ok := a.pending[addr]
	delete(a.pending, addr)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: no pending confirmation for %s", addr)
	}
	ch <- accept
	return nil
}

func (a *bluezAgent) Close() error {
	manager := a.conn.Object(bluezService, bluezRoot)
	manager.Call(bluezAgentManager+".UnregisterAgent", 0, agentPath)
	a.conn.Export(nil, agentPath, bluezAgentInterface)
	return a.conn.Close()
}

// RequestConfirmation is called by BlueZ for numeric comparison.
func (a *bluezAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	peer, err := addressFromDevicePath(device)
	if err != nil {
		slog.Error("[BLE] agent: bad device path", "path", device, "error", err)
		return errRejected
	}

	ch := make(chan bool, 1)
	a.mu.Lock()
	a.pending[peer] = ch
	a.mu.Unlock()

	a.emit(NumericComparisonEvent{Peer: peer, Passkey: passkey})

	select {
	case ok := <-ch:
		if ok {
			return nil
		}
	case <-time.After(agentReplyTimeout):
		a.mu.Lock()
		delete(a.pending, peer)
		a.mu.Unlock()
	}
	a.emit(AuthCompleteEvent{Peer: peer, Success: false, Reason: smpNumericComparisonFailed})
	return errRejected
}

// RequestAuthorization is the just-works path, which cannot give MITM
// protection.
func (a *bluezAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	slog.Warn("[BLE] agent: rejecting pairing without MITM protection", "path", device)
	return errRejected
}

func (a *bluezAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (a *bluezAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "", errRejected
}

func (a *bluezAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, errRejected
}

func (a *bluezAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	return nil
}

func (a *bluezAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

func (a *bluezAgent) Release() *dbus.Error {
	slog.Info("[BLE] agent released")
	return nil
}

func (a *bluezAgent) Cancel() *dbus.Error {
	a.mu.Lock()
	for addr, ch := range a.pending {
		delete(a.pending, addr)
		ch <- false
	}
	a.mu.Unlock()
	return nil
}

// addressFromDevicePath parses /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func addressFromDevicePath(p dbus.ObjectPath) (Address, error) {
	s := string(p)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return Address{}, fmt.Errorf("ble: not a device path: %s", s)
	}
	return ParseAddress(s[i+len("/dev_"):])
}
