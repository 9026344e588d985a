//go:build linux && !tinygo

package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

const (
	bluezAdapterPath   = dbus.ObjectPath("/org/bluez/hci0")
	bluezGATTManager   = "org.bluez.GattManager1"
	bluezGATTService   = "org.bluez.GattService1"
	bluezGATTChar      = "org.bluez.GattCharacteristic1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	gattAppPath        = dbus.ObjectPath("/org/bluez/doorlock")
	gattServicePath    = gattAppPath + "/service0"
)

var errNotPermitted = dbus.NewError("org.bluez.Error.NotPermitted", []interface{}{"not permitted"})

// bluezGATT registers the lock service as a BlueZ GATT application. BlueZ
// checks the characteristic's security flags against the link before it
// calls WriteValue.
type bluezGATT struct {
	conn    *dbus.Conn
	onWrite func(writeRequest)

	mu      sync.Mutex
	objects map[dbus.ObjectPath]prop.Map
}

func newGATTExporter(onWrite func(writeRequest)) (gattExporter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &bluezGATT{
		conn:    conn,
		onWrite: onWrite,
		objects: make(map[dbus.ObjectPath]prop.Map),
	}, nil
}

func (g *bluezGATT) Export(svc exportedService) error {
	objects := bluezObjects(svc)
	for path, props := range objects {
		if _, err := prop.Export(g.conn, path, props); err != nil {
			return fmt.Errorf("export properties of %s: %w", path, err)
		}
	}
	for i, c := range svc.Chars {
		path := gattCharPath(i)
		ch := &bluezCharacteristic{
			handle:        c.Handle,
			authenticated: c.Props&PropWrite != 0 && c.Perm&PermWriteEncMITM != 0,
			onWrite:       g.onWrite,
		}
		if err := g.conn.Export(ch, path, bluezGATTChar); err != nil {
			return fmt.Errorf("export %s: %w", path, err)
		}
	}

	g.mu.Lock()
	g.objects = objects
	g.mu.Unlock()
	if err := g.conn.Export(bluezObjectManager{g}, gattAppPath, objectManagerIface); err != nil {
		return fmt.Errorf("export object manager: %w", err)
	}

	manager := g.conn.Object(bluezService, bluezAdapterPath)
	if call := manager.Call(bluezGATTManager+".RegisterApplication", 0, gattAppPath, map[string]dbus.Variant{}); call.Err != nil {
		return fmt.Errorf("RegisterApplication: %w", call.Err)
	}
	slog.Info("[BLE] gatt application registered", "path", gattAppPath, "service", svc.UUID)
	return nil
}

func (g *bluezGATT) Close() error {
	manager := g.conn.Object(bluezService, bluezAdapterPath)
	manager.Call(bluezGATTManager+".UnregisterApplication", 0, gattAppPath)
	return g.conn.Close()
}

// bluezObjects lays out the application's D-Bus objects: one service with
// its characteristics beneath it.
func bluezObjects(svc exportedService) map[dbus.ObjectPath]prop.Map {
	objects := make(map[dbus.ObjectPath]prop.Map)
	chars := make([]dbus.ObjectPath, 0, len(svc.Chars))
	for i, c := range svc.Chars {
		path := gattCharPath(i)
		chars = append(chars, path)
		objects[path] = prop.Map{bluezGATTChar: {
			"UUID":    {Value: c.UUID.String(), Emit: prop.EmitFalse},
			"Service": {Value: gattServicePath, Emit: prop.EmitFalse},
			"Flags":   {Value: bluezFlags(c.Props, c.Perm), Emit: prop.EmitFalse},
		}}
	}
	objects[gattServicePath] = prop.Map{bluezGATTService: {
		"UUID":            {Value: svc.UUID.String(), Emit: prop.EmitFalse},
		"Primary":         {Value: true, Emit: prop.EmitFalse},
		"Characteristics": {Value: chars, Emit: prop.EmitFalse},
	}}
	return objects
}

func gattCharPath(i int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/char%d", gattServicePath, i))
}

// managedObjects renders objects in the GetManagedObjects reply shape.
func managedObjects(objects map[dbus.ObjectPath]prop.Map) map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(objects))
	for path, ifaces := range objects {
		out[path] = make(map[string]map[string]dbus.Variant, len(ifaces))
		for iface, props := range ifaces {
			vals := make(map[string]dbus.Variant, len(props))
			for name, p := range props {
				vals[name] = dbus.MakeVariant(p.Value)
			}
			out[path][iface] = vals
		}
	}
	return out
}

// bluezObjectManager serves org.freedesktop.DBus.ObjectManager for the
// application root.
type bluezObjectManager struct {
	g *bluezGATT
}

func (m bluezObjectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	m.g.mu.Lock()
	defer m.g.mu.Unlock()
	return managedObjects(m.g.objects), nil
}

// bluezCharacteristic serves org.bluez.GattCharacteristic1.
type bluezCharacteristic struct {
	handle        Handle
	authenticated bool
	onWrite       func(writeRequest)
}

func (c *bluezCharacteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return nil, errNotPermitted
}

func (c *bluezCharacteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	req := writeRequest{
		Handle:        c.handle,
		Value:         append([]byte(nil), value...),
		Authenticated: c.authenticated,
	}
	if v, ok := options["offset"]; ok {
		if off, ok := v.Value().(uint16); ok {
			req.Offset = int(off)
		}
	}
	if v, ok := options["device"]; ok {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			peer, err := addressFromDevicePath(p)
			if err != nil {
				slog.Warn("[BLE] gatt write from unknown device", "path", p, "error", err)
			}
			req.Peer = peer
		}
	}
	c.onWrite(req)
	return nil
}
