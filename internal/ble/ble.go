// Package ble implements the door lock's BLE peripheral: the GATT service
// state machine, the advertising lifecycle and numeric-comparison pairing
// confirmation. The radio, link layer and SMP live behind the Stack
// interface; this package only reacts to its events and issues commands.
package ble

import (
	"errors"
	"fmt"
	"net"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// Door lock identity.
const (
	DeviceName        = "BLE Door Lock"
	AppID      uint16 = 0x55

	ServiceUUID   = "00f02981-52a6-8eec-7b56-ef7bfab3f5c1"
	ValueCharUUID = "01f02981-52a6-8eec-7b56-ef7bfab3f5c1"

	// CompanyID is the identifier carried in the manufacturer field.
	CompanyID uint16 = 0x116B
)

var (
	serviceUUID   = uuid.Must(uuid.FromString(ServiceUUID))
	valueCharUUID = uuid.Must(uuid.FromString(ValueCharUUID))
)

// ManufacturerData returns the fixed 8-byte manufacturer field: the
// little-endian company id followed by the lock's 6-byte tag.
func ManufacturerData() []byte {
	return []byte{0x6B, 0x11, 0xD4, 0xFF, 0x69, 0x38, 0x64, 0xE4}
}

// ErrNotSupported is returned by stacks for commands they cannot perform.
var ErrNotSupported = errors.New("ble: not supported by this stack")

// Address is a 48-bit Bluetooth device address, most significant byte first.
type Address [6]byte

// ParseAddress parses "AA:BB:CC:DD:EE:FF". Dashes and underscores are
// accepted as separators.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.NewReplacer("_", ":", "-", ":").Replace(s)
	hw, err := net.ParseMAC(s)
	if err != nil {
		return a, fmt.Errorf("ble: parse address %q: %w", s, err)
	}
	if len(hw) != len(a) {
		return a, fmt.Errorf("ble: address %q has %d bytes, want 6", s, len(hw))
	}
	copy(a[:], hw)
	return a, nil
}

func (a Address) String() string {
	return strings.ToUpper(net.HardwareAddr(a[:]).String())
}

// GATTIf identifies a registered GATT application.
type GATTIf uint8

// GATTIfNone addresses every registered application.
const GATTIfNone GATTIf = 0xFF

// ConnID identifies a link.
type ConnID uint16

// Handle is an attribute handle.
type Handle uint16

// Status is the completion status reported by stack events.
type Status uint8

const (
	StatusOK            Status = 0x00
	StatusInvalidHandle Status = 0x01
	StatusNoResources   Status = 0x80
	StatusInternalError Status = 0x81
	StatusError         Status = 0x85
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusNoResources:
		return "no resources"
	case StatusInternalError:
		return "internal error"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status 0x%02x", uint8(s))
	}
}
