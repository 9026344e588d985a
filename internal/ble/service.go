package ble

import (
	uuid "github.com/satori/go.uuid"
)

// Permission is an attribute access permission bit set.
type Permission uint16

const (
	PermRead           Permission = 1 << 0
	PermReadEncrypted  Permission = 1 << 1
	PermReadEncMITM    Permission = 1 << 2
	PermWrite          Permission = 1 << 4
	PermWriteEncrypted Permission = 1 << 5
	PermWriteEncMITM   Permission = 1 << 6
)

// Property is a characteristic property bit set, as carried in the
// characteristic declaration value.
type Property uint8

const (
	PropBroadcast  Property = 0x01
	PropRead       Property = 0x02
	PropWriteNoRsp Property = 0x04
	PropWrite      Property = 0x08
	PropNotify     Property = 0x10
	PropIndicate   Property = 0x20
)

// Attribute is one entry of an attribute table passed to CreateAttrTable.
type Attribute struct {
	UUID uuid.UUID
	Perm Permission
	// MaxLen is the largest value the attribute may hold.
	MaxLen int
	Value  []byte
	// AutoResponse lets the stack answer reads and writes itself.
	AutoResponse bool
}

// Positions in the lock's attribute table.
const (
	IdxService = iota
	IdxCharDecl
	IdxValue

	// AttrCount is the number of handles a successful table creation yields.
	AttrCount
)

var (
	bluetoothBaseUUID = uuid.Must(uuid.FromString("00000000-0000-1000-8000-00805f9b34fb"))

	UUIDPrimaryService     = UUID16(0x2800)
	UUIDCharacteristicDecl = UUID16(0x2803)
)

// UUID16 expands a 16-bit SIG-assigned UUID against the Bluetooth base UUID.
func UUID16(short uint16) uuid.UUID {
	u := bluetoothBaseUUID
	u[2] = byte(short >> 8)
	u[3] = byte(short)
	return u
}

// Short16 returns the 16-bit form of u and whether u is a SIG-assigned
// 16-bit UUID.
func Short16(u uuid.UUID) (uint16, bool) {
	probe := u
	probe[2], probe[3] = 0, 0
	if !uuid.Equal(probe, bluetoothBaseUUID) || u[0] != 0 || u[1] != 0 {
		return 0, false
	}
	return uint16(u[2])<<8 | uint16(u[3]), true
}

// LockAttributeTable returns the lock's service: a primary service
// declaration, a characteristic declaration with the write property, and a
// one-byte value that may only be written over an encrypted, MITM-protected
// link. Values are in on-air (little-endian) byte order.
func LockAttributeTable() []Attribute {
	return []Attribute{
		IdxService: {
			UUID:         UUIDPrimaryService,
			Perm:         PermRead,
			MaxLen:       16,
			Value:        reverseBytes(serviceUUID.Bytes()),
			AutoResponse: true,
		},
		IdxCharDecl: {
			UUID:         UUIDCharacteristicDecl,
			Perm:         PermRead,
			MaxLen:       1,
			Value:        []byte{byte(PropWrite)},
			AutoResponse: true,
		},
		IdxValue: {
			UUID:         valueCharUUID,
			Perm:         PermWriteEncMITM,
			MaxLen:       1,
			Value:        []byte{0},
			AutoResponse: true,
		},
	}
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
