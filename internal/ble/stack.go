package ble

import (
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/chaz8081/ble-doorlock/internal/ble/advdata"
)

// GAPCommands is the outbound GAP and security manager API of a BLE stack.
// Every command is a non-blocking request; its outcome, where there is
// one, arrives later as a GAPEvent.
type GAPCommands interface {
	// SetDeviceName sets the GAP device name characteristic.
	SetDeviceName(name string) error
	// ConfigLocalPrivacy enables resolvable private addresses.
	// Completes with PrivacyConfiguredEvent.
	ConfigLocalPrivacy(enable bool) error
	// ConfigAdvData submits the advertising payload. Completes with AdvDataSetEvent.
	ConfigAdvData(p advdata.Payload) error
	// StartAdvertising starts advertising. Completes with AdvStartedEvent.
	StartAdvertising(params AdvParams) error
	// SetTxPower sets the advertising transmit power in dBm.
	SetTxPower(dbm int8) error
	// SetSecurityParams configures the security manager.
	SetSecurityParams(p SecurityParams) error
	// SetEncryption asks the stack to secure the link to addr.
	SetEncryption(addr Address, action SecAction) error
	// ConfirmReply answers a NumericComparisonEvent.
	ConfirmReply(addr Address, accept bool) error
	// RegisterGAPHandler installs the GAP event callback.
	RegisterGAPHandler(h GAPHandler) error
}

// GATTCommands is the outbound GATT server API of a BLE stack.
type GATTCommands interface {
	// RegisterApp registers a GATT application. Completes with RegisterEvent.
	RegisterApp(appID uint16) error
	// CreateAttrTable creates a service from table. Completes with
	// AttrTableCreatedEvent carrying one handle per attribute.
	CreateAttrTable(gattIf GATTIf, table []Attribute, instance uint8) error
	// StartService starts the service declared at handle. Completes with
	// ServiceStartedEvent.
	StartService(handle Handle) error
	// RegisterGATTHandler installs the GATT event callback.
	RegisterGATTHandler(h GATTHandler) error
}

// Stack is the full command surface of a BLE stack.
type Stack interface {
	GAPCommands
	GATTCommands
}

// AdvType is the advertising PDU type.
type AdvType uint8

const (
	AdvTypeInd           AdvType = 0x00 // connectable undirected
	AdvTypeDirectIndHigh AdvType = 0x01
	AdvTypeScanInd       AdvType = 0x02
	AdvTypeNonConnInd    AdvType = 0x03
	AdvTypeDirectIndLow  AdvType = 0x04
)

// OwnAddrType selects the address the device advertises with.
type OwnAddrType uint8

const (
	AddrTypePublic    OwnAddrType = 0x00
	AddrTypeRandom    OwnAddrType = 0x01
	AddrTypeRPAPublic OwnAddrType = 0x02
	AddrTypeRPARandom OwnAddrType = 0x03
)

// ChannelMap selects primary advertising channels.
type ChannelMap uint8

const (
	Channel37   ChannelMap = 0x01
	Channel38   ChannelMap = 0x02
	Channel39   ChannelMap = 0x04
	ChannelsAll ChannelMap = Channel37 | Channel38 | Channel39
)

// FilterPolicy restricts which scanners and initiators are served.
type FilterPolicy uint8

const (
	FilterAllowScanAnyConAny   FilterPolicy = 0x00
	FilterAllowScanWlstConAny  FilterPolicy = 0x01
	FilterAllowScanAnyConWlst  FilterPolicy = 0x02
	FilterAllowScanWlstConWlst FilterPolicy = 0x03
)

// Interval is an advertising interval in units of 0.625 ms.
type Interval uint16

// Duration converts i to a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i) * 625 * time.Microsecond
}

// AdvParams are the advertising parameters passed to StartAdvertising.
type AdvParams struct {
	IntervalMin  Interval
	IntervalMax  Interval
	Type         AdvType
	OwnAddrType  OwnAddrType
	ChannelMap   ChannelMap
	FilterPolicy FilterPolicy
}

// LockAdvParams returns the lock's fixed advertising parameters:
// 80 ms to 250 ms, connectable undirected, random address, all channels,
// any scanner and initiator.
func LockAdvParams() AdvParams {
	return AdvParams{
		IntervalMin:  0x80,
		IntervalMax:  0x190,
		Type:         AdvTypeInd,
		OwnAddrType:  AddrTypeRandom,
		ChannelMap:   ChannelsAll,
		FilterPolicy: FilterAllowScanAnyConAny,
	}
}

// LockAdvPayload returns the lock's advertising payload: general
// discoverable, the service UUID and the manufacturer field. The device
// name is not advertised and there is no scan response.
func LockAdvPayload() advdata.Payload {
	return advdata.Payload{
		Flags:            advdata.FlagGeneralDiscoverable,
		ServiceUUIDs:     []uuid.UUID{serviceUUID},
		ManufacturerData: ManufacturerData(),
	}
}
