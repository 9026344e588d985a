package ble

import uuid "github.com/satori/go.uuid"

// EventKind tags each stack event variant.
type EventKind int

const (
	// GATT server events
	KindRegister EventKind = iota
	KindConnect
	KindDisconnect
	KindAttrTableCreated
	KindServiceStarted
	KindRead
	KindWrite

	// GAP events
	KindPrivacyConfigured
	KindAdvDataSet
	KindAdvStarted
	KindNumericComparison
	KindAuthComplete
)

var kindNames = map[EventKind]string{
	KindRegister:          "register",
	KindConnect:           "connect",
	KindDisconnect:        "disconnect",
	KindAttrTableCreated:  "attr table created",
	KindServiceStarted:    "service started",
	KindRead:              "read",
	KindWrite:             "write",
	KindPrivacyConfigured: "privacy configured",
	KindAdvDataSet:        "adv data set",
	KindAdvStarted:        "adv started",
	KindNumericComparison: "numeric comparison",
	KindAuthComplete:      "auth complete",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// GATTEvent is an event delivered by the stack's GATT server.
type GATTEvent interface {
	Kind() EventKind
}

// GAPEvent is an event delivered by the stack's GAP and security manager.
type GAPEvent interface {
	Kind() EventKind
}

// GATTHandler receives GATT server events on the stack's callback context.
type GATTHandler interface {
	HandleGATT(gattIf GATTIf, ev GATTEvent)
}

// GAPHandler receives GAP events on the stack's callback context.
type GAPHandler interface {
	HandleGAP(ev GAPEvent)
}

// GAPHandlers fans a GAP event out to several handlers, in order.
type GAPHandlers []GAPHandler

func (hs GAPHandlers) HandleGAP(ev GAPEvent) {
	for _, h := range hs {
		h.HandleGAP(ev)
	}
}

// RegisterEvent completes RegisterApp.
type RegisterEvent struct {
	Status Status
	AppID  uint16
}

// ConnectEvent reports a new link.
type ConnectEvent struct {
	ConnID ConnID
	Peer   Address
}

// DisconnectEvent reports a dropped link.
type DisconnectEvent struct {
	ConnID ConnID
	Peer   Address
	Reason uint8
}

// AttrTableCreatedEvent completes CreateAttrTable.
type AttrTableCreatedEvent struct {
	Status      Status
	ServiceUUID uuid.UUID
	Handles     []Handle
}

// ServiceStartedEvent completes StartService.
type ServiceStartedEvent struct {
	Status Status
	Handle Handle
}

// ReadEvent reports a peer read.
type ReadEvent struct {
	ConnID ConnID
	Handle Handle
	Offset int
}

// WriteEvent reports a peer write to a local attribute.
type WriteEvent struct {
	ConnID ConnID
	Handle Handle
	Offset int
	Value  []byte
	// Authenticated is set by stacks that enforced the attribute's
	// encryption and MITM permissions before delivering the write.
	Authenticated bool
}

// PrivacyConfiguredEvent completes ConfigLocalPrivacy.
type PrivacyConfiguredEvent struct {
	Status Status
}

// AdvDataSetEvent completes ConfigAdvData.
type AdvDataSetEvent struct {
	Status Status
}

// AdvStartedEvent completes StartAdvertising.
type AdvStartedEvent struct {
	Status Status
}

// NumericComparisonEvent asks the user to confirm that Passkey matches the
// value shown on the peer. It must be answered with exactly one ConfirmReply.
type NumericComparisonEvent struct {
	Peer    Address
	Passkey uint32
}

// AuthCompleteEvent reports the outcome of pairing.
type AuthCompleteEvent struct {
	Peer     Address
	AddrType uint8
	Success  bool
	Reason   uint8
}

func (RegisterEvent) Kind() EventKind          { return KindRegister }
func (ConnectEvent) Kind() EventKind           { return KindConnect }
func (DisconnectEvent) Kind() EventKind        { return KindDisconnect }
func (AttrTableCreatedEvent) Kind() EventKind  { return KindAttrTableCreated }
func (ServiceStartedEvent) Kind() EventKind    { return KindServiceStarted }
func (ReadEvent) Kind() EventKind              { return KindRead }
func (WriteEvent) Kind() EventKind             { return KindWrite }
func (PrivacyConfiguredEvent) Kind() EventKind { return KindPrivacyConfigured }
func (AdvDataSetEvent) Kind() EventKind        { return KindAdvDataSet }
func (AdvStartedEvent) Kind() EventKind        { return KindAdvStarted }
func (NumericComparisonEvent) Kind() EventKind { return KindNumericComparison }
func (AuthCompleteEvent) Kind() EventKind      { return KindAuthComplete }
