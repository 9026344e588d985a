package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	uuid "github.com/satori/go.uuid"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/ble-doorlock/internal/ble/advdata"
	"github.com/chaz8081/ble-doorlock/internal/latch"
)

// firstHandle is where BluetoothStack starts numbering attributes.
const firstHandle Handle = 0x28

// pairingAgent answers pairing requests on platforms where the OS, not
// the application, owns the security manager.
type pairingAgent interface {
	Register(cap IOCap) error
	Reply(addr Address, accept bool) error
	Close() error
}

// gattExporter publishes a service through the OS GATT database, which
// then enforces attribute permissions before delivering writes.
type gattExporter interface {
	Export(svc exportedService) error
	Close() error
}

// advertisement is the part of *bluetooth.Advertisement the stack drives.
type advertisement interface {
	Configure(opts bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// exportedService is a service in the shape the OS GATT database wants:
// declarations are implicit and each value attribute carries the
// properties of its declaration.
type exportedService struct {
	UUID  uuid.UUID
	Chars []exportedChar
}

type exportedChar struct {
	UUID   uuid.UUID
	Handle Handle
	Props  Property
	Perm   Permission
	Value  []byte
}

// writeRequest is a write delivered by a gattExporter.
type writeRequest struct {
	Peer          Address
	Handle        Handle
	Offset        int
	Value         []byte
	Authenticated bool
}

type queuedEvent struct {
	gattIf GATTIf
	gatt   GATTEvent
	gap    GAPEvent
}

// BluetoothStack implements Stack on tinygo.org/x/bluetooth.
//
// The library is synchronous and has no notion of applications, attribute
// tables or privacy, so commands it cannot express are completed locally
// and their events synthesized. All events are delivered in order on a
// single dispatch goroutine, which is the callback context for handlers.
type BluetoothStack struct {
	adapter *bluetooth.Adapter

	wake *latch.Latch

	mu         sync.Mutex
	queue      []queuedEvent
	gattH      GATTHandler
	gapH       GAPHandler
	gattIf     GATTIf
	nextConnID ConnID
	nextHandle Handle
	valueChars []*bluetooth.Characteristic
	payload    *advdata.Payload
	adv        advertisement
	agent      pairingAgent
	exporter   gattExporter
	conns      map[string]ConnID

	newAdvertisement func() advertisement
	newAgent         func(emit func(GAPEvent)) (pairingAgent, error)
	newExporter      func(onWrite func(writeRequest)) (gattExporter, error)
}

// NewBluetoothStack creates a stack on the default adapter.
func NewBluetoothStack() *BluetoothStack {
	s := &BluetoothStack{
		adapter:     bluetooth.DefaultAdapter,
		wake:        latch.New(),
		gattIf:      GATTIfNone,
		nextHandle:  firstHandle,
		conns:       make(map[string]ConnID),
		newAgent:    newPairingAgent,
		newExporter: newGATTExporter,
	}
	s.newAdvertisement = func() advertisement { return s.adapter.DefaultAdvertisement() }
	return s
}

// Enable powers on the adapter and starts event dispatch. Dispatch stops
// when ctx is done.
func (s *BluetoothStack) Enable(ctx context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		s.onConnectChange(device.Address.String(), connected)
	})

	go s.dispatch(ctx)
	slog.Info("[BLE] adapter enabled")
	return nil
}

// onConnectChange turns adapter link changes into connect and disconnect
// events. key is the platform's peer identifier.
func (s *BluetoothStack) onConnectChange(key string, connected bool) {
	peer, err := ParseAddress(key)
	if err != nil {
		// Some platforms identify peers by an opaque UUID.
		slog.Debug("[BLE] peer address not a MAC", "address", key)
	}

	s.mu.Lock()
	id, known := s.conns[key]
	if connected && !known {
		s.nextConnID++
		id = s.nextConnID
		s.conns[key] = id
	}
	if !connected {
		delete(s.conns, key)
	}
	s.mu.Unlock()

	switch {
	case connected && !known:
		s.emitGATT(ConnectEvent{ConnID: id, Peer: peer})
	case !connected && known:
		s.emitGATT(DisconnectEvent{ConnID: id, Peer: peer, Reason: 0x13})
	}
}

// Close releases the pairing agent and the exported GATT application.
func (s *BluetoothStack) Close() error {
	s.mu.Lock()
	agent, exporter := s.agent, s.exporter
	s.agent, s.exporter = nil, nil
	s.mu.Unlock()

	var errs []error
	if exporter != nil {
		errs = append(errs, exporter.Close())
	}
	if agent != nil {
		errs = append(errs, agent.Close())
	}
	return errors.Join(errs...)
}

func (s *BluetoothStack) dispatch(ctx context.Context) {
	for {
		if err := s.wake.Wait(ctx); err != nil {
			return
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			q := s.queue[0]
			s.queue = s.queue[1:]
			gattH, gapH := s.gattH, s.gapH
			s.mu.Unlock()

			switch {
			case q.gatt != nil && gattH != nil:
				gattH.HandleGATT(q.gattIf, q.gatt)
			case q.gap != nil && gapH != nil:
				gapH.HandleGAP(q.gap)
			}
		}
	}
}

func (s *BluetoothStack) emitGATT(ev GATTEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, queuedEvent{gattIf: s.gattIf, gatt: ev})
	s.mu.Unlock()
	s.wake.Post()
}

func (s *BluetoothStack) emitGAP(ev GAPEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, queuedEvent{gap: ev})
	s.mu.Unlock()
	s.wake.Post()
}

func (s *BluetoothStack) RegisterGATTHandler(h GATTHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gattH = h
	return nil
}

func (s *BluetoothStack) RegisterGAPHandler(h GAPHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gapH = h
	return nil
}

// RegisterApp assigns the single application interface.
func (s *BluetoothStack) RegisterApp(appID uint16) error {
	s.mu.Lock()
	if s.gattIf != GATTIfNone {
		s.mu.Unlock()
		return fmt.Errorf("ble: app already registered")
	}
	s.gattIf = 1
	gattIf := s.gattIf
	s.queue = append(s.queue, queuedEvent{gattIf: gattIf, gatt: RegisterEvent{Status: StatusOK, AppID: appID}})
	s.mu.Unlock()
	s.wake.Post()
	return nil
}

// CreateAttrTable publishes the service. The declaration attributes are
// implicit in both the OS GATT database and the library; every other
// attribute becomes a characteristic whose properties come from the
// preceding characteristic declaration.
//
// Where the OS offers a GATT database with security flags the service is
// exported there. Otherwise it is added through the library, which has no
// notion of attribute security, and writes reach the handler unauthenticated.
func (s *BluetoothStack) CreateAttrTable(gattIf GATTIf, table []Attribute, instance uint8) error {
	svc, err := exportedServiceFrom(table)
	if err != nil {
		return err
	}

	s.mu.Lock()
	base := s.nextHandle
	s.nextHandle += Handle(len(table))
	s.mu.Unlock()

	handles := make([]Handle, len(table))
	for i := range handles {
		handles[i] = base + Handle(i)
	}
	for i := range svc.Chars {
		svc.Chars[i].Handle += base
	}

	exporter, err := s.newExporter(s.deliverWrite)
	if err != nil {
		return fmt.Errorf("ble: gatt exporter: %w", err)
	}

	status := StatusOK
	if exporter != nil {
		err = exporter.Export(svc)
		if err == nil {
			s.mu.Lock()
			s.exporter = exporter
			s.mu.Unlock()
		} else {
			exporter.Close()
		}
	} else {
		err = s.addLibraryService(svc)
	}
	if err != nil {
		slog.Error("[BLE] add service failed", "uuid", svc.UUID, "error", err)
		status = StatusError
		handles = nil
	}
	s.emitGATT(AttrTableCreatedEvent{Status: status, ServiceUUID: svc.UUID, Handles: handles})
	return nil
}

// exportedServiceFrom flattens an attribute table. Characteristic handles
// are table indexes.
func exportedServiceFrom(table []Attribute) (exportedService, error) {
	if len(table) == 0 || !uuid.Equal(table[0].UUID, UUIDPrimaryService) {
		return exportedService{}, fmt.Errorf("ble: attribute table must start with a primary service declaration")
	}
	svc := exportedService{UUID: uuid.FromBytesOrNil(reverseBytes(table[0].Value))}
	var props Property
	for i, attr := range table[1:] {
		if uuid.Equal(attr.UUID, UUIDCharacteristicDecl) {
			if len(attr.Value) > 0 {
				props = Property(attr.Value[0])
			}
			continue
		}
		svc.Chars = append(svc.Chars, exportedChar{
			UUID:   attr.UUID,
			Handle: Handle(i + 1),
			Props:  props,
			Perm:   attr.Perm,
			Value:  append([]byte(nil), attr.Value...),
		})
		props = 0
	}
	return svc, nil
}

func (s *BluetoothStack) addLibraryService(svc exportedService) error {
	svcUUID, err := bluetooth.ParseUUID(svc.UUID.String())
	if err != nil {
		return fmt.Errorf("service uuid: %w", err)
	}
	bs := &bluetooth.Service{UUID: svcUUID}
	for _, c := range svc.Chars {
		u, err := bluetooth.ParseUUID(c.UUID.String())
		if err != nil {
			return fmt.Errorf("characteristic uuid: %w", err)
		}
		if c.Perm&(PermWriteEncrypted|PermWriteEncMITM|PermReadEncrypted|PermReadEncMITM) != 0 {
			slog.Warn("[BLE] attribute security not enforced by this platform", "uuid", c.UUID)
		}
		handle := c.Handle
		char := new(bluetooth.Characteristic)
		s.mu.Lock()
		s.valueChars = append(s.valueChars, char)
		s.mu.Unlock()
		bs.Characteristics = append(bs.Characteristics, bluetooth.CharacteristicConfig{
			Handle: char,
			UUID:   u,
			Value:  c.Value,
			Flags:  permissionsFor(c.Props),
			WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
				s.emitGATT(WriteEvent{
					ConnID: ConnID(client),
					Handle: handle,
					Offset: offset,
					Value:  append([]byte(nil), value...),
				})
			},
		})
	}
	return s.adapter.AddService(bs)
}

// deliverWrite queues a write reported by the exporter.
func (s *BluetoothStack) deliverWrite(req writeRequest) {
	s.mu.Lock()
	id := s.conns[req.Peer.String()]
	s.mu.Unlock()
	s.emitGATT(WriteEvent{
		ConnID:        id,
		Handle:        req.Handle,
		Offset:        req.Offset,
		Value:         req.Value,
		Authenticated: req.Authenticated,
	})
}

// StartService completes immediately; services are live once added.
func (s *BluetoothStack) StartService(handle Handle) error {
	s.emitGATT(ServiceStartedEvent{Status: StatusOK, Handle: handle})
	return nil
}

// SetDeviceName is applied when advertising is configured.
func (s *BluetoothStack) SetDeviceName(name string) error {
	slog.Debug("[BLE] device name", "name", name)
	return nil
}

// ConfigLocalPrivacy completes immediately; address privacy is owned by
// the host controller on every platform the library supports.
func (s *BluetoothStack) ConfigLocalPrivacy(enable bool) error {
	s.emitGAP(PrivacyConfiguredEvent{Status: StatusOK})
	return nil
}

// ConfigAdvData validates and stores the payload for StartAdvertising.
func (s *BluetoothStack) ConfigAdvData(p advdata.Payload) error {
	if _, err := advdata.Marshal(p); err != nil {
		return fmt.Errorf("ble: config adv data: %w", err)
	}
	s.mu.Lock()
	s.payload = &p
	s.mu.Unlock()
	s.emitGAP(AdvDataSetEvent{Status: StatusOK})
	return nil
}

// StartAdvertising configures and (re)starts the default advertisement.
func (s *BluetoothStack) StartAdvertising(params AdvParams) error {
	s.mu.Lock()
	payload := s.payload
	s.mu.Unlock()
	if payload == nil {
		return fmt.Errorf("ble: start advertising: no advertising data configured")
	}

	opts, err := advertisementOptions(*payload, params)
	if err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}

	s.mu.Lock()
	if s.adv == nil {
		s.adv = s.newAdvertisement()
	}
	adv := s.adv
	s.mu.Unlock()

	// The library refuses to reconfigure a running advertisement, and a
	// link drop does not tell us whether the controller stopped it.
	if err := adv.Stop(); err != nil {
		slog.Debug("[BLE] stop advertising", "error", err)
	}
	if err := adv.Configure(opts); err != nil {
		s.emitGAP(AdvStartedEvent{Status: StatusError})
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	status := StatusOK
	if err := adv.Start(); err != nil {
		slog.Error("[BLE] start advertisement failed", "error", err)
		status = StatusError
	}
	s.emitGAP(AdvStartedEvent{Status: status})
	return nil
}

// SetTxPower is not exposed by the library.
func (s *BluetoothStack) SetTxPower(dbm int8) error {
	return ErrNotSupported
}

// SetSecurityParams registers a pairing agent with the requested IO
// capability. Platforms without an agent cannot offer numeric comparison
// and return ErrNotSupported.
func (s *BluetoothStack) SetSecurityParams(p SecurityParams) error {
	agent, err := s.newAgent(s.emitGAP)
	if err != nil {
		return fmt.Errorf("ble: pairing agent: %w", err)
	}
	if agent == nil {
		return fmt.Errorf("ble: numeric comparison pairing: %w", ErrNotSupported)
	}
	if err := agent.Register(p.IOCap); err != nil {
		agent.Close()
		return fmt.Errorf("ble: register pairing agent: %w", err)
	}
	s.mu.Lock()
	s.agent = agent
	s.mu.Unlock()
	slog.Info("[BLE] pairing agent registered", "io_cap", p.IOCap, "auth_req", fmt.Sprintf("0x%02x", uint8(p.AuthReq)))
	return nil
}

// SetEncryption is a no-op: the OS starts pairing when the peer touches
// an attribute that needs it.
func (s *BluetoothStack) SetEncryption(addr Address, action SecAction) error {
	slog.Debug("[BLE] encryption requested", "peer", addr, "action", action)
	return nil
}

// ConfirmReply answers the agent's outstanding confirmation for addr.
func (s *BluetoothStack) ConfirmReply(addr Address, accept bool) error {
	s.mu.Lock()
	agent := s.agent
	s.mu.Unlock()
	if agent == nil {
		return ErrNotSupported
	}
	return agent.Reply(addr, accept)
}

// Compile-time check that BluetoothStack implements Stack.
var _ Stack = (*BluetoothStack)(nil)

func advertisementOptions(p advdata.Payload, params AdvParams) (bluetooth.AdvertisementOptions, error) {
	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: advertisingType(params.Type),
		LocalName:         p.LocalName,
		Interval:          bluetooth.NewDuration(params.IntervalMin.Duration()),
	}
	for _, u := range p.ServiceUUIDs {
		bu, err := bluetooth.ParseUUID(u.String())
		if err != nil {
			return opts, err
		}
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, bu)
	}
	if len(p.ManufacturerData) >= 2 {
		opts.ManufacturerData = []bluetooth.ManufacturerDataElement{{
			CompanyID: p.CompanyID(),
			Data:      append([]byte(nil), p.ManufacturerData[2:]...),
		}}
	}
	return opts, nil
}

func advertisingType(t AdvType) bluetooth.AdvertisingType {
	switch t {
	case AdvTypeScanInd:
		return bluetooth.AdvertisingTypeScanInd
	case AdvTypeNonConnInd:
		return bluetooth.AdvertisingTypeNonConnInd
	case AdvTypeDirectIndHigh:
		return bluetooth.AdvertisingTypeDirectInd
	default:
		return bluetooth.AdvertisingTypeInd
	}
}

func permissionsFor(p Property) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if p&PropBroadcast != 0 {
		flags |= bluetooth.CharacteristicBroadcastPermission
	}
	if p&PropRead != 0 {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if p&PropWriteNoRsp != 0 {
		flags |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p&PropWrite != 0 {
		flags |= bluetooth.CharacteristicWritePermission
	}
	if p&PropNotify != 0 {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	if p&PropIndicate != 0 {
		flags |= bluetooth.CharacteristicIndicatePermission
	}
	return flags
}

// bluezFlags maps characteristic properties and attribute permissions to
// org.bluez.GattCharacteristic1 flags. Secure variants replace the plain
// read and write flags.
func bluezFlags(p Property, perm Permission) []string {
	var flags []string
	if p&PropBroadcast != 0 {
		flags = append(flags, "broadcast")
	}
	if p&PropRead != 0 {
		switch {
		case perm&PermReadEncMITM != 0:
			flags = append(flags, "encrypt-authenticated-read")
		case perm&PermReadEncrypted != 0:
			flags = append(flags, "encrypt-read")
		default:
			flags = append(flags, "read")
		}
	}
	if p&PropWriteNoRsp != 0 {
		flags = append(flags, "write-without-response")
	}
	if p&PropWrite != 0 {
		switch {
		case perm&PermWriteEncMITM != 0:
			flags = append(flags, "encrypt-authenticated-write")
		case perm&PermWriteEncrypted != 0:
			flags = append(flags, "encrypt-write")
		default:
			flags = append(flags, "write")
		}
	}
	if p&PropNotify != 0 {
		flags = append(flags, "notify")
	}
	if p&PropIndicate != 0 {
		flags = append(flags, "indicate")
	}
	return flags
}
