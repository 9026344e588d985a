package ble

import (
	"fmt"
	"log/slog"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/chaz8081/ble-doorlock/internal/latch"
)

// ServiceState is the lifecycle state of the lock service.
type ServiceState int

const (
	StateUnregistered ServiceState = iota
	StateRegistered
	StateAttrTableRequested
	StateServiceStarting
	StateServiceActive
	// StateFailed is terminal for the boot.
	StateFailed
)

func (s ServiceState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateAttrTableRequested:
		return "attr table requested"
	case StateServiceStarting:
		return "service starting"
	case StateServiceActive:
		return "service active"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionListener is told about application and link lifecycle changes
// seen by the GATT server. Calls arrive on the stack's callback context.
type SessionListener interface {
	AppRegistered()
	PeerConnected(peer Address)
	PeerDisconnected(peer Address, reason uint8)
}

// Connection is the context of the single modeled link.
type Connection struct {
	Peer   Address
	GATTIf GATTIf
	ConnID ConnID
	// Authenticated is set once MITM-protected pairing with Peer completes
	// on this link.
	Authenticated bool
}

// LockService is the GATT server's profile entry.
type LockService struct {
	GATTIf  GATTIf
	Handles [AttrCount]Handle
	// Value holds the last byte written. It is never interpreted.
	Value     byte
	Conn      Connection
	Connected bool
}

// GATTServer drives the lock service through registration, attribute table
// creation and start, and turns authorized writes to the value attribute
// into posts on the unlock latch. A write is authorized when the stack
// enforced the attribute's permissions itself or the link has completed
// authenticated pairing.
type GATTServer struct {
	stack    GATTCommands
	gap      GAPCommands
	unlock   *latch.Latch
	listener SessionListener

	mu      sync.Mutex
	state   ServiceState
	service LockService
}

// NewGATTServer creates a GATT server for the lock service. listener may
// be nil.
func NewGATTServer(stack Stack, unlock *latch.Latch, listener SessionListener) *GATTServer {
	return &GATTServer{
		stack:    stack,
		gap:      stack,
		unlock:   unlock,
		listener: listener,
		service:  LockService{GATTIf: GATTIfNone},
	}
}

// State returns the current service state.
func (s *GATTServer) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Service returns a copy of the profile entry.
func (s *GATTServer) Service() LockService {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

// HandleGATT implements GATTHandler.
func (s *GATTServer) HandleGATT(gattIf GATTIf, ev GATTEvent) {
	if reg, ok := ev.(RegisterEvent); ok {
		s.onRegister(gattIf, reg)
		return
	}

	s.mu.Lock()
	own := s.service.GATTIf
	s.mu.Unlock()
	if gattIf != GATTIfNone && gattIf != own {
		return
	}

	switch e := ev.(type) {
	case AttrTableCreatedEvent:
		s.onAttrTableCreated(e)
	case ServiceStartedEvent:
		s.onServiceStarted(e)
	case ConnectEvent:
		s.onConnect(gattIf, e)
	case DisconnectEvent:
		s.onDisconnect(e)
	case ReadEvent:
		slog.Debug("[GATT] read", "conn_id", e.ConnID, "handle", e.Handle, "offset", e.Offset)
	case WriteEvent:
		s.onWrite(e)
	default:
		slog.Debug("[GATT] unhandled event", "kind", ev.Kind())
	}
}

func (s *GATTServer) onRegister(gattIf GATTIf, e RegisterEvent) {
	if e.AppID != AppID {
		return
	}
	if e.Status != StatusOK {
		slog.Error("[GATT] register app failed", "app_id", e.AppID, "status", e.Status)
		s.setState(StateFailed)
		return
	}

	s.mu.Lock()
	if s.state != StateUnregistered {
		s.mu.Unlock()
		slog.Warn("[GATT] duplicate register event ignored", "gatt_if", gattIf)
		return
	}
	s.service.GATTIf = gattIf
	s.state = StateRegistered
	s.mu.Unlock()
	slog.Info("[GATT] app registered", "app_id", e.AppID, "gatt_if", gattIf)

	if s.listener != nil {
		s.listener.AppRegistered()
	}

	if err := s.stack.CreateAttrTable(gattIf, LockAttributeTable(), 0); err != nil {
		slog.Error("[GATT] create attribute table failed", "error", err)
		s.setState(StateFailed)
		return
	}
	s.setState(StateAttrTableRequested)
}

func (s *GATTServer) onAttrTableCreated(e AttrTableCreatedEvent) {
	if !uuid.Equal(e.ServiceUUID, uuid.Nil) && !uuid.Equal(e.ServiceUUID, serviceUUID) {
		slog.Warn("[GATT] attribute table for another service ignored", "uuid", e.ServiceUUID)
		return
	}
	if s.State() != StateAttrTableRequested {
		slog.Warn("[GATT] unexpected attribute table event", "state", s.State())
		return
	}
	if e.Status != StatusOK {
		slog.Error("[GATT] create attribute table failed", "status", e.Status)
		s.setState(StateFailed)
		return
	}
	if len(e.Handles) != AttrCount {
		slog.Error("[GATT] attribute table created abnormally",
			"handles", len(e.Handles), "want", AttrCount)
		s.setState(StateFailed)
		return
	}

	s.mu.Lock()
	copy(s.service.Handles[:], e.Handles)
	first := s.service.Handles[IdxService]
	s.state = StateServiceStarting
	s.mu.Unlock()
	slog.Info("[GATT] attribute table created", "handles", e.Handles)

	if err := s.stack.StartService(first); err != nil {
		slog.Error("[GATT] start service failed", "handle", first, "error", err)
		s.setState(StateFailed)
	}
}

func (s *GATTServer) onServiceStarted(e ServiceStartedEvent) {
	if s.State() != StateServiceStarting {
		return
	}
	if e.Status != StatusOK {
		slog.Error("[GATT] service start failed", "handle", e.Handle, "status", e.Status)
		s.setState(StateFailed)
		return
	}
	s.setState(StateServiceActive)
	slog.Info("[GATT] service active", "handle", e.Handle)
}

func (s *GATTServer) onConnect(gattIf GATTIf, e ConnectEvent) {
	s.mu.Lock()
	if s.service.Connected {
		slog.Warn("[GATT] replacing existing connection", "peer", s.service.Conn.Peer)
	}
	s.service.Conn = Connection{Peer: e.Peer, GATTIf: gattIf, ConnID: e.ConnID}
	s.service.Connected = true
	s.mu.Unlock()
	slog.Info("[GATT] connected", "peer", e.Peer, "conn_id", e.ConnID)

	if err := s.gap.SetEncryption(e.Peer, SecEncryptMITM); err != nil {
		slog.Error("[GATT] request encryption failed", "peer", e.Peer, "error", err)
	}
	if s.listener != nil {
		s.listener.PeerConnected(e.Peer)
	}
}

func (s *GATTServer) onDisconnect(e DisconnectEvent) {
	s.mu.Lock()
	s.service.Conn = Connection{}
	s.service.Connected = false
	s.mu.Unlock()
	slog.Info("[GATT] disconnected", "peer", e.Peer, "reason", fmt.Sprintf("0x%02x", e.Reason))

	if s.listener != nil {
		s.listener.PeerDisconnected(e.Peer, e.Reason)
	}
}

func (s *GATTServer) onWrite(e WriteEvent) {
	s.mu.Lock()
	if s.state != StateServiceActive || e.Handle != s.service.Handles[IdxValue] {
		state := s.state
		s.mu.Unlock()
		slog.Warn("[GATT] write ignored", "handle", e.Handle, "state", state)
		return
	}
	if !e.Authenticated && !(s.service.Connected && s.service.Conn.Authenticated) {
		peer := s.service.Conn.Peer
		s.mu.Unlock()
		slog.Warn("[GATT] unauthenticated write dropped", "conn_id", e.ConnID, "peer", peer)
		return
	}
	if len(e.Value) > 0 {
		s.service.Value = e.Value[0]
	}
	s.mu.Unlock()

	s.unlock.Post()
	slog.Info("[GATT] unlock requested", "conn_id", e.ConnID, "len", len(e.Value))
}

// HandleGAP implements GAPHandler. It tracks the pairing outcome of the
// connected peer.
func (s *GATTServer) HandleGAP(ev GAPEvent) {
	e, ok := ev.(AuthCompleteEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.service.Connected || s.service.Conn.Peer != e.Peer {
		slog.Debug("[GATT] auth complete for unknown peer", "peer", e.Peer)
		return
	}
	s.service.Conn.Authenticated = e.Success
	slog.Info("[GATT] link authentication", "peer", e.Peer, "authenticated", e.Success)
}

func (s *GATTServer) setState(st ServiceState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
