package ble

import (
	"errors"
	"testing"

	uuid "github.com/satori/go.uuid"

	"github.com/chaz8081/ble-doorlock/internal/latch"
)

const testGATTIf GATTIf = 3

var testPeer = Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

// activeServer walks a GATT server through registration to ServiceActive
// and connects testPeer over a link that has completed pairing.
func activeServer(t *testing.T) (*GATTServer, *mockStack, *latch.Latch, []Handle) {
	t.Helper()
	srv, stack, unlock, handles := startedServer(t)
	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 1, Peer: testPeer})
	srv.HandleGAP(AuthCompleteEvent{Peer: testPeer, Success: true})
	return srv, stack, unlock, handles
}

// startedServer walks a GATT server through registration to ServiceActive
// with no peer connected.
func startedServer(t *testing.T) (*GATTServer, *mockStack, *latch.Latch, []Handle) {
	t.Helper()
	stack := newMockStack()
	unlock := latch.New()
	srv := NewGATTServer(stack, unlock, nil)

	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})
	handles := []Handle{0x28, 0x29, 0x2A}
	srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, ServiceUUID: serviceUUID, Handles: handles})
	srv.HandleGATT(testGATTIf, ServiceStartedEvent{Status: StatusOK, Handle: handles[0]})
	if got := srv.State(); got != StateServiceActive {
		t.Fatalf("State() = %v, want %v", got, StateServiceActive)
	}
	return srv, stack, unlock, handles
}

func TestGATTServerLifecycle(t *testing.T) {
	stack := newMockStack()
	unlock := latch.New()
	listener := &mockListener{}
	srv := NewGATTServer(stack, unlock, listener)

	if got := srv.State(); got != StateUnregistered {
		t.Fatalf("initial State() = %v, want %v", got, StateUnregistered)
	}

	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})
	if got := srv.State(); got != StateAttrTableRequested {
		t.Fatalf("State() after register = %v, want %v", got, StateAttrTableRequested)
	}
	if listener.registered != 1 {
		t.Errorf("AppRegistered calls = %d, want 1", listener.registered)
	}
	if len(stack.tables) != 1 {
		t.Fatalf("CreateAttrTable calls = %d, want 1", len(stack.tables))
	}
	if stack.tableIfs[0] != testGATTIf {
		t.Errorf("CreateAttrTable gattIf = %d, want %d", stack.tableIfs[0], testGATTIf)
	}
	if len(stack.tables[0]) != AttrCount {
		t.Errorf("table size = %d, want %d", len(stack.tables[0]), AttrCount)
	}
	if got := srv.Service().GATTIf; got != testGATTIf {
		t.Errorf("Service().GATTIf = %d, want %d", got, testGATTIf)
	}

	handles := []Handle{0x28, 0x29, 0x2A}
	srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, ServiceUUID: serviceUUID, Handles: handles})
	if got := srv.State(); got != StateServiceStarting {
		t.Fatalf("State() after table = %v, want %v", got, StateServiceStarting)
	}
	if len(stack.started) != 1 || stack.started[0] != handles[IdxService] {
		t.Fatalf("StartService calls = %v, want [%#x]", stack.started, handles[IdxService])
	}

	srv.HandleGATT(testGATTIf, ServiceStartedEvent{Status: StatusOK, Handle: handles[0]})
	if got := srv.State(); got != StateServiceActive {
		t.Fatalf("State() after start = %v, want %v", got, StateServiceActive)
	}
	if got := srv.Service().Handles; got != [AttrCount]Handle{0x28, 0x29, 0x2A} {
		t.Errorf("Service().Handles = %v", got)
	}

	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 1, Handle: handles[IdxValue], Value: []byte{1}, Authenticated: true})
	if !unlock.Pending() {
		t.Error("write to value attribute did not post unlock")
	}
}

func TestGATTServerAttrTableWrongCount(t *testing.T) {
	for _, n := range []int{0, 2, 4} {
		stack := newMockStack()
		unlock := latch.New()
		srv := NewGATTServer(stack, unlock, nil)
		srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})

		handles := make([]Handle, n)
		for i := range handles {
			handles[i] = Handle(0x28 + i)
		}
		srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, Handles: handles})

		if got := srv.State(); got != StateFailed {
			t.Errorf("%d handles: State() = %v, want %v", n, got, StateFailed)
		}
		if stack.count("StartService") != 0 {
			t.Errorf("%d handles: StartService was called", n)
		}

		// Writes never reach the latch on a failed service.
		srv.HandleGATT(testGATTIf, WriteEvent{Handle: 0x2A, Value: []byte{1}})
		if unlock.Pending() {
			t.Errorf("%d handles: write posted unlock on failed service", n)
		}
	}
}

func TestGATTServerForeignAttrTableIgnored(t *testing.T) {
	other := uuid.Must(uuid.FromString("0000180d-0000-1000-8000-00805f9b34fb"))
	for _, e := range []AttrTableCreatedEvent{
		{Status: StatusNoResources, ServiceUUID: other, Handles: []Handle{1, 2, 3}},
		{Status: StatusOK, ServiceUUID: other, Handles: []Handle{1, 2}},
	} {
		stack := newMockStack()
		srv := NewGATTServer(stack, latch.New(), nil)
		srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})

		srv.HandleGATT(testGATTIf, e)
		if got := srv.State(); got != StateAttrTableRequested {
			t.Errorf("status %v, %d handles: State() = %v, want %v", e.Status, len(e.Handles), got, StateAttrTableRequested)
		}

		// The lock's own table still completes afterwards.
		srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, ServiceUUID: serviceUUID, Handles: []Handle{0x28, 0x29, 0x2A}})
		if got := srv.State(); got != StateServiceStarting {
			t.Errorf("State() after own table = %v, want %v", got, StateServiceStarting)
		}
	}
}

func TestGATTServerAttrTableBadStatus(t *testing.T) {
	stack := newMockStack()
	srv := NewGATTServer(stack, latch.New(), nil)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})
	srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusNoResources, Handles: []Handle{1, 2, 3}})

	if got := srv.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}
	if stack.count("StartService") != 0 {
		t.Error("StartService was called after failed table creation")
	}

	// No retry: a later good event does not revive the service.
	srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, Handles: []Handle{1, 2, 3}})
	if got := srv.State(); got != StateFailed {
		t.Errorf("State() after late event = %v, want %v", got, StateFailed)
	}
}

func TestGATTServerRegisterFailure(t *testing.T) {
	stack := newMockStack()
	listener := &mockListener{}
	srv := NewGATTServer(stack, latch.New(), listener)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusError, AppID: AppID})

	if got := srv.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}
	if stack.count("CreateAttrTable") != 0 {
		t.Error("CreateAttrTable called after failed registration")
	}
	if listener.registered != 0 {
		t.Error("AppRegistered called after failed registration")
	}
}

func TestGATTServerCreateAttrTableCommandError(t *testing.T) {
	stack := newMockStack()
	stack.failOn("CreateAttrTable", errors.New("no memory"))
	srv := NewGATTServer(stack, latch.New(), nil)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})

	if got := srv.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}
}

func TestGATTServerServiceStartFailure(t *testing.T) {
	stack := newMockStack()
	srv := NewGATTServer(stack, latch.New(), nil)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})
	srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, Handles: []Handle{1, 2, 3}})
	srv.HandleGATT(testGATTIf, ServiceStartedEvent{Status: StatusError, Handle: 1})

	if got := srv.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}
}

func TestGATTServerIgnoresOtherApp(t *testing.T) {
	stack := newMockStack()
	srv := NewGATTServer(stack, latch.New(), nil)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID + 1})

	if got := srv.State(); got != StateUnregistered {
		t.Errorf("State() = %v, want %v", got, StateUnregistered)
	}
	if stack.count("CreateAttrTable") != 0 {
		t.Error("CreateAttrTable called for another app")
	}
}

func TestGATTServerIgnoresAttrTableForOtherService(t *testing.T) {
	stack := newMockStack()
	srv := NewGATTServer(stack, latch.New(), nil)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})

	other := uuid.Must(uuid.FromString("0000180d-0000-1000-8000-00805f9b34fb"))
	srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, ServiceUUID: other, Handles: []Handle{1, 2, 3}})
	if got := srv.State(); got != StateAttrTableRequested {
		t.Errorf("State() = %v, want %v", got, StateAttrTableRequested)
	}
}

func TestGATTServerFiltersInterface(t *testing.T) {
	srv, _, unlock, handles := activeServer(t)

	srv.HandleGATT(testGATTIf+1, WriteEvent{Handle: handles[IdxValue], Value: []byte{1}})
	if unlock.Pending() {
		t.Error("write for another interface posted unlock")
	}

	srv.HandleGATT(GATTIfNone, WriteEvent{Handle: handles[IdxValue], Value: []byte{1}})
	if !unlock.Pending() {
		t.Error("write addressed to all interfaces did not post unlock")
	}
}

func TestGATTServerConnectRequestsEncryption(t *testing.T) {
	stack := newMockStack()
	listener := &mockListener{}
	srv := NewGATTServer(stack, latch.New(), listener)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})

	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 7, Peer: testPeer})

	if len(stack.encryption) != 1 || stack.encryption[0] != testPeer {
		t.Fatalf("SetEncryption peers = %v, want [%v]", stack.encryption, testPeer)
	}
	if stack.secActions[0] != SecEncryptMITM {
		t.Errorf("SetEncryption action = %d, want %d", stack.secActions[0], SecEncryptMITM)
	}
	svc := srv.Service()
	if !svc.Connected {
		t.Fatal("Service().Connected = false after connect")
	}
	want := Connection{Peer: testPeer, GATTIf: testGATTIf, ConnID: 7}
	if svc.Conn != want {
		t.Errorf("Service().Conn = %+v, want %+v", svc.Conn, want)
	}
	if len(listener.connected) != 1 || listener.connected[0] != testPeer {
		t.Errorf("PeerConnected calls = %v", listener.connected)
	}
}

func TestGATTServerConnectEncryptionErrorIsLogged(t *testing.T) {
	stack := newMockStack()
	stack.failOn("SetEncryption", errors.New("busy"))
	listener := &mockListener{}
	srv := NewGATTServer(stack, latch.New(), listener)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})

	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 1, Peer: testPeer})
	if !srv.Service().Connected {
		t.Error("connection not recorded when encryption request fails")
	}
	if len(listener.connected) != 1 {
		t.Error("listener not told about connection")
	}
}

func TestGATTServerDisconnect(t *testing.T) {
	stack := newMockStack()
	listener := &mockListener{}
	srv := NewGATTServer(stack, latch.New(), listener)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})
	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 1, Peer: testPeer})

	srv.HandleGATT(testGATTIf, DisconnectEvent{ConnID: 1, Peer: testPeer, Reason: 0x13})

	svc := srv.Service()
	if svc.Connected {
		t.Error("Service().Connected = true after disconnect")
	}
	if svc.Conn != (Connection{}) {
		t.Errorf("Service().Conn = %+v, want zero", svc.Conn)
	}
	if len(listener.disconnected) != 1 || listener.disconnectWhy[0] != 0x13 {
		t.Errorf("PeerDisconnected calls = %v reasons %v", listener.disconnected, listener.disconnectWhy)
	}
}

func TestGATTServerUnauthenticatedWriteDropped(t *testing.T) {
	srv, _, unlock, handles := startedServer(t)

	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 1, Handle: handles[IdxValue], Value: []byte{1}})
	if unlock.Pending() {
		t.Error("write without a connection posted unlock")
	}

	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 1, Peer: testPeer})
	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 1, Handle: handles[IdxValue], Value: []byte{1}})
	if unlock.Pending() {
		t.Error("write before pairing posted unlock")
	}
	if got := srv.Service().Value; got != 0 {
		t.Errorf("Service().Value = %#x after dropped write, want 0", got)
	}
}

func TestGATTServerWriteAfterPairingUnlocks(t *testing.T) {
	srv, _, unlock, handles := startedServer(t)
	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 1, Peer: testPeer})
	srv.HandleGAP(AuthCompleteEvent{Peer: testPeer, Success: true})

	if !srv.Service().Conn.Authenticated {
		t.Fatal("Service().Conn.Authenticated = false after pairing")
	}
	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 1, Handle: handles[IdxValue], Value: []byte{1}})
	if !unlock.Pending() {
		t.Error("write after pairing did not post unlock")
	}
}

func TestGATTServerAuthForOtherPeerIgnored(t *testing.T) {
	srv, _, unlock, handles := startedServer(t)
	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 1, Peer: testPeer})
	srv.HandleGAP(AuthCompleteEvent{Peer: Address{1, 2, 3, 4, 5, 6}, Success: true})

	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 1, Handle: handles[IdxValue], Value: []byte{1}})
	if unlock.Pending() {
		t.Error("pairing of another peer authorized the write")
	}
}

func TestGATTServerFailedAuthRevokes(t *testing.T) {
	srv, _, unlock, handles := activeServer(t)
	srv.HandleGAP(AuthCompleteEvent{Peer: testPeer, Success: false, Reason: 0x05})

	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 1, Handle: handles[IdxValue], Value: []byte{1}})
	if unlock.Pending() {
		t.Error("write after failed pairing posted unlock")
	}
}

func TestGATTServerDisconnectClearsAuthentication(t *testing.T) {
	srv, _, unlock, handles := activeServer(t)
	srv.HandleGATT(testGATTIf, DisconnectEvent{ConnID: 1, Peer: testPeer, Reason: 0x13})
	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 2, Peer: testPeer})

	if srv.Service().Conn.Authenticated {
		t.Fatal("new link inherited authentication")
	}
	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 2, Handle: handles[IdxValue], Value: []byte{1}})
	if unlock.Pending() {
		t.Error("write on new unpaired link posted unlock")
	}
}

func TestGATTServerStackAuthenticatedWrite(t *testing.T) {
	srv, _, unlock, handles := startedServer(t)

	srv.HandleGATT(testGATTIf, WriteEvent{ConnID: 4, Handle: handles[IdxValue], Value: []byte{1}, Authenticated: true})
	if !unlock.Pending() {
		t.Error("write checked by the stack did not post unlock")
	}
}

func TestGATTServerIgnoresOtherGAPEvents(t *testing.T) {
	srv, _, _, _ := startedServer(t)
	srv.HandleGATT(testGATTIf, ConnectEvent{ConnID: 1, Peer: testPeer})
	before := srv.Service()

	srv.HandleGAP(NumericComparisonEvent{Peer: testPeer, Passkey: 123456})
	srv.HandleGAP(AdvStartedEvent{Status: StatusOK})
	if srv.Service() != before {
		t.Error("non-auth GAP events changed service context")
	}
}

func TestGATTServerWritesCoalesce(t *testing.T) {
	srv, _, unlock, handles := activeServer(t)

	for i := 0; i < 3; i++ {
		srv.HandleGATT(testGATTIf, WriteEvent{Handle: handles[IdxValue], Value: []byte{byte(i)}})
	}
	if !unlock.Drain() {
		t.Fatal("unlock not pending after writes")
	}
	if unlock.Drain() {
		t.Error("three writes produced more than one pending wake")
	}
}

func TestGATTServerAnyContentUnlocks(t *testing.T) {
	for _, value := range [][]byte{{0x00}, {0xFF}, {0x42, 0x43}, {}} {
		srv, _, unlock, handles := activeServer(t)
		srv.HandleGATT(testGATTIf, WriteEvent{Handle: handles[IdxValue], Value: value})
		if !unlock.Pending() {
			t.Errorf("write %x did not post unlock", value)
		}
	}
}

func TestGATTServerStoresValue(t *testing.T) {
	srv, _, _, handles := activeServer(t)
	srv.HandleGATT(testGATTIf, WriteEvent{Handle: handles[IdxValue], Value: []byte{0x5A}})
	if got := srv.Service().Value; got != 0x5A {
		t.Errorf("Service().Value = %#x, want 0x5a", got)
	}
}

func TestGATTServerWriteOtherHandleIgnored(t *testing.T) {
	srv, _, unlock, handles := activeServer(t)
	srv.HandleGATT(testGATTIf, WriteEvent{Handle: handles[IdxCharDecl], Value: []byte{1}})
	if unlock.Pending() {
		t.Error("write to declaration posted unlock")
	}
}

func TestGATTServerWriteBeforeActiveIgnored(t *testing.T) {
	stack := newMockStack()
	unlock := latch.New()
	srv := NewGATTServer(stack, unlock, nil)
	srv.HandleGATT(testGATTIf, RegisterEvent{Status: StatusOK, AppID: AppID})
	srv.HandleGATT(testGATTIf, AttrTableCreatedEvent{Status: StatusOK, Handles: []Handle{1, 2, 3}})

	srv.HandleGATT(testGATTIf, WriteEvent{Handle: 3, Value: []byte{1}})
	if unlock.Pending() {
		t.Error("write posted unlock before service started")
	}
}

func TestGATTServerReadChangesNothing(t *testing.T) {
	srv, _, unlock, handles := activeServer(t)
	before := srv.Service()
	srv.HandleGATT(testGATTIf, ReadEvent{ConnID: 1, Handle: handles[IdxValue]})
	if srv.Service() != before {
		t.Error("read changed service context")
	}
	if srv.State() != StateServiceActive {
		t.Error("read changed state")
	}
	if unlock.Pending() {
		t.Error("read posted unlock")
	}
}

func TestLockAttributeTable(t *testing.T) {
	table := LockAttributeTable()
	if len(table) != AttrCount {
		t.Fatalf("len = %d, want %d", len(table), AttrCount)
	}
	if !uuid.Equal(table[IdxService].UUID, UUIDPrimaryService) {
		t.Errorf("service declaration UUID = %v", table[IdxService].UUID)
	}
	want := []byte{0xC1, 0xF5, 0xB3, 0xFA, 0x7B, 0xEF, 0x56, 0x7B, 0xEC, 0x8E, 0xA6, 0x52, 0x81, 0x29, 0xF0, 0x00}
	if string(table[IdxService].Value) != string(want) {
		t.Errorf("service declaration value = % X, want % X", table[IdxService].Value, want)
	}
	if table[IdxCharDecl].Value[0] != byte(PropWrite) {
		t.Errorf("characteristic properties = %#x, want write only", table[IdxCharDecl].Value[0])
	}
	val := table[IdxValue]
	if val.UUID.String() != ValueCharUUID {
		t.Errorf("value UUID = %v, want %s", val.UUID, ValueCharUUID)
	}
	if val.Perm != PermWriteEncMITM {
		t.Errorf("value permission = %#x, want encrypted MITM write only", val.Perm)
	}
	if val.MaxLen != 1 || len(val.Value) != 1 {
		t.Errorf("value size = %d/%d, want 1", val.MaxLen, len(val.Value))
	}
}

func TestServiceStateString(t *testing.T) {
	if got := StateServiceActive.String(); got != "service active" {
		t.Errorf("String() = %q", got)
	}
	if got := ServiceState(99).String(); got != "state(99)" {
		t.Errorf("String() = %q", got)
	}
}
