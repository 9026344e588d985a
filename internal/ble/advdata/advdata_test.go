package advdata

import (
	"bytes"
	"strings"
	"testing"

	uuid "github.com/satori/go.uuid"
)

var (
	testManufacturer = []byte{0x6B, 0x11, 0xD4, 0xFF, 0x69, 0x38, 0x64, 0xE4}
	testService      = uuid.Must(uuid.FromString("00f02981-52a6-8eec-7b56-ef7bfab3f5c1"))
)

func lockPayload() Payload {
	return Payload{
		Flags:            FlagGeneralDiscoverable,
		ServiceUUIDs:     []uuid.UUID{testService},
		ManufacturerData: testManufacturer,
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(lockPayload())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if len(data) != MaxPayloadBytes {
		t.Errorf("payload length = %d, want %d", len(data), MaxPayloadBytes)
	}

	p, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Flags != FlagGeneralDiscoverable {
		t.Errorf("Flags = 0x%02x, want 0x%02x", p.Flags, FlagGeneralDiscoverable)
	}
	if !bytes.Equal(p.ManufacturerData, testManufacturer) {
		t.Errorf("ManufacturerData = % x, want % x", p.ManufacturerData, testManufacturer)
	}
	if len(p.ServiceUUIDs) != 1 || !uuid.Equal(p.ServiceUUIDs[0], testService) {
		t.Errorf("ServiceUUIDs = %v, want [%v]", p.ServiceUUIDs, testService)
	}
	if p.LocalName != "" {
		t.Errorf("LocalName = %q, want empty", p.LocalName)
	}
	if p.CompanyID() != 0x116B {
		t.Errorf("CompanyID() = 0x%04x, want 0x116b", p.CompanyID())
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	a, err := Marshal(lockPayload())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	b, err := Marshal(lockPayload())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("two encodings differ:\n% x\n% x", a, b)
	}
}

func TestMarshalWireLayout(t *testing.T) {
	data, err := Marshal(lockPayload())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	// flags structure
	if !bytes.Equal(data[:3], []byte{0x02, TypeFlags, FlagGeneralDiscoverable}) {
		t.Errorf("flags structure = % x", data[:3])
	}
	// UUID list: length 17, type 0x07, then little-endian UUID
	if data[3] != 17 || data[4] != TypeComplete128UUIDs {
		t.Errorf("uuid header = % x, want 11 07", data[3:5])
	}
	wantUUID := []byte{0xC1, 0xF5, 0xB3, 0xFA, 0x7B, 0xEF, 0x56, 0x7B, 0xEC, 0x8E, 0xA6, 0x52, 0x81, 0x29, 0xF0, 0x00}
	if !bytes.Equal(data[5:21], wantUUID) {
		t.Errorf("uuid bytes = % x, want % x", data[5:21], wantUUID)
	}
	// manufacturer structure
	if data[21] != 9 || data[22] != TypeManufacturerData {
		t.Errorf("manufacturer header = % x, want 09 ff", data[21:23])
	}
	if !bytes.Equal(data[23:], testManufacturer) {
		t.Errorf("manufacturer bytes = % x", data[23:])
	}
}

func TestMarshalTooLong(t *testing.T) {
	p := lockPayload()
	p.LocalName = "BLE Door Lock"
	_, err := Marshal(p)
	if err == nil {
		t.Fatal("Marshal() should fail when payload exceeds 31 bytes")
	}
	if !strings.Contains(err.Error(), "limit") {
		t.Errorf("error = %v, want mention of limit", err)
	}
}

func TestMarshalShortManufacturer(t *testing.T) {
	_, err := Marshal(Payload{ManufacturerData: []byte{0x01}})
	if err == nil {
		t.Error("Marshal() should reject manufacturer data without company id")
	}
}

func TestMarshalLocalName(t *testing.T) {
	data, err := Marshal(Payload{Flags: FlagGeneralDiscoverable, LocalName: "lock"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.LocalName != "lock" {
		t.Errorf("LocalName = %q, want %q", p.LocalName, "lock")
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	// claims 9 bytes, only 3 follow
	_, err := Unmarshal([]byte{0x09, 0xFF, 0x6B, 0x11})
	if err == nil {
		t.Error("Unmarshal() should fail on truncated structure")
	}
}

func TestUnmarshalBadUUIDLength(t *testing.T) {
	_, err := Unmarshal([]byte{0x03, TypeComplete128UUIDs, 0x01, 0x02})
	if err == nil {
		t.Error("Unmarshal() should fail on partial 128-bit UUID")
	}
}

func TestUnmarshalSkipsUnknownAndStopsAtZeroLength(t *testing.T) {
	data := []byte{
		0x03, 0x19, 0x00, 0x00, // appearance, ignored
		0x02, TypeFlags, FlagGeneralDiscoverable,
		0x00,       // terminator
		0xAA, 0xBB, // padding after terminator
	}
	p, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Flags != FlagGeneralDiscoverable {
		t.Errorf("Flags = 0x%02x, want 0x%02x", p.Flags, FlagGeneralDiscoverable)
	}
}

func TestCompanyIDShort(t *testing.T) {
	if got := (Payload{}).CompanyID(); got != 0 {
		t.Errorf("CompanyID() = %d, want 0", got)
	}
}
