// Package advdata encodes and decodes legacy BLE advertising payloads as a
// sequence of AD structures: length, type, data.
package advdata

import (
	"errors"
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// MaxPayloadBytes is the legacy advertising (and scan response) data limit.
const MaxPayloadBytes = 31

// AD structure types used by the lock.
const (
	TypeFlags              byte = 0x01
	TypeIncomplete128UUIDs byte = 0x06
	TypeComplete128UUIDs   byte = 0x07
	TypeShortLocalName     byte = 0x08
	TypeCompleteLocalName  byte = 0x09
	TypeManufacturerData   byte = 0xFF
)

// Flags values for the TypeFlags structure.
const (
	FlagLimitedDiscoverable byte = 0x01
	FlagGeneralDiscoverable byte = 0x02
	FlagBREDRNotSupported   byte = 0x04
)

// Payload is the decoded form of an advertising payload.
type Payload struct {
	Flags byte
	// ServiceUUIDs is advertised as a complete list of 128-bit UUIDs.
	ServiceUUIDs []uuid.UUID
	// ManufacturerData is the whole manufacturer-specific field, starting
	// with the little-endian company identifier.
	ManufacturerData []byte
	// LocalName is only encoded when non-empty.
	LocalName string
}

// CompanyID returns the company identifier carried in the first two bytes
// of the manufacturer field, or 0 if the field is too short.
func (p Payload) CompanyID() uint16 {
	if len(p.ManufacturerData) < 2 {
		return 0
	}
	return uint16(p.ManufacturerData[0]) | uint16(p.ManufacturerData[1])<<8
}

// Marshal encodes p. Structures are written in a fixed order (flags, UUIDs,
// manufacturer data, name) so the same Payload always yields the same bytes.
func Marshal(p Payload) ([]byte, error) {
	var buf []byte
	if p.Flags != 0 {
		buf = appendStructure(buf, TypeFlags, []byte{p.Flags})
	}
	if len(p.ServiceUUIDs) > 0 {
		list := make([]byte, 0, 16*len(p.ServiceUUIDs))
		for _, u := range p.ServiceUUIDs {
			list = append(list, reverse(u.Bytes())...)
		}
		buf = appendStructure(buf, TypeComplete128UUIDs, list)
	}
	if len(p.ManufacturerData) > 0 {
		if len(p.ManufacturerData) < 2 {
			return nil, fmt.Errorf("advdata: manufacturer data must hold a company id, got %d bytes", len(p.ManufacturerData))
		}
		buf = appendStructure(buf, TypeManufacturerData, p.ManufacturerData)
	}
	if p.LocalName != "" {
		buf = appendStructure(buf, TypeCompleteLocalName, []byte(p.LocalName))
	}
	if len(buf) > MaxPayloadBytes {
		return nil, fmt.Errorf("advdata: payload is %d bytes, limit is %d", len(buf), MaxPayloadBytes)
	}
	return buf, nil
}

// Unmarshal decodes an advertising payload. Unknown structure types are
// skipped.
func Unmarshal(data []byte) (*Payload, error) {
	p := &Payload{}
	for len(data) > 0 {
		length := int(data[0])
		data = data[1:]
		if length == 0 {
			// Zero length terminates significant data.
			break
		}
		if len(data) < length {
			return nil, fmt.Errorf("advdata: structure length %d exceeds remaining %d bytes", length, len(data))
		}
		adType, value := data[0], data[1:length]
		data = data[length:]

		switch adType {
		case TypeFlags:
			if len(value) != 1 {
				return nil, fmt.Errorf("advdata: flags structure has %d bytes, want 1", len(value))
			}
			p.Flags = value[0]
		case TypeComplete128UUIDs, TypeIncomplete128UUIDs:
			if len(value)%16 != 0 {
				return nil, fmt.Errorf("advdata: 128-bit UUID list has %d bytes", len(value))
			}
			for i := 0; i < len(value); i += 16 {
				u, err := uuid.FromBytes(reverse(value[i : i+16]))
				if err != nil {
					return nil, fmt.Errorf("advdata: uuid: %w", err)
				}
				p.ServiceUUIDs = append(p.ServiceUUIDs, u)
			}
		case TypeManufacturerData:
			if len(value) < 2 {
				return nil, errors.New("advdata: manufacturer structure without company id")
			}
			p.ManufacturerData = append([]byte(nil), value...)
		case TypeCompleteLocalName, TypeShortLocalName:
			p.LocalName = string(value)
		}
	}
	return p, nil
}

// appendStructure appends one AD structure to buf.
func appendStructure(buf []byte, adType byte, value []byte) []byte {
	buf = append(buf, byte(len(value)+1), adType)
	return append(buf, value...)
}

// reverse returns a reversed copy of b. UUIDs travel little-endian on air.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
