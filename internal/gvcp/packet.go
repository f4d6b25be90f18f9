package gvcp

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 8-byte GVCP packet header. All fields are big-endian
// on the wire.
type Header struct {
	PacketType uint8
	PacketFlags uint8
	Command    uint16
	DataLength uint16
	PacketID   uint16
}

// ErrTooShort is returned when a datagram is shorter than the header, or a
// command-specific payload is shorter than required.
var ErrTooShort = fmt.Errorf("gvcp: packet too short")

// ErrDataLengthMismatch is returned when the header's DataLength field
// claims more bytes than were actually received.
var ErrDataLengthMismatch = fmt.Errorf("gvcp: data length exceeds datagram size")

// ParseHeader decodes the first 8 bytes of buf into a Header. buf must be at
// least HeaderSize bytes and DataLength must not exceed the remainder.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTooShort
	}

	h := Header{
		PacketType:  buf[0],
		PacketFlags: buf[1],
		Command:     binary.BigEndian.Uint16(buf[2:4]),
		DataLength:  binary.BigEndian.Uint16(buf[4:6]),
		PacketID:    binary.BigEndian.Uint16(buf[6:8]),
	}

	if int(h.DataLength) > len(buf)-HeaderSize {
		return Header{}, ErrDataLengthMismatch
	}

	return h, nil
}

// Payload returns the command-specific payload bytes following the header,
// trimmed to DataLength.
func (h Header) Payload(buf []byte) []byte {
	end := HeaderSize + int(h.DataLength)
	if end > len(buf) {
		end = len(buf)
	}
	return buf[HeaderSize:end]
}

func putHeader(buf []byte, packetType uint8, command uint16, dataLength uint16, packetID uint16) {
	buf[0] = packetType
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], command)
	binary.BigEndian.PutUint16(buf[4:6], dataLength)
	binary.BigEndian.PutUint16(buf[6:8], packetID)
}

// ReadMemoryCmdInfos is the decoded payload of a READ_MEMORY_CMD.
type ReadMemoryCmdInfos struct {
	BlockAddress uint32
	BlockSize    uint32
}

// ParseReadMemoryCmd decodes a READ_MEMORY_CMD payload: {address u32, size u32}.
func ParseReadMemoryCmd(payload []byte) (ReadMemoryCmdInfos, error) {
	if len(payload) < 8 {
		return ReadMemoryCmdInfos{}, ErrTooShort
	}
	return ReadMemoryCmdInfos{
		BlockAddress: binary.BigEndian.Uint32(payload[0:4]),
		BlockSize:    binary.BigEndian.Uint32(payload[4:8]),
	}, nil
}

// WriteMemoryCmdInfos is the decoded payload of a WRITE_MEMORY_CMD.
type WriteMemoryCmdInfos struct {
	BlockAddress uint32
	Data         []byte
}

// ParseWriteMemoryCmd decodes a WRITE_MEMORY_CMD payload: {address u32, data...}.
func ParseWriteMemoryCmd(payload []byte) (WriteMemoryCmdInfos, error) {
	if len(payload) < 4 {
		return WriteMemoryCmdInfos{}, ErrTooShort
	}
	return WriteMemoryCmdInfos{
		BlockAddress: binary.BigEndian.Uint32(payload[0:4]),
		Data:         payload[4:],
	}, nil
}

// ParseReadRegisterCmd decodes a READ_REGISTER_CMD payload: {address u32}.
func ParseReadRegisterCmd(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, ErrTooShort
	}
	return binary.BigEndian.Uint32(payload[0:4]), nil
}

// WriteRegisterCmdInfos is the decoded payload of a WRITE_REGISTER_CMD.
type WriteRegisterCmdInfos struct {
	RegisterAddress uint32
	Value           uint32
}

// ParseWriteRegisterCmd decodes a WRITE_REGISTER_CMD payload: {address u32, value u32}.
func ParseWriteRegisterCmd(payload []byte) (WriteRegisterCmdInfos, error) {
	if len(payload) < 8 {
		return WriteRegisterCmdInfos{}, ErrTooShort
	}
	return WriteRegisterCmdInfos{
		RegisterAddress: binary.BigEndian.Uint32(payload[0:4]),
		Value:           binary.BigEndian.Uint32(payload[4:8]),
	}, nil
}

// NewDiscoveryAck builds a DISCOVERY_ACK packet carrying data as its payload.
func NewDiscoveryAck(packetID uint16, data []byte) []byte {
	buf := make([]byte, HeaderSize+len(data))
	putHeader(buf, PacketTypeAck, CommandDiscoveryAck, uint16(len(data)), packetID)
	copy(buf[HeaderSize:], data)
	return buf
}

// NewReadMemoryAck builds a READ_MEMORY_ACK packet: {address u32, data...}.
func NewReadMemoryAck(blockAddress uint32, packetID uint16, data []byte) []byte {
	payloadLen := 4 + len(data)
	buf := make([]byte, HeaderSize+payloadLen)
	putHeader(buf, PacketTypeAck, CommandReadMemoryAck, uint16(payloadLen), packetID)
	binary.BigEndian.PutUint32(buf[HeaderSize:HeaderSize+4], blockAddress)
	copy(buf[HeaderSize+4:], data)
	return buf
}

// ReadMemoryAckData returns the mutable data slice of a READ_MEMORY_ACK
// packet built by NewReadMemoryAck, so callers can fill it in place.
func ReadMemoryAckData(ack []byte) []byte {
	return ack[HeaderSize+4:]
}

// NewWriteMemoryAck builds a WRITE_MEMORY_ACK packet: {address u32}.
func NewWriteMemoryAck(blockAddress uint32, packetID uint16) []byte {
	buf := make([]byte, HeaderSize+4)
	putHeader(buf, PacketTypeAck, CommandWriteMemoryAck, 4, packetID)
	binary.BigEndian.PutUint32(buf[HeaderSize:], blockAddress)
	return buf
}

// NewReadRegisterAck builds a READ_REGISTER_ACK packet: {value u32}.
func NewReadRegisterAck(value uint32, packetID uint16) []byte {
	buf := make([]byte, HeaderSize+4)
	putHeader(buf, PacketTypeAck, CommandReadRegisterAck, 4, packetID)
	binary.BigEndian.PutUint32(buf[HeaderSize:], value)
	return buf
}

// NewWriteRegisterAck builds a WRITE_REGISTER_ACK packet: {writesSucceeded u32}.
func NewWriteRegisterAck(writesSucceeded uint32, packetID uint16) []byte {
	buf := make([]byte, HeaderSize+4)
	putHeader(buf, PacketTypeAck, CommandWriteRegisterAck, 4, packetID)
	binary.BigEndian.PutUint32(buf[HeaderSize:], writesSucceeded)
	return buf
}

// DiscoveryDescriptor holds the fields of the discovery descriptor block
// that lives at memory offset 0. BuildDiscoveryDescriptor lays them out as
// fixed-width NUL-padded ASCII fields for vendor,
// model, serial number and user name, each independently offset. The exact
// field layout is not specified beyond "serial number padded with NULs"
// (see SPEC_FULL.md Supplemented Features); this layout is internally
// consistent and is all DiscoveryAck/read_memory(0, ...) round-tripping
// needs to satisfy P1 and scenario 1.
type DiscoveryDescriptor struct {
	Vendor       string
	Model        string
	DeviceVersion string
	SerialNumber string
	UserName     string
	MAC          [6]byte
	IP           [4]byte
	Subnet       [4]byte
	Gateway      [4]byte
}

const (
	descVendorOffset  = 0x48
	descVendorLen     = 32
	descModelOffset   = 0x68
	descModelLen      = 32
	descVersionOffset = 0x88
	descVersionLen    = 32
	descSerialOffset  = 0xD8
	descSerialLen     = 16
	descUserOffset    = 0xE8
	descUserLen       = 16
	descMACOffset     = 0x08
	descIPOffset      = 0x24
	descSubnetOffset  = 0x34
	descGatewayOffset = 0x44
)

func putASCII(buf []byte, offset int, length int, s string) {
	if offset+length > len(buf) {
		return
	}
	field := buf[offset : offset+length]
	for i := range field {
		field[i] = 0
	}
	copy(field, s)
}

// BuildDiscoveryDescriptor writes desc into a DiscoveryDataSize-byte buffer.
func BuildDiscoveryDescriptor(desc DiscoveryDescriptor) []byte {
	buf := make([]byte, DiscoveryDataSize)
	putASCII(buf, descVendorOffset, descVendorLen, desc.Vendor)
	putASCII(buf, descModelOffset, descModelLen, desc.Model)
	putASCII(buf, descVersionOffset, descVersionLen, desc.DeviceVersion)
	putASCII(buf, descSerialOffset, descSerialLen, desc.SerialNumber)
	putASCII(buf, descUserOffset, descUserLen, desc.UserName)
	copy(buf[descMACOffset:descMACOffset+6], desc.MAC[:])
	copy(buf[descIPOffset:descIPOffset+4], desc.IP[:])
	copy(buf[descSubnetOffset:descSubnetOffset+4], desc.Subnet[:])
	copy(buf[descGatewayOffset:descGatewayOffset+4], desc.Gateway[:])
	return buf
}

// SerialNumberField extracts the NUL-padded serial number field from a raw
// discovery descriptor buffer, trimmed of trailing NULs.
func SerialNumberField(buf []byte) string {
	if len(buf) < descSerialOffset+descSerialLen {
		return ""
	}
	field := buf[descSerialOffset : descSerialOffset+descSerialLen]
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
