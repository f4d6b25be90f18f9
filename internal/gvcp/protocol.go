// Package gvcp implements the GigE Vision Control Protocol wire format:
// header parsing, command dispatch constants, and ack construction.
package gvcp

const (
	// Port is the well-known GVCP UDP port.
	Port = 3956

	// HeaderSize is the fixed size of a GVCP packet header.
	HeaderSize = 8

	// DiscoveryDataSize is the minimum size of the discovery descriptor
	// block at memory offset 0.
	DiscoveryDataSize = 248
)

// Packet types.
const (
	PacketTypeCmd uint8 = 0x42
	PacketTypeAck uint8 = 0x00
)

// Command codes, big-endian on the wire.
const (
	CommandDiscoveryCmd     uint16 = 0x0002
	CommandDiscoveryAck     uint16 = 0x0003
	CommandReadRegisterCmd  uint16 = 0x0080
	CommandReadRegisterAck  uint16 = 0x0081
	CommandWriteRegisterCmd uint16 = 0x0082
	CommandWriteRegisterAck uint16 = 0x0083
	CommandReadMemoryCmd    uint16 = 0x0084
	CommandReadMemoryAck    uint16 = 0x0085
	CommandWriteMemoryCmd   uint16 = 0x0086
	CommandWriteMemoryAck   uint16 = 0x0087
)

// Register offsets recognised by name (GVBS_* in the wire protocol).
const (
	DiscoveryDataOffset            uint32 = 0x00000000
	ControlChannelPrivilegeOffset  uint32 = 0x00000A00
	HeartbeatTimeoutOffset         uint32 = 0x00000938
	StreamChannel0IPAddressOffset  uint32 = 0x00000D00
	StreamChannel0PortOffset       uint32 = 0x00000D08
	StreamChannel0PacketSizeOffset uint32 = 0x00000D04

	SensorWidthOffset         uint32 = 0x00010000
	SensorHeightOffset        uint32 = 0x00010004
	WidthOffset               uint32 = 0x00010008
	HeightOffset              uint32 = 0x0001000C
	XOffsetOffset             uint32 = 0x00010010
	YOffsetOffset             uint32 = 0x00010014
	BinningHorizontalOffset   uint32 = 0x00010018
	BinningVerticalOffset     uint32 = 0x0001001C
	PixelFormatOffset         uint32 = 0x00010020
	AcquisitionStatusOffset   uint32 = 0x00010024
)

// StreamChannel0PacketSizeMask extracts the low 16 bits of the packet-size
// register; the high bits are reserved in the real GVCP layout.
const StreamChannel0PacketSizeMask uint32 = 0x0000FFFF

// DefaultHeartbeatTimeoutMS is used when HEARTBEAT_TIMEOUT has never been
// written.
const DefaultHeartbeatTimeoutMS uint32 = 3000
