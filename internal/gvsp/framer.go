// Package gvsp implements the GVSP framer (C6): it fragments one image
// buffer into leader/payload/trailer UDP packets, grounded on
// gst_aravis_sink_render in gstaravissink.c.
package gvsp

import (
	"encoding/binary"
	"net"

	"github.com/PossumXI/Asgard/Sentinel/internal/metrics"
)

// Wire layout constants for the non-extended GVSP packet form: an 8-byte
// generic header {frame_id u16, status u16, block_id u16, format u8,
// reserved u8} precedes a format-specific body.
const (
	HeaderSize          = 8
	LeaderPayloadSize   = 36
	TrailerPayloadSize  = 8
	Overhead            = HeaderSize
	MinPacketSize       = 576
	MaxPacketSize       = 9000
	DefaultPacketSize   = 1400
)

// PacketFormat identifies the kind of GVSP packet.
type PacketFormat uint8

const (
	FormatLeader  PacketFormat = 1
	FormatTrailer PacketFormat = 2
	FormatPayload PacketFormat = 3
)

// Image is one image buffer ready to be framed and streamed.
type Image struct {
	PixelFormat uint32
	Width       uint32
	Height      uint32
	TimestampNS uint64
	Data        []byte
}

// Framer holds the monotonic frame-ID counter and the reused transmit
// buffer for one outbound GVSP stream. It must not be used from more than
// one goroutine concurrently; the render thread owns it exclusively.
type Framer struct {
	buf     []byte
	frameID uint16
	metrics *metrics.Metrics
}

// NewFramer allocates the GVSP_MAX_PACKET_SIZE transmit buffer once for
// reuse across every frame.
func NewFramer(m *metrics.Metrics) *Framer {
	return &Framer{buf: make([]byte, MaxPacketSize), metrics: m}
}

// nextFrameID advances and returns the rolling frame_id, wrapping 1..65535
// and never visiting 0.
func (f *Framer) nextFrameID() uint16 {
	f.frameID = uint16((uint32(f.frameID) + 1) % 65536)
	if f.frameID == 0 {
		f.frameID = 1
	}
	return f.frameID
}

// Send fragments img into a leader, N payload, and one trailer packet and
// sends each with a single UDP write-to dest. packetSizeLimit is the raw
// register value; it is clamped to [MinPacketSize, MaxPacketSize] and
// defaulted to DefaultPacketSize when zero. Send errors are swallowed: GVSP
// is lossy by design, and a congested outbound socket must not stall the
// caller's next frame indefinitely beyond the blocking write itself.
func (f *Framer) Send(conn *net.UDPConn, dest *net.UDPAddr, img Image, packetSizeLimit uint32) (frameID uint16, packetsSent int) {
	limit := packetSizeLimit
	if limit == 0 {
		limit = DefaultPacketSize
	}
	if limit < MinPacketSize {
		limit = MinPacketSize
	}
	if limit > MaxPacketSize {
		limit = MaxPacketSize
	}

	frameID = f.nextFrameID()
	blockID := uint16(0)

	n := f.buildLeader(frameID, blockID, img)
	f.send(conn, dest, n, "leader")
	blockID++
	packetsSent++

	chunk := int(limit) - Overhead
	offset := 0
	for offset < len(img.Data) {
		size := chunk
		if remaining := len(img.Data) - offset; remaining < size {
			size = remaining
		}
		n := f.buildPayload(frameID, blockID, img.Data[offset:offset+size])
		f.send(conn, dest, n, "payload")
		offset += size
		blockID++
		packetsSent++
	}

	n = f.buildTrailer(frameID, blockID, img.Height)
	f.send(conn, dest, n, "trailer")
	packetsSent++

	f.metrics.IncGVSPFrame()

	return frameID, packetsSent
}

func (f *Framer) send(conn *net.UDPConn, dest *net.UDPAddr, n int, kind string) {
	if _, err := conn.WriteToUDP(f.buf[:n], dest); err != nil {
		return
	}
	f.metrics.IncGVSPPacket(kind)
}

func (f *Framer) putGenericHeader(frameID, blockID uint16, format PacketFormat) {
	binary.BigEndian.PutUint16(f.buf[0:2], frameID)
	binary.BigEndian.PutUint16(f.buf[2:4], 0)
	binary.BigEndian.PutUint16(f.buf[4:6], blockID)
	f.buf[6] = byte(format)
	f.buf[7] = 0
}

func (f *Framer) buildLeader(frameID, blockID uint16, img Image) int {
	f.putGenericHeader(frameID, blockID, FormatLeader)
	body := f.buf[HeaderSize : HeaderSize+LeaderPayloadSize]
	binary.BigEndian.PutUint16(body[0:2], 1) // payload type: image
	binary.BigEndian.PutUint16(body[2:4], 0)
	binary.BigEndian.PutUint64(body[4:12], img.TimestampNS)
	binary.BigEndian.PutUint32(body[12:16], img.PixelFormat)
	binary.BigEndian.PutUint32(body[16:20], img.Width)
	binary.BigEndian.PutUint32(body[20:24], img.Height)
	binary.BigEndian.PutUint32(body[24:28], 0) // x_offset
	binary.BigEndian.PutUint32(body[28:32], 0) // y_offset
	binary.BigEndian.PutUint16(body[32:34], 0) // x_padding
	binary.BigEndian.PutUint16(body[34:36], 0) // y_padding
	return HeaderSize + LeaderPayloadSize
}

func (f *Framer) buildPayload(frameID, blockID uint16, data []byte) int {
	f.putGenericHeader(frameID, blockID, FormatPayload)
	copy(f.buf[HeaderSize:], data)
	return HeaderSize + len(data)
}

func (f *Framer) buildTrailer(frameID, blockID uint16, height uint32) int {
	f.putGenericHeader(frameID, blockID, FormatTrailer)
	body := f.buf[HeaderSize : HeaderSize+TrailerPayloadSize]
	binary.BigEndian.PutUint16(body[0:2], 1) // payload type: image
	binary.BigEndian.PutUint16(body[2:4], 0)
	binary.BigEndian.PutUint32(body[4:8], height)
	return HeaderSize + TrailerPayloadSize
}
