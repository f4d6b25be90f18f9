package register

import (
	"encoding/binary"
	"net"

	"github.com/PossumXI/Asgard/Sentinel/internal/gvcp"
)

// MemorySize is the size of the raw byte memory image. It must be at least
// gvcp.DiscoveryDataSize and must cover every named register offset the
// core recognises (the feature registers live past 0x10000).
const MemorySize = 0x10100

// MemoryBackend is the "fake"/"memory" backend: an in-process simulated
// camera built from a serial number and an (unused, out-of-scope) GenICam
// XML filename.
type MemoryBackend struct {
	mem           []byte
	localIP       net.IP
	genicamPath   string
	lastStream    streamConfig
	haveLastSeen  bool
}

type streamConfig struct {
	ip         net.IP
	port       uint16
	packetSize uint32
	mac        [6]byte
	multicast  bool
}

// NewMemoryBackend constructs a MemoryBackend with the discovery descriptor
// bootstrapped from serial and default register values applied.
func NewMemoryBackend(serial, genicamFilename string) *MemoryBackend {
	b := &MemoryBackend{
		mem:         make([]byte, MemorySize),
		genicamPath: genicamFilename,
	}

	desc := gvcp.BuildDiscoveryDescriptor(gvcp.DiscoveryDescriptor{
		Vendor:        "Sentinel",
		Model:         "GVCP-SIM",
		DeviceVersion: "1.0",
		SerialNumber:  serial,
		UserName:      "",
	})
	copy(b.mem[0:gvcp.DiscoveryDataSize], desc)

	b.putRegister(gvcp.HeartbeatTimeoutOffset, gvcp.DefaultHeartbeatTimeoutMS)
	b.putRegister(gvcp.BinningHorizontalOffset, 1)
	b.putRegister(gvcp.BinningVerticalOffset, 1)

	return b
}

// ReadMemory returns a copy of the bytes at address..address+size, or
// ok=false if the span is out of bounds.
func (b *MemoryBackend) ReadMemory(address, size uint32) ([]byte, bool) {
	end := uint64(address) + uint64(size)
	if end > uint64(len(b.mem)) {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, b.mem[address:end])
	return out, true
}

// WriteMemory overwrites the bytes at address with data, which may
// overwrite the bootstrap discovery descriptor.
func (b *MemoryBackend) WriteMemory(address uint32, data []byte) bool {
	end := uint64(address) + uint64(len(data))
	if end > uint64(len(b.mem)) {
		return false
	}
	copy(b.mem[address:end], data)
	return true
}

// ReadRegister returns the big-endian 32-bit value aliased at address.
func (b *MemoryBackend) ReadRegister(address uint32) (uint32, bool) {
	if uint64(address)+4 > uint64(len(b.mem)) {
		return 0, false
	}
	return binary.BigEndian.Uint32(b.mem[address : address+4]), true
}

// WriteRegister stores value as a big-endian 32-bit word aliased at
// address.
func (b *MemoryBackend) WriteRegister(address uint32, value uint32) bool {
	return b.putRegister(address, value)
}

func (b *MemoryBackend) putRegister(address uint32, value uint32) bool {
	if uint64(address)+4 > uint64(len(b.mem)) {
		return false
	}
	binary.BigEndian.PutUint32(b.mem[address:address+4], value)
	return true
}

// SetInetAddress records the local interface IP used by discovery replies.
func (b *MemoryBackend) SetInetAddress(ip net.IP) {
	b.localIP = ip
	ip4 := ip.To4()
	if ip4 == nil {
		return
	}
	copy(b.mem[0x24:0x28], ip4)
}

// Close releases the backend. MemoryBackend holds no external resources.
func (b *MemoryBackend) Close() {}

// OnStreamConfigChanged implements the optional StreamConfigObserver slot,
// recording the last notified stream configuration for inspection/testing.
func (b *MemoryBackend) OnStreamConfigChanged(ip net.IP, port uint16, packetSize uint32, mac [6]byte, multicast bool) {
	b.lastStream = streamConfig{ip: ip, port: port, packetSize: packetSize, mac: mac, multicast: multicast}
	b.haveLastSeen = true
}

// LastStreamConfig returns the most recent stream-config notification, if
// any, for tests.
func (b *MemoryBackend) LastStreamConfig() (ip net.IP, port uint16, packetSize uint32, mac [6]byte, multicast, ok bool) {
	if !b.haveLastSeen {
		return nil, 0, 0, [6]byte{}, false, false
	}
	c := b.lastStream
	return c.ip, c.port, c.packetSize, c.mac, c.multicast, true
}
