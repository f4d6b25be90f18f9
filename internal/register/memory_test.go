package register

import (
	"net"
	"testing"

	"github.com/PossumXI/Asgard/Sentinel/internal/gvcp"
)

func TestNewMemoryBackendDiscoveryDescriptor(t *testing.T) {
	b := NewMemoryBackend("SN-001", "")

	data, ok := b.ReadMemory(gvcp.DiscoveryDataOffset, gvcp.DiscoveryDataSize)
	if !ok {
		t.Fatalf("ReadMemory(discovery) not ok")
	}
	if got := gvcp.SerialNumberField(data); got != "SN-001" {
		t.Errorf("SerialNumberField = %q, want SN-001", got)
	}
}

func TestMemoryBackendRegisterMemoryAlias(t *testing.T) {
	b := NewMemoryBackend("SN-001", "")

	if !b.WriteRegister(gvcp.WidthOffset, 640) {
		t.Fatalf("WriteRegister failed")
	}

	fromRegister, ok := b.ReadRegister(gvcp.WidthOffset)
	if !ok || fromRegister != 640 {
		t.Errorf("ReadRegister = %d, ok=%v, want 640, true", fromRegister, ok)
	}

	raw, ok := b.ReadMemory(gvcp.WidthOffset, 4)
	if !ok {
		t.Fatalf("ReadMemory failed")
	}
	fromMemory := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	if fromMemory != 640 {
		t.Errorf("ReadMemory aliased value = %d, want 640", fromMemory)
	}
}

func TestMemoryBackendDefaultHeartbeatTimeout(t *testing.T) {
	b := NewMemoryBackend("SN-001", "")

	v, ok := b.ReadRegister(gvcp.HeartbeatTimeoutOffset)
	if !ok || v != gvcp.DefaultHeartbeatTimeoutMS {
		t.Errorf("HeartbeatTimeout = %d, ok=%v, want %d", v, ok, gvcp.DefaultHeartbeatTimeoutMS)
	}
}

func TestMemoryBackendOutOfBounds(t *testing.T) {
	b := NewMemoryBackend("SN-001", "")

	if _, ok := b.ReadMemory(uint32(MemorySize)-2, 4); ok {
		t.Errorf("ReadMemory past end of memory should fail")
	}
	if ok := b.WriteRegister(uint32(MemorySize)-2, 1); ok {
		t.Errorf("WriteRegister past end of memory should fail")
	}
}

func TestMemoryBackendSetInetAddress(t *testing.T) {
	b := NewMemoryBackend("SN-001", "")
	b.SetInetAddress(net.IPv4(192, 168, 1, 50))

	data, _ := b.ReadMemory(gvcp.DiscoveryDataOffset, gvcp.DiscoveryDataSize)
	if data[0x24] != 192 || data[0x25] != 168 || data[0x26] != 1 || data[0x27] != 50 {
		t.Errorf("discovery IP field not updated: %v", data[0x24:0x28])
	}
}

func TestMemoryBackendStreamConfigObserver(t *testing.T) {
	var b Backend = NewMemoryBackend("SN-001", "")
	observer, ok := b.(StreamConfigObserver)
	if !ok {
		t.Fatalf("MemoryBackend should implement StreamConfigObserver")
	}

	mac := [6]byte{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	observer.OnStreamConfigChanged(net.IPv4(239, 0, 0, 1), 20202, 1500, mac, true)

	mb := b.(*MemoryBackend)
	ip, port, size, gotMAC, multicast, ok := mb.LastStreamConfig()
	if !ok {
		t.Fatalf("LastStreamConfig not ok")
	}
	if !ip.Equal(net.IPv4(239, 0, 0, 1)) || port != 20202 || size != 1500 || gotMAC != mac || !multicast {
		t.Errorf("LastStreamConfig mismatch: ip=%v port=%d size=%d mac=%v multicast=%v", ip, port, size, gotMAC, multicast)
	}
}
