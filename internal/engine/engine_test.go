package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/PossumXI/Asgard/Sentinel/internal/gvcp"
	"github.com/PossumXI/Asgard/Sentinel/internal/gvcpsock"
	"github.com/PossumXI/Asgard/Sentinel/internal/netiface"
	"github.com/PossumXI/Asgard/Sentinel/internal/register"
	"github.com/PossumXI/Asgard/Sentinel/pkg/logging"
)

func newTestEngine(t *testing.T) (*Engine, *gvcpsock.Set, func()) {
	t.Helper()

	iface, err := netiface.Lookup("127.0.0.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	sockets, err := gvcpsock.Bind(iface, logging.Component(logging.Logger, "test"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	backend := register.NewMemoryBackend("SN-TEST", "")
	backend.SetInetAddress(iface.IP)

	e := New(backend, sockets, logging.Component(logging.Logger, "test"))

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	cleanup := func() {
		cancel()
		sockets.Close()
	}
	return e, sockets, cleanup
}

func sendAndRecv(t *testing.T, gvcpAddr *net.UDPAddr, req []byte) []byte {
	t.Helper()
	client, err := net.DialUDP("udp4", nil, gvcpAddr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	if _, err := client.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return buf[:n]
}

func discoveryCmd(packetID uint16) []byte {
	buf := make([]byte, gvcp.HeaderSize)
	buf[0] = gvcp.PacketTypeCmd
	buf[2] = byte(gvcp.CommandDiscoveryCmd >> 8)
	buf[3] = byte(gvcp.CommandDiscoveryCmd)
	buf[6] = byte(packetID >> 8)
	buf[7] = byte(packetID)
	return buf
}

func writeRegisterCmd(packetID uint16, address, value uint32) []byte {
	buf := make([]byte, gvcp.HeaderSize+8)
	buf[0] = gvcp.PacketTypeCmd
	buf[2] = byte(gvcp.CommandWriteRegisterCmd >> 8)
	buf[3] = byte(gvcp.CommandWriteRegisterCmd)
	buf[4] = 0
	buf[5] = 8
	buf[6] = byte(packetID >> 8)
	buf[7] = byte(packetID)
	putU32(buf[8:12], address)
	putU32(buf[12:16], value)
	return buf
}

func readRegisterCmd(packetID uint16, address uint32) []byte {
	buf := make([]byte, gvcp.HeaderSize+4)
	buf[0] = gvcp.PacketTypeCmd
	buf[2] = byte(gvcp.CommandReadRegisterCmd >> 8)
	buf[3] = byte(gvcp.CommandReadRegisterCmd)
	buf[4] = 0
	buf[5] = 4
	buf[6] = byte(packetID >> 8)
	buf[7] = byte(packetID)
	putU32(buf[8:12], address)
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func TestEngineDiscoveryRoundTrip(t *testing.T) {
	_, sockets, cleanup := newTestEngine(t)
	defer cleanup()

	resp := sendAndRecv(t, sockets.GVCP.LocalAddr().(*net.UDPAddr), discoveryCmd(1))
	h, err := gvcp.ParseHeader(resp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Command != gvcp.CommandDiscoveryAck {
		t.Errorf("Command = %#x, want DISCOVERY_ACK", h.Command)
	}
	if got := gvcp.SerialNumberField(h.Payload(resp)); got != "SN-TEST" {
		t.Errorf("SerialNumberField = %q, want SN-TEST", got)
	}
}

func TestEngineTakeControlThenWriteRegister(t *testing.T) {
	_, sockets, cleanup := newTestEngine(t)
	defer cleanup()
	addr := sockets.GVCP.LocalAddr().(*net.UDPAddr)

	// The take-control and the width write come from the same client
	// socket, so the write is made by the peer that holds control.
	client, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()
	exchange := func(req []byte) []byte {
		t.Helper()
		if _, err := client.Write(req); err != nil {
			t.Fatalf("Write: %v", err)
		}
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 2048)
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		return buf[:n]
	}

	takeResp := exchange(writeRegisterCmd(1, gvcp.ControlChannelPrivilegeOffset, 1))
	h, err := gvcp.ParseHeader(takeResp)
	if err != nil || h.Command != gvcp.CommandWriteRegisterAck {
		t.Fatalf("unexpected take-control ack: %v %v", h, err)
	}

	resp := exchange(writeRegisterCmd(2, gvcp.WidthOffset, 1024))
	h2, err := gvcp.ParseHeader(resp)
	if err != nil || h2.Command != gvcp.CommandWriteRegisterAck {
		t.Fatalf("unexpected write ack: %v %v", h2, err)
	}

	readResp := sendAndRecv(t, addr, readRegisterCmd(3, gvcp.WidthOffset))
	h3, err := gvcp.ParseHeader(readResp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	payload := h3.Payload(readResp)
	value := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	if value != 1024 {
		t.Errorf("WidthOffset register = %d, want 1024", value)
	}
}

func TestEngineHeartbeatExpiryHandsOverControl(t *testing.T) {
	_, sockets, cleanup := newTestEngine(t)
	defer cleanup()
	addr := sockets.GVCP.LocalAddr().(*net.UDPAddr)

	sendAndRecv(t, addr, writeRegisterCmd(1, gvcp.HeartbeatTimeoutOffset, 100))
	sendAndRecv(t, addr, writeRegisterCmd(2, gvcp.ControlChannelPrivilegeOffset, 2))

	time.Sleep(250 * time.Millisecond)

	resp := sendAndRecv(t, addr, writeRegisterCmd(3, gvcp.ControlChannelPrivilegeOffset, 3))
	h, err := gvcp.ParseHeader(resp)
	if err != nil || h.Command != gvcp.CommandWriteRegisterAck {
		t.Fatalf("unexpected ack after heartbeat expiry: %v %v", h, err)
	}

	readResp := sendAndRecv(t, addr, readRegisterCmd(4, gvcp.ControlChannelPrivilegeOffset))
	h2, err := gvcp.ParseHeader(readResp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	p := h2.Payload(readResp)
	value := uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
	if value != 3 {
		t.Errorf("ControlChannelPrivilege = %d, want 3 (new controller took over after timeout)", value)
	}
}

func TestEngineHeartbeatExpiryForcesPrivilegeZeroBeforeUnrelatedPeerCommand(t *testing.T) {
	_, sockets, cleanup := newTestEngine(t)
	defer cleanup()
	addr := sockets.GVCP.LocalAddr().(*net.UDPAddr)

	sendAndRecv(t, addr, writeRegisterCmd(1, gvcp.HeartbeatTimeoutOffset, 100))
	sendAndRecv(t, addr, writeRegisterCmd(2, gvcp.ControlChannelPrivilegeOffset, 2))

	time.Sleep(250 * time.Millisecond)

	// An unrelated peer sends a command that never touches the privilege
	// register. It must not silently inherit control just because the
	// stale register value happened to still be non-zero.
	resp := sendAndRecv(t, addr, discoveryCmd(3))
	h, err := gvcp.ParseHeader(resp)
	if err != nil || h.Command != gvcp.CommandDiscoveryAck {
		t.Fatalf("unexpected discovery ack after heartbeat expiry: %v %v", h, err)
	}

	readResp := sendAndRecv(t, addr, readRegisterCmd(4, gvcp.ControlChannelPrivilegeOffset))
	h2, err := gvcp.ParseHeader(readResp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	p := h2.Payload(readResp)
	value := uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
	if value != 0 {
		t.Errorf("ControlChannelPrivilege = %d, want 0 (timeout must force the register to zero, not leave a stale value an unrelated command could later latch onto)", value)
	}
}

func TestEngineUnknownCommandNoReply(t *testing.T) {
	_, sockets, cleanup := newTestEngine(t)
	defer cleanup()
	addr := sockets.GVCP.LocalAddr().(*net.UDPAddr)

	client, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	unknown := make([]byte, gvcp.HeaderSize)
	unknown[0] = gvcp.PacketTypeCmd
	unknown[2] = 0xFF
	unknown[3] = 0xFF
	if _, err := client.Write(unknown); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 64)
	if _, err := client.Read(buf); err == nil {
		t.Errorf("expected no reply to an unknown command")
	}

	resp := sendAndRecv(t, addr, discoveryCmd(99))
	h, err := gvcp.ParseHeader(resp)
	if err != nil || h.Command != gvcp.CommandDiscoveryAck {
		t.Fatalf("engine unresponsive after unknown command: %v %v", h, err)
	}
}

func TestEngineWriteDeniedWithoutControlStillAcksButDoesNotMutate(t *testing.T) {
	_, sockets, cleanup := newTestEngine(t)
	defer cleanup()
	addr := sockets.GVCP.LocalAddr().(*net.UDPAddr)

	controller1, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer controller1.Close()
	controller1.Write(writeRegisterCmd(1, gvcp.ControlChannelPrivilegeOffset, 1))
	buf := make([]byte, 2048)
	controller1.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := controller1.Read(buf); err != nil {
		t.Fatalf("Read take-control ack: %v", err)
	}

	outsider, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer outsider.Close()
	if _, err := outsider.Write(writeRegisterCmd(2, gvcp.WidthOffset, 777)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	outsider.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := outsider.Read(buf)
	if err != nil {
		t.Fatalf("expected a best-effort ack even when denied: %v", err)
	}
	h, err := gvcp.ParseHeader(buf[:n])
	if err != nil || h.Command != gvcp.CommandWriteRegisterAck {
		t.Fatalf("unexpected denied-write ack: %v %v", h, err)
	}
	if payload := h.Payload(buf[:n]); payload[3] != 1 {
		t.Errorf("writes succeeded field = %d, want 1 even on denial", payload[3])
	}

	readResp := sendAndRecv(t, addr, readRegisterCmd(3, gvcp.WidthOffset))
	h2, err := gvcp.ParseHeader(readResp)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	p := h2.Payload(readResp)
	value := uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
	if value == 777 {
		t.Errorf("WidthOffset register should not have been mutated by the non-controller's write")
	}
}
