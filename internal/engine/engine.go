// Package engine implements the GVCP engine (C5): the event loop that
// receives control datagrams, enforces controller ownership, and drives
// the backend and the optional stream-config notification, grounded on
// _handle_control_packet in arvgvcpproxy.c.
package engine

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Sentinel/internal/controller"
	"github.com/PossumXI/Asgard/Sentinel/internal/gvcp"
	"github.com/PossumXI/Asgard/Sentinel/internal/gvcpsock"
	"github.com/PossumXI/Asgard/Sentinel/internal/metrics"
	"github.com/PossumXI/Asgard/Sentinel/internal/register"
)

const defaultHeartbeatTimeout = time.Duration(gvcp.DefaultHeartbeatTimeoutMS) * time.Millisecond

// Engine is the running GVCP control loop for one camera backend.
type Engine struct {
	// mu is the single coarse mutex the engine shares with the render
	// thread (the GVSP framer), per the concurrency model: one lock
	// guards the backend and controller state no matter which thread
	// touches them.
	mu      *sync.Mutex
	backend register.Backend
	ctrl    *controller.Machine
	sockets *gvcpsock.Set
	logger  *logrus.Entry
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMutex shares an externally owned mutex with the engine, e.g. one
// also held by a GVSP framer writing to the same backend.
func WithMutex(mu *sync.Mutex) Option {
	return func(e *Engine) { e.mu = mu }
}

// WithMetrics attaches a metrics bundle. Without it, metrics calls are
// no-ops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine over backend and sockets.
func New(backend register.Backend, sockets *gvcpsock.Set, logger *logrus.Entry, opts ...Option) *Engine {
	e := &Engine{
		mu:      &sync.Mutex{},
		backend: backend,
		ctrl:    controller.New(),
		sockets: sockets,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mutex returns the engine's shared lock, for callers (such as a GVSP
// framer) that must serialize backend access with the engine.
func (e *Engine) Mutex() *sync.Mutex {
	return e.mu
}

// Start begins serving control datagrams until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.sockets.Run(ctx)
	e.wg.Add(1)
	go e.serve(ctx)
}

// Wait blocks until the serve loop has exited after ctx cancellation.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) serve(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-e.sockets.Datagrams():
			if !ok {
				return
			}
			e.handle(d)
		}
	}
}

func (e *Engine) handle(d gvcpsock.Datagram) {
	e.mu.Lock()
	defer e.mu.Unlock()

	header, err := gvcp.ParseHeader(d.Data)
	if err != nil {
		e.logger.WithError(err).Warn("dropping malformed GVCP packet")
		return
	}
	if header.PacketType != gvcp.PacketTypeCmd {
		e.logger.Warn("dropping non-command GVCP packet")
		return
	}

	now := time.Now()
	heartbeatTimeout := e.heartbeatTimeout()
	writeAccess, timedOut := e.ctrl.Evaluate(d.From, now, heartbeatTimeout)
	if timedOut {
		e.logger.Warn("Heartbeat timeout")
		e.backend.WriteRegister(gvcp.ControlChannelPrivilegeOffset, 0)
	}
	payload := header.Payload(d.Data)

	var ack []byte

	switch header.Command {
	case gvcp.CommandDiscoveryCmd:
		data, _ := e.backend.ReadMemory(gvcp.DiscoveryDataOffset, gvcp.DiscoveryDataSize)
		ack = gvcp.NewDiscoveryAck(header.PacketID, data)

	case gvcp.CommandReadMemoryCmd:
		infos, err := gvcp.ParseReadMemoryCmd(payload)
		if err != nil {
			e.logger.WithError(err).Warn("malformed READ_MEMORY_CMD")
			break
		}
		data, ok := e.backend.ReadMemory(infos.BlockAddress, infos.BlockSize)
		if !ok {
			data = make([]byte, infos.BlockSize)
		}
		ack = gvcp.NewReadMemoryAck(infos.BlockAddress, header.PacketID, data)

	case gvcp.CommandWriteMemoryCmd:
		infos, err := gvcp.ParseWriteMemoryCmd(payload)
		if err != nil {
			e.logger.WithError(err).Warn("malformed WRITE_MEMORY_CMD")
			break
		}
		if !writeAccess {
			e.logger.WithField("address", infos.BlockAddress).Warn("ignoring write memory command, not controller")
		} else {
			e.backend.WriteMemory(infos.BlockAddress, infos.Data)
		}
		// Ack unconditionally: a denied write still gets a best-effort
		// success ack, it just never reaches the backend.
		ack = gvcp.NewWriteMemoryAck(infos.BlockAddress, header.PacketID)

	case gvcp.CommandReadRegisterCmd:
		addr, err := gvcp.ParseReadRegisterCmd(payload)
		if err != nil {
			e.logger.WithError(err).Warn("malformed READ_REGISTER_CMD")
			break
		}
		value, _ := e.backend.ReadRegister(addr)
		ack = gvcp.NewReadRegisterAck(value, header.PacketID)
		if addr == gvcp.ControlChannelPrivilegeOffset {
			e.ctrl.NoteHeartbeat(now)
		}

	case gvcp.CommandWriteRegisterCmd:
		infos, err := gvcp.ParseWriteRegisterCmd(payload)
		if err != nil {
			e.logger.WithError(err).Warn("malformed WRITE_REGISTER_CMD")
			break
		}
		if !writeAccess {
			e.logger.WithField("address", infos.RegisterAddress).Warn("ignoring write register command, not controller")
		} else {
			e.backend.WriteRegister(infos.RegisterAddress, infos.Value)
			e.maybeNotifyStreamConfig(infos.RegisterAddress)
		}
		// "Writes succeeded" is hardcoded to 1 even on denial, per the
		// protocol's optimistic-ack style.
		ack = gvcp.NewWriteRegisterAck(1, header.PacketID)

	default:
		e.logger.WithField("command", header.Command).Warn("unknown GVCP command")
	}

	if ack != nil {
		if _, err := d.Conn.WriteToUDP(ack, d.From); err != nil {
			e.logger.WithError(err).Warn("failed to send GVCP ack")
		}
		e.metrics.IncGVCPPacket(commandName(header.Command))
	}

	e.evaluatePostTransition(d.From, now)
}

// evaluatePostTransition implements the controller take/release decision
// run after every control packet, based on the backend's current control
// channel privilege register regardless of which command produced it.
func (e *Engine) evaluatePostTransition(remote *net.UDPAddr, now time.Time) {
	before := e.ctrl.State()
	privilege, ok := e.backend.ReadRegister(gvcp.ControlChannelPrivilegeOffset)
	if !ok {
		return
	}
	e.ctrl.AfterPrivilegeWrite(remote, now, privilege)
	if e.ctrl.State() != before {
		e.metrics.IncControllerTransition()
	}
}

func (e *Engine) heartbeatTimeout() time.Duration {
	ms, ok := e.backend.ReadRegister(gvcp.HeartbeatTimeoutOffset)
	if !ok || ms == 0 {
		return defaultHeartbeatTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// maybeNotifyStreamConfig mirrors _maybe_notify_stream_config: when the
// stream channel 0 IP, port or packet size register changes and the
// backend implements StreamConfigObserver, it recomputes the multicast
// Ethernet MAC and notifies it.
func (e *Engine) maybeNotifyStreamConfig(address uint32) {
	observer, ok := e.backend.(register.StreamConfigObserver)
	if !ok {
		return
	}
	if address != gvcp.StreamChannel0IPAddressOffset &&
		address != gvcp.StreamChannel0PortOffset &&
		address != gvcp.StreamChannel0PacketSizeOffset {
		return
	}

	ipVal, ok := e.backend.ReadRegister(gvcp.StreamChannel0IPAddressOffset)
	if !ok {
		return
	}
	portVal, ok := e.backend.ReadRegister(gvcp.StreamChannel0PortOffset)
	if !ok {
		return
	}
	sizeVal, ok := e.backend.ReadRegister(gvcp.StreamChannel0PacketSizeOffset)
	if !ok {
		return
	}

	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, ipVal)

	var mac [6]byte
	multicast := ip[0]&0xf0 == 0xe0
	if multicast {
		mac = [6]byte{0x01, 0x00, 0x5e, byte((ipVal >> 16) & 0x7f), byte((ipVal >> 8) & 0xff), byte(ipVal & 0xff)}
	}

	observer.OnStreamConfigChanged(ip, uint16(portVal), sizeVal&gvcp.StreamChannel0PacketSizeMask, mac, multicast)
}

func commandName(command uint16) string {
	switch command {
	case gvcp.CommandDiscoveryCmd:
		return "discovery"
	case gvcp.CommandReadMemoryCmd:
		return "read_memory"
	case gvcp.CommandWriteMemoryCmd:
		return "write_memory"
	case gvcp.CommandReadRegisterCmd:
		return "read_register"
	case gvcp.CommandWriteRegisterCmd:
		return "write_register"
	default:
		return "unknown"
	}
}
