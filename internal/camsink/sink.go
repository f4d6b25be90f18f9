// Package camsink adapts the GVCP engine and GVSP framer into the
// pipeline-sink deployment form (C7): a host pipeline delivers one image
// buffer at a time, and the sink frames and streams it toward whatever
// destination the controlling client has programmed, gated on controller
// ownership and acquisition status. Grounded on gstaravissink.c.
package camsink

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Sentinel/internal/engine"
	"github.com/PossumXI/Asgard/Sentinel/internal/gvcp"
	"github.com/PossumXI/Asgard/Sentinel/internal/gvcpsock"
	"github.com/PossumXI/Asgard/Sentinel/internal/gvsp"
	"github.com/PossumXI/Asgard/Sentinel/internal/metrics"
	"github.com/PossumXI/Asgard/Sentinel/internal/netiface"
	"github.com/PossumXI/Asgard/Sentinel/internal/register"
)

// Pixel format codes, matching the three the sink negotiates caps for.
const (
	PixelFormatMono8  uint32 = 0x01080001
	PixelFormatMono16 uint32 = 0x01100007
	PixelFormatRGB8   uint32 = 0x02180014
)

// PixelFormatFromString maps a caps-style format name to its GVSP pixel
// format code, mirroring _pixel_format_from_string. It returns ok=false
// for anything else.
func PixelFormatFromString(name string) (uint32, bool) {
	switch name {
	case "Mono8":
		return PixelFormatMono8, true
	case "Mono16":
		return PixelFormatMono16, true
	case "RGB8":
		return PixelFormatRGB8, true
	default:
		return 0, false
	}
}

// Config holds the sink's configuration surface: the interface, identity
// and default caps a host pipeline sets before or during Start, standing
// in for the element's GObject properties.
type Config struct {
	InterfaceName      string
	SerialNumber       string
	GenicamFilename    string
	DefaultWidth       uint32
	DefaultHeight      uint32
	DefaultPixelFormat uint32
}

// DefaultConfig returns the sink's defaults (GST_ARAVIS_SINK_DEFAULT_*).
func DefaultConfig() Config {
	return Config{
		InterfaceName:      "127.0.0.1",
		SerialNumber:       "ARV-SINK",
		DefaultWidth:       640,
		DefaultHeight:      480,
		DefaultPixelFormat: PixelFormatMono8,
	}
}

// Sink is the running pipeline-sink camera: a GVCP engine plus a GVSP
// framer sharing one backend and one mutex.
type Sink struct {
	cfg     Config
	backend register.Backend
	engine  *engine.Engine
	sockets *gvcpsock.Set
	framer  *gvsp.Framer
	metrics *metrics.Metrics
	logger  *logrus.Entry

	width       uint32
	height      uint32
	pixelFormat uint32
}

// New constructs a Sink from cfg. Start must be called before Render.
func New(cfg Config, logger *logrus.Entry, m *metrics.Metrics) (*Sink, error) {
	backend, err := register.New("memory", cfg.SerialNumber, cfg.GenicamFilename)
	if err != nil {
		return nil, fmt.Errorf("camsink: %w", err)
	}

	s := &Sink{
		cfg:     cfg,
		backend: backend,
		framer:  gvsp.NewFramer(m),
		metrics: m,
		logger:  logger,
	}
	s.applyDefaultRegisters()
	return s, nil
}

// applyDefaultRegisters mirrors _apply_default_registers: it writes the
// configured default geometry and pixel format into the backend and
// caches them, used until SetCaps negotiates different ones.
func (s *Sink) applyDefaultRegisters() {
	s.backend.WriteRegister(gvcp.SensorWidthOffset, s.cfg.DefaultWidth)
	s.backend.WriteRegister(gvcp.SensorHeightOffset, s.cfg.DefaultHeight)
	s.backend.WriteRegister(gvcp.WidthOffset, s.cfg.DefaultWidth)
	s.backend.WriteRegister(gvcp.HeightOffset, s.cfg.DefaultHeight)
	s.backend.WriteRegister(gvcp.XOffsetOffset, 0)
	s.backend.WriteRegister(gvcp.YOffsetOffset, 0)
	s.backend.WriteRegister(gvcp.BinningHorizontalOffset, 1)
	s.backend.WriteRegister(gvcp.BinningVerticalOffset, 1)
	s.backend.WriteRegister(gvcp.PixelFormatOffset, s.cfg.DefaultPixelFormat)

	s.width = s.cfg.DefaultWidth
	s.height = s.cfg.DefaultHeight
	s.pixelFormat = s.cfg.DefaultPixelFormat
}

// SetDefaultWidth updates the default width and re-applies it immediately,
// matching the PROP_DEFAULT_WIDTH setter.
func (s *Sink) SetDefaultWidth(width uint32) {
	s.cfg.DefaultWidth = width
	s.applyDefaultRegisters()
}

// SetDefaultHeight updates the default height and re-applies it
// immediately, matching the PROP_DEFAULT_HEIGHT setter.
func (s *Sink) SetDefaultHeight(height uint32) {
	s.cfg.DefaultHeight = height
	s.applyDefaultRegisters()
}

// SetDefaultPixelFormat updates the default pixel format by name and
// re-applies it immediately if the name is recognised, matching the
// PROP_DEFAULT_PIXEL_FORMAT setter.
func (s *Sink) SetDefaultPixelFormat(name string) error {
	format, ok := PixelFormatFromString(name)
	if !ok {
		return fmt.Errorf("camsink: unsupported pixel format %q", name)
	}
	s.cfg.DefaultPixelFormat = format
	s.applyDefaultRegisters()
	return nil
}

// Backend exposes the underlying register backend, e.g. for a GVCP engine
// wired in by a caller that wants to share it.
func (s *Sink) Backend() register.Backend {
	return s.backend
}

// Start binds the sink's GVCP sockets on cfg.InterfaceName and starts the
// engine's receive loop, which runs until ctx is cancelled. Start itself
// returns once the loop is launched; the default registers were already
// applied by New.
func (s *Sink) Start(ctx context.Context) error {
	iface, err := netiface.Lookup(s.cfg.InterfaceName)
	if err != nil {
		return fmt.Errorf("camsink: %w", err)
	}
	s.backend.SetInetAddress(iface.IP)

	sockets, err := gvcpsock.Bind(iface, s.logger)
	if err != nil {
		return fmt.Errorf("camsink: %w", err)
	}
	s.sockets = sockets

	s.engine = engine.New(s.backend, sockets, s.logger, engine.WithMetrics(s.metrics))
	s.engine.Start(ctx)

	return nil
}

// Stop releases the sink's sockets. Callers should first cancel the
// context passed to Start.
func (s *Sink) Stop() {
	if s.sockets != nil {
		s.sockets.Close()
	}
}

// SetCaps negotiates width, height and pixel format for subsequent
// Render calls, mirroring gst_aravis_sink_set_caps.
func (s *Sink) SetCaps(pixelFormat string, width, height uint32) error {
	format, ok := PixelFormatFromString(pixelFormat)
	if !ok {
		return fmt.Errorf("camsink: unsupported caps: %s", pixelFormat)
	}

	mu := s.engine.Mutex()
	mu.Lock()
	defer mu.Unlock()

	s.pixelFormat = format
	s.width = width
	s.height = height

	s.backend.WriteRegister(gvcp.SensorWidthOffset, width)
	s.backend.WriteRegister(gvcp.SensorHeightOffset, height)
	s.backend.WriteRegister(gvcp.WidthOffset, width)
	s.backend.WriteRegister(gvcp.HeightOffset, height)
	s.backend.WriteRegister(gvcp.XOffsetOffset, 0)
	s.backend.WriteRegister(gvcp.YOffsetOffset, 0)
	s.backend.WriteRegister(gvcp.BinningHorizontalOffset, 1)
	s.backend.WriteRegister(gvcp.BinningVerticalOffset, 1)
	s.backend.WriteRegister(gvcp.PixelFormatOffset, format)

	return nil
}

// Render frames and sends data as one image over GVSP, gated on the
// backend's control channel privilege and acquisition status, mirroring
// gst_aravis_sink_render. It is a no-op (not an error) when gated or when
// no stream destination has been programmed yet.
func (s *Sink) Render(ctx context.Context, data []byte, timestampNS uint64) error {
	mu := s.engine.Mutex()
	mu.Lock()

	privilege, _ := s.backend.ReadRegister(gvcp.ControlChannelPrivilegeOffset)
	acquisition, _ := s.backend.ReadRegister(gvcp.AcquisitionStatusOffset)
	if privilege == 0 || acquisition == 0 {
		mu.Unlock()
		return nil
	}

	ipVal, _ := s.backend.ReadRegister(gvcp.StreamChannel0IPAddressOffset)
	portVal, _ := s.backend.ReadRegister(gvcp.StreamChannel0PortOffset)
	packetSize, _ := s.backend.ReadRegister(gvcp.StreamChannel0PacketSizeOffset)

	ip := net.IPv4(byte(ipVal>>24), byte(ipVal>>16), byte(ipVal>>8), byte(ipVal))
	port := uint16(portVal)

	img := gvsp.Image{
		PixelFormat: s.pixelFormat,
		Width:       s.width,
		Height:      s.height,
		TimestampNS: timestampNS,
		Data:        data,
	}
	mu.Unlock()

	if ip.IsUnspecified() || port == 0 {
		return nil
	}

	dest := &net.UDPAddr{IP: ip, Port: int(port)}
	s.framer.Send(s.sockets.GVSPOut, dest, img, packetSize&gvcp.StreamChannel0PacketSizeMask)
	return nil
}
