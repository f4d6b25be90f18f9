// Package gvcpsock owns the UDP sockets the GVCP engine listens on (C3):
// up to three inbound control sockets (the interface's own GVCP port, the
// global broadcast address, and the subnet broadcast address, mirroring
// _proxy_start's ARV_GVCP_PROXY_N_INPUT_SOCKETS) plus one outbound socket
// for the GVSP stream.
package gvcpsock

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/PossumXI/Asgard/Sentinel/internal/gvcp"
	"github.com/PossumXI/Asgard/Sentinel/internal/netiface"
)

const bufferSize = 2048

// Datagram is one received UDP packet together with the socket it arrived
// on, so a reply can be sent from the same local address.
type Datagram struct {
	Data []byte
	From *net.UDPAddr
	Conn *net.UDPConn
}

// Set is the collection of sockets bound for one listening interface.
type Set struct {
	GVCP             *net.UDPConn
	GlobalDiscovery  *net.UDPConn
	SubnetDiscovery  *net.UDPConn
	GVSPOut          *net.UDPConn

	recv   chan Datagram
	logger *logrus.Entry
}

// Bind creates and binds the GVCP input sockets for iface, skipping the
// global/subnet discovery sockets when they would collide with the
// interface's own address (as _proxy_start does), and opens the outbound
// GVSP socket. Only the global discovery socket is bound with SO_REUSEADDR
// (bindUDP's reuseAddr, matching _create_and_bind_input_socket's
// allow_reuse argument): multiple proxies on the same host may share that
// broadcast port.
func Bind(iface netiface.Info, logger *logrus.Entry) (*Set, error) {
	s := &Set{recv: make(chan Datagram, 64), logger: logger}

	gvcpConn, err := bindUDP(iface.IP, gvcp.Port, false)
	if err != nil {
		return nil, fmt.Errorf("gvcpsock: bind GVCP socket: %w", err)
	}
	s.GVCP = gvcpConn

	globalAddr := net.IPv4(255, 255, 255, 255)
	if !iface.IP.Equal(globalAddr) {
		conn, err := bindUDP(globalAddr, gvcp.Port, true)
		if err != nil {
			logger.WithError(err).Warn("failed to bind global discovery socket")
		} else {
			s.GlobalDiscovery = conn
		}
	}

	if iface.Broadcast != nil && !iface.IP.Equal(iface.Broadcast) {
		conn, err := bindUDP(iface.Broadcast, gvcp.Port, false)
		if err != nil {
			logger.WithError(err).Warn("failed to bind subnet discovery socket")
		} else {
			s.SubnetDiscovery = conn
		}
	}

	gvspConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: iface.IP, Port: 0})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("gvcpsock: bind GVSP socket: %w", err)
	}
	s.GVSPOut = gvspConn

	return s, nil
}

func bindUDP(ip net.IP, port int, reuseAddr bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{}
	if reuseAddr {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("%s:%d", ip.String(), port))
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("gvcpsock: unexpected PacketConn type %T", pc)
	}
	return conn, nil
}

// Conns returns the bound inbound control sockets, skipping any that were
// not created.
func (s *Set) Conns() []*net.UDPConn {
	conns := make([]*net.UDPConn, 0, 3)
	for _, c := range []*net.UDPConn{s.GVCP, s.GlobalDiscovery, s.SubnetDiscovery} {
		if c != nil {
			conns = append(conns, c)
		}
	}
	return conns
}

// Datagrams returns the channel on which received control datagrams are
// delivered once Run has been started.
func (s *Set) Datagrams() <-chan Datagram {
	return s.recv
}

// Run starts one reader goroutine per inbound socket, delivering datagrams
// on Datagrams() until ctx is cancelled, at which point every socket is
// closed to unblock the pending reads.
func (s *Set) Run(ctx context.Context) {
	conns := s.Conns()
	done := make(chan struct{}, len(conns))

	for _, conn := range conns {
		go s.readLoop(conn, done)
	}

	go func() {
		<-ctx.Done()
		for _, conn := range conns {
			conn.Close()
		}
	}()
}

func (s *Set) readLoop(conn *net.UDPConn, done chan struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, bufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.recv <- Datagram{Data: data, From: addr, Conn: conn}
	}
}

// Close closes every bound socket.
func (s *Set) Close() {
	for _, conn := range append(s.Conns(), s.GVSPOut) {
		if conn != nil {
			conn.Close()
		}
	}
}
