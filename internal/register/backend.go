// Package register implements the camera register/memory backend (C1):
// a process-wide, mutable camera state answering memory and register
// reads/writes, modelled as a capability trait as described in
// SPEC_FULL.md §4.1.
package register

import (
	"fmt"
	"net"
)

// Backend is the capability trait every camera state implementation must
// satisfy. It is the Go realization of the vtable in
// arvgvcpproxy-backend.h: a struct of function pointers becomes an
// interface, and optional vtable slots become an optional interface the
// caller type-asserts for.
type Backend interface {
	ReadMemory(address, size uint32) ([]byte, bool)
	WriteMemory(address uint32, data []byte) bool
	ReadRegister(address uint32) (uint32, bool)
	WriteRegister(address uint32, value uint32) bool
	SetInetAddress(ip net.IP)
	Close()
}

// StreamConfigObserver is the optional vtable slot
// (stream_config_changed/_ex) a Backend may additionally implement. The
// engine type-asserts for it and no-ops when absent.
type StreamConfigObserver interface {
	OnStreamConfigChanged(ip net.IP, port uint16, packetSize uint32, mac [6]byte, multicast bool)
}

// ErrUnsupportedBackend is returned by New for any name other than "fake" or
// "memory".
var ErrUnsupportedBackend = fmt.Errorf("register: unsupported backend (supported: fake, memory)")

// New dispatches on name to construct a Backend. "fake" and "memory" both
// yield an in-process simulated camera built from (serial, genicamFilename).
func New(name, serial, genicamFilename string) (Backend, error) {
	switch name {
	case "fake", "memory":
		return NewMemoryBackend(serial, genicamFilename), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}
}
