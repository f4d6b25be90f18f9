// Package controller implements the single-controller ownership state
// machine (C4): at most one remote peer may hold write access to a camera
// at a time, subject to a heartbeat timeout.
package controller

import (
	"net"
	"time"
)

// State is the sum type of the ownership machine: either Uncontrolled or
// Controlled{Peer, LastSeen}.
type State interface {
	isState()
}

// Uncontrolled is the state with no current owner; any peer may take
// control by writing a non-zero control channel privilege.
type Uncontrolled struct{}

func (Uncontrolled) isState() {}

// Controlled is the state with Peer holding write access, last refreshed
// at LastSeen.
type Controlled struct {
	Peer     *net.UDPAddr
	LastSeen time.Time
}

func (Controlled) isState() {}

// Machine holds the current ownership State. It is not internally
// synchronized; callers serialize access (the engine holds one coarse
// mutex shared with the render thread, per SPEC_FULL.md's concurrency
// model).
type Machine struct {
	state State
}

// New returns a Machine starting Uncontrolled.
func New() *Machine {
	return &Machine{state: Uncontrolled{}}
}

// State returns the current ownership state.
func (m *Machine) State() State {
	return m.state
}

// Evaluate decides whether remote currently has write access, releasing
// the controller first if its heartbeat has expired. It must be called
// before handling every control packet. timedOut reports whether this call
// is what released a stale controller, so the caller can force the
// backend's control channel privilege register back to 0 in the same step.
func (m *Machine) Evaluate(remote *net.UDPAddr, now time.Time, heartbeatTimeout time.Duration) (writeAccess bool, timedOut bool) {
	controlled, ok := m.state.(Controlled)
	if !ok {
		return true, false
	}

	if now.Sub(controlled.LastSeen) > heartbeatTimeout {
		m.state = Uncontrolled{}
		return true, true
	}

	return addrEqual(remote, controlled.Peer), false
}

// NoteHeartbeat refreshes the current controller's last-seen time. The
// engine calls it on every read of the control channel privilege register,
// whichever peer sent the read; GigE Vision controllers use that read as a
// heartbeat.
func (m *Machine) NoteHeartbeat(now time.Time) {
	if controlled, ok := m.state.(Controlled); ok {
		controlled.LastSeen = now
		m.state = controlled
	}
}

// AfterPrivilegeWrite evaluates the post-packet ownership transition: a
// privilege register observed non-zero while Uncontrolled makes remote the
// new controller; a privilege register observed zero while Controlled
// releases it. It must be called after every control packet is handled,
// using the backend's current control channel privilege value regardless
// of which command produced it.
func (m *Machine) AfterPrivilegeWrite(remote *net.UDPAddr, now time.Time, privilegeValue uint32) {
	switch m.state.(type) {
	case Uncontrolled:
		if privilegeValue != 0 {
			m.state = Controlled{Peer: remote, LastSeen: now}
		}
	case Controlled:
		if privilegeValue == 0 {
			m.state = Uncontrolled{}
		}
	}
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
