// Package netiface resolves the listening interface for the GVCP engine
// (the binaries' "interface" option): an IPv4 address or an interface name, plus
// its broadcast address for the subnet discovery socket.
package netiface

import (
	"fmt"
	"net"
)

// Info describes a resolved listening interface.
type Info struct {
	Name      string
	IP        net.IP
	Broadcast net.IP
}

// ErrNotFound is returned when no interface matches the requested name or
// address.
var ErrNotFound = fmt.Errorf("netiface: no interface with that address or name")

// Lookup resolves nameOrAddress to an Info, trying an address match first
// and falling back to a name match, mirroring
// arv_network_get_interface_by_address/_by_name. As a Linux-container
// convenience quirk carried over from the platform's loopback fallback,
// "127.0.0.1" always resolves even when the host exposes no such address
// record.
func Lookup(nameOrAddress string) (Info, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Info{}, err
	}

	if ip := net.ParseIP(nameOrAddress); ip != nil {
		if info, ok := byAddress(ifaces, ip); ok {
			return info, nil
		}
		if ip.Equal(net.IPv4(127, 0, 0, 1)) {
			return Info{
				Name:      "lo",
				IP:        net.IPv4(127, 0, 0, 1),
				Broadcast: net.IPv4(127, 255, 255, 255),
			}, nil
		}
		return Info{}, ErrNotFound
	}

	if info, ok := byName(ifaces, nameOrAddress); ok {
		return info, nil
	}

	return Info{}, ErrNotFound
}

func byAddress(ifaces []net.Interface, want net.IP) (Info, bool) {
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || !ip4.Equal(want.To4()) {
				continue
			}
			return Info{
				Name:      iface.Name,
				IP:        ip4,
				Broadcast: broadcastOf(ipNet),
			}, true
		}
	}
	return Info{}, false
}

func byName(ifaces []net.Interface, name string) (Info, bool) {
	for _, iface := range ifaces {
		if iface.Name != name {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			return Info{
				Name:      iface.Name,
				IP:        ip4,
				Broadcast: broadcastOf(ipNet),
			}, true
		}
	}
	return Info{}, false
}

// broadcastOf computes the directed broadcast address of an IPv4 subnet:
// the network address with every host bit set.
func broadcastOf(ipNet *net.IPNet) net.IP {
	ip4 := ipNet.IP.To4()
	mask := ipNet.Mask
	if len(mask) != 4 {
		mask = mask[len(mask)-4:]
	}
	bcast := make(net.IP, 4)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}
