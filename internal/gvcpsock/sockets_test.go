package gvcpsock

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/PossumXI/Asgard/Sentinel/internal/netiface"
	"github.com/PossumXI/Asgard/Sentinel/pkg/logging"
)

func TestBindLoopbackAndRoundTrip(t *testing.T) {
	iface, err := netiface.Lookup("127.0.0.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	set, err := Bind(iface, logging.Component(logging.Logger, "test"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer set.Close()

	if set.GVCP == nil {
		t.Fatalf("GVCP socket not bound")
	}
	if set.GVSPOut == nil {
		t.Fatalf("GVSP socket not bound")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	set.Run(ctx)

	client, err := net.DialUDP("udp4", nil, set.GVCP.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case d := <-set.Datagrams():
		if string(d.Data) != "hello" {
			t.Errorf("Data = %q, want hello", d.Data)
		}
		if d.Conn != set.GVCP {
			t.Errorf("Datagram arrived on unexpected conn")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}
