package main

import (
	"encoding/binary"
	"log/slog"
	"net"
	"testing"

	"github.com/miekg/dns"

	"github.com/tinyrange/minnow/internal/dnsapp"
	"github.com/tinyrange/minnow/internal/netif"
	"github.com/tinyrange/minnow/internal/wrap32"
)

func TestHandshakeAndDNSQueryRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	logger := slog.New(slog.NewTextHandler(testingWriter{t}, nil))

	macA, _ := net.ParseMAC(cfg.HostA.MAC)
	macB, _ := net.ParseMAC(cfg.HostB.MAC)
	ipA := net.ParseIP(cfg.HostA.IPv4)
	ipB := net.ParseIP(cfg.HostB.IPv4)

	portA := &loopbackPort{}
	portB := &loopbackPort{}
	ifaceA, err := netif.New(macA, ipA, portA)
	if err != nil {
		t.Fatalf("new interface A: %v", err)
	}
	ifaceB, err := netif.New(macB, ipB, portB)
	if err != nil {
		t.Fatalf("new interface B: %v", err)
	}
	portA.peer = ifaceB
	portB.peer = ifaceA

	client := newEndpoint("client", logger, ifaceA, wrap32.New(100), cfg, ipA, ipB, cfg.HostA.Port, cfg.HostB.Port)
	server := newEndpoint("server", logger, ifaceB, wrap32.New(900), cfg, ipB, ipA, cfg.HostB.Port, cfg.HostA.Port)

	zone := dnsapp.Zone{dns.Fqdn("mnloop.test"): net.ParseIP("169.254.0.2")}
	responder := dnsapp.NewResponder(server.recv.Reader(), server.sender.Writer(), zone)

	// Prime the client's outbound stream with a framed DNS query before
	// the handshake even starts, the way an application would queue a
	// write immediately after calling connect().
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn("mnloop.test"), dns.TypeA)
	packedQuery, err := query.Pack()
	if err != nil {
		t.Fatalf("pack query: %v", err)
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(packedQuery)))
	client.sender.Writer().Push(append(prefix[:], packedQuery...))

	const tickMs = 50
	for i := 0; i < 40; i++ {
		client.Tick(tickMs)
		ifaceA.Tick(tickMs)

		if err := responder.Poll(); err != nil {
			t.Fatalf("responder poll: %v", err)
		}
		server.Tick(tickMs)
		ifaceB.Tick(tickMs)

		reader := client.recv.Reader()
		if reader.BytesBuffered() >= 2 {
			data := reader.Peek()
			n := binary.BigEndian.Uint16(data[:2])
			if len(data) >= int(2+n) {
				resp := new(dns.Msg)
				if err := resp.Unpack(data[2 : 2+n]); err != nil {
					t.Fatalf("unpack response: %v", err)
				}
				if len(resp.Answer) != 1 {
					t.Fatalf("answers = %d, want 1", len(resp.Answer))
				}
				a, ok := resp.Answer[0].(*dns.A)
				if !ok {
					t.Fatalf("answer is %T, want *dns.A", resp.Answer[0])
				}
				if !a.A.Equal(net.ParseIP("169.254.0.2")) {
					t.Fatalf("answer = %v, want 169.254.0.2", a.A)
				}
				return
			}
		}
	}

	t.Fatal("did not observe a DNS answer arrive at the client within the tick budget")
}

type testingWriter struct {
	t *testing.T
}

func (w testingWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
