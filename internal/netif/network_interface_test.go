package netif

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type fakePort struct {
	peer    *NetworkInterface
	sent    [][]byte
	failNum int
}

func (p *fakePort) Transmit(frame []byte) error {
	p.sent = append(p.sent, append([]byte(nil), frame...))
	if p.peer != nil {
		p.peer.RecvFrame(frame)
	}
	return nil
}

func mustIface(t *testing.T, mac string, ip string, port OutputPort) *NetworkInterface {
	t.Helper()
	hw, err := net.ParseMAC(mac)
	if err != nil {
		t.Fatalf("parse mac: %v", err)
	}
	iface, err := New(hw, net.ParseIP(ip), port)
	if err != nil {
		t.Fatalf("new interface: %v", err)
	}
	return iface
}

func TestSendDatagramResolvesARPThenDelivers(t *testing.T) {
	portA := &fakePort{}
	portB := &fakePort{}

	a := mustIface(t, "02:00:00:00:00:01", "10.0.0.1", portA)
	b := mustIface(t, "02:00:00:00:00:02", "10.0.0.2", portB)
	portA.peer = b
	portB.peer = a

	dgram := IPv4Datagram([]byte("hello ip"))
	if err := a.SendDatagram(dgram, net.ParseIP("10.0.0.2")); err != nil {
		t.Fatalf("SendDatagram: %v", err)
	}

	// a sent an ARP request, b replies automatically, a should now have
	// resolved b's address and flushed the queued datagram to b.
	got := b.Incoming()
	if len(got) != 1 {
		t.Fatalf("b received %d datagrams, want 1", len(got))
	}
	if string(got[0]) != "hello ip" {
		t.Fatalf("datagram = %q, want %q", got[0], "hello ip")
	}
}

func TestSecondSendUsesCachedARPEntry(t *testing.T) {
	portA := &fakePort{}
	portB := &fakePort{}
	a := mustIface(t, "02:00:00:00:00:01", "10.0.0.1", portA)
	b := mustIface(t, "02:00:00:00:00:02", "10.0.0.2", portB)
	portA.peer = b
	portB.peer = a

	a.SendDatagram(IPv4Datagram([]byte("one")), net.ParseIP("10.0.0.2"))
	b.Incoming()
	framesAfterFirst := len(portA.sent)

	a.SendDatagram(IPv4Datagram([]byte("two")), net.ParseIP("10.0.0.2"))
	if len(portA.sent) != framesAfterFirst+1 {
		t.Fatalf("sent %d new frames for cached dest, want 1 (no repeat ARP request)", len(portA.sent)-framesAfterFirst)
	}
	got := b.Incoming()
	if len(got) != 1 || string(got[0]) != "two" {
		t.Fatalf("unexpected datagrams: %v", got)
	}
}

func TestArpRequestExpiresAndDropsQueuedDatagram(t *testing.T) {
	port := &fakePort{} // no peer: nothing will ever answer the request
	a := mustIface(t, "02:00:00:00:00:01", "10.0.0.1", port)

	a.SendDatagram(IPv4Datagram([]byte("lost")), net.ParseIP("10.0.0.9"))
	if len(a.arpRequests) != 1 {
		t.Fatalf("pending requests = %d, want 1", len(a.arpRequests))
	}

	a.Tick(ArpRequestTTLms)
	if len(a.arpRequests) != 0 {
		t.Fatalf("pending requests after expiry = %d, want 0", len(a.arpRequests))
	}
}

func TestArpCacheEntryExpires(t *testing.T) {
	portA := &fakePort{}
	portB := &fakePort{}
	a := mustIface(t, "02:00:00:00:00:01", "10.0.0.1", portA)
	b := mustIface(t, "02:00:00:00:00:02", "10.0.0.2", portB)
	portA.peer = b
	portB.peer = a

	a.SendDatagram(IPv4Datagram([]byte("x")), net.ParseIP("10.0.0.2"))
	b.Incoming()
	if len(a.arpCache) != 1 {
		t.Fatalf("cache size = %d, want 1", len(a.arpCache))
	}

	a.Tick(ArpEntryTTLms)
	if len(a.arpCache) != 0 {
		t.Fatalf("cache size after expiry = %d, want 0", len(a.arpCache))
	}
}

func TestRecvFrameDropsUndecodableFrame(t *testing.T) {
	port := &fakePort{}
	a := mustIface(t, "02:00:00:00:00:01", "10.0.0.1", port)
	a.RecvFrame([]byte{0x01, 0x02})
	if got := a.Incoming(); len(got) != 0 {
		t.Fatalf("got %d datagrams from garbage frame, want 0", len(got))
	}
}

func TestRecvFrameAcceptsIPv4(t *testing.T) {
	port := &fakePort{}
	a := mustIface(t, "02:00:00:00:00:01", "10.0.0.1", port)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x03},
		DstMAC:       a.mac,
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, gopacket.Payload([]byte("payload")))

	a.RecvFrame(buf.Bytes())
	got := a.Incoming()
	if len(got) != 1 || string(got[0]) != "payload" {
		t.Fatalf("got %v, want [\"payload\"]", got)
	}
}
