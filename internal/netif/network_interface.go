// Package netif implements NetworkInterface, the boundary between the
// TCP/IP stack and an Ethernet segment: it resolves IPv4 addresses to
// Ethernet addresses via ARP, queues datagrams while resolution is in
// flight, and demultiplexes inbound frames.
package netif

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/xid"

	"github.com/tinyrange/minnow/internal/metrics"
)

// ErrPortRequired is returned by New when constructed without an
// OutputPort to transmit frames through.
var ErrPortRequired = errors.New("netif: output port is required")

// Default timeouts, expressed in the same millisecond ticks NetworkInterface
// is driven with.
const (
	// ArpRequestTTLms bounds how long a pending ARP request waits for a
	// reply before it, and the datagrams queued behind it, are dropped.
	ArpRequestTTLms = 5000
	// ArpEntryTTLms bounds how long a resolved ARP cache entry is trusted
	// before it must be re-resolved.
	ArpEntryTTLms = 30000
)

// IPv4Datagram is an opaque, already-serialized IPv4 packet: netif moves
// it between the wire and its caller without interpreting the payload.
type IPv4Datagram []byte

// OutputPort is the physical medium a NetworkInterface transmits frames
// onto and the place it is offered inbound frames from.
type OutputPort interface {
	// Transmit sends a fully-formed Ethernet frame.
	Transmit(frame []byte) error
}

type arpEntry struct {
	mac       net.HardwareAddr
	ageMillis uint64
}

type arpRequest struct {
	ageMillis uint64
	queued    []IPv4Datagram
}

// NetworkInterface bridges an IPv4 layer and an Ethernet segment.
type NetworkInterface struct {
	id  xid.ID
	mac net.HardwareAddr
	ip  net.IP

	port OutputPort

	arpCache    map[uint32]arpEntry
	arpRequests map[uint32]*arpRequest

	ready []IPv4Datagram

	metrics *metrics.Interface
}

// New constructs a NetworkInterface with the given Ethernet and IPv4
// address, transmitting onto port.
func New(mac net.HardwareAddr, ip net.IP, port OutputPort) (*NetworkInterface, error) {
	if port == nil {
		return nil, ErrPortRequired
	}
	return &NetworkInterface{
		id:          xid.New(),
		mac:         mac,
		ip:          ip.To4(),
		port:        port,
		arpCache:    make(map[uint32]arpEntry),
		arpRequests: make(map[uint32]*arpRequest),
	}, nil
}

// SetMetrics attaches a metrics collector. A nil collector (the default)
// disables instrumentation.
func (n *NetworkInterface) SetMetrics(m *metrics.Interface) {
	n.metrics = m
}

// ID identifies this interface in logs.
func (n *NetworkInterface) ID() string {
	return n.id.String()
}

func ip4ToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

// SendDatagram transmits dgram addressed to nextHop, which must be an
// IPv4 address reachable on this link. If the Ethernet address for
// nextHop is not yet known, an ARP request is sent (at most once per
// ArpRequestTTLms) and the datagram is queued until a reply arrives.
func (n *NetworkInterface) SendDatagram(dgram IPv4Datagram, nextHop net.IP) error {
	key := ip4ToUint32(nextHop)

	if entry, ok := n.arpCache[key]; ok {
		return n.sendFrame(entry.mac, layers.EthernetTypeIPv4, dgram)
	}

	if req, ok := n.arpRequests[key]; ok {
		req.queued = append(req.queued, dgram)
		if n.metrics != nil {
			n.metrics.QueuedFrames.Inc()
		}
		return nil
	}

	n.arpRequests[key] = &arpRequest{queued: []IPv4Datagram{dgram}}
	if n.metrics != nil {
		n.metrics.ArpRequestsInFlight.Inc()
		n.metrics.QueuedFrames.Inc()
	}
	return n.sendArpRequest(nextHop)
}

func (n *NetworkInterface) sendArpRequest(target net.IP) error {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(n.mac),
		SourceProtAddress: []byte(n.ip.To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(target.To4()),
	}
	payload, err := serializeLayers(arp)
	if err != nil {
		return fmt.Errorf("netif: build arp request: %w", err)
	}
	return n.sendFrame(net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, layers.EthernetTypeARP, payload)
}

func (n *NetworkInterface) sendFrame(dst net.HardwareAddr, ethType layers.EthernetType, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       n.mac,
		DstMAC:       dst,
		EthernetType: ethType,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("netif: serialize frame: %w", err)
	}
	if err := n.port.Transmit(buf.Bytes()); err != nil {
		if n.metrics != nil {
			n.metrics.DroppedFrames.Inc()
		}
		return fmt.Errorf("netif: transmit: %w", err)
	}
	if n.metrics != nil {
		n.metrics.TransmittedFrames.Inc()
	}
	return nil
}

func serializeLayers(l gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RecvFrame processes an inbound Ethernet frame. IPv4 frames addressed to
// this interface are made available via Incoming; ARP requests for this
// interface's address get an immediate reply; ARP replies resolve
// outstanding requests and flush their queued datagrams. Frames this
// interface cannot parse or that are not addressed to it are silently
// dropped, matching a real link layer.
func (n *NetworkInterface) RecvFrame(frame []byte) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		if n.metrics != nil {
			n.metrics.DroppedFrames.Inc()
		}
		return
	}
	eth := ethLayer.(*layers.Ethernet)

	if !bytes.Equal(eth.DstMAC, n.mac) && !bytes.Equal(eth.DstMAC, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) {
		if n.metrics != nil {
			n.metrics.DroppedFrames.Inc()
		}
		return
	}

	switch eth.EthernetType {
	case layers.EthernetTypeIPv4:
		n.ready = append(n.ready, IPv4Datagram(append([]byte(nil), eth.Payload...)))
	case layers.EthernetTypeARP:
		n.handleARP(packet)
	default:
		if n.metrics != nil {
			n.metrics.DroppedFrames.Inc()
		}
	}
}

func (n *NetworkInterface) handleARP(packet gopacket.Packet) {
	arpLayer := packet.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		if n.metrics != nil {
			n.metrics.DroppedFrames.Inc()
		}
		return
	}
	arp := arpLayer.(*layers.ARP)

	senderIP := net.IP(arp.SourceProtAddress)
	senderMAC := net.HardwareAddr(arp.SourceHwAddress)
	n.learnARP(senderIP, senderMAC)

	switch arp.Operation {
	case layers.ARPRequest:
		if net.IP(arp.DstProtAddress).Equal(n.ip) {
			n.sendArpReply(senderMAC, senderIP)
		}
	case layers.ARPReply:
		// handled by learnARP above; flush anything waiting on it.
	}
}

func (n *NetworkInterface) sendArpReply(dstMAC net.HardwareAddr, dstIP net.IP) {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   []byte(n.mac),
		SourceProtAddress: []byte(n.ip.To4()),
		DstHwAddress:      []byte(dstMAC),
		DstProtAddress:    []byte(dstIP.To4()),
	}
	payload, err := serializeLayers(arp)
	if err != nil {
		return
	}
	_ = n.sendFrame(dstMAC, layers.EthernetTypeARP, payload)
}

func (n *NetworkInterface) learnARP(ip net.IP, mac net.HardwareAddr) {
	key := ip4ToUint32(ip)
	n.arpCache[key] = arpEntry{mac: append(net.HardwareAddr(nil), mac...)}
	if n.metrics != nil {
		n.metrics.ArpCacheSize.Set(float64(len(n.arpCache)))
	}

	req, ok := n.arpRequests[key]
	if !ok {
		return
	}
	for _, dgram := range req.queued {
		_ = n.sendFrame(mac, layers.EthernetTypeIPv4, dgram)
	}
	delete(n.arpRequests, key)
	if n.metrics != nil {
		n.metrics.ArpRequestsInFlight.Dec()
	}
}

// Incoming drains and returns the IPv4 datagrams received since the last
// call.
func (n *NetworkInterface) Incoming() []IPv4Datagram {
	out := n.ready
	n.ready = nil
	return out
}

// Tick advances time by elapsedMs, expiring stale ARP cache entries and
// abandoning ARP requests that have gone unanswered for too long,
// dropping whatever datagrams were queued behind them.
func (n *NetworkInterface) Tick(elapsedMs uint64) {
	for key, entry := range n.arpCache {
		entry.ageMillis += elapsedMs
		if entry.ageMillis >= ArpEntryTTLms {
			delete(n.arpCache, key)
			continue
		}
		n.arpCache[key] = entry
	}
	if n.metrics != nil {
		n.metrics.ArpCacheSize.Set(float64(len(n.arpCache)))
	}

	for key, req := range n.arpRequests {
		req.ageMillis += elapsedMs
		if req.ageMillis >= ArpRequestTTLms {
			if n.metrics != nil {
				n.metrics.DroppedFrames.Add(float64(len(req.queued)))
				n.metrics.ArpRequestsInFlight.Dec()
			}
			delete(n.arpRequests, key)
		}
	}
}
