package main

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/tinyrange/minnow/internal/netif"
	"github.com/tinyrange/minnow/internal/tcpseg"
	"github.com/tinyrange/minnow/internal/wrap32"
)

// encodeSegment serializes a TCPSender's outgoing message together with
// the TCPReceiver's current ack/window, the way a real TCP segment always
// carries both a sequence number and a piggybacked acknowledgment.
func encodeSegment(srcIP, dstIP net.IP, srcPort, dstPort uint16, msg tcpseg.Message, ack tcpseg.ReceiverMessage) (netif.IPv4Datagram, error) {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     msg.Seqno.Raw(),
		SYN:     msg.SYN,
		FIN:     msg.FIN,
		RST:     msg.RST || ack.RST,
		Window:  ack.WindowSize,
	}
	if ack.Ackno != nil {
		tcp.ACK = true
		tcp.Ack = ack.Ackno.Raw()
	}

	ip4 := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	if err := tcp.SetNetworkLayerForChecksum(ip4); err != nil {
		return nil, fmt.Errorf("mnloop: set checksum context: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip4, tcp, gopacket.Payload(msg.Payload)); err != nil {
		return nil, fmt.Errorf("mnloop: serialize segment: %w", err)
	}
	return netif.IPv4Datagram(buf.Bytes()), nil
}

// decodeSegment recovers the sender-facing Message and receiver-facing
// ReceiverMessage multiplexed onto one inbound TCP segment.
func decodeSegment(dgram netif.IPv4Datagram) (tcpseg.Message, tcpseg.ReceiverMessage, error) {
	packet := gopacket.NewPacket([]byte(dgram), layers.LayerTypeIPv4, gopacket.NoCopy)
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return tcpseg.Message{}, tcpseg.ReceiverMessage{}, fmt.Errorf("mnloop: no TCP layer in datagram")
	}
	tcp := tcpLayer.(*layers.TCP)

	msg := tcpseg.Message{
		Seqno:   wrap32.New(tcp.Seq),
		SYN:     tcp.SYN,
		FIN:     tcp.FIN,
		RST:     tcp.RST,
		Payload: append([]byte(nil), tcp.Payload...),
	}

	ack := tcpseg.ReceiverMessage{
		WindowSize: tcp.Window,
		RST:        tcp.RST,
	}
	if tcp.ACK {
		ackno := wrap32.New(tcp.Ack)
		ack.Ackno = &ackno
	}

	return msg, ack, nil
}
