package main

import (
	"log/slog"
	"net"

	"github.com/tinyrange/minnow/internal/metrics"
	"github.com/tinyrange/minnow/internal/netif"
	"github.com/tinyrange/minnow/internal/tcpreceiver"
	"github.com/tinyrange/minnow/internal/tcpsender"
	"github.com/tinyrange/minnow/internal/tcpseg"
	"github.com/tinyrange/minnow/internal/wrap32"
)

// endpoint is one side of a TCP connection riding on top of a
// NetworkInterface: a TCPSender and TCPReceiver pair, multiplexed onto
// segments the way a real connection pairs outgoing data with a
// piggybacked ack.
type endpoint struct {
	name   string
	log    *slog.Logger
	iface  *netif.NetworkInterface
	sender *tcpsender.TCPSender
	recv   *tcpreceiver.TCPReceiver

	localIP, remoteIP     net.IP
	localPort, remotePort uint16

	metrics *metrics.Sender
}

func newEndpoint(name string, log *slog.Logger, iface *netif.NetworkInterface, isn wrap32.Wrap32, cfg Config, localIP, remoteIP net.IP, localPort, remotePort uint16) *endpoint {
	return &endpoint{
		name:       name,
		log:        log.With("endpoint", name),
		iface:      iface,
		sender:     tcpsender.New(isn, cfg.InitialRTOMillis, cfg.StreamCapacity),
		recv:       tcpreceiver.New(cfg.StreamCapacity),
		localIP:    localIP,
		remoteIP:   remoteIP,
		localPort:  localPort,
		remotePort: remotePort,
	}
}

func (e *endpoint) transmit(msg tcpseg.Message) {
	ack := e.recv.Send()
	dgram, err := encodeSegment(e.localIP, e.remoteIP, e.localPort, e.remotePort, msg, ack)
	if err != nil {
		e.log.Error("encode segment", "error", err)
		return
	}
	if err := e.iface.SendDatagram(dgram, e.remoteIP); err != nil {
		e.log.Error("send datagram", "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.BytesInFlight.Set(float64(e.sender.SequenceNumbersInFlight()))
		e.metrics.ConsecutiveRetransmissions.Set(float64(e.sender.ConsecutiveRetransmissions()))
	}
}

// Tick processes one driver tick: deliver inbound segments, opportunistically
// fill the send window, and let the retransmission timer fire if it is due.
func (e *endpoint) Tick(elapsedMs uint64) {
	sawInboundData := false
	for _, dgram := range e.iface.Incoming() {
		msg, ack, err := decodeSegment(dgram)
		if err != nil {
			e.log.Debug("drop undecodable segment", "error", err)
			continue
		}
		e.recv.Receive(msg)
		e.sender.Receive(ack)
		if msg.SYN || msg.FIN || len(msg.Payload) > 0 {
			sawInboundData = true
		}
	}

	if sawInboundData {
		e.transmit(e.sender.MakeEmptyMessage())
	}

	e.sender.Push(e.transmit)
	e.sender.Tick(elapsedMs, e.transmit)
}
