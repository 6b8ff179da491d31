package main

import (
	"github.com/tinyrange/minnow/internal/netif"
	"github.com/tinyrange/minnow/internal/pcap"
)

// loopbackPort connects two NetworkInterfaces directly in memory. Real
// transports (a TUN device, a raw socket) are out of scope for this demo
// driver; any OutputPort implementation can stand in for this one.
type loopbackPort struct {
	peer *netif.NetworkInterface
	tap  *pcap.FrameTap
}

func (p *loopbackPort) Transmit(frame []byte) error {
	if p.tap != nil {
		if err := p.tap.Capture(frame); err != nil {
			return err
		}
	}
	p.peer.RecvFrame(frame)
	return nil
}
