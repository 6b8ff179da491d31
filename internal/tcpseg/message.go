// Package tcpseg defines the wire-level message shapes TCPSender and
// TCPReceiver exchange: outbound segments and inbound acknowledgments.
package tcpseg

import (
	"fmt"

	"github.com/tinyrange/minnow/internal/wrap32"
)

// MaxPayloadSize is the largest payload a Message may carry. It keeps
// segments well under a typical Ethernet MTU once IP and TCP headers are
// added.
const MaxPayloadSize = 1000

// Message is a segment sent from a TCPSender to its peer's TCPReceiver.
type Message struct {
	Seqno   wrap32.Wrap32
	SYN     bool
	Payload []byte
	FIN     bool
	RST     bool
}

// SequenceLength returns how many sequence numbers this segment consumes:
// one for SYN, one for FIN, plus the payload length.
func (m Message) SequenceLength() uint64 {
	n := uint64(len(m.Payload))
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

func (m Message) String() string {
	return fmt.Sprintf("Message{seqno=%v syn=%v len(payload)=%d fin=%v rst=%v}",
		m.Seqno, m.SYN, len(m.Payload), m.FIN, m.RST)
}

// ReceiverMessage is sent from a TCPReceiver back to its peer's TCPSender,
// acknowledging data and advertising window space.
type ReceiverMessage struct {
	Ackno      *wrap32.Wrap32
	WindowSize uint16
	RST        bool
}

func (m ReceiverMessage) String() string {
	if m.Ackno == nil {
		return fmt.Sprintf("ReceiverMessage{ackno=<none> window=%d rst=%v}", m.WindowSize, m.RST)
	}
	return fmt.Sprintf("ReceiverMessage{ackno=%v window=%d rst=%v}", *m.Ackno, m.WindowSize, m.RST)
}
