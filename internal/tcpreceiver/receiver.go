// Package tcpreceiver implements the receiving half of a TCP connection:
// turning inbound segments into a reassembled byte stream and reporting
// back an acknowledgment number and window size.
package tcpreceiver

import (
	"github.com/tinyrange/minnow/internal/reassembler"
	"github.com/tinyrange/minnow/internal/stream"
	"github.com/tinyrange/minnow/internal/tcpseg"
	"github.com/tinyrange/minnow/internal/wrap32"
)

// maxWindowSize is the largest value a 16-bit advertised window can hold.
const maxWindowSize = 65535

// TCPReceiver turns a stream of inbound TCP segments into a reassembled
// ByteStream, tracking the connection's initial sequence number once the
// SYN arrives.
type TCPReceiver struct {
	reassembler *reassembler.Reassembler

	isn    wrap32.Wrap32
	sawSYN bool
	sawRST bool
}

// New constructs a TCPReceiver that reassembles into a freshly created
// ByteStream of the given capacity.
func New(capacity uint64) *TCPReceiver {
	return &TCPReceiver{
		reassembler: reassembler.New(stream.New(capacity)),
	}
}

// Reader exposes the reassembled inbound data for the application to read.
func (r *TCPReceiver) Reader() stream.Reader {
	return r.reassembler.Reader()
}

// Receive processes one inbound segment, learning the initial sequence
// number from the first SYN seen and feeding any payload into the
// reassembler.
func (r *TCPReceiver) Receive(msg tcpseg.Message) {
	if msg.RST {
		r.sawRST = true
		r.reassembler.SetError()
		return
	}

	if msg.SYN {
		if !r.sawSYN {
			r.isn = msg.Seqno
			r.sawSYN = true
		}
	}

	if !r.sawSYN {
		return
	}

	checkpoint := r.reassembler.BytesPushed() + 1
	absoluteSeqno := msg.Seqno.Unwrap(r.isn, checkpoint)

	raw := int64(absoluteSeqno) - 1
	if msg.SYN {
		raw++
	}
	if raw < 0 {
		raw = 0
	}
	streamIndex := uint64(raw)

	r.reassembler.Insert(streamIndex, msg.Payload, msg.FIN)
}

// Send produces the ReceiverMessage to report back to the peer's sender:
// the next byte expected (ackno), the current window size, and whether
// the stream has errored (RST).
func (r *TCPReceiver) Send() tcpseg.ReceiverMessage {
	out := tcpseg.ReceiverMessage{
		RST: r.sawRST || r.reassembler.HasError(),
	}

	avail := r.reassembler.AvailableCapacity()
	if avail > maxWindowSize {
		out.WindowSize = maxWindowSize
	} else {
		out.WindowSize = uint16(avail)
	}

	if !r.sawSYN {
		return out
	}

	// absolute ackno = bytes pushed so far, plus 1 for SYN, plus 1 more
	// once the stream is closed (FIN consumes a sequence number too).
	absoluteAckno := r.reassembler.BytesPushed() + 1
	if r.reassembler.IsClosed() {
		absoluteAckno++
	}
	ackno := wrap32.Wrap(absoluteAckno, r.isn)
	out.Ackno = &ackno

	return out
}
