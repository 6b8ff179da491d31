// Package tcpsender implements the sending half of a TCP connection:
// turning outgoing bytes into segments, tracking what is still
// unacknowledged, and retransmitting on timeout with exponential backoff.
package tcpsender

import (
	"github.com/tinyrange/minnow/internal/stream"
	"github.com/tinyrange/minnow/internal/tcpseg"
	"github.com/tinyrange/minnow/internal/wrap32"
)

// outstandingSegment is a previously transmitted segment still waiting on
// an acknowledgment, along with the absolute sequence number of its first
// byte so Receive can tell which outstanding segments a new ackno retires.
type outstandingSegment struct {
	msg      tcpseg.Message
	absStart uint64
}

// TCPSender turns application bytes written to its stream into outgoing
// segments, retransmitting the oldest unacknowledged segment whenever the
// retransmission timer fires.
type TCPSender struct {
	outbound *stream.ByteStream
	isn      wrap32.Wrap32

	initialRTO uint64
	rto        uint64

	nextAbsSeqno  uint64
	ackedAbsSeqno uint64
	bytesInFlight uint64
	windowSize    uint16

	outstanding []outstandingSegment

	timerRunning bool
	timeElapsed  uint64

	consecutiveRetransmissions uint64

	synSent bool
	finSent bool
}

// New constructs a TCPSender with initial sequence number isn, an initial
// retransmission timeout of initialRTOms milliseconds, and an outbound
// stream of the given capacity for the application to write into.
//
// The receiver's window size is unknown until the first ReceiverMessage
// arrives, so it defaults to 1: a lone SYN is still treated as eligible
// for retransmission backoff if no ack arrives before the timer fires.
func New(isn wrap32.Wrap32, initialRTOms uint64, capacity uint64) *TCPSender {
	return &TCPSender{
		outbound:   stream.New(capacity),
		isn:        isn,
		initialRTO: initialRTOms,
		rto:        initialRTOms,
		windowSize: 1,
	}
}

// Writer exposes the outbound stream for the application to write into.
func (s *TCPSender) Writer() stream.Writer {
	return s.outbound.Writer()
}

// SequenceNumbersInFlight returns how many sequence numbers (SYN, FIN, and
// payload bytes) are currently outstanding, unacknowledged by the peer.
func (s *TCPSender) SequenceNumbersInFlight() uint64 {
	return s.bytesInFlight
}

// ConsecutiveRetransmissions returns how many times in a row the
// retransmission timer has fired without a new ack arriving.
func (s *TCPSender) ConsecutiveRetransmissions() uint64 {
	return s.consecutiveRetransmissions
}

// MakeEmptyMessage returns a segment with no payload and no flags, stamped
// with the next sequence number. Useful for standalone acks. Its RST flag
// mirrors the outbound stream's error state, so a stream error reaches the
// peer even when there is nothing else to send.
func (s *TCPSender) MakeEmptyMessage() tcpseg.Message {
	return tcpseg.Message{Seqno: wrap32.Wrap(s.nextAbsSeqno, s.isn), RST: s.outbound.HasError()}
}

// Push sends as many segments as the receiver's window currently allows,
// calling transmit once per segment in order. It always treats a zero
// advertised window as a window of one, so the sender can probe it.
func (s *TCPSender) Push(transmit func(tcpseg.Message)) {
	for {
		if s.finSent {
			return
		}

		effectiveWindow := uint64(s.windowSize)
		if effectiveWindow == 0 {
			effectiveWindow = 1
		}
		if s.bytesInFlight >= effectiveWindow {
			return
		}

		msg := tcpseg.Message{Seqno: wrap32.Wrap(s.nextAbsSeqno, s.isn), RST: s.outbound.HasError()}
		if !s.synSent {
			msg.SYN = true
		}

		totalRemaining := effectiveWindow - s.bytesInFlight
		payloadBudget := totalRemaining
		if msg.SYN {
			payloadBudget--
		}

		payloadCap := uint64(tcpseg.MaxPayloadSize)
		if payloadBudget < payloadCap {
			payloadCap = payloadBudget
		}

		if payloadCap > 0 {
			data := s.outbound.Peek()
			if uint64(len(data)) > payloadCap {
				data = data[:payloadCap]
			}
			if len(data) > 0 {
				msg.Payload = append([]byte(nil), data...)
				s.outbound.Pop(uint64(len(msg.Payload)))
			}
		}

		usedSoFar := msg.SequenceLength()
		if s.outbound.IsClosed() && s.outbound.BytesBuffered() == 0 && !s.finSent &&
			usedSoFar < totalRemaining {
			msg.FIN = true
		}

		if msg.SequenceLength() == 0 {
			return
		}

		if msg.SYN {
			s.synSent = true
		}
		if msg.FIN {
			s.finSent = true
		}

		absStart := s.nextAbsSeqno
		seqLen := msg.SequenceLength()
		s.nextAbsSeqno += seqLen
		s.bytesInFlight += seqLen
		s.outstanding = append(s.outstanding, outstandingSegment{msg: msg, absStart: absStart})

		if !s.timerRunning {
			s.timerRunning = true
			s.timeElapsed = 0
		}

		transmit(msg)
	}
}

// Receive processes an inbound ReceiverMessage: retiring any outstanding
// segments the new ackno covers, resetting the retransmission timer and
// backoff, and recording the peer's current window size.
func (s *TCPSender) Receive(msg tcpseg.ReceiverMessage) {
	if msg.RST {
		s.outbound.SetError()
		return
	}

	s.windowSize = msg.WindowSize

	if msg.Ackno == nil {
		return
	}

	absAck := msg.Ackno.Unwrap(s.isn, s.nextAbsSeqno)
	if absAck > s.nextAbsSeqno {
		return // ack for something never sent
	}
	if absAck <= s.ackedAbsSeqno {
		return // old or duplicate ack
	}

	s.ackedAbsSeqno = absAck

	kept := s.outstanding[:0]
	for _, seg := range s.outstanding {
		segEnd := seg.absStart + seg.msg.SequenceLength()
		if segEnd <= absAck {
			s.bytesInFlight -= seg.msg.SequenceLength()
		} else {
			kept = append(kept, seg)
		}
	}
	s.outstanding = kept

	s.rto = s.initialRTO
	s.consecutiveRetransmissions = 0

	if len(s.outstanding) > 0 {
		s.timerRunning = true
		s.timeElapsed = 0
	} else {
		s.timerRunning = false
	}
}

// Tick advances time by elapsedMs. If the retransmission timer has
// expired, it retransmits the oldest outstanding segment and, as long as
// the receiver's window is nonzero, doubles the timeout and increments
// the consecutive-retransmission count.
func (s *TCPSender) Tick(elapsedMs uint64, transmit func(tcpseg.Message)) {
	if !s.timerRunning {
		return
	}

	s.timeElapsed += elapsedMs
	if s.timeElapsed < s.rto {
		return
	}

	if len(s.outstanding) == 0 {
		s.timerRunning = false
		return
	}

	transmit(s.outstanding[0].msg)

	if s.windowSize > 0 {
		s.rto *= 2
		s.consecutiveRetransmissions++
	}

	s.timeElapsed = 0
}
