// Package stream implements ByteStream, a bounded FIFO of bytes shared
// between a single writer half and a single reader half.
package stream

import "bytes"

// ByteStream is a bounded FIFO. It is owned exclusively by whichever
// component constructs it (a TCPSender or a Reassembler); external callers
// only ever see it through a Reader or Writer capability view, obtained
// with the Reader and Writer methods.
type ByteStream struct {
	capacity uint64
	buf      bytes.Buffer

	totalPushed uint64
	totalPopped uint64

	closed  bool
	errored bool
}

// New constructs an empty ByteStream with the given capacity.
func New(capacity uint64) *ByteStream {
	return &ByteStream{capacity: capacity}
}

// Capacity returns the stream's fixed capacity.
func (s *ByteStream) Capacity() uint64 {
	return s.capacity
}

// AvailableCapacity returns how many more bytes can currently be pushed.
func (s *ByteStream) AvailableCapacity() uint64 {
	return s.capacity - uint64(s.buf.Len())
}

// BytesBuffered returns the number of unpopped bytes currently held.
func (s *ByteStream) BytesBuffered() uint64 {
	return uint64(s.buf.Len())
}

// BytesPushed returns the total number of bytes ever accepted by Push.
func (s *ByteStream) BytesPushed() uint64 {
	return s.totalPushed
}

// BytesPopped returns the total number of bytes ever removed by Pop.
func (s *ByteStream) BytesPopped() uint64 {
	return s.totalPopped
}

// IsClosed reports whether Close has been called. Once true, always true.
func (s *ByteStream) IsClosed() bool {
	return s.closed
}

// IsFinished reports whether the stream is closed and fully drained.
func (s *ByteStream) IsFinished() bool {
	return s.closed && s.buf.Len() == 0
}

// HasError reports whether SetError has been called. Once true, always true.
func (s *ByteStream) HasError() bool {
	return s.errored
}

// Push appends up to AvailableCapacity() bytes of data; any excess is
// dropped, not buffered elsewhere. A no-op once the stream is closed or
// errored.
func (s *ByteStream) Push(data []byte) {
	if s.closed || s.errored || len(data) == 0 {
		return
	}
	avail := s.AvailableCapacity()
	if avail == 0 {
		return
	}
	n := uint64(len(data))
	if n > avail {
		n = avail
	}
	s.buf.Write(data[:n])
	s.totalPushed += n
}

// Close marks the stream as closed. Idempotent.
func (s *ByteStream) Close() {
	s.closed = true
}

// SetError marks the stream as errored. Idempotent.
func (s *ByteStream) SetError() {
	s.errored = true
}

// Peek returns a view of some prefix of the buffered bytes. Callers must
// not assume it returns the entire buffer and should loop against Pop.
func (s *ByteStream) Peek() []byte {
	return s.buf.Bytes()
}

// Pop discards min(len, BytesBuffered()) bytes from the front of the stream.
func (s *ByteStream) Pop(n uint64) {
	if n > uint64(s.buf.Len()) {
		n = uint64(s.buf.Len())
	}
	s.buf.Next(int(n))
	s.totalPopped += n
}

// Reader returns a read-only capability view of the stream.
func (s *ByteStream) Reader() Reader {
	return Reader{s: s}
}

// Writer returns a write-only capability view of the stream.
func (s *ByteStream) Writer() Writer {
	return Writer{s: s}
}

// Reader is the consumer-facing half of a ByteStream.
type Reader struct {
	s *ByteStream
}

func (r Reader) Peek() []byte              { return r.s.Peek() }
func (r Reader) Pop(n uint64)              { r.s.Pop(n) }
func (r Reader) IsFinished() bool          { return r.s.IsFinished() }
func (r Reader) HasError() bool            { return r.s.HasError() }
func (r Reader) BytesBuffered() uint64     { return r.s.BytesBuffered() }
func (r Reader) BytesPopped() uint64       { return r.s.BytesPopped() }

// Writer is the producer-facing half of a ByteStream.
type Writer struct {
	s *ByteStream
}

func (w Writer) Push(data []byte)             { w.s.Push(data) }
func (w Writer) Close()                       { w.s.Close() }
func (w Writer) SetError()                    { w.s.SetError() }
func (w Writer) IsClosed() bool               { return w.s.IsClosed() }
func (w Writer) HasError() bool               { return w.s.HasError() }
func (w Writer) AvailableCapacity() uint64    { return w.s.AvailableCapacity() }
func (w Writer) BytesPushed() uint64          { return w.s.BytesPushed() }
