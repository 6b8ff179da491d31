// Package reassembler buffers out-of-order byte ranges and commits the
// contiguous prefix they form into a ByteStream, in sequence order.
package reassembler

import (
	"sort"

	"github.com/tinyrange/minnow/internal/stream"
)

// pendingSpan is a byte range held because it arrived ahead of the stream's
// current write frontier. The reassembler keeps pendingSpans sorted and
// mutually disjoint, so bytesPending is always their summed length.
type pendingSpan struct {
	firstIndex uint64
	data       []byte
}

func (p pendingSpan) end() uint64 {
	return p.firstIndex + uint64(len(p.data))
}

// Reassembler owns an inbound ByteStream and feeds it a contiguous prefix
// of bytes as out-of-order arrivals fill in the gaps ahead of it.
type Reassembler struct {
	out          *stream.ByteStream
	pending      []pendingSpan
	bytesPending uint64
	lastIndex    *uint64
}

// New wraps out, a freshly constructed ByteStream the Reassembler will own
// and write into exclusively.
func New(out *stream.ByteStream) *Reassembler {
	return &Reassembler{out: out}
}

// Reader returns the application-facing read view of the inbound stream.
func (r *Reassembler) Reader() stream.Reader {
	return r.out.Reader()
}

// BytesPushed is the number of bytes already committed to the stream; it is
// also the index of the next byte the reassembler expects.
func (r *Reassembler) BytesPushed() uint64 {
	return r.out.BytesPushed()
}

// AvailableCapacity is the remaining room in the inbound stream's window.
func (r *Reassembler) AvailableCapacity() uint64 {
	return r.out.AvailableCapacity()
}

// IsClosed reports whether the inbound stream has been closed.
func (r *Reassembler) IsClosed() bool {
	return r.out.IsClosed()
}

// HasError reports whether the inbound stream has been marked errored.
func (r *Reassembler) HasError() bool {
	return r.out.HasError()
}

// SetError marks the inbound stream as errored, e.g. on receipt of RST.
func (r *Reassembler) SetError() {
	r.out.SetError()
}

// BytesPending returns the total number of bytes currently buffered out of
// order, counted once per position even if overlapping copies arrived.
func (r *Reassembler) BytesPending() uint64 {
	return r.bytesPending
}

// Insert accepts a byte range [firstIndex, firstIndex+len(data)) that the
// sender is believed to have sent, along with whether it is the final
// substring of the stream. Bytes outside the stream's current acceptance
// window [BytesPushed(), BytesPushed()+AvailableCapacity()) are trimmed or
// dropped; duplicate bytes at a position keep whichever arrival is already
// stored.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	u := r.out.BytesPushed()
	w := r.out.AvailableCapacity()
	end := firstIndex + uint64(len(data))

	if isLast && end <= u {
		r.out.Close()
		return
	}

	if w == 0 || (len(data) == 0 && !isLast) {
		return
	}

	if firstIndex < u {
		drop := u - firstIndex
		if drop > uint64(len(data)) {
			drop = uint64(len(data))
		}
		data = data[drop:]
		firstIndex = u
	}

	limit := u + w
	if firstIndex >= limit {
		data = nil
	} else if firstIndex+uint64(len(data)) > limit {
		data = data[:limit-firstIndex]
	}

	if isLast {
		last := firstIndex + uint64(len(data))
		r.lastIndex = &last
	}

	if len(data) > 0 {
		r.mergeInsert(firstIndex, data)
	}

	r.drain()

	if r.lastIndex != nil && r.out.BytesPushed() == *r.lastIndex {
		r.out.Close()
	}
}

// mergeInsert adds [newStart, newStart+len(newData)) to the pending set,
// keeping only the portions not already covered by an existing span —
// whichever arrival reached a given byte position first wins.
func (r *Reassembler) mergeInsert(newStart uint64, newData []byte) {
	type span struct{ start, end uint64 }
	free := []span{{newStart, newStart + uint64(len(newData))}}

	for _, existing := range r.pending {
		existStart, existEnd := existing.firstIndex, existing.end()
		var next []span
		for _, f := range free {
			if existEnd <= f.start || existStart >= f.end {
				next = append(next, f)
				continue
			}
			if existStart > f.start {
				next = append(next, span{f.start, existStart})
			}
			if existEnd < f.end {
				next = append(next, span{existEnd, f.end})
			}
		}
		free = next
		if len(free) == 0 {
			return
		}
	}

	for _, f := range free {
		if f.end <= f.start {
			continue
		}
		chunk := append([]byte(nil), newData[f.start-newStart:f.end-newStart]...)
		r.pending = append(r.pending, pendingSpan{firstIndex: f.start, data: chunk})
		r.bytesPending += f.end - f.start
	}

	sort.Slice(r.pending, func(i, j int) bool {
		return r.pending[i].firstIndex < r.pending[j].firstIndex
	})
}

// drain pushes the maximal contiguous prefix of pending spans into the
// stream, starting from the current write frontier.
func (r *Reassembler) drain() {
	for len(r.pending) > 0 {
		head := r.pending[0]
		u := r.out.BytesPushed()
		if head.firstIndex > u {
			return
		}
		if head.firstIndex < u {
			skip := u - head.firstIndex
			if skip >= uint64(len(head.data)) {
				r.pending = r.pending[1:]
				r.bytesPending -= uint64(len(head.data))
				continue
			}
			head.data = head.data[skip:]
			head.firstIndex = u
		}
		r.out.Push(head.data)
		r.bytesPending -= uint64(len(head.data))
		r.pending = r.pending[1:]
	}
}
