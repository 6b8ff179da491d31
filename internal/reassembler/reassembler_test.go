package reassembler

import (
	"bytes"
	"testing"

	"github.com/tinyrange/minnow/internal/stream"
)

func newTestReassembler(capacity uint64) (*Reassembler, stream.Reader) {
	s := stream.New(capacity)
	r := New(s)
	return r, r.Reader()
}

func TestOutOfOrderInsert(t *testing.T) {
	r, out := newTestReassembler(1000)

	r.Insert(3, []byte("def"), false)
	if got := r.BytesPending(); got != 3 {
		t.Fatalf("bytes pending = %d, want 3", got)
	}
	if got := out.BytesBuffered(); got != 0 {
		t.Fatalf("buffered = %d, want 0 before gap fills", got)
	}

	r.Insert(0, []byte("abc"), false)
	if got := r.BytesPending(); got != 0 {
		t.Fatalf("bytes pending = %d, want 0 after merge", got)
	}
	if !bytes.Equal(out.Peek(), []byte("abcdef")) {
		t.Fatalf("stream = %q, want %q", out.Peek(), "abcdef")
	}

	r.Insert(6, nil, true)
	if out.IsFinished() {
		t.Fatal("stream should not be finished until the reader drains it")
	}
	out.Pop(out.BytesBuffered())
	if !out.IsFinished() {
		t.Fatal("expected stream finished once closed and fully drained")
	}
}

func TestInOrderInsert(t *testing.T) {
	r, out := newTestReassembler(1000)
	r.Insert(0, []byte("abc"), false)
	r.Insert(3, []byte("def"), true)
	if !bytes.Equal(out.Peek(), []byte("abcdef")) {
		t.Fatalf("stream = %q, want %q", out.Peek(), "abcdef")
	}
	if !r.IsClosed() {
		t.Fatal("expected stream closed once last substring is contiguous")
	}
	out.Pop(out.BytesBuffered())
	if !out.IsFinished() {
		t.Fatal("expected finished once closed and fully drained")
	}
}

func TestOverlappingInsertsDeduplicate(t *testing.T) {
	r, out := newTestReassembler(1000)
	r.Insert(0, []byte("ab"), false)
	r.Insert(1, []byte("bc"), false)
	r.Insert(0, []byte("abc"), false)
	if !bytes.Equal(out.Peek(), []byte("abc")) {
		t.Fatalf("stream = %q, want %q", out.Peek(), "abc")
	}
	if r.BytesPending() != 0 {
		t.Fatalf("bytes pending = %d, want 0", r.BytesPending())
	}
}

func TestCapacityLimitsAcceptanceWindow(t *testing.T) {
	r, out := newTestReassembler(2)
	r.Insert(0, []byte("abcd"), false)
	if got := out.BytesBuffered(); got != 2 {
		t.Fatalf("buffered = %d, want 2 (clamped to capacity)", got)
	}
	if r.BytesPending() != 0 {
		t.Fatalf("bytes pending = %d, want 0", r.BytesPending())
	}
}

func TestDuplicateAndStaleSegmentsIgnored(t *testing.T) {
	r, out := newTestReassembler(1000)
	r.Insert(0, []byte("abc"), false)
	out.Pop(3)
	r.Insert(0, []byte("abc"), false)
	if got := out.BytesBuffered(); got != 0 {
		t.Fatalf("buffered = %d, want 0 for fully stale segment", got)
	}
}

func TestBytesPendingNeverDoubleCounts(t *testing.T) {
	r, _ := newTestReassembler(1000)
	r.Insert(5, []byte("xxxxx"), false)
	r.Insert(5, []byte("xxxxx"), false)
	if got := r.BytesPending(); got != 5 {
		t.Fatalf("bytes pending = %d, want 5 (no double count)", got)
	}
	r.Insert(7, []byte("yyy"), false)
	if got := r.BytesPending(); got != 5 {
		t.Fatalf("bytes pending = %d, want 5 (fully covered by existing span)", got)
	}
	r.Insert(8, []byte("zzzz"), false)
	if got := r.BytesPending(); got != 7 {
		t.Fatalf("bytes pending = %d, want 7 after partial overlap extends past existing span", got)
	}
}
