package wrap32

import "testing"

func TestWrapUnwrapRoundTrip(t *testing.T) {
	cases := []struct {
		n         uint64
		zeroPoint uint32
	}{
		{0, 0},
		{1, 0},
		{1, 1 << 31},
		{1<<32 - 1, 0},
		{1 << 33, 0},
		{(1 << 32) + 17, 5000},
	}
	for _, c := range cases {
		zp := New(c.zeroPoint)
		w := Wrap(c.n, zp)
		got := w.Unwrap(zp, c.n)
		if got != c.n {
			t.Errorf("Wrap(%d, %d).Unwrap(checkpoint=%d) = %d, want %d", c.n, c.zeroPoint, c.n, got, c.n)
		}
	}
}

func TestUnwrapClosestToCheckpoint(t *testing.T) {
	zp := New(0)
	w := Wrap(17, zp)
	checkpoints := []uint64{0, 1 << 10, 1 << 20, 1 << 32, 1<<32 + 1<<20, 1 << 40}
	for _, checkpoint := range checkpoints {
		n := w.Unwrap(zp, checkpoint)
		if wrapped := Wrap(n, zp); !wrapped.Equal(w) {
			t.Fatalf("unwrap(%d) = %d does not wrap back to %v", checkpoint, n, w)
		}
		dist := absDiff(n, checkpoint)
		if dist > (1 << 31) {
			t.Fatalf("unwrap(%d) = %d is farther than 2^31 away from checkpoint", checkpoint, n)
		}
	}
}

func TestBoundaryFromSpec(t *testing.T) {
	zp := New(1<<32 - 1)

	w := Wrap(1, zp)
	if w.Raw() != 0 {
		t.Fatalf("wrap(1, 2^32-1) = %v, want raw 0", w)
	}

	if got := w.Unwrap(zp, 0); got != 1 {
		t.Fatalf("unwrap(checkpoint=0) = %d, want 1", got)
	}

	if got := w.Unwrap(zp, 1<<33); got != (1<<32)+1 {
		t.Fatalf("unwrap(checkpoint=2^33) = %d, want 2^32+1", got)
	}
}

func TestAddWrapsModulo2to32(t *testing.T) {
	w := New(1<<32 - 1)
	if got := w.Add(1); got.Raw() != 0 {
		t.Fatalf("Add overflow: got raw %d, want 0", got.Raw())
	}
}
