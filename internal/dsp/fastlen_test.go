package dsp

import (
	"errors"
	"testing"
)

func TestIsFastLength(t *testing.T) {
	fast := []int{1, 2, 3, 5, 7, 11, 336, 2 * 3 * 5 * 7 * 11, 1 << 20}
	for _, n := range fast {
		if !IsFastLength(n) {
			t.Errorf("expected %d to be fast", n)
		}
	}
	slow := []int{0, -4, 13, 17 * 2, 336 * 13}
	for _, n := range slow {
		if IsFastLength(n) {
			t.Errorf("expected %d to be slow", n)
		}
	}
}

func TestNextBiggestIdentities(t *testing.T) {
	for _, x := range []int{64, 1000, 12345, 99991, 1_000_003} {
		for _, bw := range []int{1, 7, 336} {
			total, fine, guard, err := NextBiggest(x, bw)
			if err != nil {
				t.Fatalf("x=%d bw=%d: %v", x, bw, err)
			}
			if total != fine+2*guard {
				t.Fatalf("x=%d bw=%d: total %d != fine %d + 2*guard %d", x, bw, total, fine, guard)
			}
			if !IsFastLength(fine * bw) {
				t.Fatalf("x=%d bw=%d: fine*bw=%d is not fast", x, bw, fine*bw)
			}
			if est := x - 2*GuardWidth(x); fine < est {
				t.Fatalf("x=%d bw=%d: fine %d below estimate %d", x, bw, fine, est)
			}
		}
	}
}

func TestNextSmallestIdentities(t *testing.T) {
	for _, x := range []int{64, 1000, 12345, 99991, 1_000_003} {
		for _, bw := range []int{1, 7, 336} {
			total, fine, guard, err := NextSmallest(x, bw)
			if err != nil {
				t.Fatalf("x=%d bw=%d: %v", x, bw, err)
			}
			if total != fine+2*guard {
				t.Fatalf("x=%d bw=%d: total %d != fine %d + 2*guard %d", x, bw, total, fine, guard)
			}
			if est := x - 2*GuardWidth(x); fine > est {
				t.Fatalf("x=%d bw=%d: fine %d above estimate %d", x, bw, fine, est)
			}
			if total > x {
				t.Fatalf("x=%d bw=%d: total %d exceeds input", x, bw, total)
			}
		}
	}
}

func TestNextSearchAlreadyFast(t *testing.T) {
	// x=64: guard 5, estimate 54 = 2*3^3 is already fast.
	total, fine, guard, err := NextBiggest(64, 1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 64 || fine != 54 || guard != 5 {
		t.Fatalf("got (%d,%d,%d) want (64,54,5)", total, fine, guard)
	}
	a, b, c, _ := NextSmallest(64, 1)
	if a != total || b != fine || c != guard {
		t.Fatalf("upward and downward searches disagree on a fast estimate")
	}
}

func TestNextSearchRejectsInvalid(t *testing.T) {
	if _, _, _, err := NextBiggest(0, 336); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if _, _, _, err := NextSmallest(100, 0); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestNextSmallestExhausts(t *testing.T) {
	// 13 has no fast multiple, so the downward scan runs out at zero.
	if _, _, _, err := NextSmallest(1000, 13); !errors.Is(err, ErrNoFastLength) {
		t.Fatalf("expected ErrNoFastLength, got %v", err)
	}
}

func TestNextSmallestMultiple(t *testing.T) {
	// NextSmallest(4000, 336) lands on an odd fine count.
	_, odd, _, err := NextSmallest(4000, 336)
	if err != nil {
		t.Fatal(err)
	}
	if odd%2 == 0 {
		t.Fatalf("expected an odd fine count, got %d", odd)
	}
	for _, div := range []int{1, 2, 4, 6} {
		total, fine, guard, err := NextSmallestMultiple(4000, 336, div)
		if err != nil {
			t.Fatalf("div=%d: %v", div, err)
		}
		if fine%div != 0 || !IsFastLength(fine*336) || total != fine+2*guard || total > 4000 {
			t.Fatalf("div=%d: got (%d,%d,%d)", div, total, fine, guard)
		}
	}
	if _, _, _, err := NextSmallestMultiple(4000, 336, 0); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}
