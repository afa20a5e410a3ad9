package dsp

import (
	"errors"
	"fmt"
)

// MaxSearch bounds the number of candidate lengths NextBiggest and
// NextSmallest examine before giving up. 11-smooth numbers are dense enough
// that real buffers never come close.
const MaxSearch = 1 << 20

var (
	// ErrInvalidLength is returned for non-positive sample or channel counts.
	ErrInvalidLength = errors.New("dsp: sample and channel counts must be positive")
	// ErrNoFastLength is returned when the search runs out of candidates.
	ErrNoFastLength = errors.New("dsp: no efficient transform length found")
)

var fastPrimes = [...]int{2, 3, 5, 7, 11}

// IsFastLength reports whether n factors entirely into 2, 3, 5, 7 and 11.
// This is the 11-smooth rule of scipy's next_fast_len for complex input;
// gonum has native passes only for 2, 3, 4 and 5, so 7 and 11 run through
// its generic radix pass.
func IsFastLength(n int) bool {
	if n <= 0 {
		return false
	}
	for _, p := range fastPrimes {
		for n%p == 0 {
			n /= p
		}
	}
	return n == 1
}

// GuardWidth is the number of oversampled edge bins discarded on each side of
// a coarse channel transform of length n.
func GuardWidth(n int) int {
	return 5 * n / 64
}

// NextBiggest searches upward from the guard-trimmed estimate of x for a
// fine channel count whose product with bw is an efficient transform length.
// It returns the padded sample count, the fine channel count and the guard
// width rescaled to the found fine count; total == fine + 2*guard.
func NextBiggest(x, bw int) (total, fine, guard int, err error) {
	return searchFastLength(x, bw, 1, 1)
}

// NextSmallest is NextBiggest searching downward, so the returned total never
// exceeds x.
func NextSmallest(x, bw int) (total, fine, guard int, err error) {
	return searchFastLength(x, bw, 1, -1)
}

// NextSmallestMultiple is NextSmallest restricted to fine channel counts
// divisible by div.
func NextSmallestMultiple(x, bw, div int) (total, fine, guard int, err error) {
	return searchFastLength(x, bw, div, -1)
}

func searchFastLength(x, bw, div, step int) (int, int, int, error) {
	if x <= 0 || bw <= 0 || div <= 0 {
		return 0, 0, 0, ErrInvalidLength
	}
	xguard := GuardWidth(x)
	est := x - 2*xguard
	y := est
	for i := 0; i < MaxSearch && y > 0; i++ {
		if y%div == 0 && IsFastLength(y*bw) {
			yguard := int(float64(xguard) * (float64(y) / float64(est)))
			return y + 2*yguard, y, yguard, nil
		}
		y += step
	}
	return 0, 0, 0, fmt.Errorf("%w: x=%d bw=%d div=%d", ErrNoFastLength, x, bw, div)
}
