package dsp

import (
	"math"
)

// Phasor returns exp(i*2*pi*turns).
func Phasor(turns float64) complex128 {
	s, c := math.Sincos(2 * math.Pi * turns)
	return complex(c, s)
}

// Rotate multiplies each sample by exp(i*2*pi*turns(i)).
func Rotate(data []complex128, turns func(i int) float64) {
	for i := range data {
		data[i] *= Phasor(turns(i))
	}
}

// Conjugate replaces every sample with its complex conjugate.
func Conjugate(data []complex128) {
	for i, v := range data {
		data[i] = complex(real(v), -imag(v))
	}
}

// HasNaN reports whether any real or imaginary part is NaN.
func HasNaN(data []complex64) bool {
	return CountNaN(data) > 0
}

// CountNaN counts samples with a NaN component.
func CountNaN(data []complex64) int {
	n := 0
	for _, v := range data {
		if math.IsNaN(float64(real(v))) || math.IsNaN(float64(imag(v))) {
			n++
		}
	}
	return n
}
