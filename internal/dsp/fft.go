package dsp

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTShift returns the spectrum reordered so that the zero-frequency bin sits
// at index n/2, matching numpy.fft.fftshift for both even and odd n.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	split := n - n/2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[split:]...)
	shifted = append(shifted, data[:split]...)
	return shifted
}

// ShiftedIndex maps a bin index of an fftshifted spectrum of length n back to
// the index of the unshifted transform output.
func ShiftedIndex(n, k int) int {
	return (k + n - n/2) % n
}

// GuardTrim copies the fine bins [guard, guard+fine) of the fftshifted view
// of coeffs into dst without materialising the shifted spectrum.
func GuardTrim(dst, coeffs []complex128, guard, fine int) []complex128 {
	if cap(dst) < fine {
		dst = make([]complex128, fine)
	}
	dst = dst[:fine]
	n := len(coeffs)
	for k := 0; k < fine; k++ {
		dst[k] = coeffs[ShiftedIndex(n, guard+k)]
	}
	return dst
}

// Plan is a single-goroutine transform of a fixed length with reusable
// scratch buffers. Plans are not safe for concurrent use; give each worker
// its own.
type Plan struct {
	n      int
	fft    *fourier.CmplxFFT
	seq    []complex128
	coeffs []complex128
}

// NewPlan builds a forward/inverse transform of length n.
func NewPlan(n int) *Plan {
	return &Plan{
		n:      n,
		fft:    fourier.NewCmplxFFT(n),
		seq:    make([]complex128, n),
		coeffs: make([]complex128, n),
	}
}

// Len returns the transform length.
func (p *Plan) Len() int { return p.n }

// Input returns the plan's time-domain scratch buffer. It is overwritten by
// the next Inverse call.
func (p *Plan) Input() []complex128 { return p.seq }

// Forward transforms the contents of Input in place of the plan's coefficient
// buffer and returns it. The transform is unnormalised, as numpy.fft.fft.
func (p *Plan) Forward() []complex128 {
	return p.fft.Coefficients(p.coeffs, p.seq)
}

// Inverse returns the normalised inverse transform of coeffs, as
// numpy.fft.ifft. len(coeffs) must equal Len.
func (p *Plan) Inverse(coeffs []complex128) []complex128 {
	out := p.fft.Sequence(p.seq, coeffs)
	scale := complex(1/float64(p.n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}
