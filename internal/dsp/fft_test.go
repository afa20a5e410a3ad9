package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

func TestPlanForwardTonePeak(t *testing.T) {
	n := 8
	p := NewPlan(n)
	in := p.Input()
	for i := 0; i < n; i++ {
		in[i] = Phasor(float64(i) / float64(n))
	}
	coeffs := FFTShift(p.Forward())
	maxIdx := 0
	maxMag := math.Inf(-1)
	for i, v := range coeffs {
		if mag := cmplx.Abs(v); mag > maxMag {
			maxMag = mag
			maxIdx = i
		}
	}
	expectedIdx := n/2 + 1
	if maxIdx != expectedIdx {
		t.Fatalf("expected peak at %d got %d", expectedIdx, maxIdx)
	}
	if math.Abs(maxMag-float64(n)) > 1e-9 {
		t.Fatalf("expected unnormalised peak %d got %f", n, maxMag)
	}
}

func TestPlanInverseRoundTrip(t *testing.T) {
	n := 15
	p := NewPlan(n)
	want := make([]complex128, n)
	for i := range want {
		want[i] = complex(float64(i), float64(n-i))
	}
	copy(p.Input(), want)
	coeffs := append([]complex128(nil), p.Forward()...)
	got := p.Inverse(coeffs)
	for i := range want {
		if cmplx.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("index %d expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestFFTShift(t *testing.T) {
	tests := []struct {
		name string
		in   []complex128
		want []complex128
	}{
		{name: "even", in: []complex128{0, 1, 2, 3}, want: []complex128{2, 3, 0, 1}},
		{name: "odd", in: []complex128{0, 1, 2, 3, 4}, want: []complex128{3, 4, 0, 1, 2}},
		{name: "empty", in: nil, want: []complex128{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FFTShift(tt.in)
			if len(out) != len(tt.want) {
				t.Fatalf("expected length %d got %d", len(tt.want), len(out))
			}
			for i := range tt.want {
				if out[i] != tt.want[i] {
					t.Fatalf("index %d expected %v got %v", i, tt.want[i], out[i])
				}
			}
		})
	}
}

func TestGuardTrimMatchesShiftedSlice(t *testing.T) {
	for _, n := range []int{10, 11} {
		coeffs := make([]complex128, n)
		for i := range coeffs {
			coeffs[i] = complex(float64(i), 0)
		}
		guard := 2
		fine := n - 2*guard
		want := FFTShift(coeffs)[guard : guard+fine]
		got := GuardTrim(nil, coeffs, guard, fine)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("n=%d index %d expected %v got %v", n, i, want[i], got[i])
			}
		}
	}
}
