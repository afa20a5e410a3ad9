package aips

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"path/filepath"
	"slices"

	"gonum.org/v1/gonum/interp"
)

// MaxAntennas is the size of the full array; solutions are indexed 0..35.
const MaxAntennas = 36

// ErrNoSolution is returned alongside a NaN value when an antenna has no
// loaded calibration.
var ErrNoSolution = errors.New("aips: no calibration solution for antenna")

type antennaSolution struct {
	re, im interp.PiecewiseLinear
	gain   complex128
}

// Solutions is an immutable per-antenna calibration lookup. It is safe for
// concurrent use once built.
type Solutions struct {
	// Freqs is the native grid in GHz, in decreasing order.
	Freqs []float64
	ants  [MaxAntennas]*antennaSolution
	// LoadErrs records why requested antennas were left unpopulated.
	LoadErrs map[int]error
}

// Load reads the header, manifest and tables next to bandpassPath and builds
// solutions for the requested antennas (all when antennas is empty). freqs
// are the coarse channel centres in MHz; the first one anchors the grid.
func Load(bandpassPath string, pol string, freqs []float64, antennas []int) (*Solutions, error) {
	hdr, err := ReadHeader(bandpassPath)
	if err != nil {
		return nil, err
	}
	m, err := FindManifest(filepath.Dir(bandpassPath))
	if err != nil {
		return nil, err
	}
	tables, err := LoadTables(bandpassPath, hdr.NFreq, m)
	if err != nil {
		return nil, err
	}
	return New(tables, hdr.NFreq, pol, freqs, antennas)
}

// Grid returns the native solution grid in GHz: nfreq points across
// len(freqs) MHz, descending from half a coarse channel above freqs[0].
func Grid(nfreq int, freqs []float64) []float64 {
	fmax := freqs[0] + 0.5
	bw := float64(len(freqs))
	grid := make([]float64, nfreq)
	for k := range grid {
		grid[k] = (-float64(k)/float64(nfreq)*bw + fmax - bw/float64(nfreq)/2) / 1e3
	}
	return grid
}

// New builds solutions from src. Per-antenna extraction failures leave the
// antenna unpopulated and are recorded in LoadErrs.
func New(src Source, nfreq int, pol string, freqs []float64, antennas []int) (*Solutions, error) {
	if nfreq < 2 {
		return nil, fmt.Errorf("%w: need at least 2 frequency points, got %d", ErrHeader, nfreq)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%w: no coarse channel frequencies", ErrHeader)
	}
	s := &Solutions{Freqs: Grid(nfreq, freqs), LoadErrs: make(map[int]error)}
	if len(antennas) == 0 {
		antennas = make([]int, MaxAntennas)
		for i := range antennas {
			antennas[i] = i
		}
	}
	for _, iant := range antennas {
		if iant < 0 || iant >= MaxAntennas {
			return nil, fmt.Errorf("aips: antenna index %d outside 0..%d", iant, MaxAntennas-1)
		}
		sol, err := s.build(src, iant, pol)
		if err != nil {
			s.LoadErrs[iant] = err
			continue
		}
		s.ants[iant] = sol
	}
	return s, nil
}

func (s *Solutions) build(src Source, iant int, pol string) (*antennaSolution, error) {
	bp, err := src.PhaseBandpass(iant, pol)
	if err != nil {
		return nil, err
	}
	if len(bp) != len(s.Freqs) {
		return nil, fmt.Errorf("aips: antenna %d bandpass has %d points, grid %d", iant, len(bp), len(s.Freqs))
	}
	// The grid runs in decreasing frequency.
	slices.Reverse(bp)

	delayS, err := src.DelayFring(iant, pol)
	if err != nil {
		return nil, err
	}
	delayNs := delayS * 1e9
	ref := delayNs * s.Freqs[len(s.Freqs)/2]
	for k, f := range s.Freqs {
		bp[k] *= cmplx.Exp(complex(0, 2*math.Pi*(delayNs*f-ref)))
	}

	fring, err := src.PhaseFring(iant, pol)
	if err != nil {
		return nil, err
	}
	selfcal, err := src.PhaseSelfcal(iant, pol)
	if err != nil {
		return nil, err
	}
	gain := 1 / (fring * selfcal)

	// Interpolate on an increasing axis.
	n := len(s.Freqs)
	xs := make([]float64, n)
	re := make([]float64, n)
	im := make([]float64, n)
	for k := 0; k < n; k++ {
		v := cmplx.Conj(bp[n-1-k])
		xs[k] = s.Freqs[n-1-k]
		re[k] = real(v)
		im[k] = imag(v)
	}
	sol := &antennaSolution{gain: gain}
	if err := sol.re.Fit(xs, re); err != nil {
		return nil, fmt.Errorf("aips: antenna %d: %w", iant, err)
	}
	if err := sol.im.Fit(xs, im); err != nil {
		return nil, fmt.Errorf("aips: antenna %d: %w", iant, err)
	}
	return sol, nil
}

// Has reports whether antenna iant has a loaded solution.
func (s *Solutions) Has(iant int) bool {
	return iant >= 0 && iant < MaxAntennas && s.ants[iant] != nil
}

// Solution returns bandpass(freqGHz) × gain for antenna iant. The time
// argument is ignored; solutions are static over a capture. Frequencies
// outside the grid take the nearest edge value. An unpopulated antenna yields
// NaN and ErrNoSolution.
func (s *Solutions) Solution(iant int, _ float64, freqGHz float64) (complex128, error) {
	if !s.Has(iant) {
		return cmplx.NaN(), fmt.Errorf("%w: %d", ErrNoSolution, iant)
	}
	a := s.ants[iant]
	bp := complex(a.re.Predict(freqGHz), a.im.Predict(freqGHz))
	return bp * a.gain, nil
}
