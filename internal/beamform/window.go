package beamform

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/craft-frb/tabeam/internal/dsp"
	"github.com/craft-frb/tabeam/internal/vcraft"
)

const (
	samplesPerMicrosecond = vcraft.SamplesPerMicrosecond

	// KDM is the dispersion constant in MHz² pc⁻¹ cm³ s.
	KDM = 4149.377593

	// CalibratorCap bounds the window when no pulse is given.
	CalibratorCap = 3800000

	microsecondsPerDay = 8.64e10

	cropPad   = 1.1
	cropWidth = 1.2
)

// ErrEmptyWindow is returned when a pulse crop does not overlap the buffer.
var ErrEmptyWindow = errors.New("beamform: crop window outside buffer")

// Pulse locates a dispersed burst for cropping.
type Pulse struct {
	MJD float64
	DM  float64 // pc cm⁻³
}

// Window is the resolved read window of one antenna.
type Window struct {
	Offset int // first sample read from the stream
	Config TransformConfig
	// DelayStart indexes the first sample of the window in the default
	// delay series.
	DelayStart int

	Cropped     bool
	Capped      bool
	PulseOffset int // samples from the antenna start
	Sweep       float64
	BufferStart int
	BufferEnd   int
}

// SweepSamples returns the dispersion sweep across freqs (MHz) in samples.
func SweepSamples(dm float64, freqs []float64) float64 {
	fmin, fmax := slices.Min(freqs), slices.Max(freqs)
	us := math.Abs(KDM * dm * 1e6 * (1/(fmin*fmin) - 1/(fmax*fmax)))
	return math.Trunc(us) * samplesPerMicrosecond
}

// PulseOffset returns the pulse epoch as a sample count from startMJD.
func PulseOffset(pulseMJD, startMJD float64) int {
	return int((pulseMJD - startMJD) * microsecondsPerDay * samplesPerMicrosecond)
}

// ResolveWindow chooses the read window for a buffer starting at offset and
// spanning cfg.Length samples. With a pulse the window is cropped around the
// dispersion sweep, clamped to the buffer and shrunk to an efficient length
// whose fine channel count fscrunch divides.
// Without one the window is capped at CalibratorCap samples.
func ResolveWindow(offset int, cfg TransformConfig, startMJD float64, freqs []float64, pulse *Pulse) (Window, error) {
	w := Window{
		Offset:      offset,
		Config:      cfg,
		BufferStart: offset,
		BufferEnd:   offset + cfg.Length,
	}
	if pulse == nil {
		if cfg.Length >= CalibratorCap {
			total, guard := CalibratorCap, dsp.GuardWidth(CalibratorCap)
			fine := total - 2*guard
			if fine%cfg.FScrunch != 0 {
				var err error
				if total, fine, guard, err = dsp.NextSmallestMultiple(CalibratorCap, cfg.NCoarse, cfg.FScrunch); err != nil {
					return Window{}, fmt.Errorf("calibrator cap: %w", err)
				}
			}
			c, err := cfg.Resize(total, fine, guard)
			if err != nil {
				return Window{}, err
			}
			w.Config = c
			w.Capped = true
		}
		return w, nil
	}
	if len(freqs) == 0 {
		return Window{}, fmt.Errorf("%w: no channel frequencies", ErrConfig)
	}

	w.PulseOffset = PulseOffset(pulse.MJD, startMJD)
	w.Sweep = SweepSamples(pulse.DM, freqs)

	cropStart := w.PulseOffset - int(w.Sweep*cropPad)
	provisional := int(w.Sweep*cropWidth) / cfg.NCoarse * cfg.NCoarse
	cropLen, _, _, err := dsp.NextBiggest(provisional, cfg.NCoarse)
	if err != nil {
		return Window{}, fmt.Errorf("provisional crop of %d samples: %w", provisional, err)
	}
	cropEnd := cropStart + cropLen

	start := w.BufferStart
	if cropStart > start {
		start = cropStart
	}
	end := min(cropEnd, w.BufferEnd)
	if end <= start {
		return Window{}, fmt.Errorf("%w: crop [%d,%d) buffer [%d,%d)", ErrEmptyWindow, cropStart, cropEnd, w.BufferStart, w.BufferEnd)
	}

	total, fine, guard, err := dsp.NextSmallestMultiple(end-start, cfg.NCoarse, cfg.FScrunch)
	if err != nil {
		return Window{}, fmt.Errorf("crop of %d samples: %w", end-start, err)
	}
	c, err := cfg.Resize(total, fine, guard)
	if err != nil {
		return Window{}, err
	}
	w.Offset = start
	w.Config = c
	w.DelayStart = start - w.BufferStart
	w.Cropped = true
	return w, nil
}

// CropMJD returns the epoch of the window start for an antenna starting at
// startMJD.
func (w Window) CropMJD(startMJD float64) float64 {
	return startMJD + float64(w.Offset-w.BufferStart)/samplesPerMicrosecond/microsecondsPerDay
}
