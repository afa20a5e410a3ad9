// Package beamform inverts the coarse polyphase filterbank of per-antenna
// voltage captures and applies the delay, phase and calibration corrections
// needed to form a tied-array beam, or an incoherent power sum.
package beamform

import (
	"errors"
	"fmt"

	"github.com/craft-frb/tabeam/internal/dsp"
)

// CoarseBandwidth is the coarse channel width in MHz.
const CoarseBandwidth = 1.0

// ErrConfig is returned for inconsistent transform parameters.
var ErrConfig = errors.New("beamform: invalid transform config")

// TransformConfig describes the per-channel transform window. It is a value:
// resizing returns a new config and guard and fine always change together.
type TransformConfig struct {
	Length   int // samples per transform
	Guard    int // bins trimmed from each end of the shifted spectrum
	NCoarse  int
	Fine     int // output channels per coarse channel
	FineBW   float64
	CoarseBW float64
	NInt     int
	FScrunch int
}

// NewTransformConfig derives the config for a window of length samples using
// the 5/64 guard rule.
func NewTransformConfig(length, nCoarse, nInt, fscrunch int) (TransformConfig, error) {
	if nCoarse <= 0 {
		return TransformConfig{}, fmt.Errorf("%w: %d coarse channels", ErrConfig, nCoarse)
	}
	if nInt <= 0 {
		return TransformConfig{}, fmt.Errorf("%w: nint %d", ErrConfig, nInt)
	}
	c := TransformConfig{NCoarse: nCoarse, CoarseBW: CoarseBandwidth, NInt: nInt, FScrunch: fscrunch}
	guard := dsp.GuardWidth(length)
	return c.Resize(length, length-2*guard, guard)
}

// Resize returns a copy of c for a new window.
func (c TransformConfig) Resize(length, fine, guard int) (TransformConfig, error) {
	if length <= 0 || fine <= 0 || guard < 0 || fine+2*guard > length {
		return TransformConfig{}, fmt.Errorf("%w: length=%d fine=%d guard=%d", ErrConfig, length, fine, guard)
	}
	if c.FScrunch < 1 || fine%c.FScrunch != 0 {
		return TransformConfig{}, fmt.Errorf("%w: fscrunch %d does not divide %d fine channels", ErrConfig, c.FScrunch, fine)
	}
	c.Length = length
	c.Guard = guard
	c.Fine = fine
	c.FineBW = c.CoarseBW / float64(fine)
	return c, nil
}

// FineOut returns the fine channels per coarse channel after fscrunch.
func (c TransformConfig) FineOut() int { return c.Fine / c.FScrunch }

// NChan returns the total number of fine channels.
func (c TransformConfig) NChan() int { return c.NCoarse * c.Fine }

// FineFreqs returns the fine channel offsets from the coarse centre in MHz.
// The axis runs from +CoarseBW/2 downward regardless of sideband; data are
// converted to lower sideband before correction.
func (c TransformConfig) FineFreqs() []float64 {
	out := make([]float64, c.Fine)
	half := float64(c.Fine) / 2
	for k := range out {
		out[k] = -(float64(k) - half) * c.FineBW
	}
	return out
}

// IntegrationSeconds returns the span of nInt transforms.
func (c TransformConfig) IntegrationSeconds() float64 {
	return float64(c.NInt*c.Length) / (samplesPerMicrosecond * 1e6)
}
