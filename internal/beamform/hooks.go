package beamform

import (
	"sync/atomic"
	"time"
)

// Calibrator returns the complex correction of antenna iant at time t and
// frequency fGHz. An antenna without a solution returns NaN and an error
// wrapping aips.ErrNoSolution; any other error aborts the run.
type Calibrator interface {
	Solution(iant int, t, fGHz float64) (complex128, error)
}

// Unity is a Calibrator that applies no correction.
type Unity struct{}

// Solution implements Calibrator.
func (Unity) Solution(int, float64, float64) (complex128, error) { return 1, nil }

// Diagnostics receives the plain-text records a run leaves behind.
type Diagnostics interface {
	AntennaDelays(antNo int, d AntennaDelays) error
	CropMJD(mjd float64) error
	CorrectedMJD(antName string, mjd float64) error
	FFTLength(n int) error
}

// Metrics receives pipeline counters.
type Metrics interface {
	ChannelDone(mode string, d time.Duration)
	NaNOutputs(mode string, n int)
	TransformLength(mode string, n int)
}

type nopDiagnostics struct{}

func (nopDiagnostics) AntennaDelays(int, AntennaDelays) error { return nil }
func (nopDiagnostics) CropMJD(float64) error                  { return nil }
func (nopDiagnostics) CorrectedMJD(string, float64) error     { return nil }
func (nopDiagnostics) FFTLength(int) error                    { return nil }

type nopMetrics struct{}

func (nopMetrics) ChannelDone(string, time.Duration) {}
func (nopMetrics) NaNOutputs(string, int)            {}
func (nopMetrics) TransformLength(string, int)       {}

// RunContext carries the cooperative stop flag of a run. Workers poll it
// between channels; Stop never interrupts a channel in progress.
type RunContext struct {
	stopped atomic.Bool
}

// NewRunContext returns a running context.
func NewRunContext() *RunContext { return &RunContext{} }

// Stop requests that no further channels are started.
func (r *RunContext) Stop() { r.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (r *RunContext) Stopped() bool { return r.stopped.Load() }
