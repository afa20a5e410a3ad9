package beamform

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craft-frb/tabeam/internal/aips"
	"github.com/craft-frb/tabeam/internal/calc"
	"github.com/craft-frb/tabeam/internal/dsp"
	"github.com/craft-frb/tabeam/internal/parset"
	"github.com/craft-frb/tabeam/internal/vcraft"
)

const testMJD = 58000.5

// linearModel gives every antenna a delay growing linearly with time.
type linearModel struct {
	base  map[string]float64
	slope float64 // µs per day
}

func (m linearModel) Eval(mjd float64) (map[string]calc.Record, error) {
	out := make(map[string]calc.Record, len(m.base))
	for name, d := range m.base {
		out[name] = calc.Record{
			calc.Delay: d + m.slope*(mjd-testMJD),
			calc.U:     1,
			calc.V:     2,
			calc.W:     3,
		}
	}
	return out, nil
}

type recorder struct {
	mu        sync.Mutex
	delays    map[int]AntennaDelays
	crop      []float64
	corrected map[string]float64
	fftlen    []int
}

func newRecorder() *recorder {
	return &recorder{delays: make(map[int]AntennaDelays), corrected: make(map[string]float64)}
}

func (r *recorder) AntennaDelays(antNo int, d AntennaDelays) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays[antNo] = d
	return nil
}

func (r *recorder) CropMJD(mjd float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crop = append(r.crop, mjd)
	return nil
}

func (r *recorder) CorrectedMJD(name string, mjd float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrected[name] = mjd
	return nil
}

func (r *recorder) FFTLength(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fftlen = append(r.fftlen, n)
	return nil
}

// missingCal has solutions only for the listed antenna indices.
type missingCal map[int]bool

func (m missingCal) Solution(iant int, _, _ float64) (complex128, error) {
	if !m[iant] {
		return cmplx.NaN(), fmt.Errorf("%w: %d", aips.ErrNoSolution, iant)
	}
	return 1, nil
}

func freqs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1100 - float64(i)
	}
	return out
}

func mockAntenna(name string, no int, trigger int64, nsamps int, f []float64) *Antenna {
	hdr := vcraft.Header{
		AntName:      name,
		AntNo:        no,
		Pol:          "x",
		StartMJD:     testMJD,
		StartFrameID: trigger,
		Freqs:        f,
	}
	return NewAntenna(vcraft.Synthesize(hdr, vcraft.SynthConfig{NSamps: nsamps, Amplitude: 10}))
}

func twoAntennas(nchan int) []*Antenna {
	f := freqs(nchan)
	return []*Antenna{
		mockAntenna("ak02", 2, 900, 1124, f),
		mockAntenna("ak01", 1, 1000, 1124, f),
	}
}

func sameDelays() linearModel {
	return linearModel{base: map[string]float64{"ak01": 5, "ak02": 5}}
}

func TestTransformConfigIdempotent(t *testing.T) {
	a, err := NewTransformConfig(1024, 336, 128, 1)
	require.NoError(t, err)
	b, err := NewTransformConfig(1024, 336, 128, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 80, a.Guard)
	assert.Equal(t, 864, a.Fine)
	assert.Equal(t, a.Length, a.Fine+2*a.Guard)

	c, err := a.Resize(a.Length, a.Fine, a.Guard)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestTransformConfigValidation(t *testing.T) {
	_, err := NewTransformConfig(1024, 336, 1, 5)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewTransformConfig(0, 336, 1, 1)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewTransformConfig(1024, 0, 1, 1)
	assert.ErrorIs(t, err, ErrConfig)
	c, err := NewTransformConfig(1024, 336, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.FScrunch)
}

func TestFineFreqs(t *testing.T) {
	c := TransformConfig{Fine: 4, FineBW: 0.25}
	assert.Equal(t, []float64{0.5, 0.25, 0, -0.25}, c.FineFreqs())
}

func TestDelaySeries(t *testing.T) {
	d := DelaySeries{Delay: 2, Rate: 0.5, Fixed: 0.25, N: 11}
	assert.InDelta(t, 1.75, d.At(0), 1e-12)
	assert.InDelta(t, 2.25, d.At(10), 1e-12)
	w := d.Window(make([]float64, 3), 5)
	assert.InDelta(t, 2.0, w[0], 1e-12)
}

func TestAntennaIndex(t *testing.T) {
	i, err := AntennaIndex("AK01")
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	i, err = AntennaIndex("ak36")
	require.NoError(t, err)
	assert.Equal(t, 35, i)
	for _, bad := range []string{"ak00", "ak37", "pk01", "ak"} {
		_, err = AntennaIndex(bad)
		assert.Error(t, err, bad)
	}
}

func TestCalibratorCap(t *testing.T) {
	cfg, err := NewTransformConfig(4000000, 336, 1, 1)
	require.NoError(t, err)
	w, err := ResolveWindow(10, cfg, testMJD, freqs(336), nil)
	require.NoError(t, err)
	assert.True(t, w.Capped)
	assert.Equal(t, CalibratorCap, w.Config.Length)
	assert.Equal(t, 296875, w.Config.Guard)
	assert.Equal(t, CalibratorCap-2*296875, w.Config.Fine)
	assert.Equal(t, 10, w.Offset)
	assert.Equal(t, 0, w.DelayStart)

	small, err := NewTransformConfig(1024, 336, 1, 1)
	require.NoError(t, err)
	w, err = ResolveWindow(0, small, testMJD, freqs(336), nil)
	require.NoError(t, err)
	assert.False(t, w.Capped)
	assert.Equal(t, small, w.Config)
}

func pulseAt(sample float64) float64 {
	return testMJD + sample/samplesPerMicrosecond/microsecondsPerDay
}

func TestDMCropClampsToBuffer(t *testing.T) {
	f := freqs(336)
	cfg, err := NewTransformConfig(3000, 336, 1, 1)
	require.NoError(t, err)
	// The sweep at DM 1000 across 765-1100 MHz is millions of
	// samples, wider than the buffer on both sides.
	require.Greater(t, SweepSamples(1000, f), 3000.0)

	w, err := ResolveWindow(0, cfg, testMJD, f, &Pulse{MJD: pulseAt(1500.5), DM: 1000})
	require.NoError(t, err)
	assert.True(t, w.Cropped)
	assert.Equal(t, 0, w.Offset)
	assert.LessOrEqual(t, w.Config.Length, cfg.Length)
	assert.LessOrEqual(t, w.Offset+w.Config.Length, w.BufferEnd)
	assert.Equal(t, w.Config.Length, w.Config.Fine+2*w.Config.Guard)
}

func TestDMCropInsideBuffer(t *testing.T) {
	f := freqs(336)
	cfg, err := NewTransformConfig(100000, 336, 1, 1)
	require.NoError(t, err)
	sweep := SweepSamples(1, f)
	require.Greater(t, sweep, 1000.0)
	require.Less(t, sweep, 10000.0)

	const offset = 200
	w, err := ResolveWindow(offset, cfg, testMJD, f, &Pulse{MJD: pulseAt(50000.5), DM: 1})
	require.NoError(t, err)
	want := w.PulseOffset - int(sweep*cropPad)
	assert.Equal(t, want, w.Offset)
	assert.Equal(t, want-offset, w.DelayStart)
	assert.LessOrEqual(t, w.Offset+w.Config.Length, w.BufferEnd)
	assert.InDelta(t, testMJD+float64(want-offset)/samplesPerMicrosecond/microsecondsPerDay, w.CropMJD(testMJD), 1e-12)
}

func TestDMCropKeepsFScrunchDivisor(t *testing.T) {
	f := freqs(336)
	cfg, err := NewTransformConfig(4000, 336, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3376, cfg.Fine)

	w, err := ResolveWindow(0, cfg, testMJD, f, &Pulse{MJD: pulseAt(2000.5), DM: 1000})
	require.NoError(t, err)
	assert.True(t, w.Cropped)
	assert.Equal(t, 3360, w.Config.Fine)
	assert.Equal(t, 1680, w.Config.FineOut())
	assert.LessOrEqual(t, w.Offset+w.Config.Length, w.BufferEnd)
	assert.Equal(t, w.Config.Length, w.Config.Fine+2*w.Config.Guard)
}

func TestCalibratorCapKeepsFScrunchDivisor(t *testing.T) {
	cfg, err := NewTransformConfig(4000000, 336, 1, 2)
	require.NoError(t, err)
	w, err := ResolveWindow(0, cfg, testMJD, freqs(336), nil)
	require.NoError(t, err)
	assert.Equal(t, CalibratorCap, w.Config.Length)

	cfg.FScrunch = 4
	w, err = ResolveWindow(0, cfg, testMJD, freqs(336), nil)
	require.NoError(t, err)
	assert.True(t, w.Capped)
	assert.Zero(t, w.Config.Fine%4)
	assert.LessOrEqual(t, w.Config.Length, CalibratorCap)
}

func TestDMCropOutsideBuffer(t *testing.T) {
	f := freqs(336)
	cfg, err := NewTransformConfig(3000, 336, 1, 1)
	require.NoError(t, err)
	_, err = ResolveWindow(0, cfg, testMJD, f, &Pulse{MJD: pulseAt(1e7), DM: 10})
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestTwoAntennaScenario(t *testing.T) {
	rec := newRecorder()
	corr, err := NewCorrelator(twoAntennas(336), Options{
		NInt:        128,
		Model:       linearModel{base: map[string]float64{"ak01": 5, "ak02": 7}, slope: 10},
		Diagnostics: rec,
		Workers:     4,
	})
	require.NoError(t, err)
	assert.Equal(t, "ak01", corr.Reference().Name)
	assert.Equal(t, 1024, corr.Config().Length)

	for an := range corr.Antennas() {
		spec, err := corr.DoTAB(context.Background(), an, nil)
		require.NoError(t, err)
		assert.Equal(t, [3]int{128, 336 * 864, 1}, spec.Shape())
		assert.Zero(t, spec.NaNCount)
		assert.Len(t, spec.Row, 336*864)
	}

	d := rec.delays[2]
	assert.InDelta(t, 2.0, d.Delay, 1e-9)
	assert.InDelta(t, d.Antenna.DelayStart-d.Reference.DelayStart, d.Delay, 1e-12)
	assert.InDelta(t, 0, rec.delays[1].Delay, 1e-12)
	assert.Equal(t, []int{1024, 1024}, rec.fftlen)
	assert.Contains(t, rec.corrected, "ak02")
}

func TestToneLandsInCentreFineChannel(t *testing.T) {
	corr, err := NewCorrelator(twoAntennas(4), Options{NInt: 1, Model: sameDelays(), Workers: 2})
	require.NoError(t, err)
	spec, err := corr.DoTAB(context.Background(), 1, nil)
	require.NoError(t, err)

	cfg := spec.Window.Config
	peak := cfg.Length/2 - cfg.Guard
	for ch := 0; ch < cfg.NCoarse; ch++ {
		row := spec.Row[ch*cfg.Fine : (ch+1)*cfg.Fine]
		best := 0
		for k := range row {
			if cmplx.Abs(complex128(row[k])) > cmplx.Abs(complex128(row[best])) {
				best = k
			}
		}
		assert.Equal(t, peak, best, "channel %d", ch)
		assert.InDelta(t, 10*float64(cfg.Length), cmplx.Abs(complex128(row[peak])), 1e-2*float64(cfg.Length))
	}
}

func TestChannelOrderIndependent(t *testing.T) {
	reversed := func(n int) []int {
		order := dsp.Sequence(n)
		slices.Reverse(order)
		return order
	}
	shuffled := func(n int) []int {
		return rand.New(rand.NewSource(7)).Perm(n)
	}
	run := func(workers int, order func(int) []int) []complex64 {
		corr, err := NewCorrelator(twoAntennas(24), Options{
			NInt:    1,
			Model:   linearModel{base: map[string]float64{"ak01": 5, "ak02": 5.3}, slope: 100},
			Workers: workers,
		})
		require.NoError(t, err)
		if order != nil {
			corr.order = order
		}
		spec, err := corr.DoTAB(context.Background(), 0, nil)
		require.NoError(t, err)
		return spec.Row
	}
	want := run(1, nil)
	assert.Equal(t, want, run(7, nil))
	assert.Equal(t, want, run(1, reversed))
	assert.Equal(t, want, run(5, shuffled))
}

func TestMissingCalibrationGivesNaN(t *testing.T) {
	corr, err := NewCorrelator(twoAntennas(8), Options{
		NInt:        1,
		Model:       sameDelays(),
		Calibration: missingCal{0: true},
	})
	require.NoError(t, err)

	// Antenna index 1 (ak02) has no solution.
	spec, err := corr.DoTAB(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, len(spec.Row), spec.NaNCount)

	spec, err = corr.DoTAB(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Zero(t, spec.NaNCount)
}

type wrongShape struct{ vcraft.Stream }

func (w wrongShape) Read(offset, count int) (*vcraft.Block, error) {
	return vcraft.NewBlock(count, 1), nil
}

func TestShapeMismatch(t *testing.T) {
	ants := twoAntennas(4)
	ants[0].Stream = wrongShape{ants[0].Stream}
	corr, err := NewCorrelator(ants, Options{NInt: 1, Model: sameDelays()})
	require.NoError(t, err)
	_, err = corr.DoTAB(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestStopBeforeRun(t *testing.T) {
	run := NewRunContext()
	corr, err := NewCorrelator(twoAntennas(16), Options{NInt: 1, Model: sameDelays(), Run: run})
	require.NoError(t, err)
	run.Stop()
	_, err = corr.DoTAB(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCorrelatorErrors(t *testing.T) {
	_, err := NewCorrelator(nil, Options{Model: sameDelays()})
	assert.ErrorIs(t, err, ErrNoAntennas)

	_, err = NewCorrelator(twoAntennas(4), Options{})
	assert.ErrorIs(t, err, ErrConfig)

	ants := twoAntennas(4)
	ants = append(ants, mockAntenna("ak03", 3, 950, 1124, freqs(5)))
	_, err = NewCorrelator(ants, Options{Model: sameDelays()})
	assert.ErrorIs(t, err, ErrConfig)

	corr, err := NewCorrelator(twoAntennas(4), Options{Model: linearModel{base: map[string]float64{"ak01": 1}}})
	require.NoError(t, err)
	_, err = corr.DoTAB(context.Background(), 0, nil)
	assert.ErrorIs(t, err, calc.ErrUnknownAntenna)
	_, err = corr.DoTAB(context.Background(), 5, nil)
	assert.Error(t, err)
}

func TestCorrelatorParsetLookups(t *testing.T) {
	params := parset.Table{
		"common.antenna.ant1.location.itrf": "[1, 2, 3]",
		"common.antenna.ant1.delay":         "0ns",
		"common.antenna.ant2.location.itrf": "[4, 5, 6]",
		"common.antenna.ant2.delay":         "250ns",
	}
	_, err := NewCorrelator(twoAntennas(4), Options{Model: sameDelays(), Params: params})
	assert.ErrorIs(t, err, parset.ErrMissingKey)

	params[parset.RefAntKey] = "AK01"
	corr, err := NewCorrelator(twoAntennas(4), Options{Model: sameDelays(), Params: params})
	require.NoError(t, err)
	ak02 := corr.Antennas()[0]
	assert.Equal(t, [3]float64{4, 5, 6}, ak02.Position)
	assert.InDelta(t, 0.25, ak02.FixedDelay, 1e-12)

	delete(params, "common.antenna.ant2.delay")
	_, err = NewCorrelator(twoAntennas(4), Options{Model: sameDelays(), Params: params})
	assert.ErrorIs(t, err, parset.ErrMissingKey)
}

func TestIncoherentPower(t *testing.T) {
	f := freqs(4)
	hdr := vcraft.Header{AntName: "ak01", AntNo: 1, StartMJD: testMJD, StartFrameID: 10, Freqs: f}
	ant := NewAntenna(vcraft.Synthesize(hdr, vcraft.SynthConfig{NSamps: 1200, Amplitude: 1}))
	corr, err := NewCorrelator([]*Antenna{ant}, Options{NInt: 1, Model: linearModel{base: map[string]float64{"ak01": 0}}})
	require.NoError(t, err)
	cfg := corr.Config()
	require.Equal(t, 1014, cfg.Fine)

	ds, err := corr.DoICS(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.NChan)
	assert.Equal(t, 1, ds.NSamp)
	assert.Equal(t, corr.Epochs().Start, ds.TimeMJD[0])

	want := ICSBlock * math.Pow(float64(cfg.Length)/float64(cfg.Fine), 2)
	for c := 0; c < ds.NChan; c++ {
		assert.InEpsilon(t, want, ds.At(c, 0), 1e-6)
	}
}
