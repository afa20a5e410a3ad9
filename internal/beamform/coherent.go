package beamform

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/craft-frb/tabeam/internal/aips"
	"github.com/craft-frb/tabeam/internal/dsp"
	"github.com/craft-frb/tabeam/internal/logging"
	"github.com/craft-frb/tabeam/internal/vcraft"
)

const modeTAB = "tab"

// DoTAB forms the corrected fine spectrum of antenna an. With a pulse the
// read window is cropped around its dispersion sweep; without one the window
// is capped at CalibratorCap samples.
func (c *Correlator) DoTAB(ctx context.Context, an int, pulse *Pulse) (*Spectrum, error) {
	ant, err := c.antenna(an)
	if err != nil {
		return nil, err
	}
	iant, err := AntennaIndex(ant.Name)
	if err != nil {
		return nil, err
	}
	log := c.logger.With(
		logging.Field{Key: "antenna", Value: ant.Name},
		logging.Field{Key: "iant", Value: iant},
		logging.Field{Key: "mode", Value: modeTAB},
	)

	d, err := c.delays(ant)
	if err != nil {
		return nil, fmt.Errorf("delay model for %s: %w", ant, err)
	}
	if err := c.diag.AntennaDelays(ant.Number, d); err != nil {
		return nil, fmt.Errorf("record delays: %w", err)
	}
	series := DelaySeries{Delay: d.Delay, Rate: d.Rate, Fixed: d.Fixed, N: c.cfg.Length}

	offset := c.frameOffset(ant) + c.opts.AbsDelay
	win, err := ResolveWindow(offset, c.cfg, ant.StartMJD, c.freqs, pulse)
	if err != nil {
		return nil, fmt.Errorf("resolve window for %s: %w", ant, err)
	}
	if win.Cropped {
		log.Info("cropped window around pulse",
			logging.Field{Key: "pulse_offset", Value: win.PulseOffset},
			logging.Field{Key: "sweep_samples", Value: win.Sweep},
			logging.Field{Key: "buffer_start", Value: win.BufferStart},
			logging.Field{Key: "buffer_end", Value: win.BufferEnd},
			logging.Field{Key: "crop_start", Value: win.Offset},
			logging.Field{Key: "crop_len", Value: win.Config.Length},
			logging.Field{Key: "nguard", Value: win.Config.Guard},
		)
		if err := c.diag.CropMJD(win.CropMJD(ant.StartMJD)); err != nil {
			return nil, fmt.Errorf("record crop: %w", err)
		}
	} else if win.Capped {
		log.Info("capped calibrator window",
			logging.Field{Key: "old_nsamp", Value: c.cfg.Length},
			logging.Field{Key: "nsamp", Value: win.Config.Length},
		)
	}
	cfg := win.Config

	log.Debug("reading window",
		logging.Field{Key: "offset", Value: win.Offset},
		logging.Field{Key: "nsamp", Value: cfg.Length},
		logging.Field{Key: "frame_id", Value: ant.TriggerFrame + int64(win.Offset)},
	)
	block, err := ant.Stream.Read(win.Offset, cfg.Length)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ant, err)
	}
	if err := checkShape(block, cfg); err != nil {
		return nil, err
	}

	corrected := ant.StartMJD + (d.Delay-d.Fixed)/(1e6*86400)
	if err := c.diag.CorrectedMJD(ant.Name, corrected); err != nil {
		return nil, fmt.Errorf("record corrected epoch: %w", err)
	}

	delays := series.Window(make([]float64, cfg.Length), win.DelayStart)
	p := &tabPass{
		cfg:       cfg,
		iant:      iant,
		freqs:     c.freqs,
		fine:      cfg.FineFreqs(),
		upper:     c.upper,
		delays:    delays,
		meanDelay: floats.Sum(delays) / float64(len(delays)),
		block:     block,
		cal:       c.cal,
		out:       make([]complex64, cfg.NChan()),
		plans:     make([]*dsp.Plan, c.workers),
		scratch:   make([][]complex128, c.workers),
		metrics:   c.metrics,
	}
	defer p.release(c.plans)

	c.metrics.TransformLength(modeTAB, cfg.Length)
	start := time.Now()
	err = dsp.ParallelChannels(ctx, c.order(cfg.NCoarse), c.workers, c.run, ErrStopped, func(_ context.Context, w, ch int) error {
		return p.channel(w, ch, c.plans)
	})
	if err != nil {
		return nil, err
	}
	if err := c.diag.FFTLength(cfg.Length); err != nil {
		return nil, fmt.Errorf("record fft length: %w", err)
	}

	spec := &Spectrum{
		Antenna:  ant.Name,
		NInt:     cfg.NInt,
		NChan:    cfg.NChan(),
		NPol:     1,
		Row:      p.out,
		Window:   win,
		NaNCount: dsp.CountNaN(p.out),
	}
	if p.missingCal.Load() {
		log.Warn("calibration solution missing", logging.Field{Key: "error", Value: aips.ErrNoSolution})
	}
	if spec.NaNCount > 0 {
		c.metrics.NaNOutputs(modeTAB, spec.NaNCount)
		log.Warn("output contains NaNs, calibration solutions not available?",
			logging.Field{Key: "nan_count", Value: spec.NaNCount})
	}
	log.Info("antenna done",
		logging.Field{Key: "shape", Value: spec.Shape()},
		logging.Field{Key: "elapsed", Value: time.Since(start)},
	)
	return spec, nil
}

func checkShape(b *vcraft.Block, cfg TransformConfig) error {
	if n, nc := b.Shape(); n != cfg.Length || nc != cfg.NCoarse {
		return fmt.Errorf("%w: got (%d,%d) want (%d,%d)", ErrShapeMismatch, n, nc, cfg.Length, cfg.NCoarse)
	}
	return nil
}

// tabPass is the shared state of one coherent pass. Workers only read it,
// apart from their own plan and scratch slots and their channel's slice of
// out.
type tabPass struct {
	cfg       TransformConfig
	iant      int
	freqs     []float64
	fine      []float64
	upper     bool
	delays    []float64
	meanDelay float64
	block     *vcraft.Block
	cal       Calibrator
	out       []complex64
	plans     []*dsp.Plan
	scratch   [][]complex128
	metrics   Metrics

	missingCal atomic.Bool
}

func (p *tabPass) release(cache *dsp.PlanCache) {
	for _, pl := range p.plans {
		cache.Put(pl)
	}
}

func (p *tabPass) channel(w, ch int, cache *dsp.PlanCache) error {
	start := time.Now()
	if p.plans[w] == nil {
		p.plans[w] = cache.Get(p.cfg.Length)
	}
	plan := p.plans[w]
	fc := p.freqs[ch]

	in := plan.Input()
	for t, v := range p.block.Channel(ch) {
		x := complex128(v)
		// Upper sideband data are conjugated to lower sideband.
		if p.upper {
			x = complex(real(x), -imag(x))
		}
		in[t] = x * dsp.Phasor(fc*p.delays[t])
	}
	p.scratch[w] = dsp.GuardTrim(p.scratch[w], plan.Forward(), p.cfg.Guard, p.cfg.Fine)

	out := p.out[ch*p.cfg.Fine : (ch+1)*p.cfg.Fine]
	for k, v := range p.scratch[w] {
		ff := p.fine[k]
		phasor := dsp.Phasor(ff * p.meanDelay)
		sol, err := p.cal.Solution(p.iant, 0, (fc+ff)/1e3)
		if err != nil {
			if !errors.Is(err, aips.ErrNoSolution) {
				return fmt.Errorf("calibration channel %d: %w", ch, err)
			}
			p.missingCal.Store(true)
		}
		out[k] = complex64(v * (phasor / sol))
	}
	p.metrics.ChannelDone(modeTAB, time.Since(start))
	return nil
}
