package beamform

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/craft-frb/tabeam/internal/dsp"
	"github.com/craft-frb/tabeam/internal/logging"
	"github.com/craft-frb/tabeam/internal/vcraft"
)

const (
	modeICS = "ics"

	// ICSBlock is the number of inverted samples summed per output bin.
	ICSBlock = 1000

	millisecondDays = 1.0 / (24 * 60 * 60 * 1000)
)

// DoICS computes the incoherent power dynamic spectrum of antenna an: each
// coarse channel is transformed, guard-trimmed, inverted back to the fine
// time series and its power summed in ICSBlock-sample bins.
func (c *Correlator) DoICS(ctx context.Context, an int) (*Dynspec, error) {
	ant, err := c.antenna(an)
	if err != nil {
		return nil, err
	}
	log := c.logger.With(
		logging.Field{Key: "antenna", Value: ant.Name},
		logging.Field{Key: "mode", Value: modeICS},
	)
	cfg := c.cfg
	nsamp := cfg.Fine / ICSBlock
	if nsamp == 0 {
		return nil, fmt.Errorf("%w: %d fine channels give no %d-sample bins", ErrConfig, cfg.Fine, ICSBlock)
	}

	offset := c.frameOffset(ant) + c.opts.AbsDelay
	block, err := ant.Stream.Read(offset, cfg.Length)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ant, err)
	}
	if err := checkShape(block, cfg); err != nil {
		return nil, err
	}

	ds := &Dynspec{
		Antenna: ant.Name,
		NChan:   cfg.NCoarse,
		NSamp:   nsamp,
		Data:    make([]float64, cfg.NCoarse*nsamp),
		TimeMJD: make([]float64, nsamp),
	}
	for i := range ds.TimeMJD {
		ds.TimeMJD[i] = c.epochs.Start + float64(i)*millisecondDays
	}

	p := &icsPass{
		cfg:     cfg,
		block:   block,
		out:     ds,
		fwd:     make([]*dsp.Plan, c.workers),
		inv:     make([]*dsp.Plan, c.workers),
		trimmed: make([][]complex128, c.workers),
		power:   make([][]float64, c.workers),
		metrics: c.metrics,
	}
	defer p.release(c.plans)

	c.metrics.TransformLength(modeICS, cfg.Length)
	start := time.Now()
	err = dsp.ParallelChannels(ctx, c.order(cfg.NCoarse), c.workers, c.run, ErrStopped, func(_ context.Context, w, ch int) error {
		p.channel(w, ch, c.plans)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("antenna done",
		logging.Field{Key: "nchan", Value: ds.NChan},
		logging.Field{Key: "nsamp", Value: ds.NSamp},
		logging.Field{Key: "elapsed", Value: time.Since(start)},
	)
	return ds, nil
}

type icsPass struct {
	cfg     TransformConfig
	block   *vcraft.Block
	out     *Dynspec
	fwd     []*dsp.Plan
	inv     []*dsp.Plan
	trimmed [][]complex128
	power   [][]float64
	metrics Metrics
}

func (p *icsPass) release(cache *dsp.PlanCache) {
	for i := range p.fwd {
		cache.Put(p.fwd[i])
		cache.Put(p.inv[i])
	}
}

func (p *icsPass) channel(w, ch int, cache *dsp.PlanCache) {
	start := time.Now()
	if p.fwd[w] == nil {
		p.fwd[w] = cache.Get(p.cfg.Length)
		p.inv[w] = cache.Get(p.cfg.Fine)
		p.power[w] = make([]float64, p.cfg.Fine)
	}
	fwd, inv := p.fwd[w], p.inv[w]

	in := fwd.Input()
	for t, v := range p.block.Channel(ch) {
		in[t] = complex128(v)
	}
	p.trimmed[w] = dsp.GuardTrim(p.trimmed[w], fwd.Forward(), p.cfg.Guard, p.cfg.Fine)

	power := p.power[w]
	for i, v := range inv.Inverse(p.trimmed[w]) {
		power[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	row := p.out.Channel(ch)
	for t := range row {
		row[t] = floats.Sum(power[t*ICSBlock : (t+1)*ICSBlock])
	}
	p.metrics.ChannelDone(modeICS, time.Since(start))
}
