package beamform

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/craft-frb/tabeam/internal/calc"
	"github.com/craft-frb/tabeam/internal/dsp"
	"github.com/craft-frb/tabeam/internal/logging"
	"github.com/craft-frb/tabeam/internal/parset"
)

var (
	// ErrShapeMismatch is returned when a stream returns a block of the
	// wrong shape.
	ErrShapeMismatch = errors.New("beamform: unexpected block shape")
	// ErrStopped is returned when a run is stopped before all channels ran.
	ErrStopped = errors.New("beamform: run stopped")
	// ErrNoAntennas is returned for an empty antenna set.
	ErrNoAntennas = errors.New("beamform: no antennas")
)

// Options configures a Correlator.
type Options struct {
	NInt     int
	FScrunch int
	// Workers is the channel pool size; zero uses every CPU.
	Workers int
	// AbsDelay is added to every read offset, in samples.
	AbsDelay int
	// UpperSideband forces upper sideband handling; otherwise the reference
	// stream header decides.
	UpperSideband bool

	Model       calc.Provider
	Params      parset.Table
	Calibration Calibrator
	Diagnostics Diagnostics
	Metrics     Metrics
	Logger      logging.Logger
	Run         *RunContext
	Plans       *dsp.PlanCache
}

// Epochs are the MJDs bounding integration 0.
type Epochs struct {
	Start, Mid, End float64
}

// Correlator owns the global transform config and delay model shared by
// every antenna of a capture.
type Correlator struct {
	ants    []*Antenna
	ref     *Antenna
	refName string
	cfg     TransformConfig
	freqs   []float64
	upper   bool
	epochs  Epochs
	snaps   calc.Snapshots
	opts    Options
	logger  logging.Logger
	diag    Diagnostics
	metrics Metrics
	run     *RunContext
	plans   *dsp.PlanCache
	cal     Calibrator
	workers int
	// order lists the coarse channels in dispatch order.
	order func(n int) []int
}

// NewCorrelator builds the shared configuration. The reference antenna is
// the one with the latest trigger frame, so every other antenna reads from a
// non-negative offset. Parameter lookups and model evaluation happen here so
// configuration errors surface before any channel work.
func NewCorrelator(ants []*Antenna, opts Options) (*Correlator, error) {
	if len(ants) == 0 {
		return nil, ErrNoAntennas
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("%w: no delay model", ErrConfig)
	}
	if opts.NInt <= 0 {
		opts.NInt = 1
	}
	if opts.FScrunch <= 0 {
		opts.FScrunch = 1
	}
	c := &Correlator{
		ants:    ants,
		opts:    opts,
		logger:  opts.Logger,
		diag:    opts.Diagnostics,
		metrics: opts.Metrics,
		run:     opts.Run,
		plans:   opts.Plans,
		cal:     opts.Calibration,
		workers: opts.Workers,
		order:   dsp.Sequence,
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	if c.diag == nil {
		c.diag = nopDiagnostics{}
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.run == nil {
		c.run = NewRunContext()
	}
	if c.plans == nil {
		c.plans = dsp.NewPlanCache()
	}
	if c.cal == nil {
		c.cal = Unity{}
	}
	if c.workers <= 0 {
		c.workers = runtime.NumCPU()
	}

	c.ref = ants[0]
	for _, a := range ants[1:] {
		if a.TriggerFrame > c.ref.TriggerFrame {
			c.ref = a
		}
	}
	refHdr := c.ref.Stream.Header()
	c.freqs = slices.Clone(refHdr.Freqs)
	c.upper = opts.UpperSideband || refHdr.UpperSideband

	maxTrigger, maxStatic := 0, 0
	for _, a := range ants {
		h := a.Stream.Header()
		if !slices.Equal(h.Freqs, c.freqs) {
			return nil, fmt.Errorf("%w: %s channel frequencies differ from reference %s", ErrConfig, a, c.ref)
		}
		maxTrigger = max(maxTrigger, int(c.ref.TriggerFrame-a.TriggerFrame))
		maxStatic = max(maxStatic, h.MaxSampleOffset())
	}
	length := refHdr.NSamps - maxTrigger - maxStatic
	cfg, err := NewTransformConfig(length, len(c.freqs), opts.NInt, opts.FScrunch)
	if err != nil {
		return nil, fmt.Errorf("global window of %d samples: %w", length, err)
	}
	c.cfg = cfg

	if opts.Params != nil {
		for _, a := range ants {
			if a.Position, err = opts.Params.AntennaLocation(a.Number); err != nil {
				return nil, err
			}
			if a.FixedDelay, err = opts.Params.FixedDelayMicros(a.Number); err != nil {
				return nil, err
			}
		}
		if c.refName, err = opts.Params.RefAnt(); err != nil {
			return nil, err
		}
	}

	c.epochs = c.integrationEpochs(0)
	if c.snaps, err = calc.Evaluate(opts.Model, c.epochs.Start, c.epochs.Mid, c.epochs.End); err != nil {
		return nil, err
	}

	c.logger.Info("correlator ready",
		logging.Field{Key: "antennas", Value: len(ants)},
		logging.Field{Key: "refant", Value: c.ref.Name},
		logging.Field{Key: "parset_refant", Value: c.refName},
		logging.Field{Key: "nfft", Value: cfg.Length},
		logging.Field{Key: "nguard", Value: cfg.Guard},
		logging.Field{Key: "nfine", Value: cfg.Fine},
		logging.Field{Key: "nfine_out", Value: cfg.FineOut()},
		logging.Field{Key: "fine_khz", Value: cfg.FineBW * 1e3},
		logging.Field{Key: "upper_sideband", Value: c.upper},
	)
	return c, nil
}

func (c *Correlator) integrationEpochs(i int) Epochs {
	days := c.cfg.IntegrationSeconds() / 86400
	abs := float64(c.opts.AbsDelay) / 86400 / (samplesPerMicrosecond * 1e6)
	mjd0 := c.ref.StartMJD
	n := float64(i)
	return Epochs{
		Start: mjd0 + days*n + abs,
		Mid:   mjd0 + days*(n+0.5) + abs,
		End:   mjd0 + days*(n+1) + abs,
	}
}

// Config returns the global transform config.
func (c *Correlator) Config() TransformConfig { return c.cfg }

// Reference returns the reference antenna.
func (c *Correlator) Reference() *Antenna { return c.ref }

// Antennas returns the antennas in input order.
func (c *Correlator) Antennas() []*Antenna { return c.ants }

// Epochs returns the MJDs of integration 0.
func (c *Correlator) Epochs() Epochs { return c.epochs }

// Freqs returns the coarse channel centres in MHz.
func (c *Correlator) Freqs() []float64 { return c.freqs }

// Run returns the run context workers poll.
func (c *Correlator) Run() *RunContext { return c.run }

func (c *Correlator) antenna(an int) (*Antenna, error) {
	if an < 0 || an >= len(c.ants) {
		return nil, fmt.Errorf("beamform: antenna %d outside 0..%d", an, len(c.ants)-1)
	}
	return c.ants[an], nil
}

// frameOffset is the whole-sample offset aligning a to the reference.
func (c *Correlator) frameOffset(a *Antenna) int {
	return int(c.ref.TriggerFrame - a.TriggerFrame)
}

// delays evaluates the antenna's delay and rate relative to the reference at
// the integration start.
func (c *Correlator) delays(a *Antenna) (AntennaDelays, error) {
	fa, err := calc.Fringe(c.snaps, a.Name, c.cfg.NInt)
	if err != nil {
		return AntennaDelays{}, err
	}
	fr, err := calc.Fringe(c.snaps, c.ref.Name, c.cfg.NInt)
	if err != nil {
		return AntennaDelays{}, err
	}
	d := AntennaDelays{Antenna: fa, Reference: fr, Fixed: a.FixedDelay}
	d.Delay, d.Rate = calc.Relative(fa, fr)
	return d, nil
}
