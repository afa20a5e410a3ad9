// Package app wires the loaders, the correlator and the output writers into
// a single beamforming run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/craft-frb/tabeam/internal/aips"
	"github.com/craft-frb/tabeam/internal/beamform"
	"github.com/craft-frb/tabeam/internal/calc"
	"github.com/craft-frb/tabeam/internal/candidate"
	"github.com/craft-frb/tabeam/internal/logging"
	"github.com/craft-frb/tabeam/internal/metrics"
	"github.com/craft-frb/tabeam/internal/npy"
	"github.com/craft-frb/tabeam/internal/parset"
	"github.com/craft-frb/tabeam/internal/telemetry"
	"github.com/craft-frb/tabeam/internal/vcraft"
)

// Result summarises a finished run.
type Result struct {
	RunID    string
	Output   string
	Shape    []int
	NaNCount int
	Elapsed  time.Duration
}

// Runner executes one beamforming run.
type Runner struct {
	cfg     Config
	runID   string
	logger  logging.Logger
	run     *beamform.RunContext
	metrics *metrics.Recorder
	muxes   []*vcraft.Mux
}

// NewRunner validates cfg and prepares a run with a fresh run id. A nil
// logger logs to the destination named in cfg.Log.
func NewRunner(cfg Config, logger logging.Logger) (*Runner, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	runID := uuid.NewString()
	closer := func() error { return nil }
	if logger == nil {
		l, c, err := logging.Open(cfg.Log, runID)
		if err != nil {
			return nil, nil, err
		}
		logger, closer = l, c
	} else {
		logger = logger.With(logging.Field{Key: "run_id", Value: runID})
	}
	return &Runner{
		cfg:     cfg,
		runID:   runID,
		logger:  logger,
		run:     beamform.NewRunContext(),
		metrics: metrics.NewRecorder(),
	}, closer, nil
}

// RunID returns the run's id.
func (r *Runner) RunID() string { return r.runID }

// Stop asks the running pass to stop before its next channel.
func (r *Runner) Stop() { r.run.Stop() }

// Metrics returns the run's metric recorder.
func (r *Runner) Metrics() *metrics.Recorder { return r.metrics }

// Run loads every input, processes the configured antenna and writes the
// output array.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	defer r.close()

	mode := "tab"
	if r.cfg.ICS {
		mode = "ics"
	}
	res, err := r.process(ctx)
	r.metrics.AntennaDone(mode, err)
	res.RunID = r.runID
	res.Elapsed = time.Since(start)
	r.metrics.RunFinished(res.Elapsed)
	if perr := r.metrics.Push(ctx, r.cfg.Metrics, r.runID); perr != nil {
		r.logger.Warn("metrics push failed", logging.Err(perr))
	}
	if err != nil {
		return res, err
	}
	r.logger.Info("run done",
		logging.Field{Key: "output", Value: res.Output},
		logging.Field{Key: "shape", Value: res.Shape},
		logging.Field{Key: "elapsed", Value: res.Elapsed},
	)
	return res, nil
}

func (r *Runner) process(ctx context.Context) (Result, error) {
	cfg := r.cfg
	model, err := calc.Load(cfg.CalcFile)
	if err != nil {
		return Result{}, err
	}
	if src, err := calc.LoadSource(cfg.modelSibling(".calc")); err == nil {
		r.logger.Info("phase centre",
			logging.Field{Key: "source", Value: src.Name},
			logging.Field{Key: "ra_deg", Value: src.RA},
			logging.Field{Key: "dec_deg", Value: src.Dec},
		)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Result{}, err
	}

	ants, err := r.loadAntennas(model.Telescopes)
	if err != nil {
		return Result{}, err
	}
	if cfg.Antenna >= len(ants) {
		return Result{}, fmt.Errorf("%w: antenna %d requested, %d loaded", ErrInvalidConfig, cfg.Antenna, len(ants))
	}
	params, err := parset.Load(cfg.Parset)
	if err != nil {
		return Result{}, err
	}

	diag, err := telemetry.NewFileReporter(cfg.OutDir)
	if err != nil {
		return Result{}, err
	}
	opts := beamform.Options{
		NInt:          cfg.NInt,
		FScrunch:      cfg.FScrunch,
		Workers:       cfg.Workers,
		AbsDelay:      cfg.Offset,
		UpperSideband: cfg.UpperSideband,
		Model:         model,
		Params:        params,
		Diagnostics:   telemetry.MultiReporter{diag, telemetry.NewLogReporter(r.logger)},
		Metrics:       r.metrics,
		Logger:        r.logger,
		Run:           r.run,
	}
	if !cfg.ICS {
		if opts.Calibration, err = r.loadCalibration(ants[cfg.Antenna]); err != nil {
			return Result{}, err
		}
	}
	corr, err := beamform.NewCorrelator(ants, opts)
	if err != nil {
		return Result{}, err
	}

	if cfg.ICS {
		return r.incoherent(ctx, corr)
	}
	return r.coherent(ctx, corr)
}

func (r *Runner) coherent(ctx context.Context, corr *beamform.Correlator) (Result, error) {
	var pulse *beamform.Pulse
	if r.cfg.Snoopy != "" {
		cand, err := candidate.Load(r.cfg.Snoopy)
		if err != nil {
			return Result{}, err
		}
		mjd, err := cand.MJD()
		if err != nil {
			return Result{}, err
		}
		pulse = &beamform.Pulse{MJD: mjd, DM: r.cfg.DM}
	}
	spec, err := corr.DoTAB(ctx, r.cfg.Antenna, pulse)
	if err != nil {
		return Result{}, err
	}
	shape := spec.Shape()
	out := npy.Path(r.cfg.Outfile, r.cfg.Compress)
	if err := writeArray(out, r.cfg.Compress, func(w io.Writer) error {
		return npy.WriteComplex64(w, shape[:], spec.Row, spec.NInt)
	}); err != nil {
		return Result{}, err
	}
	return Result{Output: out, Shape: shape[:], NaNCount: spec.NaNCount}, nil
}

func (r *Runner) incoherent(ctx context.Context, corr *beamform.Correlator) (Result, error) {
	ds, err := corr.DoICS(ctx, r.cfg.Antenna)
	if err != nil {
		return Result{}, err
	}
	shape := []int{ds.NChan, ds.NSamp}
	base := fmt.Sprintf("%s_%s_%02d", r.cfg.Outfile, r.cfg.Pol, r.cfg.Antenna)
	out := npy.Path(base, r.cfg.Compress)
	if err := writeArray(out, r.cfg.Compress, func(w io.Writer) error {
		return npy.WriteFloat64(w, shape, ds.Data)
	}); err != nil {
		return Result{}, err
	}
	tpath := npy.Path(filepath.Join(r.cfg.OutDir, "t_mjd"), false)
	if err := writeArray(tpath, false, func(w io.Writer) error {
		return npy.WriteFloat64(w, []int{len(ds.TimeMJD)}, ds.TimeMJD)
	}); err != nil {
		return Result{}, err
	}
	return Result{Output: out, Shape: shape}, nil
}

// loadAntennas opens the capture files of every model telescope for the
// configured polarisation and muxes them per antenna.
func (r *Runner) loadAntennas(telescopes []string) ([]*beamform.Antenna, error) {
	pol, _ := r.cfg.PolIndex()
	var files []*vcraft.File
	for _, name := range telescopes {
		dir := filepath.Join(r.cfg.Data, name)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("antenna directory %s: %w", dir, err)
		}
		beams, err := filepath.Glob(filepath.Join(dir, "*"))
		if err != nil {
			return nil, err
		}
		sort.Strings(beams)
		if pol >= len(beams) {
			return nil, fmt.Errorf("antenna directory %s has no %s polarisation", dir, r.cfg.Pol)
		}
		paths, err := filepath.Glob(filepath.Join(beams[pol], "*[ac]*vcraft"))
		if err != nil {
			return nil, err
		}
		sort.Strings(paths)
		for _, p := range paths {
			f, err := vcraft.Open(p)
			if err != nil {
				closeFiles(files)
				return nil, err
			}
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no capture files under %s", r.cfg.Data)
	}

	delays, err := r.loadHardwareDelays()
	if err != nil {
		closeFiles(files)
		return nil, err
	}
	muxes, err := vcraft.MuxByAntenna(files, delays)
	if err != nil {
		closeFiles(files)
		return nil, err
	}
	r.muxes = muxes
	ants := make([]*beamform.Antenna, len(muxes))
	for i, m := range muxes {
		ants[i] = beamform.NewAntenna(m)
	}
	r.logger.Info("antennas loaded",
		logging.Field{Key: "antennas", Value: len(ants)},
		logging.Field{Key: "files", Value: len(files)},
		logging.Field{Key: "hw_delays", Value: len(delays)},
	)
	return ants, nil
}

// loadHardwareDelays prefers the model's ".hwdelays" sibling over the
// configured file.
func (r *Runner) loadHardwareDelays() (map[string]int, error) {
	path := r.cfg.modelSibling(".hwdelays")
	if _, err := os.Stat(path); err != nil {
		path = r.cfg.HWFile
	}
	if path == "" {
		return map[string]int{}, nil
	}
	return vcraft.LoadHardwareDelays(path)
}

func (r *Runner) loadCalibration(ant *beamform.Antenna) (beamform.Calibrator, error) {
	if r.cfg.Bandpass == "" {
		r.logger.Warn("no calibration tables given, applying unity gains")
		return beamform.Unity{}, nil
	}
	iant, err := beamform.AntennaIndex(ant.Name)
	if err != nil {
		return nil, err
	}
	sols, err := aips.Load(r.cfg.Bandpass, r.cfg.Pol, ant.Stream.Header().Freqs, []int{iant})
	if err != nil {
		return nil, err
	}
	for i, lerr := range sols.LoadErrs {
		r.logger.Warn("calibration not loaded",
			logging.Field{Key: "iant", Value: i},
			logging.Err(lerr),
		)
	}
	return sols, nil
}

func (r *Runner) close() {
	for _, m := range r.muxes {
		if err := m.Close(); err != nil {
			r.logger.Warn("close capture", logging.Err(err))
		}
	}
	r.muxes = nil
}

// writeArray creates path and hands it to write, closing it afterwards.
func writeArray(path string, compress bool, write func(io.Writer) error) error {
	w, err := npy.Create(path, compress)
	if err != nil {
		return err
	}
	if err := write(w); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}

func closeFiles(files []*vcraft.File) {
	for _, f := range files {
		f.Close()
	}
}
