// Package telemetry writes the plain-text diagnostic records a beamforming
// run leaves behind and mirrors them into the run log.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/craft-frb/tabeam/internal/beamform"
	"github.com/craft-frb/tabeam/internal/logging"
)

// Record file names, relative to the output directory.
const (
	DelaysDir        = "delays"
	CropMJDFile      = "frb_crop_MJD.txt"
	CorrectedMJDFile = "corrected_ant_MJD.txt"
	FFTLenFile       = "fftlen"
)

// Reporter receives diagnostic records. It matches beamform.Diagnostics.
type Reporter = beamform.Diagnostics

// FileReporter writes records under a directory.
type FileReporter struct {
	dir string
	mu  sync.Mutex
}

// NewFileReporter writes records under dir, creating dir/delays.
func NewFileReporter(dir string) (*FileReporter, error) {
	if err := os.MkdirAll(filepath.Join(dir, DelaysDir), 0o755); err != nil {
		return nil, fmt.Errorf("create diagnostics dir: %w", err)
	}
	return &FileReporter{dir: dir}, nil
}

// AntennaDelays writes delays/<antNo>_ant_delays.dat with the antenna and
// reference delay components side by side.
func (r *FileReporter) AntennaDelays(antNo int, d beamform.AntennaDelays) error {
	path := filepath.Join(r.dir, DelaysDir, fmt.Sprintf("%d_ant_delays.dat", antNo))
	body := fmt.Sprintf("#field fr1(%s) fr2(%s)\n", d.Antenna, d.Reference) +
		fmt.Sprintf("delay_start %v %v\n", d.Antenna.DelayStart, d.Reference.DelayStart) +
		fmt.Sprintf("delay %v %v\n", d.Antenna.Delay, d.Reference.Delay) +
		fmt.Sprintf("delay_end %v %v\n", d.Antenna.DelayEnd, d.Reference.DelayEnd) +
		fmt.Sprintf("delay_rate %v %v\n", d.Antenna.DelayRate, d.Reference.DelayRate)
	return r.write(path, body, false)
}

// CropMJD overwrites the crop epoch record.
func (r *FileReporter) CropMJD(mjd float64) error {
	return r.write(filepath.Join(r.dir, CropMJDFile), formatMJD(mjd), false)
}

// CorrectedMJD appends the antenna's delay-corrected start epoch.
func (r *FileReporter) CorrectedMJD(antName string, mjd float64) error {
	line := fmt.Sprintf("%s:    %s\n", antName, formatMJD(mjd))
	return r.write(filepath.Join(r.dir, CorrectedMJDFile), line, true)
}

// FFTLength overwrites the transform length record.
func (r *FileReporter) FFTLength(n int) error {
	return r.write(filepath.Join(r.dir, FFTLenFile), strconv.Itoa(n), false)
}

func (r *FileReporter) write(path, body string, appendTo bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatMJD(mjd float64) string {
	return strconv.FormatFloat(mjd, 'f', -1, 64)
}

// LogReporter logs records instead of writing them.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter builds a reporter with the provided logger.
func NewLogReporter(logger logging.Logger) LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return LogReporter{logger: logger.With(logging.Field{Key: "subsystem", Value: "diagnostics"})}
}

func (r LogReporter) AntennaDelays(antNo int, d beamform.AntennaDelays) error {
	r.logger.Info("antenna delays",
		logging.Field{Key: "antno", Value: antNo},
		logging.Field{Key: "fringe", Value: d.Antenna.String()},
		logging.Field{Key: "reference", Value: d.Reference.String()},
		logging.Field{Key: "delay_us", Value: d.Delay},
		logging.Field{Key: "rate_us", Value: d.Rate},
		logging.Field{Key: "fixed_us", Value: d.Fixed},
	)
	return nil
}

func (r LogReporter) CropMJD(mjd float64) error {
	r.logger.Info("crop epoch", logging.Field{Key: "mjd", Value: formatMJD(mjd)})
	return nil
}

func (r LogReporter) CorrectedMJD(antName string, mjd float64) error {
	r.logger.Info("corrected antenna epoch",
		logging.Field{Key: "antenna", Value: antName},
		logging.Field{Key: "mjd", Value: formatMJD(mjd)},
	)
	return nil
}

func (r LogReporter) FFTLength(n int) error {
	r.logger.Debug("transform length", logging.Field{Key: "nfft", Value: n})
	return nil
}

// MultiReporter fans records out to multiple destinations, stopping at the
// first error.
type MultiReporter []Reporter

func (m MultiReporter) AntennaDelays(antNo int, d beamform.AntennaDelays) error {
	return m.each(func(r Reporter) error { return r.AntennaDelays(antNo, d) })
}

func (m MultiReporter) CropMJD(mjd float64) error {
	return m.each(func(r Reporter) error { return r.CropMJD(mjd) })
}

func (m MultiReporter) CorrectedMJD(antName string, mjd float64) error {
	return m.each(func(r Reporter) error { return r.CorrectedMJD(antName, mjd) })
}

func (m MultiReporter) FFTLength(n int) error {
	return m.each(func(r Reporter) error { return r.FFTLength(n) })
}

func (m MultiReporter) each(fn func(Reporter) error) error {
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
