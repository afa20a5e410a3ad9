package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/craft-frb/tabeam/internal/logging"
	"github.com/craft-frb/tabeam/internal/metrics"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("app: invalid config")

// Config captures application level configuration.
type Config struct {
	// Data holds one directory per antenna, each with one sub-directory per
	// polarisation containing the capture files.
	Data     string `yaml:"data"`
	CalcFile string `yaml:"calcfile"`
	HWFile   string `yaml:"hwfile"`
	Parset   string `yaml:"parset"`
	// Bandpass is the AIPS bandpass export; its directory holds the
	// solution manifest.
	Bandpass string  `yaml:"aips_c"`
	Snoopy   string  `yaml:"snoopy"`
	DM       float64 `yaml:"dm"`

	Antenna       int    `yaml:"an"`
	Pol           string `yaml:"pol"`
	NInt          int    `yaml:"nint"`
	FScrunch      int    `yaml:"fscrunch"`
	Offset        int    `yaml:"offset"`
	Workers       int    `yaml:"cpus"`
	ICS           bool   `yaml:"ics"`
	UpperSideband bool   `yaml:"uppersideband"`

	Outfile  string `yaml:"outfile"`
	OutDir   string `yaml:"outdir"`
	Compress bool   `yaml:"compress"`

	Log     logging.Config     `yaml:"log"`
	Metrics metrics.PushConfig `yaml:"metrics"`
}

// DefaultConfig returns the defaults applied before the file and flags.
func DefaultConfig() Config {
	return Config{
		Pol:      "x",
		NInt:     128,
		FScrunch: 1,
		Outfile:  "corr",
		OutDir:   ".",
		Log:      logging.Config{Level: "info", Format: "text"},
	}
}

// LoadConfig overlays a YAML file on the defaults. A missing file is not an
// error when optional is set.
func LoadConfig(path string, optional bool) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields a run needs.
func (c Config) Validate() error {
	var problems []string
	if c.Data == "" {
		problems = append(problems, "data directory is required")
	}
	if c.CalcFile == "" {
		problems = append(problems, "calcfile is required")
	}
	if c.Parset == "" {
		problems = append(problems, "parset is required")
	}
	if _, err := c.PolIndex(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.NInt <= 0 {
		problems = append(problems, "nint must be positive")
	}
	if c.FScrunch < 1 {
		problems = append(problems, "fscrunch must be at least 1")
	}
	if c.Antenna < 0 {
		problems = append(problems, "an must not be negative")
	}
	if c.Snoopy != "" && c.DM <= 0 {
		problems = append(problems, "a snoopy candidate needs a positive DM")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// PolIndex returns the polarisation sub-directory index: 0 for x, 1 for y.
func (c Config) PolIndex() (int, error) {
	switch strings.ToLower(c.Pol) {
	case "x":
		return 0, nil
	case "y":
		return 1, nil
	default:
		return 0, fmt.Errorf("%s is not a valid polarisation, must be x or y", c.Pol)
	}
}

// modelSibling swaps the ".im" suffix of the model file for ext.
func (c Config) modelSibling(ext string) string {
	return strings.TrimSuffix(c.CalcFile, ".im") + ext
}
