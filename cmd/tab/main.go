package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/craft-frb/tabeam/internal/app"
	"github.com/craft-frb/tabeam/internal/logging"
)

func main() {
	path := configPath(os.Args[1:], os.LookupEnv)
	defaults, err := app.LoadConfig(path, path == defaultConfigPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, defaults)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	runner, closeLog, err := app.NewRunner(cfg, nil)
	if err != nil {
		log.Fatalf("prepare run: %v", err)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			log.Printf("received %s, stopping after the current channels", s)
			runner.Stop()
		case <-ctx.Done():
		}
	}()

	res, err := runner.Run(ctx)
	if err != nil {
		closeLog()
		log.Fatalf("run %s: %v", runner.RunID(), err)
	}
	log.Printf("wrote %s shape %v (%d NaN outputs) in %s", res.Output, res.Shape, res.NaNCount, res.Elapsed)
}

const defaultConfigPath = "tab.yaml"

// configPath finds -config ahead of the full parse so the file can supply
// the flag defaults.
func configPath(args []string, lookup func(string) (string, bool)) string {
	path := envString(lookup, "TAB_CONFIG", defaultConfigPath)
	for i, a := range args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if name != "config" || !strings.HasPrefix(a, "-") {
			continue
		}
		if hasVal {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return path
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults app.Config) (app.Config, error) {
	cfg := defaults
	var configFile string
	fs := flag.NewFlagSet("tab", flag.ContinueOnError)
	fs.StringVar(&configFile, "config", envString(lookup, "TAB_CONFIG", defaultConfigPath), "YAML config file supplying the defaults")
	fs.StringVar(&cfg.Data, "data", envString(lookup, "TAB_DATA", defaults.Data), "Directory with one sub-directory per antenna")
	fs.StringVar(&cfg.CalcFile, "calcfile", envString(lookup, "TAB_CALCFILE", defaults.CalcFile), "Delay model (.im) file")
	fs.StringVar(&cfg.HWFile, "hwfile", envString(lookup, "TAB_HWFILE", defaults.HWFile), "Hardware delay file, used when the model has no .hwdelays sibling")
	fs.StringVar(&cfg.Parset, "parset", envString(lookup, "TAB_PARSET", defaults.Parset), "Parset with antenna positions and fixed delays")
	fs.StringVar(&cfg.Bandpass, "aips-c", envString(lookup, "TAB_AIPS_C", defaults.Bandpass), "AIPS bandpass export; empty applies unity gains")
	fs.StringVar(&cfg.Snoopy, "snoopy", envString(lookup, "TAB_SNOOPY", defaults.Snoopy), "Candidate file used to crop around the pulse")
	fs.Float64Var(&cfg.DM, "dm", envFloat(lookup, "TAB_DM", defaults.DM), "Dispersion measure of the candidate (pc cm^-3)")
	fs.IntVar(&cfg.Antenna, "an", envInt(lookup, "TAB_AN", defaults.Antenna), "Antenna index to process")
	fs.StringVar(&cfg.Pol, "pol", envString(lookup, "TAB_POL", defaults.Pol), "Polarisation (x|y)")
	fs.IntVar(&cfg.NInt, "nint", envInt(lookup, "TAB_NINT", defaults.NInt), "Number of output integrations")
	fs.IntVar(&cfg.FScrunch, "fscrunch", envInt(lookup, "TAB_FSCRUNCH", defaults.FScrunch), "Fine channels averaged per output channel")
	fs.IntVar(&cfg.Offset, "offset", envInt(lookup, "TAB_OFFSET", defaults.Offset), "Absolute read offset in samples")
	fs.IntVar(&cfg.Workers, "cpus", envInt(lookup, "TAB_CPUS", defaults.Workers), "Channel workers; 0 uses every CPU")
	fs.BoolVar(&cfg.ICS, "ics", envBool(lookup, "TAB_ICS", defaults.ICS), "Produce the incoherent dynamic spectrum")
	fs.BoolVar(&cfg.UpperSideband, "uppersideband", envBool(lookup, "TAB_UPPERSIDEBAND", defaults.UpperSideband), "Force upper sideband handling")
	fs.StringVar(&cfg.Outfile, "outfile", envString(lookup, "TAB_OUTFILE", defaults.Outfile), "Output file base name")
	fs.StringVar(&cfg.OutDir, "outdir", envString(lookup, "TAB_OUTDIR", defaults.OutDir), "Directory for diagnostic files")
	fs.BoolVar(&cfg.Compress, "compress", envBool(lookup, "TAB_COMPRESS", defaults.Compress), "Write zstd compressed output")
	fs.StringVar(&cfg.Log.Level, "log-level", envString(lookup, "TAB_LOG_LEVEL", defaults.Log.Level), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.Log.Format, "log-format", envString(lookup, "TAB_LOG_FORMAT", defaults.Log.Format), "Log format (text|json)")
	fs.StringVar(&cfg.Log.File, "log-file", envString(lookup, "TAB_LOG_FILE", defaults.Log.File), "Append logs to this file instead of stderr")
	fs.StringVar(&cfg.Metrics.URL, "pushgateway", envString(lookup, "TAB_PUSHGATEWAY", defaults.Metrics.URL), "Prometheus Pushgateway URL; empty disables the push")

	if err := fs.Parse(args); err != nil {
		return app.Config{}, err
	}
	if fs.NArg() > 0 {
		return app.Config{}, errors.New("unexpected arguments: " + strings.Join(fs.Args(), " "))
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
