// Package metrics exposes pipeline counters through a prometheus registry
// and pushes them to a Pushgateway when a run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "tabeam"
	jobName   = "tabeam"
)

// Recorder holds the collectors of one run. It implements
// beamform.Metrics.
type Recorder struct {
	reg *prometheus.Registry

	channels     *prometheus.CounterVec
	nanOutputs   *prometheus.CounterVec
	channelTime  *prometheus.HistogramVec
	fftLength    *prometheus.GaugeVec
	antennasDone *prometheus.CounterVec
	runSeconds   prometheus.Gauge
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		channels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_processed_total",
			Help:      "Coarse channels processed, by mode.",
		}, []string{"mode"}),
		nanOutputs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nan_outputs_total",
			Help:      "Output samples that are NaN, by mode.",
		}, []string{"mode"}),
		channelTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_duration_seconds",
			Help:      "Time to process one coarse channel.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode"}),
		fftLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transform_length_samples",
			Help:      "Transform length of the last processed window.",
		}, []string{"mode"}),
		antennasDone: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "antennas_total",
			Help:      "Antennas processed, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		runSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
}

// Registry returns the registry holding the run's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ChannelDone counts a processed channel and observes its duration.
func (r *Recorder) ChannelDone(mode string, d time.Duration) {
	r.channels.WithLabelValues(mode).Inc()
	r.channelTime.WithLabelValues(mode).Observe(d.Seconds())
}

// NaNOutputs counts NaN output samples.
func (r *Recorder) NaNOutputs(mode string, n int) {
	r.nanOutputs.WithLabelValues(mode).Add(float64(n))
}

// TransformLength records the window length in use.
func (r *Recorder) TransformLength(mode string, n int) {
	r.fftLength.WithLabelValues(mode).Set(float64(n))
}

// AntennaDone counts a finished antenna; err selects the outcome label.
func (r *Recorder) AntennaDone(mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.antennasDone.WithLabelValues(mode, outcome).Inc()
}

// RunFinished records the run duration.
func (r *Recorder) RunFinished(d time.Duration) {
	r.runSeconds.Set(d.Seconds())
}

// PushConfig addresses a Pushgateway.
type PushConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Push sends the registry to the gateway, grouped by run id. It is a no-op
// without a URL.
func (r *Recorder) Push(ctx context.Context, cfg PushConfig, runID string) error {
	if cfg.URL == "" {
		return nil
	}
	p := push.New(cfg.URL, jobName).Gatherer(r.reg)
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if cfg.Username != "" {
		p = p.BasicAuth(cfg.Username, cfg.Password)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
