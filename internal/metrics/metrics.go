// Package metrics collects run counters in a private Prometheus registry and
// writes them out in the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kikiluvv/vigil/internal/inference"
)

const namespace = "vigil"

type Metrics struct {
	registry *prometheus.Registry

	FramesClassified *prometheus.CounterVec
	FrameDuration    prometheus.Histogram
	VideosProcessed  *prometheus.CounterVec
	ViolencePercent  *prometheus.GaugeVec
	FramesExtracted  *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_classified_total",
			Help:      "Frames classified, by smoothed label",
		}, []string{"violent"}),
		FrameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Time to normalize, classify and annotate one frame",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		VideosProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_processed_total",
			Help:      "Videos processed, by verdict status",
		}, []string{"status"}),
		ViolencePercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "violence_percentage",
			Help:      "Share of frames labeled violent in the last run",
		}, []string{"video"}),
		FramesExtracted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_extracted_total",
			Help:      "Training frames written, by label",
		}, []string{"label"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFrame satisfies inference.Observer.
func (m *Metrics) ObserveFrame(d time.Duration, violent bool) {
	m.FrameDuration.Observe(d.Seconds())
	if violent {
		m.FramesClassified.WithLabelValues("true").Inc()
	} else {
		m.FramesClassified.WithLabelValues("false").Inc()
	}
}

// ObserveVerdict records the outcome of one video.
func (m *Metrics) ObserveVerdict(v inference.Verdict) {
	m.VideosProcessed.WithLabelValues(string(v.Status)).Inc()
	if v.Status == inference.StatusOK {
		m.ViolencePercent.WithLabelValues(v.Video).Set(v.Percentage)
	}
}

// ObserveExtracted adds per-label extraction counts.
func (m *Metrics) ObserveExtracted(label string, n int) {
	m.FramesExtracted.WithLabelValues(label).Add(float64(n))
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile atomically writes the registry to path. An empty path is a
// no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

var _ inference.Observer = (*Metrics)(nil)
