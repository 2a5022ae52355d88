package metrics

import (
	"net/http"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type service struct {
	registry *prometheus.Registry

	batches         prometheus.Counter
	samples         prometheus.Counter
	dropped         *prometheus.CounterVec
	redraws         prometheus.Counter
	recording       prometheus.Gauge
	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	exports         *prometheus.CounterVec
	exportDuration  prometheus.Histogram
	quality         *prometheus.CounterVec
	blurScore       prometheus.Histogram
}

// No-op implementation
type noopMetricsCollector struct{}

// NewService returns a Prometheus-backed collector, or a no-op collector
// when metrics are disabled.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Metrics collection disabled, using no-op collector")
		return Noop(), nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, errFactory.Wrap(ErrRegisterFailed, err)
	}

	f := promauto.With(reg)
	ns := cfg.Namespace
	s := &service{
		registry: reg,
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batches_ingested_total",
			Help:      "Sample batches accepted by the ingestor",
		}),
		samples: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "samples_ingested_total",
			Help:      "Samples accepted by the ingestor, summed over leads",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "display_samples_dropped_total",
			Help:      "Samples evicted from a full display queue",
		}, []string{"lead"}),
		redraws: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "redraws_total",
			Help:      "Render ticks that produced a frame",
		}),
		recording: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "recording",
			Help:      "1 while a recording session is active",
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sessions_total",
			Help:      "Finished recording sessions by stop reason",
		}, []string{"reason"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "session_duration_seconds",
			Help:      "Recording session length",
			Buckets:   []float64{5, 15, 30, 60, 120, 180},
		}),
		exports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "exports_total",
			Help:      "Export workflow outcomes",
		}, []string{"outcome"}),
		exportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "export_duration_seconds",
			Help:      "Export workflow wall time",
			Buckets:   prometheus.DefBuckets,
		}),
		quality: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "quality_verdicts_total",
			Help:      "Quality gate verdicts",
		}, []string{"verdict"}),
		blurScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "quality_blur_score",
			Help:      "Laplacian variance of assessed images",
			Buckets:   []float64{25, 50, 100, 200, 500, 1000, 5000},
		}),
	}

	log.Debug().
		Str("namespace", ns).
		Bool("enabled", cfg.Enabled).
		Msg("Metrics service initialized successfully")

	return s, nil
}

func (s *service) BatchIngested(samples int) {
	s.batches.Inc()
	s.samples.Add(float64(samples))
}

func (s *service) SamplesDropped(lead ecg.Lead, n int) {
	s.dropped.WithLabelValues(lead.String()).Add(float64(n))
}

func (s *service) Redrawn() {
	s.redraws.Inc()
}

func (s *service) SessionStarted() {
	s.recording.Set(1)
}

func (s *service) SessionStopped(reason StopReason, elapsed time.Duration) {
	s.recording.Set(0)
	s.sessions.WithLabelValues(string(reason)).Inc()
	s.sessionDuration.Observe(elapsed.Seconds())
}

func (s *service) ExportFinished(outcome string, elapsed time.Duration) {
	s.exports.WithLabelValues(outcome).Inc()
	s.exportDuration.Observe(elapsed.Seconds())
}

func (s *service) QualityAssessed(verdict string, blurScore float64) {
	s.quality.WithLabelValues(verdict).Inc()
	s.blurScore.Observe(blurScore)
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Noop returns a collector that records nothing.
func Noop() Collector {
	return &noopMetricsCollector{}
}

func (*noopMetricsCollector) BatchIngested(int)                         {}
func (*noopMetricsCollector) SamplesDropped(ecg.Lead, int)              {}
func (*noopMetricsCollector) Redrawn()                                  {}
func (*noopMetricsCollector) SessionStarted()                           {}
func (*noopMetricsCollector) SessionStopped(StopReason, time.Duration) {}
func (*noopMetricsCollector) ExportFinished(string, time.Duration)      {}
func (*noopMetricsCollector) QualityAssessed(string, float64)           {}

func (*noopMetricsCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}
