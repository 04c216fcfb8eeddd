// Package metrics exposes Prometheus instrumentation for benchmark ingestion.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parbench"

// Run outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeSpawnError  = "spawn_error"
	OutcomeProcessFail = "process_error"
	OutcomeDecodeError = "decode_error"
	OutcomeInterrupted = "interrupted"
	OutcomeIOError     = "io_error"
)

// Metrics holds the ingestion collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Frames          *prometheus.CounterVec
	Records         prometheus.Counter
	DecodeFailures  prometheus.Counter
	MalformedFrames *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	RunsInFlight    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.Frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames delimited from benchmark output",
		},
		[]string{"kind"},
	)

	m.Records = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Benchmark records decoded and delivered",
		},
	)

	m.DecodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Frames that failed to decode",
		},
	)

	m.MalformedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Malformed output recovered by the framer",
		},
		[]string{"reason"},
	)

	m.Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed benchmark runs by outcome",
		},
		[]string{"outcome"},
	)

	m.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of benchmark runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)

	m.RunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Benchmark runs currently executing",
		},
	)

	reg.MustRegister(
		m.Frames,
		m.Records,
		m.DecodeFailures,
		m.MalformedFrames,
		m.Runs,
		m.RunDuration,
		m.RunsInFlight,
	)

	return m
}

func (m *Metrics) ObserveFrame(kind string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRecord() {
	if m == nil {
		return
	}
	m.Records.Inc()
}

func (m *Metrics) ObserveDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

func (m *Metrics) ObserveMalformed(reason string) {
	if m == nil {
		return
	}
	m.MalformedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

func (m *Metrics) RunFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
