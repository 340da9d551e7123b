// Package metrics exposes Prometheus collectors for engine calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wasm_media"

// Outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeEngineError = "engine_error"
	OutcomeAllocation  = "allocation"
	OutcomeInvalid     = "invalid"
	OutcomeBusy        = "busy"
	OutcomeOther       = "other"
)

// Collector records gateway calls. A nil *Collector is valid and records
// nothing.
type Collector struct {
	calls       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	bytesIn     *prometheus.CounterVec
	bytesOut    *prometheus.CounterVec
	liveAllocs  *prometheus.GaugeVec
	memoryBytes *prometheus.GaugeVec
}

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Engine operations by build, operation and outcome",
			},
			[]string{"build", "op", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Engine operation duration in seconds, marshaling included",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"build", "op"},
		),
		bytesIn: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "input_bytes_total",
				Help:      "Input bytes written into engine memory",
			},
			[]string{"build", "op"},
		),
		bytesOut: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "output_bytes_total",
				Help:      "Output bytes copied out of engine memory",
			},
			[]string{"build", "op"},
		),
		liveAllocs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "arena",
				Name:      "live_allocations",
				Help:      "Allocations still live after the last operation",
			},
			[]string{"build"},
		),
		memoryBytes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "memory_bytes",
				Help:      "Linear memory size after the last operation",
			},
			[]string{"build"},
		),
	}
}

// Call describes one finished operation.
type Call struct {
	Build     string
	Op        string
	Outcome   string
	Duration  time.Duration
	BytesIn   int
	BytesOut  int
	Live      int
	MemoryLen uint32
}

// Observe records c.
func (m *Collector) Observe(c Call) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(c.Build, c.Op, c.Outcome).Inc()
	m.duration.WithLabelValues(c.Build, c.Op).Observe(c.Duration.Seconds())
	if c.BytesIn > 0 {
		m.bytesIn.WithLabelValues(c.Build, c.Op).Add(float64(c.BytesIn))
	}
	if c.BytesOut > 0 {
		m.bytesOut.WithLabelValues(c.Build, c.Op).Add(float64(c.BytesOut))
	}
	m.liveAllocs.WithLabelValues(c.Build).Set(float64(c.Live))
	m.memoryBytes.WithLabelValues(c.Build).Set(float64(c.MemoryLen))
}
