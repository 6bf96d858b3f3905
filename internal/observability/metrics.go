package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the call client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveCalls    prometheus.Gauge
	CallEvents     *prometheus.CounterVec
	CallErrors     *prometheus.CounterVec
	Segments       *prometheus.CounterVec
	SendLatency    prometheus.Histogram
	HealthLatency  prometheus.Gauge
	ActivePlayback prometheus.Gauge
	PlaybackErrors prometheus.Counter

	Latency *LatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Calls currently connecting, live or ending.",
		}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_state_events_total",
			Help:      "Call state transitions by target state.",
		}, []string{"state"}),
		CallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "User-facing call errors by kind.",
		}, []string{"kind"}),
		Segments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sent_total",
			Help:      "Audio segments uploaded by outcome.",
		}, []string{"outcome"}),
		SendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_round_trip_ms",
			Help:      "Time from segment upload to reply in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 1500, 2500, 4000, 6000, 10000},
		}),
		HealthLatency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_latency_ms",
			Help:      "Last health probe round trip in milliseconds, -1 when unreachable.",
		}),
		ActivePlayback: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_playback",
			Help:      "Reply clips playing or waiting for a user gesture.",
		}),
		PlaybackErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_errors_total",
			Help:      "Reply clips that failed to decode or play.",
		}),
		Latency: NewLatencyWindow(256),
	}
}

func (m *Metrics) ObserveState(state string, active bool) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(state).Inc()
	if active {
		m.ActiveCalls.Set(1)
	} else {
		m.ActiveCalls.Set(0)
	}
}

func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.CallErrors.WithLabelValues(kind).Inc()
}

// ObserveSegment records one upload. outcome is ok, error or stale.
func (m *Metrics) ObserveSegment(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Segments.WithLabelValues(outcome).Inc()
	if outcome == "error" {
		return
	}
	m.SendLatency.Observe(float64(d.Milliseconds()))
	m.Latency.Observe(StageSegmentUpload, d)
	if outcome == "stale" {
		m.Latency.Count("stale_reply")
	}
}

func (m *Metrics) ObserveHealth(rtt time.Duration, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.HealthLatency.Set(-1)
		m.Latency.Count("health_unreachable")
		return
	}
	m.HealthLatency.Set(float64(rtt.Milliseconds()))
	m.Latency.Observe(StageHealthProbe, rtt)
}

func (m *Metrics) ObserveConnect(d time.Duration) {
	if m == nil {
		return
	}
	m.Latency.Observe(StageConnect, d)
}

func (m *Metrics) SetActivePlayback(n int) {
	if m == nil {
		return
	}
	m.ActivePlayback.Set(float64(n))
}

func (m *Metrics) ObservePlaybackError() {
	if m == nil {
		return
	}
	m.PlaybackErrors.Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
