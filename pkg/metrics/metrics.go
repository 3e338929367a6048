// Package metrics exposes pipeline counters for prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline collects counters for one pipeline instance. Each instance owns
// its registry so several can live in one process (tests).
type Pipeline struct {
	reg *prometheus.Registry

	Inbound        prometheus.Counter
	InboundDropped prometheus.Counter
	Malformed      prometheus.Counter
	Reports        *prometheus.CounterVec
	VenueCommands  *prometheus.CounterVec
	DuplicateFills prometheus.Counter
	StaleEvents    prometheus.Counter
	FollowUpCapHit prometheus.Counter
	ReportsDropped prometheus.Counter
	Latency        prometheus.Histogram
}

func NewPipeline() *Pipeline {
	m := &Pipeline{
		reg: prometheus.NewRegistry(),
		Inbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_inbound_total",
			Help: "Inbound envelopes processed.",
		}),
		InboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_inbound_dropped_total",
			Help: "Inbound envelopes shed because the bus was full.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_malformed_total",
			Help: "Inbound payloads rejected by the translator.",
		}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_execution_reports_total",
			Help: "Execution reports published, by exec kind.",
		}, []string{"kind"}),
		VenueCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_venue_commands_total",
			Help: "Commands sent to venues, by venue.",
		}, []string{"venue"}),
		DuplicateFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_duplicate_fills_total",
			Help: "Venue fills dropped by the dedup window.",
		}),
		StaleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_stale_events_total",
			Help: "Venue events absorbed as no-ops.",
		}),
		FollowUpCapHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_followup_cap_hit_total",
			Help: "Inbound events whose follow-up chain hit the hop cap.",
		}),
		ReportsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_reports_dropped_total",
			Help: "Execution reports shed because the report bus was full.",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oms_envelope_latency_seconds",
			Help:    "Time from envelope creation to the end of processing.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	m.reg.MustRegister(
		m.Inbound, m.InboundDropped, m.Malformed, m.Reports, m.VenueCommands,
		m.DuplicateFills, m.StaleEvents, m.FollowUpCapHit, m.ReportsDropped, m.Latency,
	)
	return m
}

func (m *Pipeline) Registry() *prometheus.Registry { return m.reg }

func (m *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
