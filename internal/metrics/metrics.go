package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline's collectors. A nil *Metrics records nothing.
type Metrics struct {
	deliveries     *prometheus.CounterVec
	claims         *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	approvals      *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	publishLatency *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_delivery_attempts_total",
				Help: "Delivery attempts by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_entry_claims_total",
				Help: "Schedule entry claim attempts by result",
			},
			[]string{"result"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_token_refreshes_total",
				Help: "Access token refreshes by platform and result",
			},
			[]string{"platform", "result"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_workflow_actions_total",
				Help: "Approval workflow actions by action",
			},
			[]string{"action"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "publisher_sweep_duration_seconds",
				Help:    "Duration of one scheduler sweep",
				Buckets: prometheus.DefBuckets,
			},
		),
		publishLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "publisher_platform_publish_seconds",
				Help:    "Latency of platform publish calls",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"platform"},
		),
		gatherer: reg,
	}

	reg.MustRegister(m.deliveries, m.claims, m.refreshes, m.approvals, m.sweepDuration, m.publishLatency)
	return m
}

// NewDefault registers with a fresh registry that also exposes Go runtime
// and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

func (m *Metrics) Delivery(platform, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) Claim(won bool) {
	if m == nil {
		return
	}
	result := "won"
	if !won {
		result = "lost"
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(platform string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.refreshes.WithLabelValues(platform, result).Inc()
}

func (m *Metrics) Approval(action string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveSweep(started time.Time) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObservePublish(platform string, started time.Time) {
	if m == nil {
		return
	}
	m.publishLatency.WithLabelValues(platform).Observe(time.Since(started).Seconds())
}

func MountController(router fiber.Router, m *Metrics) {
	router.Get("/", adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})))
}
