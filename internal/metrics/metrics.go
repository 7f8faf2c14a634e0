package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns the prometheus instruments for the domain gateway. All
// record methods are nil-safe so unit tests can pass a nil collector.
type Collector struct {
	resolveTotal    *prometheus.CounterVec
	resolveLatency  prometheus.Histogram
	verifyOutcomes  *prometheus.CounterVec
	certOperations  *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	healthState     *prometheus.GaugeVec
	queueDepth      prometheus.Gauge
	jobsProcessed   *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		resolveTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_gateway_resolve_total",
			Help: "Tenant resolution attempts by outcome (hit, miss, not_found).",
		}, []string{"outcome"}),
		resolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "domain_gateway_resolve_duration_seconds",
			Help:    "Latency of tenant resolution on the request path.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		verifyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_gateway_verification_total",
			Help: "Domain verification passes by result (verified, pending, error).",
		}, []string{"result"}),
		certOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_gateway_certificates_total",
			Help: "Certificate lifecycle operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "domain_gateway_renewal_sweep_duration_seconds",
			Help:    "Duration of the certificate renewal sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		healthState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "domain_gateway_domain_health",
			Help: "Latest overall health per domain (0 healthy, 1 warning, 2 error).",
		}, []string{"domain"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "domain_gateway_queue_depth",
			Help: "Pending jobs in the domain job queue.",
		}),
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_gateway_jobs_processed_total",
			Help: "Background jobs processed by type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

func (c *Collector) RecordResolve(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.resolveTotal.WithLabelValues(outcome).Inc()
	c.resolveLatency.Observe(d.Seconds())
}

func (c *Collector) RecordVerification(result string) {
	if c == nil {
		return
	}
	c.verifyOutcomes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordCertOperation(operation, outcome string) {
	if c == nil {
		return
	}
	c.certOperations.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) RecordSweep(d time.Duration) {
	if c == nil {
		return
	}
	c.sweepDuration.Observe(d.Seconds())
}

func (c *Collector) RecordHealth(domainName string, state int) {
	if c == nil {
		return
	}
	c.healthState.WithLabelValues(domainName).Set(float64(state))
}

func (c *Collector) RecordQueueDepth(depth int64) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

func (c *Collector) RecordJob(jobType, outcome string) {
	if c == nil {
		return
	}
	c.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}
