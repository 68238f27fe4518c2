package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"idxtmpl/internal/domain"
)

type PrometheusMetrics struct {
	failures     *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	pushDuration *prometheus.HistogramVec
	pushRetries  *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxtmpl_failures_total",
				Help: "Total number of template registry failures by reason",
			},
			[]string{"reason"},
		),
		resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxtmpl_resolutions_total",
				Help: "Total number of resolved templates by family and source",
			},
			[]string{"family", "source"},
		),
		pushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idxtmpl_template_push_seconds",
				Help:    "Duration of template registrations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"template"},
		),
		pushRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxtmpl_template_push_retries_total",
				Help: "Total number of retried template registrations",
			},
			[]string{"template"},
		),
	}
}

func (p *PrometheusMetrics) IncFailure(reason domain.FailureReason) {
	p.failures.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusMetrics) ObserveResolve(family domain.Family, source domain.ResolveSource) {
	p.resolutions.WithLabelValues(family.Key(), string(source)).Inc()
}

func (p *PrometheusMetrics) ObservePush(template string, duration time.Duration, retries int) {
	p.pushDuration.WithLabelValues(template).Observe(duration.Seconds())
	p.pushRetries.WithLabelValues(template).Add(float64(retries))
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
