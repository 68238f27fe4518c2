package telemetry

import (
	"time"

	"idxtmpl/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) IncFailure(_ domain.FailureReason) {}

func (n *NoopMetrics) ObserveResolve(_ domain.Family, _ domain.ResolveSource) {}

func (n *NoopMetrics) ObservePush(_ string, _ time.Duration, _ int) {}

// Fanout forwards every observation to each sink.
type Fanout []domain.Metrics

func NewFanout(sinks ...domain.Metrics) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f Fanout) IncFailure(reason domain.FailureReason) {
	for _, sink := range f {
		sink.IncFailure(reason)
	}
}

func (f Fanout) ObserveResolve(family domain.Family, source domain.ResolveSource) {
	for _, sink := range f {
		sink.ObserveResolve(family, source)
	}
}

func (f Fanout) ObservePush(template string, duration time.Duration, retries int) {
	for _, sink := range f {
		sink.ObservePush(template, duration, retries)
	}
}

var (
	_ domain.Metrics = (*NoopMetrics)(nil)
	_ domain.Metrics = Fanout(nil)
)
