package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer is a helper for timing operations and recording them to a
// histogram, used around the processing service's per-batch stages and the
// virtual-point engine's per-formula evaluation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
