package cqlmigrate

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what a Runner did. A nil *Metrics records nothing.
type Metrics struct {
	applied  prometheus.Counter
	skipped  prometheus.Counter
	failed   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the migration collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cqlmigrate",
			Name:      "applied_total",
			Help:      "Number of migrations applied.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cqlmigrate",
			Name:      "skipped_total",
			Help:      "Number of migrations found already applied.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cqlmigrate",
			Name:      "failed_total",
			Help:      "Number of migrations that failed, by kind of error.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cqlmigrate",
			Name:      "duration_seconds",
			Help:      "Time spent checking and applying a single migration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	for _, c := range []prometheus.Collector{m.applied, m.skipped, m.failed, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}
	return m, nil
}

func (m *Metrics) observe(out *Outcome, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(took.Seconds())
	switch {
	case err != nil:
		m.failed.WithLabelValues(errorKind(err)).Inc()
	case out.Skipped:
		m.skipped.Inc()
	default:
		m.applied.Inc()
	}
}

func errorKind(err error) string {
	var (
		storage *StorageError
		config  *ConfigurationError
		app     *ApplicationError
	)
	switch {
	case errors.As(err, &app):
		return "application"
	case errors.As(err, &config):
		return "configuration"
	case errors.As(err, &storage):
		return "storage"
	case errors.Is(err, ErrAlreadyRecorded):
		return "concurrent"
	}
	return "unknown"
}
