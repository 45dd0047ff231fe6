package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes events as Prometheus collectors.
type PrometheusSink struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	consumed    *prometheus.CounterVec
	saved       *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	retries     *prometheus.CounterVec
}

var _ Sink = (*PrometheusSink)(nil)

// MustNewPrometheusSink registers the collectors with reg under namespace.
// A collector that is already registered is reused; any other registration
// error panics.
func MustNewPrometheusSink(reg prometheus.Registerer, namespace string) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "delegate"
	}
	labels := []string{"task_type", "executor"}

	s := &PrometheusSink{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Delegated tasks by type, executor and status.",
		}, []string{"task_type", "executor", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock time to produce a result.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_consumed_total",
			Help:      "Executor budget consumed.",
		}, labels),
		saved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_saved_total",
			Help:      "Cost avoided relative to always using the primary executor.",
		}, labels),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Results served from the cache.",
		}, labels),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Attempts beyond the first.",
		}, labels),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	s.invocations = register(s.invocations).(*prometheus.CounterVec)
	s.duration = register(s.duration).(*prometheus.HistogramVec)
	s.consumed = register(s.consumed).(*prometheus.CounterVec)
	s.saved = register(s.saved).(*prometheus.CounterVec)
	s.cacheHits = register(s.cacheHits).(*prometheus.CounterVec)
	s.retries = register(s.retries).(*prometheus.CounterVec)

	return s
}

// Record implements Sink.
func (s *PrometheusSink) Record(_ context.Context, e Event) error {
	if s == nil {
		return nil
	}
	tt, ex := string(e.TaskType), string(e.Executor)

	s.invocations.WithLabelValues(tt, ex, string(e.Status)).Inc()
	s.duration.WithLabelValues(tt, ex).Observe(e.Duration.Seconds())
	s.consumed.WithLabelValues(tt, ex).Add(float64(e.ResourceConsumed))
	if e.ResourceSaved > 0 {
		s.saved.WithLabelValues(tt, ex).Add(e.ResourceSaved)
	}
	if e.CacheHit {
		s.cacheHits.WithLabelValues(tt, ex).Inc()
	}
	if e.Retries > 0 {
		s.retries.WithLabelValues(tt, ex).Add(float64(e.Retries))
	}
	return nil
}
