package queue

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var (
	// Depth is the number of ready tasks per kind.
	Depth *prometheus.GaugeVec
	// ProcessedTotal counts handled deliveries by outcome (ok, retry, dead).
	ProcessedTotal *prometheus.CounterVec
)

// MustRegisterMetrics registers the queue collectors once; later calls
// reuse what is already registered.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Ready tasks per kind.",
	}, []string{"kind"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_processed_total",
		Help:      "Task deliveries by outcome.",
	}, []string{"kind", "result"})

	Depth = register(reg, depth).(*prometheus.GaugeVec)
	ProcessedTotal = register(reg, processed).(*prometheus.CounterVec)
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}

func recordProcessed(kind, result string) {
	if ProcessedTotal != nil {
		ProcessedTotal.WithLabelValues(kind, result).Inc()
	}
}

func recordDepth(ctx context.Context, r *redis.Client, k keys, kind string) {
	if Depth == nil {
		return
	}
	if n, err := r.ZCard(ctx, k.ready(kind)).Result(); err == nil {
		Depth.WithLabelValues(kind).Set(float64(n))
	}
}
