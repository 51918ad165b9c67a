package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BreakerState is 0 closed, 1 open, 2 half-open per target.
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerOpenedTotal *prometheus.CounterVec
)

// MustRegisterMetrics registers the breaker collectors on reg, reusing any
// already registered ones.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	BreakerState = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Current breaker state: 0=closed,1=open,2=half-open",
	}, []string{"target"})).(*prometheus.GaugeVec)
	BreakerTransitions = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transition_total",
		Help:      "Count of breaker state transitions",
	}, []string{"target", "from", "to"})).(*prometheus.CounterVec)
	BreakerOpenedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_open_total",
		Help:      "Number of times a breaker opened",
	}, []string{"target"})).(*prometheus.CounterVec)
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
