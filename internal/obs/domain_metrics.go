package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// InvoiceAllocationsTotal counts invoice number allocations by counter scope and outcome.
	InvoiceAllocationsTotal *prometheus.CounterVec
	// BillsCreatedTotal counts checkout outcomes.
	BillsCreatedTotal *prometheus.CounterVec
	// CheckoutCompensationsTotal counts invoice counters rolled back after a failed checkout.
	CheckoutCompensationsTotal prometheus.Counter
	// PrintJobsTotal counts receipt print attempts by outcome.
	PrintJobsTotal *prometheus.CounterVec
	// PrintLatency records printer round trips in milliseconds.
	PrintLatency prometheus.Histogram
	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookLatency records webhook round trips in milliseconds.
	WebhookLatency prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		InvoiceAllocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_allocations_total",
			Help:      "Count of invoice number allocations by scope and result.",
		}, []string{"scope", "result"})
		BillsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_created_total",
			Help:      "Count of checkout attempts by result.",
		}, []string{"result"})
		CheckoutCompensationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_compensations_total",
			Help:      "Number of invoice counters released after a failed checkout.",
		})
		PrintJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "print_jobs_total",
			Help:      "Count of receipt print attempts by result.",
		}, []string{"result"})
		PrintLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "print_duration_ms",
			Help:      "Latency of printer writes in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery attempts by result.",
		}, []string{"result"})
		WebhookLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_ms",
			Help:      "Latency of webhook deliveries in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		})

		InvoiceAllocationsTotal = registerCollector(reg, InvoiceAllocationsTotal)
		BillsCreatedTotal = registerCollector(reg, BillsCreatedTotal)
		CheckoutCompensationsTotal = registerCollector(reg, CheckoutCompensationsTotal)
		PrintJobsTotal = registerCollector(reg, PrintJobsTotal)
		PrintLatency = registerCollector(reg, PrintLatency)
		WebhookDeliveriesTotal = registerCollector(reg, WebhookDeliveriesTotal)
		WebhookLatency = registerCollector(reg, WebhookLatency)
	})
}

// RecordInvoiceAllocation is safe to call before registration.
func RecordInvoiceAllocation(scope, result string) {
	if InvoiceAllocationsTotal == nil {
		return
	}
	InvoiceAllocationsTotal.WithLabelValues(scope, result).Inc()
}

// RecordBillCreated is safe to call before registration.
func RecordBillCreated(result string) {
	if BillsCreatedTotal == nil {
		return
	}
	BillsCreatedTotal.WithLabelValues(result).Inc()
}

// RecordCheckoutCompensation is safe to call before registration.
func RecordCheckoutCompensation() {
	if CheckoutCompensationsTotal == nil {
		return
	}
	CheckoutCompensationsTotal.Inc()
}

// RecordPrint is safe to call before registration.
func RecordPrint(result string, millis float64) {
	if PrintJobsTotal != nil {
		PrintJobsTotal.WithLabelValues(result).Inc()
	}
	if PrintLatency != nil && millis >= 0 {
		PrintLatency.Observe(millis)
	}
}

// RecordWebhook is safe to call before registration.
func RecordWebhook(result string, millis float64) {
	if WebhookDeliveriesTotal != nil {
		WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if WebhookLatency != nil && millis >= 0 {
		WebhookLatency.Observe(millis)
	}
}
