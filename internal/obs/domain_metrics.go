package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartMutationsTotal counts cart commands by operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// CartMutationLatency records cart command latency in milliseconds.
	CartMutationLatency *prometheus.HistogramVec
	// DomainEventsTotal counts emitted domain events per topic.
	DomainEventsTotal *prometheus.CounterVec
	// OrderSplitTotal counts order placement outcomes.
	OrderSplitTotal *prometheus.CounterVec
	// OrderChildrenCreated counts child orders created by the split.
	OrderChildrenCreated prometheus.Counter
	// SagaStepsTotal counts saga step transitions.
	SagaStepsTotal *prometheus.CounterVec
	// PaymentCaptureTotal counts payment capture attempts.
	PaymentCaptureTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart commands by operation and outcome.",
		}, []string{"op", "result"})
		CartMutationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_mutation_duration_ms",
			Help:      "Latency of cart commands in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"op"})
		DomainEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_total",
			Help:      "Count of emitted domain events.",
		}, []string{"topic"})
		OrderSplitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_split_total",
			Help:      "Count of order placement outcomes.",
		}, []string{"result"})
		OrderChildrenCreated = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_children_created_total",
			Help:      "Number of child orders created by the order split.",
		})
		SagaStepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_steps_total",
			Help:      "Count of saga step transitions.",
		}, []string{"step", "status"})
		PaymentCaptureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_capture_total",
			Help:      "Count of payment capture outcomes.",
		}, []string{"provider", "result"})

		mustRegisterCollector(reg, CartMutationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartMutationsTotal = v
			}
		})
		mustRegisterCollector(reg, CartMutationLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CartMutationLatency = v
			}
		})
		mustRegisterCollector(reg, DomainEventsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DomainEventsTotal = v
			}
		})
		mustRegisterCollector(reg, OrderSplitTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderSplitTotal = v
			}
		})
		mustRegisterCollector(reg, OrderChildrenCreated, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				OrderChildrenCreated = v
			}
		})
		mustRegisterCollector(reg, SagaStepsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SagaStepsTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentCaptureTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentCaptureTotal = v
			}
		})
	})
}

// ObserveCartMutation records the outcome and latency of a cart command.
func ObserveCartMutation(op string, err error, started time.Time) {
	if CartMutationsTotal == nil {
		return
	}
	CartMutationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	CartMutationLatency.WithLabelValues(op).Observe(DurationMillis(time.Since(started)))
}

// IncDomainEvent counts an emitted event.
func IncDomainEvent(topic string) {
	if DomainEventsTotal != nil {
		DomainEventsTotal.WithLabelValues(topic).Inc()
	}
}

// ObserveOrderSplit counts a placement outcome and the children it created.
func ObserveOrderSplit(result string, children int) {
	if OrderSplitTotal == nil {
		return
	}
	OrderSplitTotal.WithLabelValues(result).Inc()
	if children > 0 {
		OrderChildrenCreated.Add(float64(children))
	}
}

// IncSagaStep counts a saga step transition.
func IncSagaStep(step, status string) {
	if SagaStepsTotal != nil {
		SagaStepsTotal.WithLabelValues(step, status).Inc()
	}
}

// IncPaymentCapture counts a capture attempt.
func IncPaymentCapture(provider string, err error) {
	if PaymentCaptureTotal != nil {
		PaymentCaptureTotal.WithLabelValues(provider, resultLabel(err)).Inc()
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
