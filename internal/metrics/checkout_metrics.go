package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления, оплаты и возвратов.
// Все методы безопасны для nil-получателя.
type CheckoutMetrics struct {
	ordersPlaced     *prometheus.CounterVec
	operationsFailed *prometheus.CounterVec
	paymentsVerified *prometheus.CounterVec
	refunds          *prometheus.CounterVec
	refundAmount     *prometheus.CounterVec
	walletMovements  *prometheus.CounterVec
	paymentsExpired  prometheus.Counter

	operationDuration *prometheus.HistogramVec
	gatewayDuration   *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewCheckoutMetrics создаёт метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в указанном registerer (для тестов).
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersPlaced: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Total number of orders placed grouped by payment method",
		}, []string{"method"}),
		operationsFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_operations_rejected_total",
			Help: "Total number of rejected storefront operations grouped by operation and error kind",
		}, []string{"operation", "kind"}),
		paymentsVerified: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_verifications_total",
			Help: "Total number of gateway payment verifications grouped by outcome",
		}, []string{"outcome"}),
		refunds: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_refunds_total",
			Help: "Total number of wallet refunds grouped by reason",
		}, []string{"reason"}),
		refundAmount: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_refund_amount_total",
			Help: "Total refunded amount in base currency units grouped by reason",
		}, []string{"reason"}),
		walletMovements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_wallet_transactions_total",
			Help: "Total number of wallet transactions grouped by type and reason",
		}, []string{"type", "reason"}),
		paymentsExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_payments_expired_total",
			Help: "Total number of abandoned gateway payments marked as failed",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_operation_duration_seconds",
			Help:    "Duration of storefront operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced увеличивает счётчик оформленных заказов.
func (m *CheckoutMetrics) RecordOrderPlaced(method string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(method).Inc()
}

// RecordRejected учитывает бизнес-отказ операции.
func (m *CheckoutMetrics) RecordRejected(operation, kind string) {
	if m == nil {
		return
	}
	m.operationsFailed.WithLabelValues(operation, kind).Inc()
}

// RecordPaymentVerification учитывает исход проверки оплаты.
func (m *CheckoutMetrics) RecordPaymentVerification(outcome string) {
	if m == nil {
		return
	}
	m.paymentsVerified.WithLabelValues(outcome).Inc()
}

// RecordRefund учитывает возврат в кошелёк.
func (m *CheckoutMetrics) RecordRefund(reason string, amount float64) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(reason).Inc()
	if amount > 0 {
		m.refundAmount.WithLabelValues(reason).Add(amount)
	}
}

// RecordWalletTransaction учитывает движение по кошельку.
func (m *CheckoutMetrics) RecordWalletTransaction(txType, reason string) {
	if m == nil {
		return
	}
	m.walletMovements.WithLabelValues(txType, reason).Inc()
}

// RecordPaymentsExpired учитывает просроченные онлайн-оплаты.
func (m *CheckoutMetrics) RecordPaymentsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.paymentsExpired.Add(float64(n))
}

// RecordOperationDuration записывает время выполнения операции.
func (m *CheckoutMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGatewayCall записывает время и результат вызова шлюза.
func (m *CheckoutMetrics) RecordGatewayCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
