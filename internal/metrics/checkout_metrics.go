package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления заказа, склада и платежей.
type CheckoutMetrics struct {
	// Счётчики оформления
	checkoutStarted   prometheus.Counter
	checkoutCompleted prometheus.Counter
	checkoutFailed    *prometheus.CounterVec
	stockShortfalls   prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec

	paymentResults  *prometheus.CounterVec
	ledgerDecrement *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для оформлений в процессе
	activeCheckouts prometheus.Gauge
}

// NewCheckoutMetrics создаёт метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_checkout_started_total",
			Help: "Total number of checkouts started",
		})),
		checkoutCompleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_checkout_completed_total",
			Help: "Total number of checkouts completed without shortfall",
		})),
		checkoutFailed: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_failed_total",
			Help: "Total number of failed checkouts grouped by reason",
		}, []string{"reason"})),
		stockShortfalls: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_checkout_stock_shortfall_total",
			Help: "Total number of order lines recorded without a stock decrement",
		})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout operations in seconds",
			Buckets: prometheus.DefBuckets,
		})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"})),
		paymentResults: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_authorizations_total",
			Help: "Payment authorizations grouped by result",
		}, []string{"result"})),
		ledgerDecrement: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_inventory_decrements_total",
			Help: "Inventory ledger decrements grouped by result",
		}, []string{"result"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		})),
		activeCheckouts: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_active_checkouts",
			Help: "Number of checkouts currently in progress",
		})),
	}
}

// Методы безопасны для nil-получателя: метрики можно не подключать.

// RecordCheckoutStarted увеличивает счётчик запущенных оформлений.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutStarted.Inc()
	m.activeCheckouts.Inc()
}

// RecordCheckoutFinished уменьшает количество активных оформлений и пишет длительность.
func (m *CheckoutMetrics) RecordCheckoutFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.activeCheckouts.Dec()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordCheckoutCompleted увеличивает счётчик успешных оформлений.
func (m *CheckoutMetrics) RecordCheckoutCompleted() {
	if m == nil {
		return
	}
	m.checkoutCompleted.Inc()
}

// RecordCheckoutFailed увеличивает счётчик неудачных оформлений.
func (m *CheckoutMetrics) RecordCheckoutFailed(reason string) {
	if m == nil {
		return
	}
	m.checkoutFailed.WithLabelValues(reason).Inc()
}

// RecordStockShortfall считает позиции, не списанные со склада после оплаты.
func (m *CheckoutMetrics) RecordStockShortfall(lines int) {
	if m == nil {
		return
	}
	m.stockShortfalls.Add(float64(lines))
}

// RecordStepDuration записывает время выполнения шага.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordPayment учитывает результат авторизации (approved, declined, error).
func (m *CheckoutMetrics) RecordPayment(result string) {
	if m == nil {
		return
	}
	m.paymentResults.WithLabelValues(result).Inc()
}

// RecordDecrement учитывает результат списания (ok, insufficient, error).
func (m *CheckoutMetrics) RecordDecrement(result string) {
	if m == nil {
		return
	}
	m.ledgerDecrement.WithLabelValues(result).Inc()
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
