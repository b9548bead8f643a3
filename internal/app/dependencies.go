package app

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalogue"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

// Services содержит прикладные сервисы, собранные поверх хранилищ.
type Services struct {
	Catalogue *catalogue.Service
	Carts     *cart.Service
	Checkout  *checkout.Service
	Orders    *order.Service
	Recorder  *events.Recorder
}

// HTTP возвращает набор сервисов для HTTP API.
func (s *Services) HTTP() httpapi.Services {
	return httpapi.Services{
		Catalogue: s.Catalogue,
		Carts:     s.Carts,
		Checkout:  s.Checkout,
		Orders:    s.Orders,
	}
}

// newServices собирает граф сервисов. Платёжный симулятор закрыт circuit breaker,
// списания остатков идут через инструментированный ledger.
func newServices(cfg Config, storage *runtimeDependencies, checkoutMetrics *metrics.CheckoutMetrics, logger *log.Entry) (*Services, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	calc := pricing.NewCalculator()
	recorder := events.NewRecorder(storage.outbox, storage.timeline, checkoutMetrics, logger.WithField("component", "events"))

	breaker := payment.DefaultBreakerSettings()
	if cfg.BreakerFailureThreshold > 0 {
		breaker.ConsecutiveFailures = cfg.BreakerFailureThreshold
	}
	if cfg.BreakerOpenTimeout > 0 {
		breaker.OpenTimeout = cfg.BreakerOpenTimeout
	}
	gateway := payment.NewBreakerGateway(
		payment.NewSimulator(logger.WithField("component", "payment-simulator")),
		breaker,
		logger.WithField("component", "payment-breaker"),
	)

	ledger := inventory.NewLedger(storage.products, checkoutMetrics, logger.WithField("component", "inventory"))

	retry := checkout.DefaultRetryConfig()
	if cfg.OrderRecordAttempts > 0 {
		retry.MaxAttempts = cfg.OrderRecordAttempts
	}
	paymentTimeout := cfg.PaymentTimeout
	if paymentTimeout <= 0 {
		paymentTimeout = 5 * time.Second
	}

	var notifier domain.Notifier
	if storage.outbox != nil {
		notifier = notification.NewOutboxNotifier(storage.outbox, logger.WithField("component", "notifier"))
	}

	checkoutSvc, err := checkout.NewService(checkout.Dependencies{
		Carts:    storage.carts,
		Catalog:  storage.products,
		Ledger:   ledger,
		Orders:   storage.orders,
		Payments: gateway,
		Notifier: notifier,
		Events:   recorder,
		Pricing:  calc,
		Metrics:  checkoutMetrics,
		Logger:   logger.WithField("component", "checkout"),
	}, checkout.Config{
		PaymentTimeout: paymentTimeout,
		RecordRetry:    retry,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Catalogue: catalogue.NewService(storage.products, logger.WithField("component", "catalogue")),
		Carts:     cart.NewService(storage.carts, storage.products, calc, logger.WithField("component", "cart")),
		Checkout:  checkoutSvc,
		Orders:    order.NewService(storage.orders, storage.timeline, recorder, logger.WithField("component", "orders")),
		Recorder:  recorder,
	}, nil
}
