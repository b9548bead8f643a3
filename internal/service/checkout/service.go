// Package checkout превращает корзину в оплаченный заказ и списывает остатки.
//
// Шаги до авторизации платежа можно безопасно прервать. После успешной оплаты
// оформление идёт только вперёд: заказ сохраняется всегда, ошибки списания
// и очистки корзины фиксируются, но не откатывают заказ.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

const (
	defaultPaymentTimeout = 5 * time.Second
	defaultPaymentMethod  = "Card"

	reasonPaymentTimeout = "payment timeout"
)

// Metrics принимает метрики оформления заказа.
type Metrics interface {
	RecordCheckoutStarted()
	RecordCheckoutFinished(duration time.Duration)
	RecordCheckoutCompleted()
	RecordCheckoutFailed(reason string)
	RecordStockShortfall(lines int)
	RecordStepDuration(step string, duration time.Duration)
	RecordPayment(result string)
}

// Request — входные данные оформления.
type Request struct {
	UserID          string
	Instrument      domain.PaymentInstrument
	ShippingAddress string
	// NotifyEmail — адрес для квитанции; пустой адрес отключает уведомление.
	NotifyEmail string
}

// Result — итог оформления.
type Result struct {
	OrderID    string
	Total      decimal.Decimal
	PaymentRef string
	Order      domain.Order
}

// Dependencies — коллабораторы оркестратора. Notifier, Events и Metrics опциональны.
type Dependencies struct {
	Carts    domain.CartRepository
	Catalog  domain.CatalogueReader
	Ledger   domain.InventoryLedger
	Orders   domain.OrderRepository
	Payments domain.PaymentGateway
	Notifier domain.Notifier
	Events   *events.Recorder
	Pricing  *pricing.Calculator
	Metrics  Metrics
	Logger   *log.Entry
}

// Config задаёт таймаут платежа и повторы записи заказа.
type Config struct {
	PaymentTimeout time.Duration
	RecordRetry    RetryConfig
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		PaymentTimeout: defaultPaymentTimeout,
		RecordRetry:    DefaultRetryConfig(),
	}
}

// Service — Checkout Orchestrator.
type Service struct {
	carts    domain.CartRepository
	catalog  domain.CatalogueReader
	ledger   domain.InventoryLedger
	orders   domain.OrderRepository
	payments domain.PaymentGateway
	notifier domain.Notifier
	events   *events.Recorder
	pricing  *pricing.Calculator
	metrics  Metrics
	logger   *log.Entry
	cfg      Config
	now      func() time.Time
}

// NewService создаёт оркестратор оформления.
func NewService(deps Dependencies, cfg Config) (*Service, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout: cart repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("checkout: catalogue reader is required")
	case deps.Ledger == nil:
		return nil, errors.New("checkout: inventory ledger is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout: order repository is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout: payment gateway is required")
	}

	if deps.Pricing == nil {
		deps.Pricing = pricing.NewCalculator()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "checkout")
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = defaultPaymentTimeout
	}

	return &Service{
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		ledger:   deps.Ledger,
		orders:   deps.Orders,
		payments: deps.Payments,
		notifier: deps.Notifier,
		events:   deps.Events,
		pricing:  deps.Pricing,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Checkout оформляет заказ по корзине пользователя.
//
// Ошибки шагов 1–3 (EmptyCart, PaymentDeclined, валидация) не меняют состояние.
// После оплаты возможны OrderNotRecordedError (заказ не сохранён, есть ссылка на платёж)
// и StockShortfallError (заказ сохранён, часть позиций не списана; Result заполнен).
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	s.metrics.RecordCheckoutStarted()
	defer func() { s.metrics.RecordCheckoutFinished(time.Since(started)) }()

	logger := s.logger.WithField("user_id", req.UserID)

	if req.UserID == "" {
		s.metrics.RecordCheckoutFailed("validation")
		return Result{}, domain.ErrUserRequired
	}
	if req.ShippingAddress == "" {
		s.metrics.RecordCheckoutFailed("validation")
		return Result{}, domain.ErrShippingAddressRequired
	}

	// 1. Корзина
	stepStart := time.Now()
	cart, err := s.loadCart(ctx, req.UserID)
	s.observeStep(domain.CheckoutStepLoadCart, stepStart)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyCart) {
			s.metrics.RecordCheckoutFailed("empty_cart")
		} else {
			s.metrics.RecordCheckoutFailed("load_cart")
		}
		return Result{}, err
	}

	// 2. Сумма
	stepStart = time.Now()
	total := s.pricing.Total(cart.Items)
	s.observeStep(domain.CheckoutStepPrice, stepStart)

	// 3. Оплата — последняя точка безопасного отказа
	stepStart = time.Now()
	payment, err := s.authorize(ctx, total, req.Instrument)
	s.observeStep(domain.CheckoutStepPay, stepStart)
	if err != nil {
		s.metrics.RecordPayment("declined")
		s.metrics.RecordCheckoutFailed("payment_declined")
		logger.WithError(err).WithFields(log.Fields{
			"card_last4": req.Instrument.Last4(),
			"total":      total.StringFixed(2),
		}).Warn("payment declined")
		return Result{}, err
	}
	s.metrics.RecordPayment("approved")

	logger = logger.WithField("payment_ref", payment.Reference)

	// Дальше оформление не прерывается отменой запроса: платёж уже проведён.
	commitCtx := context.WithoutCancel(ctx)

	// 4. Снимок позиций
	stepStart = time.Now()
	items := s.snapshot(commitCtx, cart, logger)
	s.observeStep(domain.CheckoutStepSnapshot, stepStart)

	method := payment.Method
	if method == "" {
		method = defaultPaymentMethod
	}
	// ID выбирается до первой попытки записи: повтор после потерянного
	// подтверждения вернёт уже сохранённый заказ, а не создаст второй.
	order := domain.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Items:           items,
		TotalPaid:       total,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   method,
		PaymentRef:      payment.Reference,
		Status:          domain.OrderStatusPaid,
		CreatedAt:       s.now(),
	}
	if problems := order.ValidateInvariants(); len(problems) > 0 {
		logger.WithField("problems", errors.Join(problems...).Error()).Error("order invariants violated")
	}

	// 5. Запись заказа
	stepStart = time.Now()
	saved, err := s.recordOrder(commitCtx, order, logger)
	s.observeStep(domain.CheckoutStepRecord, stepStart)
	if err != nil {
		s.metrics.RecordCheckoutFailed("order_not_recorded")
		logger.WithError(err).WithField("total", total.StringFixed(2)).
			Error("payment captured but order was not recorded, manual reconciliation required")
		return Result{}, &domain.OrderNotRecordedError{PaymentReference: payment.Reference, Err: err}
	}
	logger = logger.WithField("order_id", saved.ID)

	s.events.Emit(commitCtx, saved.ID, domain.EventOrderPlaced, map[string]any{
		"user_id":     saved.UserID,
		"total":       saved.TotalPaid.StringFixed(2),
		"items":       len(saved.Items),
		"payment_ref": saved.PaymentRef,
		"status":      string(saved.Status),
	})

	// 6. Списание остатков
	stepStart = time.Now()
	shortfalls := s.decrementStock(commitCtx, saved, logger)
	s.observeStep(domain.CheckoutStepDecrement, stepStart)

	// 7. Удаление корзины
	stepStart = time.Now()
	if err := s.carts.Delete(commitCtx, cart.ID); err != nil && !domain.IsNotFound(err) {
		logger.WithError(err).WithField("cart_id", cart.ID).Error("failed to delete cart after checkout")
	}
	s.observeStep(domain.CheckoutStepClearCart, stepStart)

	// Уведомление не влияет на заказ
	if s.notifier != nil {
		stepStart = time.Now()
		if err := s.notifier.OrderPlaced(commitCtx, saved, req.NotifyEmail); err != nil {
			logger.WithError(err).Warn("order notification failed")
		}
		s.observeStep(domain.CheckoutStepNotify, stepStart)
	}

	result := Result{
		OrderID:    saved.ID,
		Total:      saved.TotalPaid,
		PaymentRef: saved.PaymentRef,
		Order:      saved,
	}

	if len(shortfalls) > 0 {
		shortfallErr := &domain.StockShortfallError{OrderID: saved.ID, Shortfalls: shortfalls}
		s.events.Emit(commitCtx, saved.ID, domain.EventOrderStockShortage, map[string]any{
			"reason": shortfallErr.Error(),
			"lines":  len(shortfalls),
		})
		s.metrics.RecordStockShortfall(len(shortfalls))
		s.metrics.RecordCheckoutFailed("stock_shortfall")
		return result, shortfallErr
	}

	s.metrics.RecordCheckoutCompleted()
	logger.WithField("total", saved.TotalPaid.StringFixed(2)).Info("checkout completed")
	return result, nil
}

// loadCart читает корзину из основного хранилища. Кэш здесь не используется:
// устаревшая копия удалённой корзины привела бы к повторной оплате.
func (s *Service) loadCart(ctx context.Context, userID string) (domain.Cart, error) {
	read := s.carts.GetByUser
	if source, ok := s.carts.(domain.CartSource); ok {
		read = source.GetByUserFromSource
	}
	cart, err := read(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.Cart{}, domain.ErrEmptyCart
		}
		return domain.Cart{}, fmt.Errorf("load cart for user %s: %w", userID, err)
	}
	if cart.Empty() {
		return domain.Cart{}, domain.ErrEmptyCart
	}
	return cart, nil
}

// authorize вызывает шлюз один раз. Таймаут, ошибка шлюза и разомкнутый
// circuit breaker считаются отказом.
func (s *Service) authorize(ctx context.Context, total decimal.Decimal, instrument domain.PaymentInstrument) (domain.PaymentResult, error) {
	payCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	result, err := s.payments.Authorize(payCtx, total, instrument)
	if err != nil {
		reason := err.Error()
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(payCtx.Err(), context.DeadlineExceeded):
			reason = reasonPaymentTimeout
		case errors.Is(err, domain.ErrPaymentGatewayUnavailable):
			reason = domain.ErrPaymentGatewayUnavailable.Error()
		}
		return domain.PaymentResult{}, &domain.PaymentDeclinedError{Reason: reason}
	}
	if !result.Approved {
		return domain.PaymentResult{}, &domain.PaymentDeclinedError{Reason: result.Reason, Reference: result.Reference}
	}
	return result, nil
}

// snapshot копирует строки корзины в позиции заказа с текущим именем товара
// и ценой, зафиксированной в корзине.
func (s *Service) snapshot(ctx context.Context, cart domain.Cart, logger *log.Entry) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		name := line.ProductID
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			logger.WithError(err).WithField("product_id", line.ProductID).Warn("product name unavailable for snapshot")
		} else {
			name = product.Name
		}
		items = append(items, domain.OrderItem{
			ProductID:   line.ProductID,
			ProductName: name,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	return items
}

// recordOrder записывает заказ с повторами. ID выбран до первой попытки, а Create
// идемпотентен по ID, поэтому повтор после потерянного коммита не создаёт второй заказ.
func (s *Service) recordOrder(ctx context.Context, order domain.Order, logger *log.Entry) (domain.Order, error) {
	var saved domain.Order
	err := retry(ctx, s.cfg.RecordRetry, func() error {
		var err error
		saved, err = s.orders.Create(ctx, order)
		return err
	}, func(attempt int, err error) {
		logger.WithError(err).WithField("attempt", attempt).Warn("order save failed, retrying")
	})
	return saved, err
}

// decrementStock списывает все позиции, не прерываясь на ошибках.
func (s *Service) decrementStock(ctx context.Context, order domain.Order, logger *log.Entry) []domain.StockShortfall {
	var shortfalls []domain.StockShortfall
	for _, item := range order.Items {
		if err := s.ledger.Decrement(ctx, item.ProductID, item.Quantity); err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"quantity":   item.Quantity,
				"step":       string(domain.CheckoutStepDecrement),
			}).Error("stock decrement failed after payment")
			shortfalls = append(shortfalls, domain.StockShortfall{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Err:       err,
			})
		}
	}
	return shortfalls
}

func (s *Service) observeStep(step domain.CheckoutStep, started time.Time) {
	s.metrics.RecordStepDuration(string(step), time.Since(started))
}

type noopMetrics struct{}

func (noopMetrics) RecordCheckoutStarted()                   {}
func (noopMetrics) RecordCheckoutFinished(time.Duration)     {}
func (noopMetrics) RecordCheckoutCompleted()                 {}
func (noopMetrics) RecordCheckoutFailed(string)              {}
func (noopMetrics) RecordStockShortfall(int)                 {}
func (noopMetrics) RecordStepDuration(string, time.Duration) {}
func (noopMetrics) RecordPayment(string)                     {}
