package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/cache"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const approvedCard = "4111111111111111"

type CheckoutSuite struct {
	suite.Suite

	ctx      context.Context
	products domain.ProductRepository
	carts    domain.CartRepository
	orders   domain.OrderRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
	cartSvc  *cart.Service

	laptop  domain.Product
	monitor domain.Product
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.products = memory.NewProductRepository()
	s.carts = memory.NewCartRepository()
	s.orders = memory.NewOrderRepository()
	s.outbox = memory.NewOutboxRepository()
	s.timeline = memory.NewTimelineRepository()
	s.cartSvc = cart.NewService(s.carts, s.products, pricing.NewCalculator(), nil)

	s.laptop = s.mustProduct("Laptop", "1200.00", 5)
	s.monitor = s.mustProduct("Monitor", "350.00", 10)
}

func (s *CheckoutSuite) mustProduct(name, price string, stock int) domain.Product {
	product, err := s.products.Upsert(s.ctx, domain.Product{
		Name:      name,
		UnitPrice: decimal.RequireFromString(price),
		Stock:     stock,
		Status:    domain.ProductStatusActive,
	})
	s.Require().NoError(err)
	return product
}

func (s *CheckoutSuite) newService(mutate func(*checkout.Dependencies, *checkout.Config)) *checkout.Service {
	deps := checkout.Dependencies{
		Carts:    s.carts,
		Catalog:  s.products,
		Ledger:   s.products,
		Orders:   s.orders,
		Payments: payment.NewSimulator(nil),
		Notifier: notification.NewOutboxNotifier(s.outbox, nil),
		Events:   events.NewRecorder(s.outbox, s.timeline, nil, nil),
	}
	cfg := checkout.Config{
		PaymentTimeout: time.Second,
		RecordRetry:    checkout.RetryConfig{MaxAttempts: 3},
	}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	svc, err := checkout.NewService(deps, cfg)
	s.Require().NoError(err)
	return svc
}

func (s *CheckoutSuite) addToCart(userID string, product domain.Product, qty int) {
	_, err := s.cartSvc.AddItem(s.ctx, userID, product.ID, qty)
	s.Require().NoError(err)
}

func (s *CheckoutSuite) stockOf(id string) int {
	product, err := s.products.GetProduct(s.ctx, id)
	s.Require().NoError(err)
	return product.Stock
}

func request(userID, card string) checkout.Request {
	return checkout.Request{
		UserID:          userID,
		Instrument:      domain.PaymentInstrument{CardNumber: card, CardHolder: "Jane Doe", Expiry: "12/30"},
		ShippingAddress: "Main st. 1",
		NotifyEmail:     userID + "@example.com",
	}
}

func (s *CheckoutSuite) TestNewServiceRequiresCollaborators() {
	_, err := checkout.NewService(checkout.Dependencies{}, checkout.DefaultConfig())
	s.Error(err)
}

func (s *CheckoutSuite) TestEmptyOrAbsentCart() {
	svc := s.newService(nil)

	_, err := svc.Checkout(s.ctx, request("nobody", approvedCard))
	s.ErrorIs(err, domain.ErrEmptyCart)

	s.addToCart("user-1", s.laptop, 1)
	_, err = s.cartSvc.RemoveItem(s.ctx, "user-1", s.laptop.ID)
	s.Require().NoError(err)

	_, err = svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.ErrorIs(err, domain.ErrEmptyCart)

	orders, err := s.orders.ListAll(s.ctx, 0)
	s.Require().NoError(err)
	s.Empty(orders)
	s.Equal(5, s.stockOf(s.laptop.ID))
}

func (s *CheckoutSuite) TestValidation() {
	svc := s.newService(nil)

	req := request("user-1", approvedCard)
	req.ShippingAddress = ""
	_, err := svc.Checkout(s.ctx, req)
	s.ErrorIs(err, domain.ErrValidation)

	_, err = svc.Checkout(s.ctx, request("", approvedCard))
	s.ErrorIs(err, domain.ErrValidation)
}

func (s *CheckoutSuite) TestDeclinedCardLeavesStateUnchanged() {
	svc := s.newService(nil)
	s.addToCart("user-1", s.laptop, 2)

	_, err := svc.Checkout(s.ctx, request("user-1", "4111111111111000"))
	s.Require().ErrorIs(err, domain.ErrPaymentDeclined)

	var declined *domain.PaymentDeclinedError
	s.Require().ErrorAs(err, &declined)
	s.Equal(payment.ReasonInsufficientFunds, declined.Reason)

	s.Equal(5, s.stockOf(s.laptop.ID))
	view, err := s.cartSvc.View(s.ctx, "user-1")
	s.Require().NoError(err)
	s.False(view.Empty)
	s.Equal(2, view.Cart.QuantityOf(s.laptop.ID))

	orders, err := s.orders.ListByUser(s.ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Empty(orders)
	s.Empty(s.outbox.AllPending())
}

func (s *CheckoutSuite) TestSuccessfulCheckout() {
	svc := s.newService(nil)
	s.addToCart("user-1", s.laptop, 2)
	s.addToCart("user-1", s.monitor, 1)

	before, err := s.cartSvc.View(s.ctx, "user-1")
	s.Require().NoError(err)

	res, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().NoError(err)
	s.NotEmpty(res.OrderID)
	s.True(before.Cart.Total.Equal(res.Total))
	s.Equal("2750.00", res.Total.StringFixed(2))

	s.Equal(3, s.stockOf(s.laptop.ID))
	s.Equal(9, s.stockOf(s.monitor.ID))

	order, err := s.orders.Get(s.ctx, res.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, order.Status)
	s.True(order.TotalPaid.Equal(before.Cart.Total))
	s.Equal(payment.SimulatedMethod, order.PaymentMethod)
	s.Equal("Main st. 1", order.ShippingAddress)
	s.Require().Len(order.Items, 2)
	s.Equal("Laptop", order.Items[0].ProductName)
	s.Empty(order.ValidateInvariants())

	_, err = s.carts.GetByUser(s.ctx, "user-1")
	s.ErrorIs(err, domain.ErrCartNotFound)

	history, err := s.timeline.List(s.ctx, res.OrderID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(domain.EventOrderPlaced, history[0].Type)

	var types []string
	for _, msg := range s.outbox.AllPending() {
		types = append(types, msg.EventType)
	}
	s.ElementsMatch([]string{domain.EventOrderPlaced, notification.EventOrderReceiptRequested}, types)
}

func (s *CheckoutSuite) TestSnapshotKeepsCapturedPrice() {
	svc := s.newService(nil)
	s.addToCart("user-1", s.laptop, 1)

	_, err := s.products.Upsert(s.ctx, domain.Product{
		ID:        s.laptop.ID,
		Name:      "Laptop Pro",
		UnitPrice: decimal.RequireFromString("1500.00"),
		Stock:     5,
		Status:    domain.ProductStatusActive,
	})
	s.Require().NoError(err)

	res, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().NoError(err)
	s.Equal("1200.00", res.Total.StringFixed(2))
	s.Equal("Laptop Pro", res.Order.Items[0].ProductName)
	s.Equal("1200.00", res.Order.Items[0].UnitPrice.StringFixed(2))
}

func (s *CheckoutSuite) TestPaymentTimeoutIsDecline() {
	gateway := payment.NewMockGateway()
	gateway.Delay = make(chan struct{})
	svc := s.newService(func(deps *checkout.Dependencies, cfg *checkout.Config) {
		deps.Payments = gateway
		cfg.PaymentTimeout = 20 * time.Millisecond
	})
	s.addToCart("user-1", s.laptop, 1)

	_, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().ErrorIs(err, domain.ErrPaymentDeclined)
	s.Contains(err.Error(), "timeout")
	s.Equal(1, gateway.CallCount())
	s.Equal(5, s.stockOf(s.laptop.ID))

	_, err = s.carts.GetByUser(s.ctx, "user-1")
	s.NoError(err)
}

func (s *CheckoutSuite) TestGatewayErrorIsDecline() {
	gateway := payment.NewMockGateway()
	gateway.Err = domain.ErrPaymentGatewayUnavailable
	svc := s.newService(func(deps *checkout.Dependencies, _ *checkout.Config) {
		deps.Payments = gateway
	})
	s.addToCart("user-1", s.laptop, 1)

	_, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.ErrorIs(err, domain.ErrPaymentDeclined)
	s.Equal(1, gateway.CallCount())
}

type flakyOrders struct {
	domain.OrderRepository
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyOrders) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return domain.Order{}, errors.New("database is unavailable")
	}
	return f.OrderRepository.Create(ctx, order)
}

// lostAckOrders записывает заказ, но первая попытка сообщает об ошибке,
// как при потерянном подтверждении коммита.
type lostAckOrders struct {
	domain.OrderRepository
	calls atomic.Int32
}

func (l *lostAckOrders) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	saved, err := l.OrderRepository.Create(ctx, order)
	if l.calls.Add(1) == 1 && err == nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", context.DeadlineExceeded)
	}
	return saved, err
}

func (s *CheckoutSuite) TestOrderSaveIsRetried() {
	orders := &flakyOrders{OrderRepository: s.orders}
	orders.failures.Store(2)
	svc := s.newService(func(deps *checkout.Dependencies, _ *checkout.Config) {
		deps.Orders = orders
	})
	s.addToCart("user-1", s.laptop, 1)

	res, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().NoError(err)
	s.EqualValues(3, orders.calls.Load())

	_, err = s.orders.Get(s.ctx, res.OrderID)
	s.NoError(err)
}

func (s *CheckoutSuite) TestOrderRetryAfterLostCommitRecordsOnce() {
	orders := &lostAckOrders{OrderRepository: s.orders}
	svc := s.newService(func(deps *checkout.Dependencies, _ *checkout.Config) {
		deps.Orders = orders
	})
	s.addToCart("user-1", s.laptop, 1)

	res, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().NoError(err)
	s.EqualValues(2, orders.calls.Load())

	recorded, err := s.orders.ListByUser(s.ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Require().Len(recorded, 1)
	s.Equal(res.OrderID, recorded[0].ID)
	s.Equal(res.PaymentRef, recorded[0].PaymentRef)
	s.Equal(4, s.stockOf(s.laptop.ID))
}

// interleavedCarts выполняет afterRead один раз сразу после чтения корзины из хранилища.
type interleavedCarts struct {
	domain.CartRepository
	afterRead func()
}

func (r *interleavedCarts) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	found, err := r.CartRepository.GetByUser(ctx, userID)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return found, err
}

func (s *CheckoutSuite) TestCartViewRacingCheckoutDoesNotChargeTwice() {
	mr := miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })

	source := &interleavedCarts{CartRepository: s.carts}
	s.carts = cache.NewCachedCartRepository(source, cache.NewCartCache(client, 0), nil)
	s.cartSvc = cart.NewService(s.carts, s.products, pricing.NewCalculator(), nil)

	gateway := payment.NewMockGateway()
	svc := s.newService(func(deps *checkout.Dependencies, _ *checkout.Config) {
		deps.Payments = gateway
	})
	s.addToCart("user-1", s.laptop, 1)

	// Оформление завершается между чтением корзины из хранилища и записью в кэш.
	source.afterRead = func() {
		_, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
		s.Require().NoError(err)
	}
	_, err := s.cartSvc.View(s.ctx, "user-1")
	s.Require().NoError(err)

	_, err = svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.ErrorIs(err, domain.ErrEmptyCart)

	orders, err := s.orders.ListByUser(s.ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Len(orders, 1)
	s.Equal(1, gateway.CallCount())
	s.Equal(4, s.stockOf(s.laptop.ID))
}

func (s *CheckoutSuite) TestOrderNotRecordedCarriesPaymentReference() {
	orders := &flakyOrders{OrderRepository: s.orders}
	orders.failures.Store(100)
	svc := s.newService(func(deps *checkout.Dependencies, _ *checkout.Config) {
		deps.Orders = orders
	})
	s.addToCart("user-1", s.laptop, 1)

	_, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().ErrorIs(err, domain.ErrOrderNotRecorded)

	var notRecorded *domain.OrderNotRecordedError
	s.Require().ErrorAs(err, &notRecorded)
	s.Contains(notRecorded.PaymentReference, "TRX-")
	s.EqualValues(3, orders.calls.Load())
	s.Equal(5, s.stockOf(s.laptop.ID))
}

func (s *CheckoutSuite) TestLedgerFailureKeepsOrder() {
	ledger := inventory.NewMockLedger()
	ledger.DecrementErrs[s.monitor.ID] = domain.ErrInsufficientStock
	svc := s.newService(func(deps *checkout.Dependencies, _ *checkout.Config) {
		deps.Ledger = ledger
	})
	s.addToCart("user-1", s.laptop, 1)
	s.addToCart("user-1", s.monitor, 2)

	res, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	var shortfall *domain.StockShortfallError
	s.Require().ErrorAs(err, &shortfall)
	s.Equal(res.OrderID, shortfall.OrderID)
	s.Require().Len(shortfall.Shortfalls, 1)
	s.Equal(s.monitor.ID, shortfall.Shortfalls[0].ProductID)

	s.Equal(1, ledger.Decremented[s.laptop.ID])
	s.Equal(2, ledger.DecrementCalls)

	order, err := s.orders.Get(s.ctx, res.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, order.Status)

	_, err = s.carts.GetByUser(s.ctx, "user-1")
	s.ErrorIs(err, domain.ErrCartNotFound)

	history, err := s.timeline.List(s.ctx, res.OrderID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(domain.EventOrderStockShortage, history[1].Type)
	s.NotEmpty(history[1].Reason)
}

type failingNotifier struct{}

func (failingNotifier) OrderPlaced(context.Context, domain.Order, string) error {
	return errors.New("mail relay is down")
}

func (s *CheckoutSuite) TestNotifierFailureDoesNotAffectOrder() {
	svc := s.newService(func(deps *checkout.Dependencies, _ *checkout.Config) {
		deps.Notifier = failingNotifier{}
	})
	s.addToCart("user-1", s.laptop, 1)

	res, err := svc.Checkout(s.ctx, request("user-1", approvedCard))
	s.Require().NoError(err)
	s.NotEmpty(res.OrderID)
}

func (s *CheckoutSuite) TestConcurrentCheckoutsCompeteForStock() {
	const buyers = 8
	scarce := s.mustProduct("Limited edition", "10.00", buyers-1)
	svc := s.newService(nil)

	for i := 0; i < buyers; i++ {
		s.addToCart(fmt.Sprintf("buyer-%d", i), scarce, 1)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		shortage  atomic.Int32
		unknown   atomic.Int32
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := svc.Checkout(s.ctx, request(userID, approvedCard))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortage.Add(1)
			default:
				unknown.Add(1)
			}
		}(fmt.Sprintf("buyer-%d", i))
	}
	wg.Wait()

	s.EqualValues(buyers-1, succeeded.Load())
	s.GreaterOrEqual(shortage.Load(), int32(1))
	s.Zero(unknown.Load())
	s.Equal(0, s.stockOf(scarce.ID))
}

func TestRetryConfigDefaults(t *testing.T) {
	cfg := checkout.DefaultConfig()
	if cfg.PaymentTimeout <= 0 {
		t.Fatal("payment timeout must be positive")
	}
	if cfg.RecordRetry.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts %d", cfg.RecordRetry.MaxAttempts)
	}
}
