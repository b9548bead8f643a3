package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPendingPayment — концептуальное состояние до оплаты.
	// Оформление сохраняет заказ только после успешного платежа,
	// поэтому в хранилище этот статус не появляется и через UpdateStatus не устанавливается.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid — начальный статус любого сохранённого заказа.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен клиентом (терминальный).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён (терминальный).
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus разбирает статус из внешнего ввода.
// Допустимы только четыре статуса, которые может выставить администратор.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Terminal сообщает, что из статуса нет переходов по графу жизненного цикла.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo проверяет переход по графу paid → shipped → delivered, cancelled из paid/shipped.
// UpdateStatus граф не навязывает, а только сообщает о выходе за него.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPendingPayment:
		return next == OrderStatusPaid || next == OrderStatusCancelled
	case OrderStatusPaid:
		return next == OrderStatusShipped || next == OrderStatusCancelled
	case OrderStatusShipped:
		return next == OrderStatusDelivered || next == OrderStatusCancelled
	default:
		return false
	}
}

// OrderItem — позиция заказа; имя и цена — снимок каталога на момент создания.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Subtotal возвращает стоимость позиции.
func (i OrderItem) Subtotal() decimal.Decimal {
	return LineSubtotal(i.Quantity, i.UnitPrice)
}

// Order — запись о завершённой оплаченной покупке.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	TotalPaid       decimal.Decimal
	ShippingAddress string
	PaymentMethod   string
	PaymentRef      string
	Status          OrderStatus
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var (
	errOrderUserRequired  = errors.New("order user_id is required")
	errOrderItemsRequired = errors.New("order must contain at least one item")
	errOrderItemQty       = errors.New("order item quantity must be greater than zero")
	errOrderItemPrice     = errors.New("order item price must be non-negative")
	errOrderTotalMismatch = errors.New("order total does not match items sum")
)

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, errOrderUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, errOrderItemsRequired)
	}

	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, errOrderItemQty)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, errOrderItemPrice)
		}
		calc = calc.Add(item.Subtotal())
	}
	if !RoundMoney(calc).Equal(o.TotalPaid) {
		errs = append(errs, errOrderTotalMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	return dst
}
