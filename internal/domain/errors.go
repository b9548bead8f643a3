package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Базовые виды ошибок. Конкретные ошибки ниже разворачиваются (Unwrap) в один из них,
// поэтому вызывающая сторона проверяет вид через errors.Is.
var (
	// ErrNotFound — корзина, заказ или товар отсутствуют.
	ErrNotFound = errors.New("not found")
	// ErrValidation — некорректные входные данные (количество, статус и т.п.).
	ErrValidation = errors.New("validation failure")
	// ErrInsufficientStock — запрошено больше, чем есть на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPaymentDeclined — платёж отклонён (в том числе по таймауту).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrEmptyCart — оформление заказа без корзины или с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
)

var (
	// ErrCartNotFound возвращается репозиторием, если у пользователя нет корзины.
	ErrCartNotFound = newKindError(ErrNotFound, "cart not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = newKindError(ErrNotFound, "order not found")
	// ErrProductNotFound возвращается каталогом для неизвестного товара.
	ErrProductNotFound = newKindError(ErrNotFound, "product not found")
	// ErrProductUnavailable — товар отсутствует или неактивен.
	ErrProductUnavailable = newKindError(ErrNotFound, "product unavailable")
	// ErrItemNotFound — товар не добавлялся в корзину.
	ErrItemNotFound = newKindError(ErrNotFound, "item not found in cart")
	// ErrInvalidStatus — статус заказа не из списка допустимых.
	ErrInvalidStatus = newKindError(ErrValidation, "invalid order status")
	// ErrInvalidQuantity — количество должно быть больше нуля.
	ErrInvalidQuantity = newKindError(ErrValidation, "quantity must be greater than zero")
	// ErrUserRequired — пустой идентификатор пользователя.
	ErrUserRequired = newKindError(ErrValidation, "user_id is required")
	// ErrShippingAddressRequired — при оформлении не указан адрес доставки.
	ErrShippingAddressRequired = newKindError(ErrValidation, "shipping address is required")
	// ErrCartAlreadyExists — попытка создать вторую корзину для пользователя.
	ErrCartAlreadyExists = errors.New("cart already exists for user")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderNotRecorded — платёж прошёл, но заказ не удалось сохранить.
	ErrOrderNotRecorded = errors.New("payment captured but order was not recorded")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrPaymentGatewayUnavailable — шлюз недоступен (circuit breaker разомкнут).
	ErrPaymentGatewayUnavailable = errors.New("payment gateway unavailable")
)

type kindError struct {
	msg  string
	kind error
}

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// PaymentDeclinedError несёт причину отказа платёжного шлюза.
type PaymentDeclinedError struct {
	Reason    string
	Reference string
}

func (e *PaymentDeclinedError) Error() string {
	if e.Reason == "" {
		return ErrPaymentDeclined.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPaymentDeclined.Error(), e.Reason)
}

// Is позволяет сравнивать с ErrPaymentDeclined через errors.Is.
func (e *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}

// StockShortfall описывает позицию, которую не удалось списать со склада после оплаты.
type StockShortfall struct {
	ProductID string
	Quantity  int
	Err       error
}

// StockShortfallError возвращается оформлением, когда заказ уже сохранён,
// но часть позиций не списана со склада.
type StockShortfallError struct {
	OrderID    string
	Shortfalls []StockShortfall
}

func (e *StockShortfallError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s x%d", s.ProductID, s.Quantity))
	}
	return fmt.Sprintf("order %s recorded with stock shortfall: %s", e.OrderID, strings.Join(parts, ", "))
}

// Is сопоставляет ошибку с ErrInsufficientStock.
func (e *StockShortfallError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// OrderNotRecordedError хранит ссылку на платёж для ручной сверки.
type OrderNotRecordedError struct {
	PaymentReference string
	Err              error
}

func (e *OrderNotRecordedError) Error() string {
	return fmt.Sprintf("%s (payment %s): %v", ErrOrderNotRecorded.Error(), e.PaymentReference, e.Err)
}

func (e *OrderNotRecordedError) Is(target error) bool {
	return target == ErrOrderNotRecorded
}

func (e *OrderNotRecordedError) Unwrap() error { return e.Err }

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет вид ошибки NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
