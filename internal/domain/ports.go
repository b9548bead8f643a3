package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// CatalogueReader — чтение карточки товара для снимков имени, цены и остатка.
type CatalogueReader interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
}

// ProductQuery — query-only возможности каталога.
type ProductQuery interface {
	CatalogueReader
	// ListVisible возвращает активные товары с ненулевым остатком.
	ListVisible(ctx context.Context) ([]Product, error)
}

// InventoryLedger — единственная точка изменения складских остатков.
type InventoryLedger interface {
	// CheckAvailable сообщает, хватает ли остатка на quantity единиц.
	CheckAvailable(ctx context.Context, productID string, quantity int) (bool, error)
	// Decrement атомарно списывает quantity единиц или возвращает ErrInsufficientStock.
	Decrement(ctx context.Context, productID string, quantity int) error
}

// ProductRepository объединяет каталог и складской учёт одного хранилища.
type ProductRepository interface {
	ProductQuery
	InventoryLedger
	// Upsert создаёт или обновляет товар (админская правка и сидирование).
	Upsert(ctx context.Context, product Product) (Product, error)
}

// CartRepository хранит корзины. Save без ID создаёт запись и присваивает идентификатор.
type CartRepository interface {
	Save(ctx context.Context, cart Cart) (Cart, error)
	Get(ctx context.Context, id string) (Cart, error)
	// GetByUser возвращает корзину пользователя или ErrCartNotFound.
	GetByUser(ctx context.Context, userID string) (Cart, error)
	Delete(ctx context.Context, id string) error
}

// CartSource реализуют кэширующие обёртки CartRepository: чтение в обход кэша
// для шагов, которым нужна только актуальная корзина.
type CartSource interface {
	GetByUserFromSource(ctx context.Context, userID string) (Cart, error)
}

// OrderRepository хранит заказы. Save без ID создаёт заказ,
// с ID — обновляет его с проверкой версии (optimistic locking).
type OrderRepository interface {
	// Create сохраняет новый заказ под заранее выбранным ID. Если заказ с таким ID
	// уже есть, возвращает сохранённую запись без повторной вставки.
	Create(ctx context.Context, order Order) (Order, error)
	Save(ctx context.Context, order Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя от новых к старым (limit <= 0: без ограничения).
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	ListAll(ctx context.Context, limit int) ([]Order, error)
	Delete(ctx context.Context, id string) error
}

// PaymentGateway — синхронная авторизация платежа. Ядро не повторяет вызов.
type PaymentGateway interface {
	Authorize(ctx context.Context, amount decimal.Decimal, instrument PaymentInstrument) (PaymentResult, error)
}

// Notifier получает завершённый заказ и адрес получателя.
// Ошибка уведомления не влияет на состояние заказа.
type Notifier interface {
	OrderPlaced(ctx context.Context, order Order, recipient string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// CheckoutStep задаёт константы шагов оформления для метрик и логов.
type CheckoutStep string

const (
	CheckoutStepLoadCart  CheckoutStep = "load_cart"
	CheckoutStepPrice     CheckoutStep = "price"
	CheckoutStepPay       CheckoutStep = "pay"
	CheckoutStepSnapshot  CheckoutStep = "snapshot"
	CheckoutStepRecord    CheckoutStep = "record_order"
	CheckoutStepDecrement CheckoutStep = "decrement_stock"
	CheckoutStepClearCart CheckoutStep = "clear_cart"
	CheckoutStepNotify    CheckoutStep = "notify"
)
