// Package notification доставляет квитанции о заказах через transactional outbox.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// EventOrderReceiptRequested — тип outbox-события с квитанцией для отправки клиенту.
const EventOrderReceiptRequested = "OrderReceiptRequested"

// ReceiptLine — строка квитанции.
type ReceiptLine struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// Receipt — содержимое уведомления о завершённом заказе.
type Receipt struct {
	OrderID         string        `json:"order_id"`
	UserID          string        `json:"user_id"`
	Recipient       string        `json:"recipient"`
	Lines           []ReceiptLine `json:"lines"`
	Total           string        `json:"total"`
	ShippingAddress string        `json:"shipping_address"`
	PaymentMethod   string        `json:"payment_method"`
	PaymentRef      string        `json:"payment_ref"`
	PlacedAt        time.Time     `json:"placed_at"`
}

// NewReceipt строит квитанцию из заказа. Суммы передаются строками с двумя знаками.
func NewReceipt(order domain.Order, recipient string) Receipt {
	lines := make([]ReceiptLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, ReceiptLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			Subtotal:    item.Subtotal().StringFixed(2),
		})
	}
	return Receipt{
		OrderID:         order.ID,
		UserID:          order.UserID,
		Recipient:       recipient,
		Lines:           lines,
		Total:           order.TotalPaid.StringFixed(2),
		ShippingAddress: order.ShippingAddress,
		PaymentMethod:   order.PaymentMethod,
		PaymentRef:      order.PaymentRef,
		PlacedAt:        order.CreatedAt,
	}
}

// OutboxNotifier ставит квитанцию в outbox; публикацию выполняет outbox worker.
type OutboxNotifier struct {
	outbox domain.OutboxRepository
	logger *log.Entry
}

// NewOutboxNotifier создаёт notifier поверх outbox-хранилища.
func NewOutboxNotifier(outbox domain.OutboxRepository, logger *log.Entry) *OutboxNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &OutboxNotifier{outbox: outbox, logger: logger}
}

// OrderPlaced ставит квитанцию в очередь. Пустой recipient — уведомление не требуется.
func (n *OutboxNotifier) OrderPlaced(ctx context.Context, order domain.Order, recipient string) error {
	if recipient == "" {
		n.logger.WithField("order_id", order.ID).Debug("no recipient, receipt skipped")
		return nil
	}

	payload, err := json.Marshal(NewReceipt(order, recipient))
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	msg, err := n.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     EventOrderReceiptRequested,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue receipt: %w", err)
	}

	n.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"outbox_id": msg.ID,
	}).Debug("receipt enqueued")
	return nil
}

var _ domain.Notifier = (*OutboxNotifier)(nil)
