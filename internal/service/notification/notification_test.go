package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func sampleOrder() domain.Order {
	return domain.Order{
		ID:     "order-1",
		UserID: "user-1",
		Items: []domain.OrderItem{
			{ProductID: "p-1", ProductName: "Laptop", Quantity: 1, UnitPrice: decimal.RequireFromString("1200")},
			{ProductID: "p-2", ProductName: "Monitor", Quantity: 2, UnitPrice: decimal.RequireFromString("350.5")},
		},
		TotalPaid:       decimal.RequireFromString("1901.00"),
		ShippingAddress: "Main st. 1",
		PaymentMethod:   "Card (simulated)",
		PaymentRef:      "TRX-ABC",
		Status:          domain.OrderStatusPaid,
		CreatedAt:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewReceipt(t *testing.T) {
	receipt := NewReceipt(sampleOrder(), "buyer@example.com")

	assert.Equal(t, "order-1", receipt.OrderID)
	assert.Equal(t, "1901.00", receipt.Total)
	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, "1200.00", receipt.Lines[0].UnitPrice)
	assert.Equal(t, "701.00", receipt.Lines[1].Subtotal)
	assert.Equal(t, "TRX-ABC", receipt.PaymentRef)
}

func TestOutboxNotifier_EnqueuesReceipt(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	notifier := NewOutboxNotifier(outbox, nil)

	require.NoError(t, notifier.OrderPlaced(ctx, sampleOrder(), "buyer@example.com"))

	pending := outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, EventOrderReceiptRequested, pending[0].EventType)
	assert.Equal(t, "order-1", pending[0].AggregateID)

	var receipt Receipt
	require.NoError(t, json.Unmarshal(pending[0].Payload, &receipt))
	assert.Equal(t, "buyer@example.com", receipt.Recipient)
}

func TestOutboxNotifier_SkipsWithoutRecipient(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	notifier := NewOutboxNotifier(outbox, nil)

	require.NoError(t, notifier.OrderPlaced(context.Background(), sampleOrder(), ""))
	assert.Empty(t, outbox.AllPending())
}

type recordingSender struct {
	receipts []Receipt
	err      error
}

func (s *recordingSender) Send(_ context.Context, receipt Receipt) error {
	s.receipts = append(s.receipts, receipt)
	return s.err
}

func envelopeMessage(t *testing.T, eventType string, payload any) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{
		ID:            "m-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       raw,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicOrderEvents, Value: value}
}

func TestDispatcher_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("receipt is sent", func(t *testing.T) {
		sender := &recordingSender{}
		dispatcher := NewDispatcher(sender, nil)

		msg := envelopeMessage(t, EventOrderReceiptRequested, NewReceipt(sampleOrder(), "buyer@example.com"))
		require.NoError(t, dispatcher.Handle(ctx, msg))
		require.Len(t, sender.receipts, 1)
		assert.Equal(t, "1901.00", sender.receipts[0].Total)
	})

	t.Run("lifecycle events are ignored", func(t *testing.T) {
		sender := &recordingSender{}
		dispatcher := NewDispatcher(sender, nil)

		msg := envelopeMessage(t, domain.EventOrderPlaced, map[string]any{"order_id": "order-1"})
		require.NoError(t, dispatcher.Handle(ctx, msg))
		assert.Empty(t, sender.receipts)
	})

	t.Run("sender error is returned", func(t *testing.T) {
		sender := &recordingSender{err: errors.New("smtp down")}
		dispatcher := NewDispatcher(sender, nil)

		msg := envelopeMessage(t, EventOrderReceiptRequested, NewReceipt(sampleOrder(), "buyer@example.com"))
		require.Error(t, dispatcher.Handle(ctx, msg))
	})

	t.Run("receipt without recipient", func(t *testing.T) {
		dispatcher := NewDispatcher(&recordingSender{}, nil)

		msg := envelopeMessage(t, EventOrderReceiptRequested, NewReceipt(sampleOrder(), ""))
		require.Error(t, dispatcher.Handle(ctx, msg))
	})

	t.Run("malformed message", func(t *testing.T) {
		dispatcher := NewDispatcher(nil, nil)
		require.Error(t, dispatcher.Handle(ctx, &sarama.ConsumerMessage{Value: []byte("not json")}))
	})
}
