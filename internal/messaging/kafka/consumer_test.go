package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
)

// groupStub отдаёт заранее заданные сообщения одной сессии, затем ждёт отмены.
type groupStub struct {
	messages []*sarama.ConsumerMessage
	errs     chan error
	closeErr error

	once    sync.Once
	served  chan struct{}
	session *sessionStub
}

func newGroupStub(messages ...*sarama.ConsumerMessage) *groupStub {
	return &groupStub{messages: messages, errs: make(chan error, 1), served: make(chan struct{})}
}

func (g *groupStub) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	var err error
	first := false
	g.once.Do(func() {
		first = true
		g.session = &sessionStub{ctx: ctx}
		err = handler.ConsumeClaim(g.session, newClaim(topics[0], g.messages...))
		close(g.served)
	})
	if !first {
		<-ctx.Done()
	}
	return err
}

func (g *groupStub) Errors() <-chan error { return g.errs }

func (g *groupStub) Close() error {
	close(g.errs)
	return g.closeErr
}

func (g *groupStub) Pause(map[string][]int32)  {}
func (g *groupStub) Resume(map[string][]int32) {}
func (g *groupStub) PauseAll()                 {}
func (g *groupStub) ResumeAll()                {}

type sessionStub struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sessionStub) Claims() map[string][]int32               { return nil }
func (s *sessionStub) MemberID() string                         { return "notifier-1" }
func (s *sessionStub) GenerationID() int32                      { return 1 }
func (s *sessionStub) MarkOffset(string, int32, int64, string)  {}
func (s *sessionStub) Commit()                                  {}
func (s *sessionStub) ResetOffset(string, int32, int64, string) {}
func (s *sessionStub) Context() context.Context                 { return s.ctx }
func (s *sessionStub) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *sessionStub) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type claimStub struct {
	topic    string
	messages chan *sarama.ConsumerMessage
}

// newClaim возвращает claim с закрытым каналом: ConsumeClaim завершится после последнего сообщения.
func newClaim(topic string, messages ...*sarama.ConsumerMessage) *claimStub {
	claim := &claimStub{topic: topic, messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, msg := range messages {
		claim.messages <- msg
	}
	close(claim.messages)
	return claim
}

func (c *claimStub) Topic() string                            { return c.topic }
func (c *claimStub) Partition() int32                         { return 0 }
func (c *claimStub) InitialOffset() int64                     { return 0 }
func (c *claimStub) HighWaterMarkOffset() int64               { return 0 }
func (c *claimStub) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type senderStub struct {
	mu       sync.Mutex
	err      error
	attempts int
	receipts []notification.Receipt
}

func (s *senderStub) Send(_ context.Context, receipt notification.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	s.receipts = append(s.receipts, receipt)
	return nil
}

func (s *senderStub) sent() []notification.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Receipt(nil), s.receipts...)
}

func receipt(orderID, recipient string) notification.Receipt {
	return notification.Receipt{
		OrderID:   orderID,
		UserID:    "user-1",
		Recipient: recipient,
		Lines: []notification.ReceiptLine{
			{ProductID: "laptop", ProductName: "Laptop", Quantity: 1, UnitPrice: "1200.00", Subtotal: "1200.00"},
		},
		Total:         "1200.00",
		PaymentMethod: "Card (simulated)",
		PaymentRef:    "TRX-" + orderID,
		PlacedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func envelopeMessage(t *testing.T, topic string, offset int64, orderID, eventType string, payload any) *sarama.ConsumerMessage {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{
		ID:            fmt.Sprintf("evt-%s-%d", orderID, offset),
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       body,
		PublishedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: topic, Offset: offset, Key: []byte(orderID), Value: value}
}

func receiptMessage(t *testing.T, offset int64, r notification.Receipt) *sarama.ConsumerMessage {
	return envelopeMessage(t, kafka.TopicOrderReceipts, offset, r.OrderID, notification.EventOrderReceiptRequested, r)
}

func notifierConsumer(group sarama.ConsumerGroup, sender notification.Sender, dlq *kafka.Producer, maxRetries int) *kafka.Consumer {
	logger := log.WithField("test", "notifier")
	dispatcher := notification.NewDispatcher(sender, logger)
	return kafka.NewConsumerFromGroup(group, []string{kafka.TopicOrderReceipts}, dispatcher.Handle, dlq, maxRetries).
		WithLogger(logger).
		WithRetryDelay(0)
}

// runSession запускает consumer, дожидается, пока claim вычитан до конца, и останавливает его.
func runSession(t *testing.T, group *groupStub, consumer *kafka.Consumer) *sessionStub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, consumer.Start(ctx))
	select {
	case <-group.served:
	case <-time.After(time.Second):
		t.Fatal("consumer did not drain the claim")
	}
	cancel()
	require.NoError(t, consumer.Stop())
	return group.session
}

func TestConsumer_DeliversReceiptsFromTopic(t *testing.T) {
	sender := &senderStub{}
	group := newGroupStub(
		receiptMessage(t, 10, receipt("order-1", "buyer@example.com")),
		receiptMessage(t, 11, receipt("order-2", "other@example.com")),
	)
	consumer := notifierConsumer(group, sender, nil, 3)

	session := runSession(t, group, consumer)

	sent := sender.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "order-1", sent[0].OrderID)
	assert.Equal(t, "buyer@example.com", sent[0].Recipient)
	assert.Equal(t, "1200.00", sent[0].Total)
	assert.Equal(t, "order-2", sent[1].OrderID)
	assert.Equal(t, []int64{10, 11}, session.markedOffsets())
}

func TestConsumer_AcknowledgesLifecycleEventsWithoutSending(t *testing.T) {
	sender := &senderStub{}
	group := newGroupStub(
		envelopeMessage(t, kafka.TopicOrderReceipts, 3, "order-1", domain.EventOrderStatusChanged, map[string]string{"status": "shipped"}),
		receiptMessage(t, 4, receipt("order-1", "buyer@example.com")),
	)
	consumer := notifierConsumer(group, sender, nil, 3)

	session := runSession(t, group, consumer)

	assert.Len(t, sender.sent(), 1)
	assert.Equal(t, 1, sender.attempts)
	assert.Equal(t, []int64{3, 4}, session.markedOffsets())
}

func TestConsumer_ReceiptWithoutRecipientGoesToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicDeadLetterQueue {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var letter kafka.DeadLetter
		if err := json.Unmarshal(raw, &letter); err != nil {
			return err
		}
		if letter.OriginalTopic != kafka.TopicOrderReceipts || letter.OriginalKey != "order-9" {
			return fmt.Errorf("unexpected origin %s/%s", letter.OriginalTopic, letter.OriginalKey)
		}
		if !strings.Contains(letter.ErrorMessage, "no recipient") {
			return fmt.Errorf("unexpected error message %q", letter.ErrorMessage)
		}
		if letter.RetryCount != 2 {
			return fmt.Errorf("unexpected retry count %d", letter.RetryCount)
		}
		return nil
	})

	sender := &senderStub{}
	group := newGroupStub(receiptMessage(t, 7, receipt("order-9", "")))
	consumer := notifierConsumer(group, sender, kafka.NewProducerFromSync(mockProducer, nil), 2)

	session := runSession(t, group, consumer)

	assert.Zero(t, sender.attempts)
	assert.Equal(t, []int64{7}, session.markedOffsets())
	require.NoError(t, mockProducer.Close())
}

func TestConsumer_SenderFailureWithoutDLQLeavesOffsetUnmarked(t *testing.T) {
	sender := &senderStub{err: errors.New("smtp unavailable")}
	group := newGroupStub(receiptMessage(t, 5, receipt("order-5", "buyer@example.com")))
	consumer := notifierConsumer(group, sender, nil, 3)

	session := runSession(t, group, consumer)

	assert.Equal(t, 3, sender.attempts)
	assert.Empty(t, session.markedOffsets())
}

func TestConsumer_RetryHeaderCountsEarlierAttempts(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		for _, header := range msg.Headers {
			if string(header.Key) == kafka.HeaderRetryCount && string(header.Value) == "3" {
				return nil
			}
		}
		return errors.New("retry count header is missing")
	})

	message := receiptMessage(t, 1, receipt("order-3", "buyer@example.com"))
	message.Headers = []*sarama.RecordHeader{{Key: []byte(kafka.HeaderRetryCount), Value: []byte("2")}}

	sender := &senderStub{err: errors.New("smtp unavailable")}
	group := newGroupStub(message)
	consumer := notifierConsumer(group, sender, kafka.NewProducerFromSync(mockProducer, nil), 3)

	session := runSession(t, group, consumer)

	assert.Equal(t, 1, sender.attempts)
	assert.Equal(t, []int64{1}, session.markedOffsets())
	require.NoError(t, mockProducer.Close())
}

func TestConsumer_StopReportsCloseError(t *testing.T) {
	group := newGroupStub()
	group.closeErr = errors.New("close failed")
	consumer := notifierConsumer(group, &senderStub{}, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, consumer.Start(ctx))
	cancel()
	assert.ErrorContains(t, consumer.Stop(), "close failed")
}

func TestConsumer_ConsumeClaimReturnsOnContextDone(t *testing.T) {
	consumer := notifierConsumer(newGroupStub(), &senderStub{}, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	claim := &claimStub{topic: kafka.TopicOrderReceipts, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- consumer.ConsumeClaim(&sessionStub{ctx: ctx}, claim) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestNewConsumerRejectsUnreachableBrokers(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	_, err := kafka.NewConsumer([]string{"invalid-broker:9092"}, "storefront-notifier", []string{kafka.TopicOrderReceipts}, handler)
	assert.Error(t, err)
}

func TestParseEnvelopeRequiresEventType(t *testing.T) {
	msg := envelopeMessage(t, kafka.TopicOrderEvents, 0, "order-1", domain.EventOrderPlaced, map[string]string{"order_id": "order-1"})
	envelope, err := kafka.ParseEnvelope(msg)
	require.NoError(t, err)

	var payload struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, envelope.DecodePayload(&payload))
	assert.Equal(t, "order-1", payload.OrderID)

	_, err = kafka.ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	assert.Error(t, err)
	_, err = kafka.ParseEnvelope(&sarama.ConsumerMessage{Value: []byte(`{"id":"m-2"}`)})
	assert.Error(t, err)
}
